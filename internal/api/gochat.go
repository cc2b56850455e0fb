package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/roomchat/internal/auth"
	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/membership"
	"github.com/npezzotti/roomchat/internal/messages"
	"github.com/npezzotti/roomchat/internal/server"
)

// Services are the components the HTTP surface delegates to.
type Services struct {
	DB         database.ChatRepository
	ChatServer *server.ChatServer
	Verifier   *auth.Verifier
	Members    *membership.Authority
	Messages   *messages.Store
}

type GoChatApp struct {
	log            *log.Logger
	db             database.ChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	verifier       *auth.Verifier
	members        *membership.Authority
	messages       *messages.Store
	allowedOrigins []string
	storageTimeout time.Duration
}

func NewGoChatApp(mux *http.ServeMux, logger *log.Logger, svc Services, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             svc.DB,
		cs:             svc.ChatServer,
		verifier:       svc.Verifier,
		members:        svc.Members,
		messages:       svc.Messages,
		allowedOrigins: cfg.AllowedOrigins,
		storageTimeout: cfg.StorageTimeout,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("POST /api/auth/refresh", s.refresh)
	mux.HandleFunc("POST /api/auth/logout", s.logout)
	mux.Handle("GET /api/account", s.authMiddleware(s.account))
	mux.Handle("POST /api/accounts/{id}/deactivate", s.adminOnly(s.deactivateAccount))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms/{id}", s.authMiddleware(s.getRoom))
	mux.Handle("GET /api/rooms/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/messages/{id}/read", s.authMiddleware(s.markRead))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
