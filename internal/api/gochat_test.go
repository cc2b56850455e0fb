package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/npezzotti/roomchat/internal/auth"
	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/membership"
	"github.com/npezzotti/roomchat/internal/messages"
	"github.com/npezzotti/roomchat/internal/server"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/testutil"
	"github.com/npezzotti/roomchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

type testApp struct {
	app    *GoChatApp
	srv    *httptest.Server
	db     *database.MemoryChatRepository
	tokens *auth.TokenManager
	cs     *server.ChatServer
}

// newTestApp serves the full HTTP surface over the in-memory store.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger := testutil.TestLogger(t)
	db := database.NewMemoryChatRepository()

	cfg := &config.Config{
		ServerAddr:        "localhost:0",
		DatabaseDSN:       config.MemoryDSN,
		SigningKey:        testSigningKey,
		AllowedOrigins:    []string{"http://localhost:3000"},
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   time.Hour,
		StorageTimeout:    time.Second,
		DefaultPageSize:   2,
		MaxPageSize:       10,
		MaxMessageLength:  500,
		TypingIdleTimeout: config.DefaultTypingIdleTimeout,
	}

	tokens := auth.NewTokenManager(cfg.SigningKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, auth.NewMemoryRefreshStore())
	verifier := auth.NewVerifier(tokens, db, cfg.StorageTimeout)
	authority := membership.NewAuthority(logger, db, cfg.StorageTimeout)
	store := messages.NewStore(logger, db, authority, messages.Config{
		StorageTimeout:   cfg.StorageTimeout,
		DefaultPageSize:  cfg.DefaultPageSize,
		MaxPageSize:      cfg.MaxPageSize,
		MaxContentLength: cfg.MaxMessageLength,
	})
	cs, err := server.NewChatServer(logger, authority, store, verifier, stats.NewNopStatsUpdater(), cfg)
	require.NoError(t, err)

	app := NewGoChatApp(http.NewServeMux(), logger, Services{
		DB:         db,
		ChatServer: cs,
		Verifier:   verifier,
		Members:    authority,
		Messages:   store,
	}, cfg)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return &testApp{app: app, srv: srv, db: db, tokens: tokens, cs: cs}
}

func (ta *testApp) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ta.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// signup registers and logs in a user through the API.
func (ta *testApp) signup(t *testing.T, name string) LoginResponse {
	t.Helper()
	resp := ta.do(t, http.MethodPost, "/api/auth/register", "", RegisterRequest{
		Email:    name + "@example.com",
		Username: name,
		Password: "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ta.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{
		Email:    name + "@example.com",
		Password: "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[LoginResponse](t, resp)
}

// admin creates an administrator directly in storage.
func (ta *testApp) admin(t *testing.T) string {
	t.Helper()
	account, err := ta.db.CreateAccount(context.Background(), database.CreateAccountParams{
		Username:     "admin",
		EmailAddress: "admin@example.com",
		Role:         types.RoleAdmin,
	})
	require.NoError(t, err)
	pair, err := ta.tokens.IssuePair(context.Background(), account.Id, account.Role)
	require.NoError(t, err)
	return pair.AccessToken
}

func TestNewGoChatApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	cs := &server.ChatServer{}
	db := &database.MockChatRepository{}
	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		DatabaseDSN:    "dsn",
		SigningKey:     []byte("secret"),
		AllowedOrigins: []string{"http://localhost:3000"},
		StorageTimeout: time.Second,
	}

	app := NewGoChatApp(mux, logger, Services{DB: db, ChatServer: cs}, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, cs, app.cs, "expected chat server to be set")
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins, "expected allowed origins to be set")
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr, "expected server address to match config")

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/healthz"},
		{http.MethodPost, "/api/auth/login"},
		{http.MethodGet, "/api/rooms/abc/messages"},
		{http.MethodPost, "/api/messages/abc/read"},
		{http.MethodGet, "/ws"},
	} {
		_, pattern := mux.Handler(&http.Request{Method: route.method, URL: &url.URL{Path: route.path}})
		assert.NotEmpty(t, pattern, "expected a handler for %s %s", route.method, route.path)
	}
}

func TestCORS(t *testing.T) {
	ta := newTestApp(t)

	req, err := http.NewRequest(http.MethodOptions, ta.srv.URL+"/api/rooms", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
