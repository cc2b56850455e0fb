package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/roomchat/internal/api"
	"github.com/npezzotti/roomchat/internal/auth"
	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/membership"
	"github.com/npezzotti/roomchat/internal/messages"
	"github.com/npezzotti/roomchat/internal/server"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	shutdownTimeout   = 10 * time.Second
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

type repository interface {
	database.ChatRepository
	Close() error
}

var (
	addr           string
	dsn            string
	signingKey     string
	redisAddr      string
	redisPassword  string
	allowedOrigins stringSliceFlag

	accessTTL         time.Duration
	refreshTTL        time.Duration
	storageTimeout    time.Duration
	typingIdleTimeout time.Duration
	pageSize          int
	maxPageSize       int
	maxMessageLength  int
)

func main() {
	logger := log.New(os.Stderr, "[roomchat] ", log.LstdFlags)

	if err := config.LoadEnv(".env"); err != nil {
		logger.Fatal("env:", err)
	}

	flag.StringVar(&addr, "addr", config.EnvOr("ROOMCHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.EnvOr("ROOMCHAT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), `database connection string, or "memory" for the in-process store`)
	flag.StringVar(&signingKey, "signing-key", config.EnvOr("ROOMCHAT_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&redisAddr, "redis-addr", config.EnvOr("ROOMCHAT_REDIS_ADDR", ""), "redis address for refresh tokens; in-process when empty")
	flag.StringVar(&redisPassword, "redis-password", config.EnvOr("ROOMCHAT_REDIS_PASSWORD", ""), "redis password")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&accessTTL, "access-ttl", config.EnvDurationOr("ROOMCHAT_ACCESS_TTL", config.DefaultAccessTokenTTL), "access token lifetime")
	flag.DurationVar(&refreshTTL, "refresh-ttl", config.EnvDurationOr("ROOMCHAT_REFRESH_TTL", config.DefaultRefreshTokenTTL), "refresh token lifetime")
	flag.DurationVar(&storageTimeout, "storage-timeout", config.EnvDurationOr("ROOMCHAT_STORAGE_TIMEOUT", config.DefaultStorageTimeout), "timeout for storage calls")
	flag.DurationVar(&typingIdleTimeout, "typing-timeout", config.EnvDurationOr("ROOMCHAT_TYPING_TIMEOUT", config.DefaultTypingIdleTimeout), "idle time before a typing indicator expires")
	flag.IntVar(&pageSize, "page-size", config.EnvIntOr("ROOMCHAT_PAGE_SIZE", config.DefaultPageSize), "default history page size")
	flag.IntVar(&maxPageSize, "max-page-size", config.EnvIntOr("ROOMCHAT_MAX_PAGE_SIZE", config.DefaultMaxPageSize), "maximum history page size")
	flag.IntVar(&maxMessageLength, "max-message-length", config.EnvIntOr("ROOMCHAT_MAX_MESSAGE_LENGTH", config.DefaultMaxMessageLength), "maximum message content length")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := config.EnvOr("ROOMCHAT_ALLOWED_ORIGINS", ""); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.RedisAddr = redisAddr
	cfg.RedisPassword = redisPassword
	cfg.AccessTokenTTL = accessTTL
	cfg.RefreshTokenTTL = refreshTTL
	cfg.StorageTimeout = storageTimeout
	cfg.TypingIdleTimeout = typingIdleTimeout
	cfg.DefaultPageSize = pageSize
	cfg.MaxPageSize = maxPageSize
	cfg.MaxMessageLength = maxMessageLength
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config:", err)
	}

	db, err := openRepository(cfg, logger)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	refreshStore, closeRefreshStore, err := openRefreshStore(cfg, logger)
	if err != nil {
		logger.Fatal("refresh store:", err)
	}
	defer closeRefreshStore()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	tokens := auth.NewTokenManager(cfg.SigningKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, refreshStore)
	verifier := auth.NewVerifier(tokens, db, cfg.StorageTimeout)
	authority := membership.NewAuthority(logger, db, cfg.StorageTimeout)
	store := messages.NewStore(logger, db, authority, messages.Config{
		StorageTimeout:   cfg.StorageTimeout,
		DefaultPageSize:  cfg.DefaultPageSize,
		MaxPageSize:      cfg.MaxPageSize,
		MaxContentLength: cfg.MaxMessageLength,
	})

	chatServer, err := server.NewChatServer(logger, authority, store, verifier, statsUpdater, cfg)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	app := api.NewGoChatApp(mux, logger, api.Services{
		DB:         db,
		ChatServer: chatServer,
		Verifier:   verifier,
		Members:    authority,
		Messages:   store,
	}, cfg)

	statsUpdater.Run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.Shutdown(shutdownCtx); err != nil {
			return err
		}

		logger.Println("shutting down chat server...")
		return chatServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Println("server:", err)
	}
	statsUpdater.Stop()

	logger.Println("shutdown complete")
}

func openRepository(cfg *config.Config, logger *log.Logger) (repository, error) {
	if cfg.UseMemoryStore() {
		logger.Println("using in-memory store")
		return database.NewMemoryChatRepository(), nil
	}

	db, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openRefreshStore(cfg *config.Config, logger *log.Logger) (auth.RefreshStore, func(), error) {
	if cfg.RedisAddr == "" {
		return auth.NewMemoryRefreshStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StorageTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}

	logger.Printf("using redis refresh store at %s\n", cfg.RedisAddr)
	return auth.NewRedisRefreshStore(client, cfg.RedisPrefix), func() {
		if err := client.Close(); err != nil {
			logger.Println("redis close:", err)
		}
	}, nil
}
