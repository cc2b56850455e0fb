package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MemoryDSN selects the in-process store instead of Postgres.
const MemoryDSN = "memory"

const (
	DefaultAccessTokenTTL    = 15 * time.Minute
	DefaultRefreshTokenTTL   = 7 * 24 * time.Hour
	DefaultStorageTimeout    = 5 * time.Second
	DefaultPageSize          = 50
	DefaultMaxPageSize       = 100
	DefaultMaxMessageLength  = 5000
	DefaultTypingIdleTimeout = 8 * time.Second
	DefaultRedisPrefix       = "roomchat:"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string

	// RedisAddr enables the Redis refresh-token store when set.
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string

	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	StorageTimeout    time.Duration
	DefaultPageSize   int
	MaxPageSize       int
	MaxMessageLength  int
	TypingIdleTimeout time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:       databaseDSN,
		ServerAddr:        serverAddr,
		SigningKey:        signingKey,
		AllowedOrigins:    allowedOrigins,
		RedisPrefix:       DefaultRedisPrefix,
		AccessTokenTTL:    DefaultAccessTokenTTL,
		RefreshTokenTTL:   DefaultRefreshTokenTTL,
		StorageTimeout:    DefaultStorageTimeout,
		DefaultPageSize:   DefaultPageSize,
		MaxPageSize:       DefaultMaxPageSize,
		MaxMessageLength:  DefaultMaxMessageLength,
		TypingIdleTimeout: DefaultTypingIdleTimeout,
	}, nil
}

// UseMemoryStore reports whether the in-process store was requested.
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseDSN == MemoryDSN
}

// Validate checks the tunables after flags have been applied.
func (c *Config) Validate() error {
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return fmt.Errorf("refresh token ttl must not be shorter than access token ttl")
	}
	if c.StorageTimeout <= 0 {
		return fmt.Errorf("storage timeout must be positive")
	}
	if c.DefaultPageSize < 1 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("invalid page sizes: default %d, max %d", c.DefaultPageSize, c.MaxPageSize)
	}
	if c.MaxMessageLength < 1 {
		return fmt.Errorf("max message length must be positive")
	}
	if c.TypingIdleTimeout <= 0 {
		return fmt.Errorf("typing idle timeout must be positive")
	}
	return nil
}

// LoadEnv loads variables from the given dotenv files, ignoring files
// that do not exist.
func LoadEnv(filenames ...string) error {
	for _, f := range filenames {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func EnvOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func EnvDurationOr(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}

func EnvIntOr(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}
