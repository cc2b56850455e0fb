package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	var (
		addr = "localhost:8080"
		dsn  = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		key  = "c29tZV9zZWNyZXQ="
		orig = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name string
		addr string
		dsn  string
		key  string
		orig []string
		err  bool
	}{
		{
			name: "valid config",
			addr: addr,
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  false,
		},
		{
			name: "empty address",
			addr: "",
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty DSN",
			addr: addr,
			dsn:  "",
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty signing key",
			addr: addr,
			dsn:  dsn,
			key:  "",
			orig: orig,
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.addr, tc.dsn, tc.key, tc.orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.addr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.dsn, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, tc.orig, config.AllowedOrigins, "expected allowed origins to match")
			assert.NotEmpty(t, config.SigningKey, "expected signing key to be decoded and not empty")
		})
	}
}

func Test_decodeSigningKey(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=", //
			expectedKey:  []byte("some_secret"),
			expectError:  false,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectedKey:  nil,
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectedKey:  nil,
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig("localhost:8080", MemoryDSN, "c29tZV9zZWNyZXQ=", nil)
	assert.NoError(t, err, "expected no error creating config")
	assert.True(t, cfg.UseMemoryStore(), "expected memory store to be selected")
	assert.Equal(t, DefaultAccessTokenTTL, cfg.AccessTokenTTL, "expected default access token ttl")
	assert.Equal(t, DefaultRefreshTokenTTL, cfg.RefreshTokenTTL, "expected default refresh token ttl")
	assert.Equal(t, DefaultMaxPageSize, cfg.MaxPageSize, "expected default max page size")
	assert.Equal(t, DefaultTypingIdleTimeout, cfg.TypingIdleTimeout, "expected default typing timeout")
	assert.NoError(t, cfg.Validate(), "expected defaults to validate")
}

func TestConfig_Validate(t *testing.T) {
	tcases := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero access ttl", func(c *Config) { c.AccessTokenTTL = 0 }},
		{"refresh shorter than access", func(c *Config) { c.RefreshTokenTTL = time.Minute }},
		{"zero storage timeout", func(c *Config) { c.StorageTimeout = 0 }},
		{"max page smaller than default", func(c *Config) { c.MaxPageSize = 10 }},
		{"zero message length", func(c *Config) { c.MaxMessageLength = 0 }},
		{"zero typing timeout", func(c *Config) { c.TypingIdleTimeout = 0 }},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig("localhost:8080", MemoryDSN, "c29tZV9zZWNyZXQ=", nil)
			assert.NoError(t, err)
			tc.modify(cfg)
			assert.Error(t, cfg.Validate(), "expected validation error")
		})
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	err := os.WriteFile(path, []byte("ROOMCHAT_TEST_ADDR=localhost:9999\nROOMCHAT_TEST_TTL=3m\nROOMCHAT_TEST_PAGE=25\n"), 0o600)
	assert.NoError(t, err)
	t.Cleanup(func() {
		os.Unsetenv("ROOMCHAT_TEST_ADDR")
		os.Unsetenv("ROOMCHAT_TEST_TTL")
		os.Unsetenv("ROOMCHAT_TEST_PAGE")
	})

	assert.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path), "expected missing file to be ignored")
	assert.Equal(t, "localhost:9999", EnvOr("ROOMCHAT_TEST_ADDR", "default"))
	assert.Equal(t, "default", EnvOr("ROOMCHAT_TEST_UNSET", "default"))
	assert.Equal(t, 3*time.Minute, EnvDurationOr("ROOMCHAT_TEST_TTL", time.Second))
	assert.Equal(t, time.Second, EnvDurationOr("ROOMCHAT_TEST_UNSET", time.Second))
	assert.Equal(t, 25, EnvIntOr("ROOMCHAT_TEST_PAGE", 50))
	assert.Equal(t, 50, EnvIntOr("ROOMCHAT_TEST_UNSET", 50))
}
