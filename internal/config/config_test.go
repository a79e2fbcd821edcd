package config

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, ":3000", cfg.Addr())
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
	assert.Equal(t, "db/database.sqlite", cfg.DatabasePath)
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadSize)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, BlobBackendFS, cfg.BlobBackend)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "chatline:messages", cfg.Redis.Channel)
	assert.True(t, cfg.Origins().AllowAll())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("JWT_SECRET", "s3cr3t")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("ALLOWED_ORIGINS", "http://Example.com, https://chat.example.org")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Addr())
	assert.Equal(t, "s3cr3t", cfg.JWTSecret)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)

	origins := cfg.Origins()
	assert.False(t, origins.AllowAll())
	assert.Equal(t, []string{"http://example.com", "https://chat.example.org"}, origins.List())
}

func TestLoad_S3RequiresBucket(t *testing.T) {
	t.Setenv("BLOB_BACKEND", "s3")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("S3_BUCKET", "avatars")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "avatars", cfg.S3.Bucket)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("BLOB_BACKEND", "ftp")
	_, err := Load()
	require.Error(t, err)
}

func TestSanitizeConfig_FillsZeroValues(t *testing.T) {
	cfg := &Config{MaxUploadSize: -1, BcryptCost: -5}
	sanitizeConfig(cfg)

	assert.Equal(t, NewConfig().Port, cfg.Port)
	assert.Equal(t, int64(defaultMaxUploadSize), cfg.MaxUploadSize)
	assert.Equal(t, defaultBcryptCost, cfg.BcryptCost)
	assert.Equal(t, BlobBackendFS, cfg.BlobBackend)
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard allows anything", []string{"*"}, "http://evil.example", true},
		{"wildcard allows missing origin", []string{"*"}, "", true},
		{"exact match", []string{"http://localhost:3000"}, "http://localhost:3000", true},
		{"case insensitive", []string{"http://LOCALHOST:3000"}, "HTTP://localhost:3000", true},
		{"path ignored", []string{"http://localhost:3000/app"}, "http://localhost:3000", true},
		{"different port", []string{"http://localhost:3000"}, "http://localhost:4000", false},
		{"missing origin rejected", []string{"http://localhost:3000"}, "", false},
		{"invalid config entry skipped", []string{"not-an-origin"}, "not-an-origin", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewOriginPolicy(tt.allowed)
			req, err := http.NewRequest(http.MethodGet, "/ws", http.NoBody)
			require.NoError(t, err)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.CheckOrigin(req))
		})
	}
}
