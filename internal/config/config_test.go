package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliscope/compliscope/internal/archive"
	"github.com/compliscope/compliscope/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, archive.BackendLocal, cfg.Archive.Backend)
	assert.Equal(t, 20*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, models.SeverityHigh, cfg.Notifications.Email.MinSeverity)
	assert.Equal(t, 587, cfg.Notifications.Email.SMTPPort)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("COMPLISCOPE_TEST_SECRET", "s3cr3t")
	t.Setenv("COMPLISCOPE_TEST_BUCKET", "exports-bucket")

	path := writeConfig(t, `
server:
  port: 9090
auth:
  jwt_secret: ${COMPLISCOPE_TEST_SECRET}
archive:
  backend: s3
  s3:
    bucket: ${COMPLISCOPE_TEST_BUCKET}
    region: eu-west-1
catalog:
  latency: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "s3cr3t", cfg.Auth.JWTSecret)
	assert.Equal(t, "exports-bucket", cfg.Archive.S3.Bucket)
	assert.Equal(t, 250*time.Millisecond, cfg.Catalog.Latency)
	assert.Equal(t, time.Hour, cfg.Catalog.CacheTTL)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "storage:\n  backend: mongo\n"},
		{"redis backend without redis", "storage:\n  backend: redis\n"},
		{"workers without redis", "exports:\n  workers: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "host=localhost port=5432 user= password= dbname=compliscope sslmode=disable", cfg.Database.DSN())
}
