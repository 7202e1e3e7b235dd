package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mediaserver/internal/logging"
)

func clearServerEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"DATABASE_URL", "DATABASE_URL_FILE",
		"CONTENT_HMAC_KEY", "CONTENT_HMAC_KEY_FILE",
		"UPLOAD_PATH", "LISTEN_ADDR", "IMAGE_CONCURRENCY",
		"MAX_UPLOAD_BYTES", "LOG_LEVEL",
	} {
		os.Unsetenv(name)
	}
}

func TestLoadAppliesDefaultsWhenOptionalVarsAreUnset(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("DATABASE_URL", "postgres://example/db")
	t.Setenv("CONTENT_HMAC_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "./files", cfg.UploadPath)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, int64(1), cfg.ImageConcurrency)
	require.Equal(t, int64(64<<20), cfg.MaxUploadBytes)
	require.Equal(t, logging.INFO, cfg.LogLevel)
}

func TestLoadFailsWithoutRequiredDatabaseURL(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("CONTENT_HMAC_KEY", "secret")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadReadsSecretFromFileSuffixVariable(t *testing.T) {
	clearServerEnv(t)
	secretPath := filepath.Join(t.TempDir(), "hmac-key")
	require.NoError(t, os.WriteFile(secretPath, []byte("from-a-file\n"), 0o600))

	t.Setenv("DATABASE_URL", "postgres://example/db")
	t.Setenv("CONTENT_HMAC_KEY_FILE", secretPath)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-a-file", cfg.HMACKey)
}

func TestLoadParsesLogLevelAndOverridesImageConcurrency(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("DATABASE_URL", "postgres://example/db")
	t.Setenv("CONTENT_HMAC_KEY", "secret")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("IMAGE_CONCURRENCY", "4")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, logging.DEBUG, cfg.LogLevel)
	require.Equal(t, int64(4), cfg.ImageConcurrency)
}
