package zap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeLoggerFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.log")

	t.Setenv("ENV_NAME", "production")
	t.Setenv("SERVICE_NAME", "claim-service")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_LEVEL_OVERRIDES", "http=debug")
	t.Setenv("LOG_FILE", path)

	logger, err := InitializeLogger()
	require.NoError(t, err)

	logger.Info("claim received")
	logger.Warn("policy lookup slow")
	logger.Named("http").Debug("request body logged")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(raw)
	assert.NotContains(t, out, "claim received")
	assert.Contains(t, out, "policy lookup slow")
	assert.Contains(t, out, "request body logged")
	assert.Contains(t, out, `"service.name":"claim-service"`)
}

func TestInitializeLoggerIgnoresBadLevel(t *testing.T) {
	t.Setenv("ENV_NAME", "production")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("LOG_LEVEL_OVERRIDES", "")
	t.Setenv("LOG_FILE", "")

	logger, err := InitializeLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
