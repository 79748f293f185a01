package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "DB_PATH", "PREFERENCES_FILE", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL",
		"LLM_RPS", "BATCH_LIMIT", "LOG_LEVEL", "OTEL_EXPORTER_OTLP_ENDPOINT", "CHROME_PATH",
		"COMP_OUTLIER_UPPER", "COMP_OUTLIER_LOWER"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "watchvault.db", cfg.DBPath)
	assert.Equal(t, 1.0, cfg.LLMRPS)
	assert.Equal(t, 4, cfg.BatchLimit)
	assert.Equal(t, 2.0, cfg.Outliers.Upper)
	assert.Equal(t, 0.5, cfg.Outliers.Lower)
}

func TestLoadReadsEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9999\nANTHROPIC_API_KEY=sk-test\nCOMP_OUTLIER_UPPER=3\n"), 0o644))
	// godotenv never overrides variables that are already set, so drop the blanks.
	for _, k := range []string{"PORT", "ANTHROPIC_API_KEY", "COMP_OUTLIER_UPPER"} {
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range []string{"PORT", "ANTHROPIC_API_KEY", "COMP_OUTLIER_UPPER"} {
			os.Unsetenv(k)
		}
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "sk-test", cfg.AnthropicAPIKey)
	assert.Equal(t, 3.0, cfg.Outliers.Upper)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"rps":       {"LLM_RPS", "fast"},
		"batch":     {"BATCH_LIMIT", "many"},
		"threshold": {"COMP_OUTLIER_LOWER", "1.5"},
		"level":     {"LOG_LEVEL", "chatty"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", &buf)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	logger.WithField("component", "test").Info("hello")
	assert.Contains(t, buf.String(), `"component":"test"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	assert.Equal(t, logrus.InfoLevel, NewLogger("bogus", &buf).GetLevel())
}
