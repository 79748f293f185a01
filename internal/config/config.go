package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/joelkehle/watchvault-pricing/internal/pricing"
)

// Config holds runtime settings for both binaries. Values come from the process
// environment after an optional .env file has been merged in.
type Config struct {
	Port            string
	DBPath          string
	PreferencesFile string
	AnthropicAPIKey string
	AnthropicModel  string
	LLMRPS          float64
	BatchLimit      int
	LogLevel        string
	OTLPEndpoint    string
	ChromePath      string
	Outliers        pricing.OutlierPolicy
}

// Load merges the given .env files (missing files are ignored) and reads the environment.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		Port:            getEnv("PORT", "8090"),
		DBPath:          getEnv("DB_PATH", "watchvault.db"),
		PreferencesFile: getEnv("PREFERENCES_FILE", "preferences.json"),
		AnthropicAPIKey: strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicModel:  strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ChromePath:      strings.TrimSpace(os.Getenv("CHROME_PATH")),
		Outliers:        pricing.DefaultOutlierPolicy(),
	}

	var err error
	if cfg.LLMRPS, err = floatEnv("LLM_RPS", 1); err != nil {
		return Config{}, err
	}
	if cfg.BatchLimit, err = intEnv("BATCH_LIMIT", 4); err != nil {
		return Config{}, err
	}
	if cfg.Outliers.Upper, err = floatEnv("COMP_OUTLIER_UPPER", cfg.Outliers.Upper); err != nil {
		return Config{}, err
	}
	if cfg.Outliers.Lower, err = floatEnv("COMP_OUTLIER_LOWER", cfg.Outliers.Lower); err != nil {
		return Config{}, err
	}
	if err := cfg.Outliers.Validate(); err != nil {
		return Config{}, fmt.Errorf("comp outlier thresholds: %w", err)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the JSON logger shared by every component.
func NewLogger(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(out)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func floatEnv(key string, defaultValue float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func intEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
