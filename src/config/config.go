package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"budgee-sync/src/retry"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string

	PlaidClientID string
	PlaidSecret   string
	PlaidEnv      string

	OpenBankingClientID     string
	OpenBankingClientSecret string
	OpenBankingTokenURL     string
	OpenBankingAPIURL       string

	// TokenEncryptionKey is a hex encoded 32 byte key; empty stores tokens
	// unsealed.
	TokenEncryptionKey string

	SyncInterval       time.Duration
	BootstrapWindow    time.Duration
	ConnectionDelay    time.Duration
	TokenSafetyMargin  time.Duration
	ProviderTimeout    time.Duration
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RetryMultiplier    float64
	RetryMaxAttempts   int
	TokenCacheCapacity int64

	TuningFile  string
	LogLevel    string
	LogFormat   string
	ReadOnly    bool
	CORSOrigins []string
}

// Load reads the environment, after loading .env if present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		PlaidClientID: getEnv("PLAID_CLIENT_ID", ""),
		PlaidSecret:   getEnv("PLAID_SECRET", ""),
		PlaidEnv:      getEnv("PLAID_ENV", "sandbox"),

		OpenBankingClientID:     getEnv("OPENBANKING_CLIENT_ID", ""),
		OpenBankingClientSecret: getEnv("OPENBANKING_CLIENT_SECRET", ""),
		OpenBankingTokenURL:     getEnv("OPENBANKING_TOKEN_URL", ""),
		OpenBankingAPIURL:       getEnv("OPENBANKING_API_URL", ""),

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),

		TuningFile: getEnv("TUNING_FILE", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "console"),
	}

	var errs []error
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}

	defaults := retry.DefaultPolicy()
	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SYNC_INTERVAL", 6 * time.Hour, &cfg.SyncInterval},
		{"SYNC_CONNECTION_DELAY", 2 * time.Second, &cfg.ConnectionDelay},
		{"TOKEN_SAFETY_MARGIN", 5 * time.Minute, &cfg.TokenSafetyMargin},
		{"PROVIDER_TIMEOUT", 30 * time.Second, &cfg.ProviderTimeout},
		{"RETRY_BASE_DELAY", defaults.BaseDelay, &cfg.RetryBaseDelay},
		{"RETRY_MAX_DELAY", defaults.MaxDelay, &cfg.RetryMaxDelay},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.fallback)
		if err != nil {
			errs = append(errs, err)
		}
		*d.dst = v
	}

	days, err := getInt("SYNC_BOOTSTRAP_DAYS", 90)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.BootstrapWindow = time.Duration(days) * 24 * time.Hour

	if cfg.RetryMaxAttempts, err = getInt("RETRY_MAX_ATTEMPTS", defaults.MaxAttempts); err != nil {
		errs = append(errs, err)
	}
	if cfg.RetryMultiplier, err = getFloat("RETRY_MULTIPLIER", defaults.Multiplier); err != nil {
		errs = append(errs, err)
	}
	capacity, err := getInt("TOKEN_CACHE_CAPACITY", 10000)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.TokenCacheCapacity = int64(capacity)
	if cfg.ReadOnly, err = getBool("READ_ONLY", false); err != nil {
		errs = append(errs, err)
	}

	for _, o := range strings.Split(getEnv("CORS_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	return cfg, errors.Join(errs...)
}

// RetryPolicy builds the provider retry policy from the environment values.
func (c Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.BaseDelay = c.RetryBaseDelay
	p.MaxDelay = c.RetryMaxDelay
	p.Multiplier = c.RetryMultiplier
	p.MaxAttempts = c.RetryMaxAttempts
	p.AttemptTimeout = c.ProviderTimeout
	return p
}

func (c Config) PlaidEnabled() bool {
	return c.PlaidClientID != "" && c.PlaidSecret != ""
}

func (c Config) OpenBankingEnabled() bool {
	return c.OpenBankingClientID != "" && c.OpenBankingTokenURL != "" && c.OpenBankingAPIURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
