// Package config loads broker configuration from the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the broker
// service.
type Config struct {
	HTTPPort     int
	SQLiteDSN    string
	PartiesFile  string
	APITokenHash string

	LogFormat string
	LogLevel  string

	MaxCandidates         int
	CandidateCacheTTL     time.Duration
	AutoConfirmTolerance  time.Duration
	MaxResolutionAttempts int
	ExpirySweepInterval   time.Duration

	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	ProviderTimeout time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleTokenFile    string

	CalDAVEndpoint string
	CalDAVUsername string
	CalDAVPassword string
}

// Load parses configuration from the current process environment. Optional
// values fall back to defaults; required values and unparseable entries are
// reported together so one restart fixes the whole set.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:              8080,
		SQLiteDSN:             "file:broker.db?_foreign_keys=on",
		PartiesFile:           "parties.json",
		LogFormat:             "json",
		LogLevel:              "info",
		MaxCandidates:         10,
		CandidateCacheTTL:     30 * time.Second,
		MaxResolutionAttempts: 3,
		ExpirySweepInterval:   time.Minute,
		RetryAttempts:         3,
		RetryBaseDelay:        200 * time.Millisecond,
		RetryMaxDelay:         5 * time.Second,
		ProviderTimeout:       10 * time.Second,
		GoogleTokenFile:       "google-token.json",
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	intVar := func(name string, min int, target *int) {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil || parsed < min {
				invalid = append(invalid, name)
			} else {
				*target = parsed
			}
		}
	}
	durationVar := func(name string, allowZero bool, target *time.Duration) {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			parsed, err := time.ParseDuration(value)
			if err != nil || parsed < 0 || (!allowZero && parsed == 0) {
				invalid = append(invalid, name)
			} else {
				*target = parsed
			}
		}
	}
	stringVar := func(name string, target *string) {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			*target = value
		}
	}

	intVar("BROKER_HTTP_PORT", 1, &cfg.HTTPPort)
	stringVar("BROKER_SQLITE_DSN", &cfg.SQLiteDSN)
	stringVar("BROKER_PARTIES_FILE", &cfg.PartiesFile)
	stringVar("BROKER_LOG_FORMAT", &cfg.LogFormat)
	stringVar("BROKER_LOG_LEVEL", &cfg.LogLevel)

	if hash := strings.TrimSpace(os.Getenv("BROKER_API_TOKEN_HASH")); hash == "" {
		missing = append(missing, "BROKER_API_TOKEN_HASH")
	} else {
		cfg.APITokenHash = hash
	}

	intVar("BROKER_MAX_CANDIDATES", 1, &cfg.MaxCandidates)
	durationVar("BROKER_CANDIDATE_CACHE_TTL", false, &cfg.CandidateCacheTTL)
	// Zero keeps automatic re-confirmation disabled.
	durationVar("BROKER_AUTO_CONFIRM_TOLERANCE", true, &cfg.AutoConfirmTolerance)
	intVar("BROKER_MAX_RESOLUTION_ATTEMPTS", 1, &cfg.MaxResolutionAttempts)
	durationVar("BROKER_EXPIRY_SWEEP_INTERVAL", false, &cfg.ExpirySweepInterval)

	intVar("BROKER_RETRY_ATTEMPTS", 1, &cfg.RetryAttempts)
	durationVar("BROKER_RETRY_BASE_DELAY", false, &cfg.RetryBaseDelay)
	durationVar("BROKER_RETRY_MAX_DELAY", false, &cfg.RetryMaxDelay)
	durationVar("BROKER_PROVIDER_TIMEOUT", false, &cfg.ProviderTimeout)

	stringVar("BROKER_GOOGLE_CLIENT_ID", &cfg.GoogleClientID)
	stringVar("BROKER_GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret)
	stringVar("BROKER_GOOGLE_TOKEN_FILE", &cfg.GoogleTokenFile)
	stringVar("BROKER_CALDAV_ENDPOINT", &cfg.CalDAVEndpoint)
	stringVar("BROKER_CALDAV_USERNAME", &cfg.CalDAVUsername)
	stringVar("BROKER_CALDAV_PASSWORD", &cfg.CalDAVPassword)

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// GoogleEnabled reports whether the Google provider is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// CalDAVEnabled reports whether the CalDAV provider is configured.
func (c Config) CalDAVEnabled() bool {
	return c.CalDAVEndpoint != ""
}
