// Package config loads client configuration from the environment, with
// an optional .env file for development setups.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultHTTPTimeout          = 15 * time.Second
	DefaultCSRFTTL              = time.Hour
	DefaultCSRFRefreshThreshold = 5 * time.Minute
)

// Config holds everything the SDK and CLI need to talk to a backend.
type Config struct {
	// APIBaseURL is the versioned API prefix, e.g. "https://host/api/v1".
	APIBaseURL string
	// CSRFEndpoint overrides the token endpoint; derived from APIBaseURL
	// when empty.
	CSRFEndpoint string
	// EncryptionSeed feeds credential-key derivation so two processes
	// sharing a credential file derive distinct record keys. Optional.
	EncryptionSeed string

	HTTPTimeout          time.Duration
	CSRFTTL              time.Duration
	CSRFRefreshThreshold time.Duration

	// CredentialFile is where the CLI persists its encrypted record.
	// Empty means in-memory only.
	CredentialFile string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present; real environment
// variables win over file entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:     getEnv("USERMN_API_BASE_URL", "http://localhost:8080/api/v1"),
		CSRFEndpoint:   getEnv("USERMN_CSRF_ENDPOINT", ""),
		EncryptionSeed: getEnv("USERMN_ENCRYPTION_SEED", ""),
		CredentialFile: getEnv("USERMN_CREDENTIAL_FILE", ""),
	}

	var err error
	if cfg.HTTPTimeout, err = getDuration("USERMN_HTTP_TIMEOUT", DefaultHTTPTimeout); err != nil {
		return nil, err
	}
	if cfg.CSRFTTL, err = getDuration("USERMN_CSRF_TTL", DefaultCSRFTTL); err != nil {
		return nil, err
	}
	if cfg.CSRFRefreshThreshold, err = getDuration("USERMN_CSRF_REFRESH_THRESHOLD", DefaultCSRFRefreshThreshold); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("USERMN_API_BASE_URL must not be empty")
	}
	if c.CSRFRefreshThreshold >= c.CSRFTTL {
		return fmt.Errorf("USERMN_CSRF_REFRESH_THRESHOLD (%s) must be shorter than USERMN_CSRF_TTL (%s)",
			c.CSRFRefreshThreshold, c.CSRFTTL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("USERMN_HTTP_TIMEOUT must be positive")
	}
	return nil
}

// CSRFTokenEndpoint resolves the CSRF endpoint, defaulting to the
// documented path under the API base URL.
func (c *Config) CSRFTokenEndpoint() string {
	if c.CSRFEndpoint != "" {
		return c.CSRFEndpoint
	}
	return c.APIBaseURL + "/auth/csrf-token"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("90s", "5m") and, for
// convenience, bare integers interpreted as seconds.
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is neither seconds nor a duration", key, raw)
	}
	return d, nil
}
