package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/v1", cfg.APIBaseURL)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	assert.Equal(t, DefaultCSRFTTL, cfg.CSRFTTL)
	assert.Equal(t, DefaultCSRFRefreshThreshold, cfg.CSRFRefreshThreshold)
	assert.Empty(t, cfg.EncryptionSeed)
	assert.Equal(t, "http://localhost:8080/api/v1/auth/csrf-token", cfg.CSRFTokenEndpoint())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("USERMN_API_BASE_URL", "https://api.example.com/api/v1")
	t.Setenv("USERMN_CSRF_ENDPOINT", "https://api.example.com/csrf")
	t.Setenv("USERMN_ENCRYPTION_SEED", "per-host-seed")
	t.Setenv("USERMN_HTTP_TIMEOUT", "30s")
	t.Setenv("USERMN_CSRF_TTL", "2h")
	t.Setenv("USERMN_CSRF_REFRESH_THRESHOLD", "600")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/api/v1", cfg.APIBaseURL)
	assert.Equal(t, "https://api.example.com/csrf", cfg.CSRFTokenEndpoint())
	assert.Equal(t, "per-host-seed", cfg.EncryptionSeed)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2*time.Hour, cfg.CSRFTTL)
	assert.Equal(t, 10*time.Minute, cfg.CSRFRefreshThreshold, "bare integers are seconds")
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("USERMN_HTTP_TIMEOUT", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USERMN_HTTP_TIMEOUT")
}

func TestValidate(t *testing.T) {
	base := Config{
		APIBaseURL:           "http://localhost:8080/api/v1",
		HTTPTimeout:          DefaultHTTPTimeout,
		CSRFTTL:              DefaultCSRFTTL,
		CSRFRefreshThreshold: DefaultCSRFRefreshThreshold,
	}

	t.Run("ok", func(t *testing.T) {
		cfg := base
		assert.NoError(t, cfg.Validate())
	})

	t.Run("empty base URL", func(t *testing.T) {
		cfg := base
		cfg.APIBaseURL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("threshold not shorter than TTL", func(t *testing.T) {
		cfg := base
		cfg.CSRFRefreshThreshold = cfg.CSRFTTL
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive timeout", func(t *testing.T) {
		cfg := base
		cfg.HTTPTimeout = 0
		assert.Error(t, cfg.Validate())
	})
}
