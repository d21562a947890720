package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.False(t, cfg.Server.IsProduction())
	assert.Equal(t, "dynamodb", cfg.Store.Driver)
	assert.Equal(t, 90, cfg.JWT.CookieExpiresIn)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Contains(t, cfg.RateLimit.ExemptPaths, "/webhook-checkout")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "a-long-production-secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("RATE_LIMIT_EXEMPT_PATHS", "/healthz, /metrics")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Server.IsProduction())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, []string{"/healthz", "/metrics"}, cfg.RateLimit.ExemptPaths)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"SERVER_PORT": "99999"}},
		{"bad environment", map[string]string{"SERVER_ENVIRONMENT": "staging"}},
		{"bad driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"default secret in production", map[string]string{"SERVER_ENVIRONMENT": "production"}},
		{"bad sample rate", map[string]string{"OBSERVABILITY_SAMPLE_RATE": "1.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
