package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/natours/api/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{
		Server: config.ServerConfig{Environment: "test"},
		Log:    config.LogConfig{Level: "debug", Format: "json"},
	}

	logger := NewWithOutput(cfg, &buf)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("user_id", "u-1").Info("signed up")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "signed up", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "natours-api", entry["service"])
	assert.Equal(t, "test", entry["environment"])
	assert.Equal(t, "u-1", entry["user_id"])
	assert.Contains(t, entry, "ts")
}

func TestNewWithOutputBadLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Log: config.LogConfig{Level: "loud", Format: "text"}}

	logger := NewWithOutput(cfg, &buf)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestSecretFieldsAreMasked(t *testing.T) {
	t.Setenv("APP_VERSION", "")
	var buf bytes.Buffer
	cfg := &config.Config{Log: config.LogConfig{Level: "info", Format: "json"}}

	NewWithOutput(cfg, &buf).WithFields(logrus.Fields{
		"passwordConfirm": "pass1234",
		"reset_token":     "abc",
		"email":           "jonas@example.com",
	}).Info("reset")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[REDACTED]", entry["passwordConfirm"])
	assert.Equal(t, "[REDACTED]", entry["reset_token"])
	assert.Equal(t, "jonas@example.com", entry["email"])
	assert.Equal(t, "dev", entry["version"])
}
