package logging

import (
	"io"
	"os"
	"strings"

	"github.com/natours/api/internal/config"

	"github.com/sirupsen/logrus"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// redacted replaces the value of any field whose name looks like a secret.
const redacted = "[REDACTED]"

var secretFields = []string{"password", "token", "secret", "authorization", "cookie"}

// New returns the process logger writing to stdout.
func New(cfg *config.Config) *logrus.Logger {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput builds the logger on an arbitrary writer.
func NewWithOutput(cfg *config.Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(formatter(cfg.Log.Format))

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithField("level", cfg.Log.Level).Warn("Unknown log level, using info")
	}
	logger.SetLevel(level)

	logger.AddHook(&serviceHook{
		service:     "natours-api",
		version:     Version(),
		environment: cfg.Server.Environment,
	})
	return logger
}

func formatter(format string) logrus.Formatter {
	if format != "json" {
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampLayout}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: timestampLayout,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
		},
	}
}

// serviceHook stamps entries with the service identity and masks secret
// fields that slipped into the entry data.
type serviceHook struct {
	service     string
	version     string
	environment string
}

func (h *serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *serviceHook) Fire(e *logrus.Entry) error {
	for k := range e.Data {
		if isSecret(k) {
			e.Data[k] = redacted
		}
	}
	setDefault(e, "service", h.service)
	setDefault(e, "version", h.version)
	setDefault(e, "environment", h.environment)
	return nil
}

func setDefault(e *logrus.Entry, key, value string) {
	if _, ok := e.Data[key]; !ok {
		e.Data[key] = value
	}
}

func isSecret(key string) bool {
	key = strings.ToLower(key)
	for _, s := range secretFields {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// Version is APP_VERSION, or "dev" when unset.
func Version() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return "dev"
}
