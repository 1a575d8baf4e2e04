// Package logging builds the zap logger shared by every command.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Encodings accepted by Config.Encoding.
const (
	EncodingConsole = "console"
	EncodingJSON    = "json"
)

// Config selects the zap preset and optionally overrides its level and
// encoding. An empty Level keeps the preset's (debug in development, info
// otherwise).
type Config struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
}

// Validate reports a level or encoding zap would not accept.
func (c Config) Validate() error {
	if c.Level != "" {
		if _, err := zapcore.ParseLevel(c.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	switch c.Encoding {
	case "", EncodingConsole, EncodingJSON:
		return nil
	default:
		return fmt.Errorf("logging.encoding must be %q or %q, got %q", EncodingConsole, EncodingJSON, c.Encoding)
	}
}

func (c Config) zapConfig() (zap.Config, error) {
	if err := c.Validate(); err != nil {
		return zap.Config{}, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc.InitialFields = map[string]any{"service": "techtrend"}
	}
	zc.EncoderConfig.TimeKey = "ts"
	if c.Level != "" {
		lvl, _ := zapcore.ParseLevel(c.Level)
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	if c.Encoding != "" {
		zc.Encoding = c.Encoding
		if c.Encoding == EncodingJSON {
			zc.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		}
	}
	return zc, nil
}

// New builds a zap.Logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	zc, err := cfg.zapConfig()
	if err != nil {
		return nil, err
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ForRun tags every entry of a command run so its scrape, upsert and publish
// lines can be correlated.
func ForRun(logger *zap.Logger, command, runID string) *zap.Logger {
	return logger.With(zap.String("command", command), zap.String("run_id", runID))
}
