package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cornchan/cornchan/pkg/config"
)

// Logger is the application logger
var Logger *zap.Logger

// InitLogger initializes the logger with the given configuration
func InitLogger(cfg *config.LoggingConfig) error {
	logger, err := Build(cfg)
	if err != nil {
		return err
	}
	Logger = logger
	return nil
}

// Build creates a logger without touching the global one
func Build(cfg *config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "text" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if Logger == nil {
		// Fallback to default logger
		Logger, _ = zap.NewProduction()
	}
	return Logger
}

// WithComponent adds component name to logger
func WithComponent(component string) *zap.Logger {
	return GetLogger().With(zap.String("component", component))
}

// WithRequestID adds the request id to logger
func WithRequestID(requestID string) *zap.Logger {
	return GetLogger().With(zap.String("request_id", requestID))
}
