package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cornchan/cornchan/pkg/config"
)

func TestBuildLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		enabled zapcore.Level
		muted   zapcore.Level
	}{
		{"json info", "INFO", "json", zapcore.InfoLevel, zapcore.DebugLevel},
		{"text debug", "debug", "text", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"invalid falls back to info", "LOUD", "json", zapcore.InfoLevel, zapcore.DebugLevel},
		{"error only", "error", "json", zapcore.ErrorLevel, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := Build(&config.LoggingConfig{Level: tt.level, Format: tt.format})
			if err != nil {
				t.Fatalf("Build() error: %v", err)
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("level %v should be enabled", tt.enabled)
			}
			if logger.Core().Enabled(tt.muted) {
				t.Errorf("level %v should be disabled", tt.muted)
			}
		})
	}
}

func TestWithComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	old := Logger
	Logger = zap.New(core)
	defer func() { Logger = old }()

	WithComponent("ban-gate").Info("checked")
	WithRequestID("abc").Info("served")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["component"]; got != "ban-gate" {
		t.Errorf("component = %v", got)
	}
	if got := entries[1].ContextMap()["request_id"]; got != "abc" {
		t.Errorf("request_id = %v", got)
	}
}
