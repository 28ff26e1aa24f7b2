package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		logger, err := New(env, "warn")
		if err != nil {
			t.Fatalf("New(%q): %v", env, err)
		}
		if logger.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("debug enabled at warn level for %q", env)
		}
	}
	if _, err := New("development", "loud"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
