package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLogger_LevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn")

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown", "key", "value")
	log.Error("failed", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug/info must be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown | key=value") {
		t.Fatalf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] failed | error=boom") {
		t.Fatalf("missing error line: %q", out)
	}
}

func TestLogger_WithAndOddArgs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug").With("component", "flush")

	log.Info("tick", "dangling")

	out := buf.String()
	if !strings.Contains(out, "component=flush dangling=(missing)") {
		t.Fatalf("unexpected line: %q", out)
	}
}

func TestNop(t *testing.T) {
	// Nop must not panic and must not write anywhere observable.
	Nop().Error("ignored", errors.New("x"))
}
