package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/jwebster45206/pbem-engine/internal/config"
)

func TestSetupProductionUsesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := SetupTo(&buf, &config.Config{Environment: "production", LogLevel: slog.LevelInfo})

	log.Info("hello", "scene_id", 4)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("expected msg hello, got %v", entry["msg"])
	}
}

func TestSetupRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := SetupTo(&buf, &config.Config{Environment: "development", LogLevel: slog.LevelWarn})

	log.Info("quiet")
	log.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestWithMessageAndError(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	sceneID := int64(9)
	WithError(WithMessage(base, 42, &sceneID), errors.New("boom")).Info("failed")

	out := buf.String()
	for _, want := range []string{"message_id=42", "scene_id=9", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}

	buf.Reset()
	WithMessage(base, 7, nil).Info("no scene")
	if strings.Contains(buf.String(), "scene_id") {
		t.Errorf("scene_id should be absent: %q", buf.String())
	}
}
