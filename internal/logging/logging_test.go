package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitWriterText(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, "text")
	slog.Debug("hidden")
	slog.Info("[BLE] connected", "device", "AA:BB")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(out, "device=AA:BB") {
		t.Errorf("text output = %q, want device=AA:BB", out)
	}
}

func TestInitWriterJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelDebug, "JSON")
	slog.Debug("[REGISTER] sent", "token", 7)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "[REGISTER] sent" || rec["token"] != float64(7) {
		t.Errorf("record = %v", rec)
	}
}

func TestSetLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	defer SetLevel(slog.LevelInfo)

	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelDebug, "text")
	SetLevel(slog.LevelWarn)
	slog.Info("[BLE] quiet")
	slog.Warn("[BLE] loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("info record written after SetLevel(Warn)")
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestCapture(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	slog.With("session", "abc").Error("[CHANNEL] replay detected", "event", "security")
	slog.Debug("[CHANNEL] discarding foreign frame")

	if !c.Has(slog.LevelError, "replay") {
		t.Error("Has() missed the error record")
	}
	if !c.HasAttr(slog.LevelError, "replay", "event", "security") {
		t.Error("HasAttr() missed event=security")
	}
	if !c.HasAttr(slog.LevelError, "replay", "session", "abc") {
		t.Error("HasAttr() missed the bound session attribute")
	}
	if c.HasAttr(slog.LevelError, "replay", "event", "other") {
		t.Error("HasAttr() matched the wrong value")
	}
	if c.Count(slog.LevelDebug) != 1 {
		t.Errorf("Count(Debug) = %d, want 1", c.Count(slog.LevelDebug))
	}
}
