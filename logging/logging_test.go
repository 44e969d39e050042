package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSONToStdoutAndFile(t *testing.T) {
	var stdout bytes.Buffer
	file := filepath.Join(t.TempDir(), "node.log")

	logger, closer := New(Options{Level: "debug", File: file, Stdout: &stdout})
	logger.Debug("Association established", "called_ae", "ARCHIVE")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &entry); err != nil {
		t.Fatalf("stdout is not JSON: %v (%q)", err, stdout.String())
	}
	if entry["msg"] != "Association established" || entry["called_ae"] != "ARCHIVE" {
		t.Errorf("unexpected entry %v", entry)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, stdout.Bytes()) {
		t.Errorf("file content differs from stdout: %q", data)
	}
}

func TestNew_TextAndLevel(t *testing.T) {
	var stdout bytes.Buffer
	logger, _ := New(Options{Level: "warn", Format: "text", Stdout: &stdout})
	logger.Info("hidden")
	logger.Warn("shown", "port", 104)

	out := stdout.String()
	if strings.Contains(out, "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "port=104") {
		t.Errorf("unexpected text output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}
