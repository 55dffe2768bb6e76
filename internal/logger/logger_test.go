package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterDefaultsToDirPath(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}
	w, err := c.Writer("everything")
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if w == nil {
		t.Fatalf("expected writer for configured dir")
	}
	if _, err := w.Write([]byte("boom\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	data, err := os.ReadFile(filepath.Join(dir, "everything.stderr.log"))
	if err != nil || !strings.Contains(string(data), "boom") {
		t.Fatalf("captured stderr missing: %v %q", err, string(data))
	}
}

func TestWriterNilWhenUnconfigured(t *testing.T) {
	var c Config
	if c.Enabled() {
		t.Fatalf("zero config must not be enabled")
	}
	w, err := c.Writer("x")
	if err != nil || w != nil {
		t.Fatalf("expected nil writer, got %v %v", w, err)
	}
}

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "warn", false)
	lg.Info("hidden")
	lg.Warn("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "visible") {
		t.Fatalf("level filtering broken: %q", out)
	}
}

func TestColorHandlerPrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "info", true)
	lg.Error("bad thing")
	if !strings.Contains(buf.String(), "\033[31m") {
		t.Fatalf("expected ANSI color prefix, got %q", buf.String())
	}
}
