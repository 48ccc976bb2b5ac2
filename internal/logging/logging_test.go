package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFor_PrefixAndCache(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Stderr: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	lg := l.For("fetch")
	if lg != l.For("fetch") {
		t.Error("For() returned a new logger for the same component")
	}
	lg.Printf("hello")
	if !strings.Contains(buf.String(), "[fetch] ") || !strings.Contains(buf.String(), "hello") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestDebug_Gated(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Config{Stderr: &buf, Level: "info"})
	l.Debug("retry").Printf("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug output leaked at info level: %q", buf.String())
	}

	l, _ = New(Config{Stderr: &buf, Level: "DEBUG"})
	l.Debug("retry").Printf("shown")
	if !l.DebugEnabled() || !strings.Contains(buf.String(), "[retry] DEBUG: ") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFileOutput(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "mirror.log")

	l, err := New(Config{Stderr: &buf, File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	l.For("index").Printf("indexed")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "[index] ") || !strings.Contains(buf.String(), "indexed") {
		t.Errorf("file = %q, console = %q", data, buf.String())
	}
}
