package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"
)

func TestLogErrorWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "debug", "json")
	t.Cleanup(func() { Configure(os.Stdout, "info", "json") })

	LogError("service", "CreateSale", "decrement failed", map[string]any{"nomor_batch": "PARA-2026-001"}, errors.New("boom"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["module"] != "service" || entry["funcName"] != "CreateSale" || entry["msg"] != "boom" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["level"] != "error" {
		t.Fatalf("expected error level, got %v", entry["level"])
	}
}

func TestConfigureFallsBackToInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "loud", "text")
	t.Cleanup(func() { Configure(os.Stdout, "info", "json") })

	For("test").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered at info level, got %q", buf.String())
	}
	For("test").Info("shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) || !bytes.Contains(buf.Bytes(), []byte("module=test")) {
		t.Fatalf("expected text entry with module field, got %q", buf.String())
	}
}
