package postgres

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

func TestGooseLoggerFatalfLogsAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	gl := gooseLogger{log: zerolog.New(&buf)}

	gl.Fatalf("migration %d failed: %s", 42, "syntax error")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry["level"] != "error" {
		t.Errorf("level = %q, want %q", entry["level"], "error")
	}
	if msg, _ := entry["message"].(string); msg != "migration 42 failed: syntax error" {
		t.Errorf("message = %q, want %q", entry["message"], "migration 42 failed: syntax error")
	}
}

func TestGooseLoggerPrintfLogsAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	gl := gooseLogger{log: zerolog.New(&buf)}

	gl.Printf("applied migration %d", 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry["level"] != "info" {
		t.Errorf("level = %q, want %q", entry["level"], "info")
	}
	if msg, _ := entry["message"].(string); msg != "applied migration 7" {
		t.Errorf("message = %q, want %q", entry["message"], "applied migration 7")
	}
}

func TestIsUniqueViolationDetectsCode23505(t *testing.T) {
	err := &pgconn.PgError{Code: codeUniqueViolation}
	if !isUniqueViolation(err) {
		t.Fatal("expected unique-violation code to be detected")
	}
	if isUniqueViolation(errors.New("some other error")) {
		t.Fatal("expected non-pgx error to not match")
	}
}
