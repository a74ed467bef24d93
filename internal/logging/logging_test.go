package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewIncludesService(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Service: "report", Level: ParseLevel("debug"), Output: buf})

	log.Debug().Int("rows", 3).Msg("loaded")

	if !bytes.Contains(buf.Bytes(), []byte(`"service":"report"`)) {
		t.Fatalf("expected service field; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"rows":3`)) {
		t.Fatalf("expected rows field; entry=%s", buf.String())
	}
}

func TestNewRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Service: "report", Level: zerolog.WarnLevel, Output: buf})

	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level; entry=%s", buf.String())
	}
}

func TestConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Service: "report", Format: FormatConsole, Output: buf})

	log.Info().Msg("hello")
	if bytes.Contains(buf.Bytes(), []byte(`"message"`)) {
		t.Fatalf("console output should not be JSON; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("hello")) {
		t.Fatalf("missing message; entry=%s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fall back to info, got %v", lvl)
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn, got %v", lvl)
	}
}

func TestWithField(t *testing.T) {
	buf := &bytes.Buffer{}
	base := New(Options{Service: "server", Output: buf})

	ctx := WithField(context.Background(), base, "request_id", "req-123")
	FromContext(ctx, base).Info().Msg("handled")

	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"req-123"`)) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
}
