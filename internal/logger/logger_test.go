package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// captureOutput redirects logger output to a buffer for testing.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	reconfigure()

	return buf, func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Run("debug level shows everything", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")
		Debug("debug message")
		Info("info message")

		out := buf.String()
		if !strings.Contains(out, "debug message") || !strings.Contains(out, "info message") {
			t.Fatalf("expected both messages, got %q", out)
		}
	})

	t.Run("warn level suppresses debug and info", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("WARN")
		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
			t.Fatalf("expected debug/info suppressed, got %q", out)
		}
		if !strings.Contains(out, "warn message") {
			t.Fatalf("expected warn message present, got %q", out)
		}
	})

	t.Run("error always logs", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")
		Error("boom")

		if !strings.Contains(buf.String(), "boom") {
			t.Fatalf("expected error message, got %q", buf.String())
		}
	})
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("json")
	Info("created entry", KeyHandle, "01020304", KeySize, uint64(5))

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "created entry" {
		t.Fatalf("unexpected msg field: %v", entry["msg"])
	}
	if entry[KeyHandle] != "01020304" {
		t.Fatalf("unexpected handle field: %v", entry[KeyHandle])
	}
}

func TestContextLogging(t *testing.T) {
	t.Run("log context injects fields", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetFormat("json")

		lc := &LogContext{
			TraceID:   "abc123",
			Operation: "lookup",
			Export:    "/export",
			ClientIP:  "192.168.1.100",
			UID:       1000,
			GID:       1000,
		}
		ctx := WithContext(context.Background(), lc)

		InfoCtx(ctx, "operation completed", "extra_field", "value")

		var entry map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
			t.Fatalf("expected valid JSON: %v", err)
		}

		want := map[string]any{
			KeyTraceID:   "abc123",
			KeyOperation: "lookup",
			KeyExport:    "/export",
			KeyClientIP:  "192.168.1.100",
			KeyUID:       float64(1000),
			KeyGID:       float64(1000),
			"extra_field": "value",
		}
		for k, v := range want {
			if entry[k] != v {
				t.Errorf("field %q: got %v, want %v", k, entry[k], v)
			}
		}
	})

	t.Run("nil context does not panic", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()
		SetLevel("INFO")

		InfoCtx(nil, "test message") //nolint:staticcheck

		if !strings.Contains(buf.String(), "test message") {
			t.Fatalf("expected message logged, got %q", buf.String())
		}
	})

	t.Run("context without log context is handled", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()
		SetLevel("INFO")

		InfoCtx(context.Background(), "test message")

		if !strings.Contains(buf.String(), "test message") {
			t.Fatalf("expected message logged, got %q", buf.String())
		}
	})
}

func TestLogContext(t *testing.T) {
	t.Run("NewLogContext", func(t *testing.T) {
		lc := NewLogContext("192.168.1.100")
		if lc.ClientIP != "192.168.1.100" {
			t.Fatalf("unexpected client ip: %s", lc.ClientIP)
		}
		if lc.StartTime.IsZero() {
			t.Fatal("expected non-zero start time")
		}
	})

	t.Run("Clone is independent", func(t *testing.T) {
		lc := &LogContext{TraceID: "t1", Operation: "lookup", ClientIP: "1.2.3.4", UID: 1000}
		clone := lc.Clone()

		if clone.TraceID != lc.TraceID || clone.Operation != lc.Operation {
			t.Fatal("clone should copy fields")
		}
		clone.Operation = "setattr"
		if lc.Operation != "lookup" {
			t.Fatal("mutating clone should not affect original")
		}
	})

	t.Run("Clone nil is nil", func(t *testing.T) {
		var lc *LogContext
		if lc.Clone() != nil {
			t.Fatal("expected nil clone of nil receiver")
		}
	})

	t.Run("WithOperation", func(t *testing.T) {
		lc := NewLogContext("1.2.3.4")
		lc2 := lc.WithOperation("lookup")

		if lc2.Operation != "lookup" {
			t.Fatalf("expected operation set, got %q", lc2.Operation)
		}
		if lc.Operation != "" {
			t.Fatal("original should be unchanged")
		}
	})

	t.Run("WithIdentity", func(t *testing.T) {
		lc := NewLogContext("1.2.3.4")
		lc2 := lc.WithIdentity(1000, 1000)

		if lc2.UID != 1000 || lc2.GID != 1000 {
			t.Fatalf("expected identity set, got uid=%d gid=%d", lc2.UID, lc2.GID)
		}
	})
}

func TestFieldHelpers(t *testing.T) {
	t.Run("Handle formats as hex", func(t *testing.T) {
		attr := Handle([]byte{0x01, 0x02, 0x03, 0x04})
		if attr.Key != KeyHandle {
			t.Fatalf("unexpected key: %s", attr.Key)
		}
		if attr.Value.String() != "01020304" {
			t.Fatalf("unexpected value: %s", attr.Value.String())
		}
	})

	t.Run("Err handles nil", func(t *testing.T) {
		attr := Err(nil)
		if attr.Key != "" {
			t.Fatalf("expected zero attr for nil error, got key %q", attr.Key)
		}
	})
}

func TestWithBoundFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("json")

	l := With(KeyShard, 3)
	l.Info("shard event")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("expected valid JSON: %v", err)
	}
	if entry[KeyShard] != float64(3) {
		t.Fatalf("expected bound shard field, got %v", entry[KeyShard])
	}
}
