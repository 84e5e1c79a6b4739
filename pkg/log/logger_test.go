// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	l := New("test")
	l.SetWriter(buf)
	l.SetColorize(false)
	return l
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.SetLevel(WARN)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below level leaked: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("messages at or above level missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestTextFormatCarriesPrefixAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.WithField("lane", "lane2").WithField("seq", 7).Info("accepted")

	out := buf.String()
	if !strings.Contains(out, "test: accepted") {
		t.Errorf("prefix or message missing: %q", out)
	}
	// Fields render sorted by key
	if !strings.Contains(out, "{lane=lane2, seq=7}") {
		t.Errorf("fields missing or unsorted: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.SetFormat(FormatJSON)

	l.WithField("tool", 3).Warn("slow load")

	var entry struct {
		Level   string                 `json:"level"`
		Logger  string                 `json:"logger"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if entry.Level != "WARN" || entry.Logger != "test" || entry.Message != "slow load" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["tool"] != float64(3) {
		t.Errorf("field tool = %v, want 3", entry.Fields["tool"])
	}
}

func TestWithPrefixSharesSettings(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.SetLevel(ERROR)

	sub := l.WithPrefix("machine")
	sub.Info("should not appear")
	sub.Error("boom")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("sub-logger ignored parent level: %q", out)
	}
	if !strings.Contains(out, "machine: boom") {
		t.Errorf("sub-logger prefix missing: %q", out)
	}
}

func TestFormatArgs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.Info("tool change to T%d from lane %s", 2, "lane5")

	if !strings.Contains(buf.String(), "tool change to T2 from lane lane5") {
		t.Errorf("printf args not applied: %q", buf.String())
	}
}
