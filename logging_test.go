package trfb

import "testing"

func TestSinkLoggerSeverityPrefixes(t *testing.T) {
	var lines []string
	logger := NewSinkLogger(func(msg string) {
		lines = append(lines, msg)
	})

	logger.Infof("hello %d", 1)
	logger.Warnf("careful %s", "now")
	logger.Errorf("boom")

	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	tests := []struct {
		line   string
		prefix string
	}{
		{lines[0], "I: hello 1"},
		{lines[1], "W: careful now"},
		{lines[2], "E: boom"},
	}
	for _, tt := range tests {
		if tt.line != tt.prefix {
			t.Fatalf("got %q, want %q", tt.line, tt.prefix)
		}
	}
}

func TestNilSinkDefaultsWithoutPanic(t *testing.T) {
	logger := NewSinkLogger(nil)
	logger.Infof("should not panic")
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNopLogger()
	logger.Infof("x")
	logger.Warnf("y")
	logger.Errorf("z")
}
