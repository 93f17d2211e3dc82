package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected zapcore.Level
	}{
		{input: "", expected: zapcore.InfoLevel},
		{input: "DEBUG", expected: zapcore.DebugLevel},
		{input: " warning ", expected: zapcore.WarnLevel},
		{input: "error", expected: zapcore.ErrorLevel},
	}
	for _, testCase := range testCases {
		level, err := ParseLevel(testCase.input)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", testCase.input, err)
		}
		if level != testCase.expected {
			t.Fatalf("ParseLevel(%q) = %v, expected %v", testCase.input, level, testCase.expected)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewLoggerDevelopmentEnablesDebug(t *testing.T) {
	logger, err := NewLogger("error", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level in development mode")
	}

	logger, err = NewLogger("warn", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
}
