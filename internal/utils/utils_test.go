package utils

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestCommandHash_DeterministicAndSensitiveToInputs(t *testing.T) {
	h1 := CommandHash("rm -rf ./build", "/repo", "sh", []string{"rm", "-rf", "./build"})
	h2 := CommandHash("rm -rf ./build", "/repo", "sh", []string{"rm", "-rf", "./build"})
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %q vs %q", h1, h2)
	}

	if _, err := hex.DecodeString(h1); err != nil {
		t.Fatalf("expected hex sha256, got %q: %v", h1, err)
	}

	// Any input change should change the hash.
	if got := CommandHash("rm -rf ./build", "/repo2", "sh", []string{"rm", "-rf", "./build"}); got == h1 {
		t.Fatalf("expected cwd change to affect hash")
	}
	if got := CommandHash("rm -rf ./build", "/repo", "bash", []string{"rm", "-rf", "./build"}); got == h1 {
		t.Fatalf("expected shell change to affect hash")
	}
	if got := CommandHash("rm -rf ./build", "/repo", "sh", []string{"rm", "-rf"}); got == h1 {
		t.Fatalf("expected argv change to affect hash")
	}
	if got := CommandHash("rm -rf ./build --no-preserve-root", "/repo", "sh", []string{"rm", "-rf", "./build"}); got == h1 {
		t.Fatalf("expected raw change to affect hash")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{"warn", log.WarnLevel},
		{"warning", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"fatal", log.FatalLevel},
		{"unknown", log.InfoLevel},
	}

	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Fatalf("parseLevel(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestInitLogger_WritesOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger(LoggerOptions{
		Level:           "debug",
		Output:          &buf,
		Prefix:          "test",
		ReportTimestamp: false,
	})

	logger.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected output to contain message; got %q", buf.String())
	}
}

func TestInitDefaultLogger_RespectsEnvOverride(t *testing.T) {
	t.Setenv("DELIBERATE_LOG_LEVEL", "debug")
	logger := InitDefaultLogger()
	if logger == nil {
		t.Fatalf("expected logger")
	}
}

func TestInitSessionLogger_CreatesLogFile(t *testing.T) {
	historyDir := t.TempDir()

	logger, err := InitSessionLogger(historyDir, "abc123")
	if err != nil {
		t.Fatalf("InitSessionLogger: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected logger")
	}

	path := filepath.Join(historyDir, "logs", "session_abc123.log")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected session log file at %s: %v", path, err)
	}
}

func TestDefaultLoggerWrappers(t *testing.T) {
	old := GetDefaultLogger()
	t.Cleanup(func() {
		SetDefaultLogger(old)
	})

	var buf bytes.Buffer
	logger := InitLogger(LoggerOptions{
		Level:           "debug",
		Output:          &buf,
		Prefix:          "wrapper",
		ReportTimestamp: false,
	})
	SetDefaultLogger(logger)

	Debug("debug-msg")
	Info("info-msg")
	Warn("warn-msg")
	Error("error-msg")
	_ = With("k", "v")
	_ = WithPrefix("p")

	out := buf.String()
	for _, want := range []string{"debug-msg", "info-msg", "warn-msg", "error-msg"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q; got %q", want, out)
		}
	}
}

func TestStripANSI(t *testing.T) {
	if got := StripANSI("\x1b[31mred\x1b[0m"); got != "red" {
		t.Fatalf("StripANSI: got %q", got)
	}
	// OSC title and hyperlink sequences are stripped too.
	if got := StripANSI("\x1b]0;safe title\x07ls"); got != "ls" {
		t.Fatalf("StripANSI OSC: got %q", got)
	}
	if got := StripANSI("\x1b]8;;http://evil\x1b\\link"); got != "link" {
		t.Fatalf("StripANSI hyperlink: got %q", got)
	}
}

func TestCarriageNewlines(t *testing.T) {
	got := CarriageNewlines("one\ntwo\r\nthree")
	if got != "one\r\ntwo\r\nthree" {
		t.Fatalf("CarriageNewlines: got %q", got)
	}
}

func TestSanitizeInput(t *testing.T) {
	in := "\x1b[2Jrm -rf /\x07\ttail\nline"
	got := SanitizeInput(in)
	if strings.ContainsRune(got, '\x07') || strings.Contains(got, "\x1b") {
		t.Fatalf("control characters survived: %q", got)
	}
	if !strings.Contains(got, "\t") || !strings.Contains(got, "\n") {
		t.Fatalf("tabs and newlines should survive: %q", got)
	}
}
