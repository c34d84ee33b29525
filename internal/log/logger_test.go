package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewStampsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Component: "worker",
		Handler:   slog.NewTextHandler(&buf, nil),
	})

	logger.Info("started")

	line := buf.String()
	if !strings.Contains(line, "component=worker") {
		t.Errorf("log line missing component field: %s", line)
	}
	if !strings.Contains(line, "msg=started") {
		t.Errorf("log line missing message: %s", line)
	}
}

func TestDefaultConfigLevel(t *testing.T) {
	cases := []struct {
		env  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}
	for _, tc := range cases {
		t.Setenv("LOG_LEVEL", tc.env)
		if got := DefaultConfig("x").Level; got != tc.want {
			t.Errorf("LOG_LEVEL=%q level = %v, want %v", tc.env, got, tc.want)
		}
	}
}
