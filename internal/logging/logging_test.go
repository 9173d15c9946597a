package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phuslu/log"
	"gopkg.in/natefinch/lumberjack.v2"
	"nuha.dev/textgps/internal/config"
)

func TestJsonLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Str("event", "test").Msg("shown")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatal(err)
	}
	if m["event"] != "test" || m["message"] != "shown" || m["level"] != "warn" {
		t.Errorf("entry %v", m)
	}
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&config.LogConfig{Level: "debug", Format: "console"}, &buf)
	if _, ok := logger.Writer.(*log.ConsoleWriter); !ok {
		t.Fatalf("writer %T", logger.Writer)
	}
	logger.Debug().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("output %q", buf.String())
	}
}

func TestFileWriter(t *testing.T) {
	c := &config.LogConfig{File: filepath.Join(t.TempDir(), "gps.log"), MaxSizeMB: 1}
	w, ok := Writer(c).(*lumberjack.Logger)
	if !ok || w.Filename != c.File || w.MaxSize != 1 {
		t.Fatalf("writer %+v", w)
	}
	defer w.Close()
	logger := NewLogger(c, w)
	if _, ok := logger.Writer.(*log.IOWriter); !ok {
		t.Errorf("file output must not be colored, got %T", logger.Writer)
	}
}

func TestZerolog(t *testing.T) {
	var buf bytes.Buffer
	z := Zerolog(&config.LogConfig{Level: "error"}, &buf)
	z.Info().Msg("hidden")
	z.Error().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("output %q", buf.String())
	}
}
