package logging

import (
	"io"
	"os"

	"github.com/phuslu/log"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
	"nuha.dev/textgps/internal/config"
)

// Writer is the destination every component logs to. When a file is
// configured, output goes there through a rotating writer.
func Writer(c *config.LogConfig) io.Writer {
	if c.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxAge:     c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}

// Setup configures log.DefaultLogger, which component loggers copy.
func Setup(c *config.LogConfig, w io.Writer) {
	log.DefaultLogger = NewLogger(c, w)
}

func NewLogger(c *config.LogConfig, w io.Writer) log.Logger {
	logger := log.Logger{
		Level:      log.ParseLevel(c.Level),
		TimeFormat: "2006-01-02T15:04:05.999Z07:00",
	}
	if c.Format == "console" && c.File == "" {
		logger.Writer = &log.ConsoleWriter{Writer: w, ColorOutput: true, EndWithMessage: true}
	} else {
		logger.Writer = &log.IOWriter{Writer: w}
	}
	return logger
}

// Zerolog returns a zerolog logger on the same writer, for libraries that log
// through zerolog.
func Zerolog(c *config.LogConfig, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
