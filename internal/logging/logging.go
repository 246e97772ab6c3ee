// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

type Config interface {
	GetEnv() string
	GetLogFile() string
}

// Setup points the global logger at stderr, human readable in DEV and JSON
// elsewhere. When a log file is configured, output is also written there with
// size based rotation. The returned closer releases the file.
func Setup(cfg Config) io.Closer {
	return SetupWriter(cfg, os.Stderr)
}

func SetupWriter(cfg Config, out io.Writer) io.Closer {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	dev := strings.EqualFold(cfg.GetEnv(), "DEV")
	var console io.Writer = out
	if dev {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var closer io.Closer = nopCloser{}
	writer := console
	if path := cfg.GetLogFile(); path != "" {
		file := NewFileWriter(path)
		closer = file
		writer = zerolog.MultiLevelWriter(console, file)
	}

	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	return closer
}

// NewFileWriter returns a rotating log file writer.
func NewFileWriter(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAge:     DefaultMaxAgeDays,
		Compress:   true,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
