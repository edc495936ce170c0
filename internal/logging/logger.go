package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the root logger construction.
type Options struct {
	Level   string
	File    string
	Service string
}

// New builds the process-wide zerolog logger. When a file path is configured
// log lines are also written to a size-rotated file.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if opts.File != "" {
		out = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	logger := zerolog.New(out).Level(level).With().Timestamp()
	if opts.Service != "" {
		logger = logger.Str("service", opts.Service)
	}

	return logger.Logger()
}
