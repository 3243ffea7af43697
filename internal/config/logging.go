package config

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logging builds component loggers that share one output.
type Logging struct {
	out  io.Writer
	file *lumberjack.Logger
}

// NewLogging writes to stderr, tee'd to a rotating file when cfg.File is set.
func NewLogging(cfg LogConfig) *Logging {
	if cfg.File == "" {
		return &Logging{out: os.Stderr}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return &Logging{
		out:  io.MultiWriter(os.Stderr, file),
		file: file,
	}
}

// Logger returns a logger with a bracketed component prefix, e.g. "[daemon] ".
func (l *Logging) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Close flushes and closes the log file, if any.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
