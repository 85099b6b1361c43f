// Package klog configures the structured logger every kernel component
// writes its events to.
package klog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// InitLogger logs to stdout and, when logPath is set, to that file as well.
// The logger becomes the slog default. An unknown level falls back to INFO
// with a warning.
func InitLogger(logPath, logLevel string) (*slog.Logger, error) {
	var w io.Writer = os.Stdout
	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stdout, logFile)
	}
	log := New(w, logLevel)
	slog.SetDefault(log)
	return log, nil
}

// New returns a text logger writing to w at logLevel.
func New(w io.Writer, logLevel string) *slog.Logger {
	level, err := ParseLevel(logLevel)
	log := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	if err != nil {
		log.Warn(err.Error())
	}
	return log
}

// ParseLevel converts a configured level name to a slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch levelStr {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q, using INFO", levelStr)
	}
}
