// Log file rotation for the crane host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the log file.
	Filename string

	// MaxSize is the maximum size in megabytes before rotation. Default 10.
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain. Default 5.
	MaxBackups int

	// MaxAge is the number of days to keep rotated files. Zero keeps them forever.
	MaxAge int

	// Compress gzips rotated files.
	Compress bool
}

// NewRotatingWriter returns a writer that rotates the log file by size.
func NewRotatingWriter(cfg RotationConfig) (io.WriteCloser, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}, nil
}

// ToFile points the logger's output at a rotating file, keeping stderr
// when tee is set. Colors are disabled for file output.
func ToFile(l *Logger, cfg RotationConfig, tee bool) (io.Closer, error) {
	w, err := NewRotatingWriter(cfg)
	if err != nil {
		return nil, err
	}
	l.SetColorize(false)
	if tee {
		l.SetWriter(io.MultiWriter(os.Stderr, w))
	} else {
		l.SetWriter(w)
	}
	return w, nil
}
