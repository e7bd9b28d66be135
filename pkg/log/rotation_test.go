// Log rotation tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRotatingWriter(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "crane.log")

	writer, err := NewRotatingWriter(RotationConfig{Filename: logFile, MaxSize: 1})
	if err != nil {
		t.Fatalf("failed to create rotating writer: %v", err)
	}
	defer writer.Close()

	msg := "test log message\n"
	n, err := writer.Write([]byte(msg))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != len(msg) {
		t.Errorf("expected %d bytes written, got %d", len(msg), n)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if string(data) != msg {
		t.Errorf("unexpected file content %q", data)
	}
}

func TestNewRotatingWriterRequiresFilename(t *testing.T) {
	if _, err := NewRotatingWriter(RotationConfig{}); err == nil {
		t.Error("expected error for empty filename")
	}
}

func TestToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "crane.log")
	logger := New("file")
	logger.SetLevel(DEBUG)

	closer, err := ToFile(logger, RotationConfig{Filename: logFile}, false)
	if err != nil {
		t.Fatalf("ToFile failed: %v", err)
	}
	logger.Info("written to disk")
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to disk") {
		t.Errorf("expected message in file, got %q", data)
	}
	if strings.Contains(string(data), "\x1b[") {
		t.Error("expected no ANSI colors in file output")
	}
}
