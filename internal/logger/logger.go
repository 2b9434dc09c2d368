// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger is the supervisor's diagnostic logger: a small wrapper
// around log/slog that gives every record one of a fixed set of
// severities and either a text or a JSON shape.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/tnachen/bVisor-sub000/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

const asyncBufferSize = 1024

// LogRotateConfig mirrors the subset of cfg.LogConfig the rotating file
// writer cares about, recorded on the factory for introspection in tests.
type LogRotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

type loggerFactory struct {
	mu sync.Mutex

	// file is open only so InitLogFile can report the resolved log path;
	// actual writes go through asyncLogger, which wraps a lumberjack.Logger
	// managing its own file handle and rotation.
	file        *os.File
	asyncLogger *AsyncLogger
	sysWriter   io.Writer

	format          string
	level           cfg.LogSeverity
	logRotateConfig LogRotateConfig
	programLevel    *slog.LevelVar
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	return &handler{
		mu:     &f.mu,
		w:      w,
		level:  programLevel,
		prefix: prefix,
		format: f.format,
	}
}

var defaultLoggerFactory = &loggerFactory{
	sysWriter: os.Stderr,
	format:    string(cfg.LogFormatJSON),
	level:     cfg.LogSeverityInfo,
}

var defaultLogger *slog.Logger

func init() {
	programLevel := new(slog.LevelVar)
	setLoggingLevel(string(defaultLoggerFactory.level), programLevel)
	defaultLoggerFactory.programLevel = programLevel
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel, ""))
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch cfg.LogSeverity(strings.ToUpper(level)) {
	case cfg.LogSeverityTrace:
		programLevel.Set(LevelTrace)
	case cfg.LogSeverityDebug:
		programLevel.Set(LevelDebug)
	case cfg.LogSeverityWarn:
		programLevel.Set(LevelWarn)
	case cfg.LogSeverityError:
		programLevel.Set(LevelError)
	case cfg.LogSeverityOff:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// SetLogFormat switches the default logger between "text" and "json"
// output. An empty format falls back to json.
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	if format == "" {
		format = string(cfg.LogFormatJSON)
	}
	defaultLoggerFactory.format = format
	programLevel := defaultLoggerFactory.programLevel
	var w io.Writer = os.Stderr
	if defaultLoggerFactory.asyncLogger != nil {
		w = defaultLoggerFactory.asyncLogger
	} else if defaultLoggerFactory.sysWriter != nil {
		w = defaultLoggerFactory.sysWriter
	}
	defaultLoggerFactory.mu.Unlock()

	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
}

// InitLogFile redirects the default logger to a rotating file per c, or
// back to stderr when c.Path is empty.
func InitLogFile(c cfg.LogConfig) error {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	format := string(c.Format)
	if format == "" {
		format = string(cfg.LogFormatJSON)
	}

	programLevel := new(slog.LevelVar)
	setLoggingLevel(string(c.Severity), programLevel)

	if c.Path == "" {
		defaultLoggerFactory.file = nil
		defaultLoggerFactory.asyncLogger = nil
		defaultLoggerFactory.sysWriter = os.Stderr
		defaultLoggerFactory.format = format
		defaultLoggerFactory.level = c.Severity
		defaultLoggerFactory.programLevel = programLevel
		defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel, ""))
		return nil
	}

	f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file %q: %w", c.Path, err)
	}

	lj := &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.BackupFileCount,
		Compress:   c.Compress,
	}
	async := NewAsyncLogger(lj, asyncBufferSize)

	defaultLoggerFactory.file = f
	defaultLoggerFactory.asyncLogger = async
	defaultLoggerFactory.sysWriter = nil
	defaultLoggerFactory.format = format
	defaultLoggerFactory.level = c.Severity
	defaultLoggerFactory.logRotateConfig = LogRotateConfig{
		MaxFileSizeMB:   c.MaxSizeMB,
		BackupFileCount: c.BackupFileCount,
		Compress:        c.Compress,
	}
	defaultLoggerFactory.programLevel = programLevel
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(async, programLevel, ""))
	return nil
}

// Default returns the current default logger, for components (like the
// supervisor) that want a *slog.Logger rather than the package-level
// Tracef/Debugf/... helpers.
func Default() *slog.Logger {
	return defaultLogger
}

func logf(level slog.Level, format string, v ...interface{}) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...interface{}) { logf(LevelTrace, format, v...) }
func Debugf(format string, v ...interface{}) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { logf(LevelError, format, v...) }
