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

package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Custom severities. slog's built-in levels don't have a TRACE below DEBUG
// or an OFF above ERROR, and the supervisor's log config speaks in terms of
// both.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

const timeLayout = "2006/01/02 15:04:05.000000"

func severityForLevel(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarn:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// handler is a minimal slog.Handler producing either
//
//	time="2006/01/02 15:04:05.000000" severity=INFO message="..."
//
// or
//
//	{"timestamp":{"seconds":...,"nanos":...},"severity":"INFO","message":"..."}
//
// the two record shapes the supervisor's diagnostic log has always used.
type handler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  *slog.LevelVar
	prefix string
	format string
	attrs  []slog.Attr
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	severity := severityForLevel(r.Level)
	message := h.prefix + r.Message

	var extra string
	for _, a := range h.attrs {
		extra += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		extra += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})

	var err error
	if h.format == "json" {
		_, err = fmt.Fprintf(h.w, "{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q}%s\n",
			r.Time.Unix(), r.Time.Nanosecond(), severity, message, extra)
	} else {
		_, err = fmt.Fprintf(h.w, "time=%q severity=%s message=%q%s\n", r.Time.Format(timeLayout), severity, message, extra)
	}
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &handler{mu: h.mu, w: h.w, level: h.level, prefix: h.prefix, format: h.format, attrs: merged}
}

func (h *handler) WithGroup(_ string) slog.Handler {
	return h
}
