// Package logbuf implements the append-only capture sinks for virtualized
// stdout/stderr: writes append, reads drain only what was written since
// the last drain. It adapts the ring-buffer-free append sinks of the
// async log writer elsewhere in this codebase, simplified here to plain
// in-memory capture since there is no rotation concern for guest output.
package logbuf

import "sync"

// Buffer is a thread-safe append/drain sink.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

func New() *Buffer {
	return &Buffer{}
}

// Write appends bytes and always succeeds: the guest never observes a
// log-buffer write failing.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}

// Read drains and returns everything written since the previous Read.
func (b *Buffer) Read() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.data
	b.data = nil
	return out
}
