package rpcrelay

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

const DefaultLogBufferSize = 1000

// LogEntry is one captured log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Caller    string    `json:"caller,omitempty"`
}

// LogBuffer keeps the most recent entries, dropping the oldest once full.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogBufferSize
	}
	return &LogBuffer{entries: make([]LogEntry, capacity)}
}

func (b *LogBuffer) Append(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Entries returns the buffered entries oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]LogEntry, b.next)
		copy(out, b.entries[:b.next])
		return out
	}
	out := make([]LogEntry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	return append(out, b.entries[:b.next]...)
}

// LogSinks are the diagnostic buffers served under /logs.
type LogSinks struct {
	Info  *LogBuffer
	Debug *LogBuffer
}

func NewLogSinks(capacity int) *LogSinks {
	return &LogSinks{Info: NewLogBuffer(capacity), Debug: NewLogBuffer(capacity)}
}

// Hook is meant for zap.Hooks. Debug entries go to the debug buffer, all
// others to the info buffer.
func (s *LogSinks) Hook(entry zapcore.Entry) error {
	e := LogEntry{
		Timestamp: entry.Time.UTC(),
		Level:     entry.Level.CapitalString(),
		Message:   entry.Message,
	}
	if entry.Caller.Defined {
		e.Caller = entry.Caller.TrimmedPath()
	}
	if entry.Level <= zapcore.DebugLevel {
		s.Debug.Append(e)
		return nil
	}
	s.Info.Append(e)
	return nil
}
