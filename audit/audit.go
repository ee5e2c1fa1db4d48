// Package audit records one append-only JSONL entry per exchange the
// bridge handles (the runtime writes one when a job completes) for
// after-the-fact review. It never gates or alters bridge behavior: Write
// returns a failed sync to its caller, and the runtime discards that error.
package audit

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Record is one audited exchange.
type Record struct {
	Kind      string
	ChatID    int64
	ThreadID  string
	MessageID int
	Engine    string
	Project   string
	Text      string
	Meta      map[string]any
	Timestamp time.Time
}

// Logger appends Records as newline-delimited JSON to a single file.
// Writes are mutex-serialized so concurrent scheduler workers never
// interleave partial lines, and fsync'd so a crash can't lose a record
// the caller believes is durable.
type Logger struct {
	mu         sync.Mutex
	file       *os.File
	zl         zerolog.Logger
	maxTextLen int
}

// Open appends to (creating if absent) the JSONL file at path. maxTextLen
// bounds each record's Text field; 0 disables truncation.
func Open(path string, maxTextLen int) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{
		file:       f,
		zl:         zerolog.New(f),
		maxTextLen: maxTextLen,
	}, nil
}

// Write appends rec, truncating and redacting its Text field first. A
// zero Timestamp is filled in with the current time.
func (l *Logger) Write(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	text := Redact(truncate(rec.Text, l.maxTextLen))

	l.mu.Lock()
	defer l.mu.Unlock()

	event := l.zl.Log().
		Str("kind", rec.Kind).
		Int64("chat_id", rec.ChatID).
		Time("ts", rec.Timestamp)
	if rec.ThreadID != "" {
		event = event.Str("thread_id", rec.ThreadID)
	}
	if rec.MessageID != 0 {
		event = event.Int("message_id", rec.MessageID)
	}
	if rec.Engine != "" {
		event = event.Str("engine", rec.Engine)
	}
	if rec.Project != "" {
		event = event.Str("project", rec.Project)
	}
	if text != "" {
		event = event.Str("text", text)
	}
	if len(rec.Meta) > 0 {
		event = event.Interface("meta", rec.Meta)
	}
	event.Send()

	return l.file.Sync()
}

// Close releases the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func truncate(text string, maxLen int) string {
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "…"
}
