package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/signalsfoundry/missionctl/model"
)

// FileWriter appends events to a JSON-lines file.
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileWriter opens (or creates) the file in append mode.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	return &FileWriter{file: f, enc: json.NewEncoder(f)}, nil
}

// Write appends one event as a JSON line.
func (w *FileWriter) Write(ctx context.Context, ev model.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(ev)
}

// Close flushes and closes the file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// MultiWriter fans an event out to several sinks; the first error wins
// but all sinks are attempted.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter wraps the given sinks. Nil entries are skipped.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	out := make([]Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			out = append(out, w)
		}
	}
	return &MultiWriter{writers: out}
}

// Write delivers to every sink.
func (m *MultiWriter) Write(ctx context.Context, ev model.Event) error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Write(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every sink.
func (m *MultiWriter) Close() error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NoopWriter drops events.
type NoopWriter struct{}

func (NoopWriter) Write(context.Context, model.Event) error { return nil }
func (NoopWriter) Close() error                             { return nil }
