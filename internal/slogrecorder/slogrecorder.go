// Package slogrecorder provides a test helper that captures slog records
// for assertions on what was logged.
package slogrecorder

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Record holds a captured slog record.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// Handler is a [slog.Handler] that captures every record at every level.
type Handler struct {
	mu   sync.Mutex
	recs []Record
}

func (h *Handler) Enabled(context.Context, slog.Level) bool { return true }
func (h *Handler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *Handler) WithGroup(string) slog.Handler            { return h }

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	rec := Record{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]string),
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[a.Key] = a.Value.String()
		return true
	})
	h.mu.Lock()
	h.recs = append(h.recs, rec)
	h.mu.Unlock()
	return nil
}

// Records returns a snapshot of all captured records.
func (h *Handler) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.recs)
}

// Find returns the first captured record with the given message, or nil.
func (h *Handler) Find(message string) *Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.recs {
		if h.recs[i].Message == message {
			rec := h.recs[i]
			return &rec
		}
	}
	return nil
}

// Count returns how many captured records carry the given message.
func (h *Handler) Count(message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for i := range h.recs {
		if h.recs[i].Message == message {
			n++
		}
	}
	return n
}

// Logger returns a new [slog.Logger] that writes to this handler.
func (h *Handler) Logger() *slog.Logger {
	return slog.New(h)
}
