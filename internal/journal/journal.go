// Package journal records the outcome of every delivery attempt against the
// remote CRM, so operators can audit and replay failed envelopes.
package journal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

type Entry struct {
	EnvelopeID string    `json:"envelopeId"`
	Kind       string    `json:"kind"`
	Email      string    `json:"email"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

type Journal interface {
	Record(ctx context.Context, entry Entry) error
	Close() error
}

// BuildFromDSN selects a journal backend: "memory://" for an in-process
// journal, "postgres://" or "postgresql://" for the durable one.
func BuildFromDSN(dsn string) (Journal, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == "memory://":
		return NewMemoryJournal(), nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresJournal(dsn)
	default:
		return nil, fmt.Errorf("unsupported journal DSN: %s", dsn)
	}
}

type MemoryJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Record(ctx context.Context, entry Entry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

// Entries returns a snapshot of everything recorded so far.
func (j *MemoryJournal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

func (j *MemoryJournal) Close() error {
	return nil
}
