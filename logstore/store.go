// Package logstore keeps a bounded, append-only history of events emitted
// by the editor peer and answers filtered queries from the calling client.
// The peer never reads from it.
package logstore

import (
	"strings"
	"time"

	"github.com/c360/editorbridge/errors"
	"github.com/c360/editorbridge/metric"
	"github.com/c360/editorbridge/pkg/buffer"
)

// Level represents the severity of a log entry.
type Level string

const (
	// LevelDebug represents debug-level entries
	LevelDebug Level = "debug"
	// LevelInfo represents informational entries
	LevelInfo Level = "info"
	// LevelWarn represents warning entries
	LevelWarn Level = "warn"
	// LevelError represents error entries
	LevelError Level = "error"
)

// Entry is one peer-emitted event. Immutable once stored.
type Entry struct {
	Message   string    `json:"message"`
	Stack     string    `json:"stack,omitempty"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultQueryCount limits query results when the filter leaves Count
// unset.
const DefaultQueryCount = 100

// Filter selects entries for a query. All supplied predicates are combined
// as a conjunction; an empty filter matches everything.
type Filter struct {
	Levels          []Level   `json:"levels,omitempty"`
	Count           int       `json:"count,omitempty"`
	Fields          []string  `json:"fields,omitempty"`
	MessageContains string    `json:"message_contains,omitempty"`
	StackContains   string    `json:"stack_contains,omitempty"`
	After           time.Time `json:"after,omitempty"`
	Before          time.Time `json:"before,omitempty"`
}

// Store is a bounded FIFO of entries; insertion order is arrival order and
// the oldest entry is evicted on overflow, never the newest.
type Store struct {
	entries buffer.Buffer[Entry]
}

// New creates a store with the given capacity. A registry of nil disables
// metrics export.
func New(capacity int, registry *metric.MetricsRegistry) (*Store, error) {
	opts := []buffer.Option[Entry]{
		buffer.WithOverflowPolicy[Entry](buffer.DropOldest),
	}
	if registry != nil {
		opts = append(opts, buffer.WithMetrics[Entry](registry, "logstore"))
	}

	entries, err := buffer.NewRingBuffer(capacity, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "logstore", "New", "create ring buffer")
	}
	return &Store{entries: entries}, nil
}

// Append stores an entry, stamping arrival time when the peer supplied
// none.
func (s *Store) Append(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	// Ring buffer handles eviction; Write only fails after Close, when
	// dropping the entry is the correct behavior anyway.
	_ = s.entries.Write(entry)
}

// Size returns the number of stored entries.
func (s *Store) Size() int {
	return s.entries.Size()
}

// Capacity returns the maximum number of stored entries.
func (s *Store) Capacity() int {
	return s.entries.Capacity()
}

// Query applies the filter's predicates as a conjunction over all stored
// entries, then keeps only the last Count matches in arrival order.
func (s *Store) Query(f Filter) []Entry {
	count := f.Count
	if count <= 0 {
		count = DefaultQueryCount
	}

	var matches []Entry
	for _, entry := range s.entries.Snapshot() {
		if f.matches(entry) {
			matches = append(matches, entry)
		}
	}

	if len(matches) > count {
		matches = matches[len(matches)-count:]
	}
	return matches
}

// matches reports whether an entry passes every supplied predicate.
func (f Filter) matches(e Entry) bool {
	if len(f.Levels) > 0 {
		found := false
		for _, lvl := range f.Levels {
			if e.Level == lvl {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains) {
		return false
	}
	if f.StackContains != "" && !strings.Contains(e.Stack, f.StackContains) {
		return false
	}
	if !f.After.IsZero() && !e.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !e.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

// Project reduces entries to only the named fields. Unknown field names
// are ignored. With no fields, every field is kept.
func Project(entries []Entry, fields []string) []map[string]any {
	results := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		full := map[string]any{
			"message":   e.Message,
			"stack":     e.Stack,
			"level":     e.Level,
			"timestamp": e.Timestamp,
		}
		if len(fields) == 0 {
			results = append(results, full)
			continue
		}
		projected := make(map[string]any, len(fields))
		for _, field := range fields {
			if v, ok := full[field]; ok {
				projected[field] = v
			}
		}
		results = append(results, projected)
	}
	return results
}

// Close releases the underlying buffer.
func (s *Store) Close() error {
	return s.entries.Close()
}
