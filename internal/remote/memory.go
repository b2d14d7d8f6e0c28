package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("remote: injected failure")

// RequestLogEntry records one call made to an InMemoryBackend.
type RequestLogEntry struct {
	Kind       string // "fetch" or "write"
	Collection string
	Op         Op
}

// InMemoryBackend is a map-backed Backend for unit tests.
// It assigns uuid identifiers on insert and can fail on demand.
type InMemoryBackend struct {
	mu         sync.Mutex
	tables     map[string][]Row
	RequestLog []RequestLogEntry

	failWrites  int
	failFetches int
	failErr     error
	failOnly    map[string]int // per-collection write failures
}

// NewInMemoryBackend creates an empty backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		tables:     make(map[string][]Row),
		RequestLog: make([]RequestLogEntry, 0),
	}
}

// Seed adds rows to a collection. Rows without an id get one.
func (b *InMemoryBackend) Seed(collection string, rows ...Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		row = copyRow(row)
		if row.ID() == "" {
			row["id"] = uuid.NewString()
		}
		b.tables[collection] = append(b.tables[collection], row)
	}
}

// Rows returns a copy of every row in a collection.
func (b *InMemoryBackend) Rows(collection string) []Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	return selectRows(b.tables[collection], Query{})
}

// FailWrites makes the next n Write calls fail with err (ErrInjected if nil).
func (b *InMemoryBackend) FailWrites(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWrites = n
	b.failErr = err
}

// FailWritesTo makes the next n Write calls against collection fail with
// ErrInjected. Writes to other collections are unaffected.
func (b *InMemoryBackend) FailWritesTo(collection string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOnly == nil {
		b.failOnly = make(map[string]int)
	}
	b.failOnly[collection] = n
}

// FailFetches makes the next n Fetch calls fail with err (ErrInjected if nil).
func (b *InMemoryBackend) FailFetches(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failFetches = n
	b.failErr = err
}

// WritesMade returns the number of Write calls against collection.
func (b *InMemoryBackend) WritesMade(collection string) int {
	return b.count("write", collection)
}

// FetchesMade returns the number of Fetch calls against collection.
func (b *InMemoryBackend) FetchesMade(collection string) int {
	return b.count("fetch", collection)
}

func (b *InMemoryBackend) count(kind, collection string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.RequestLog {
		if e.Kind == kind && e.Collection == collection {
			n++
		}
	}
	return n
}

// Reset clears all rows, recorded requests and pending failures.
func (b *InMemoryBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables = make(map[string][]Row)
	b.RequestLog = make([]RequestLogEntry, 0)
	b.failWrites, b.failFetches, b.failErr = 0, 0, nil
	b.failOnly = nil
}

func (b *InMemoryBackend) injected() error {
	if b.failErr != nil {
		return b.failErr
	}
	return ErrInjected
}

// Fetch implements Backend.
func (b *InMemoryBackend) Fetch(ctx context.Context, q Query) ([]Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.RequestLog = append(b.RequestLog, RequestLogEntry{Kind: "fetch", Collection: q.Collection})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.failFetches > 0 {
		b.failFetches--
		return nil, b.injected()
	}
	return selectRows(b.tables[q.Collection], q), nil
}

// Write implements Backend.
func (b *InMemoryBackend) Write(ctx context.Context, m Mutation) (Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.RequestLog = append(b.RequestLog, RequestLogEntry{Kind: "write", Collection: m.Collection, Op: m.Op})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.failWrites > 0 {
		b.failWrites--
		return nil, b.injected()
	}
	if b.failOnly[m.Collection] > 0 {
		b.failOnly[m.Collection]--
		return nil, ErrInjected
	}

	rows := b.tables[m.Collection]
	switch m.Op {
	case OpInsert:
		row := copyRow(m.Payload)
		if row.ID() == "" {
			row["id"] = uuid.NewString()
		}
		b.tables[m.Collection] = append(rows, row)
		return copyRow(row), nil

	case OpUpdate:
		var first Row
		for i, row := range rows {
			if matchesAll(row, m.Match) {
				rows[i] = merge(row, m.Payload)
				if first == nil {
					first = copyRow(rows[i])
				}
			}
		}
		if first == nil {
			return nil, ErrNotFound
		}
		return first, nil

	case OpUpsert:
		match := conflictFilters(m)
		for i, row := range rows {
			if matchesAll(row, match) {
				rows[i] = merge(row, m.Payload)
				return copyRow(rows[i]), nil
			}
		}
		row := copyRow(m.Payload)
		if row.ID() == "" {
			row["id"] = uuid.NewString()
		}
		b.tables[m.Collection] = append(rows, row)
		return copyRow(row), nil

	case OpDelete:
		var removed Row
		kept := rows[:0]
		for _, row := range rows {
			if matchesAll(row, m.Match) {
				if removed == nil {
					removed = row
				}
				continue
			}
			kept = append(kept, row)
		}
		if removed == nil {
			return nil, ErrNotFound
		}
		b.tables[m.Collection] = kept
		return removed, nil
	}
	return nil, fmt.Errorf("remote: unsupported operation %q", m.Op)
}
