// Package storage defines the keyed record store capability the query layer runs on,
// plus an in-memory implementation. Durable backends live in storage/sqlite and
// storage/postgres.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Store is the read capability the query layer consumes.
//
// FetchAll returns every record of a store in primary-key order. FetchByKey
// returns (nil, nil) when no record has the key. Returned records must carry
// KeyField and belong to the caller: mutating them never changes the store.
type Store interface {
	FetchAll(ctx context.Context, store string) ([]Record, error)
	FetchByKey(ctx context.Context, store string, id int64) (Record, error)
}

// Writer inserts records, assigning auto-increment primary keys.
type Writer interface {
	Insert(ctx context.Context, store string, rec Record) (int64, error)
}

// ReadWriter combines Store and Writer.
type ReadWriter interface {
	Store
	Writer
}

var storeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateStoreName rejects names that cannot be used as backend table names.
func ValidateStoreName(name string) error {
	if !storeNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidStoreName, name)
	}
	return nil
}

// Memory is a mutex-guarded in-memory keyed store.
type Memory struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

type memoryStore struct {
	nextID  int64
	records map[int64]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{stores: make(map[string]*memoryStore)}
}

// Insert stores a copy of rec under the next key of store.
func (m *Memory) Insert(ctx context.Context, store string, rec Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := ValidateStoreName(store); err != nil {
		return 0, err
	}
	if _, ok := rec[KeyField]; ok {
		return 0, ErrKeyAssigned
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stores[store]
	if !ok {
		s = &memoryStore{records: make(map[int64]Record)}
		m.stores[store] = s
	}
	s.nextID++
	cp := rec.Clone()
	if cp == nil {
		cp = Record{}
	}
	cp[KeyField] = s.nextID
	s.records[s.nextID] = cp
	return s.nextID, nil
}

// FetchAll returns copies of every record of store in key order.
func (m *Memory) FetchAll(ctx context.Context, store string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateStoreName(store); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stores[store]
	if !ok {
		return []Record{}, nil
	}
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

// FetchByKey returns a copy of the record with id, or nil when absent.
func (m *Memory) FetchByKey(ctx context.Context, store string, id int64) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateStoreName(store); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stores[store]
	if !ok {
		return nil, nil
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}
