package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process Store implementation. It serializes all
// commits behind one mutex, which gives the per-record exclusive-mutation
// semantics the engine assumes. Used by the memory backend and throughout
// the test suite; the clock is injectable so deadline rules are testable.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	balances map[Account]uint64
	now      func() time.Time
}

// NewMemoryStore creates an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]Record),
		balances: make(map[Account]uint64),
		now:      time.Now,
	}
}

// SetClock replaces the store's time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now()
}

func (m *MemoryStore) Create(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; ok {
		return fmt.Errorf("create %q: %w", key, ErrAlreadyExists)
	}
	m.records[key] = Record{Key: key, Version: 1, Data: cloneBytes(data)}
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return Record{}, fmt.Errorf("read %q: %w", key, ErrNotFound)
	}
	rec.Data = cloneBytes(rec.Data)
	return rec, nil
}

func (m *MemoryStore) Scan(ctx context.Context, prefix string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for key, rec := range m.records {
		if strings.HasPrefix(key, prefix) {
			rec.Data = cloneBytes(rec.Data)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Commit validates the full Txn against current state before touching
// anything, so a failure at any stage leaves the store unchanged.
func (m *MemoryStore) Commit(ctx context.Context, txn Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range txn.Creates {
		if _, ok := m.records[c.Key]; ok {
			return fmt.Errorf("commit create %q: %w", c.Key, ErrAlreadyExists)
		}
	}

	for _, u := range txn.Updates {
		rec, ok := m.records[u.Key]
		if !ok {
			return fmt.Errorf("commit update %q: %w", u.Key, ErrNotFound)
		}
		if rec.Version != u.ExpectedVersion {
			return fmt.Errorf("commit update %q: have v%d, want v%d: %w",
				u.Key, rec.Version, u.ExpectedVersion, ErrConflict)
		}
	}

	// Stage transfers against a scratch balance view so a mid-list failure
	// cannot leave half the movements applied.
	staged := make(map[Account]uint64)
	balance := func(a Account) uint64 {
		if v, ok := staged[a]; ok {
			return v
		}
		return m.balances[a]
	}
	for _, tr := range txn.Transfers {
		from := balance(tr.From)
		if from < tr.Amount {
			return fmt.Errorf("commit transfer %s -> %s amount=%d balance=%d: %w",
				tr.From.Path(), tr.To.Path(), tr.Amount, from, ErrInsufficientFunds)
		}
		staged[tr.From] = from - tr.Amount
		staged[tr.To] = balance(tr.To) + tr.Amount
	}

	// All checks passed; apply.
	for _, c := range txn.Creates {
		m.records[c.Key] = Record{Key: c.Key, Version: 1, Data: cloneBytes(c.Data)}
	}
	for _, u := range txn.Updates {
		m.records[u.Key] = Record{Key: u.Key, Version: u.ExpectedVersion + 1, Data: cloneBytes(u.Data)}
	}
	for acct, bal := range staged {
		m.balances[acct] = bal
	}
	return nil
}

func (m *MemoryStore) Balance(ctx context.Context, acct Account) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[acct], nil
}

func (m *MemoryStore) Credit(ctx context.Context, acct Account, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[acct] += amount
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
