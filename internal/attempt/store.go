package attempt

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Store interface {
	// Create inserts a new in-progress attempt. It fails with
	// ErrAttemptAlreadyInProgress when the user already has one for the bank.
	Create(ctx context.Context, a Attempt) error
	Get(ctx context.Context, tenantID, id string) (Attempt, error)
	// Save replaces the stored attempt only while its stored status is still
	// from. A concurrent close that got there first yields ErrAttemptNotActive.
	Save(ctx context.Context, a Attempt, from Status) error
	FindActive(ctx context.Context, tenantID, userID, bankID string) (Attempt, error)
	// ListExpired returns in-progress attempts whose deadline is at or before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Attempt, error)
}

type memoryStore struct {
	mu    sync.RWMutex
	items map[string]Attempt // id -> attempt
}

func NewInMemoryStore() Store {
	return &memoryStore{items: map[string]Attempt{}}
}

func (m *memoryStore) Create(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.items {
		if cur.Status == StatusInProgress && cur.TenantID == a.TenantID && cur.UserID == a.UserID && cur.BankID == a.BankID {
			return ErrAttemptAlreadyInProgress
		}
	}
	m.items[a.ID] = a.Clone()
	return nil
}

func (m *memoryStore) Get(_ context.Context, tenantID, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.items[id]
	if !ok || a.TenantID != tenantID {
		return Attempt{}, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *memoryStore) Save(_ context.Context, a Attempt, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[a.ID]
	if !ok || cur.TenantID != a.TenantID {
		return ErrNotFound
	}
	if cur.Status != from {
		return ErrAttemptNotActive
	}
	m.items[a.ID] = a.Clone()
	return nil
}

func (m *memoryStore) FindActive(_ context.Context, tenantID, userID, bankID string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.items {
		if a.Status == StatusInProgress && a.TenantID == tenantID && a.UserID == userID && a.BankID == bankID {
			return a.Clone(), nil
		}
	}
	return Attempt{}, ErrNotFound
}

func (m *memoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]Attempt, error) {
	m.mu.RLock()
	var out []Attempt
	for _, a := range m.items {
		if a.Expired(now) {
			out = append(out, a.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(*out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
