package store

import (
	"context"
	"sync"
	"time"
)

// Store keeps the short-lived bookkeeping shared by both ends of the bridge:
// replies to already handled requests, final request statuses and the owner
// of every allocated menu action event.
type Store interface {
	Processed(ctx context.Context, msgID string) (string, bool, error)
	MarkProcessed(ctx context.Context, msgID, reply string, ttl time.Duration) error
	SetAckStatus(ctx context.Context, msgID, status string, ttl time.Duration) error
	AckStatus(ctx context.Context, msgID string) (string, error)
	SetGroupOwner(ctx context.Context, eventType, appID string) error
	GetGroupOwner(ctx context.Context, eventType string) (string, error)
	DeleteGroupOwner(ctx context.Context, eventType string) error
}

type entry struct {
	value    string
	expireAt time.Time
}

func (e entry) live(now time.Time) bool {
	return now.Before(e.expireAt)
}

type MemoryStore struct {
	mu        sync.RWMutex
	groups    map[string]string
	processed map[string]entry
	acks      map[string]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:    make(map[string]string),
		processed: make(map[string]entry),
		acks:      make(map[string]entry),
	}
}

func (m *MemoryStore) Processed(_ context.Context, msgID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.processed[msgID]
	if !ok || !e.live(time.Now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, msgID, reply string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.processed[msgID] = entry{value: reply, expireAt: now.Add(ttl)}
	m.sweep(m.processed, now)
	return nil
}

func (m *MemoryStore) SetAckStatus(_ context.Context, msgID, status string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.acks[msgID] = entry{value: status, expireAt: now.Add(ttl)}
	m.sweep(m.acks, now)
	return nil
}

func (m *MemoryStore) AckStatus(_ context.Context, msgID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.acks[msgID]
	if !ok || !e.live(time.Now()) {
		return "", nil
	}
	return e.value, nil
}

func (m *MemoryStore) SetGroupOwner(_ context.Context, eventType, appID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[eventType] = appID
	return nil
}

func (m *MemoryStore) GetGroupOwner(_ context.Context, eventType string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groups[eventType], nil
}

func (m *MemoryStore) DeleteGroupOwner(_ context.Context, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, eventType)
	return nil
}

// sweep drops expired entries once the table has grown; callers hold mu.
func (m *MemoryStore) sweep(table map[string]entry, now time.Time) {
	if len(table) < 1024 {
		return
	}
	for k, e := range table {
		if !e.live(now) {
			delete(table, k)
		}
	}
}
