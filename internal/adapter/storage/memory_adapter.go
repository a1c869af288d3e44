package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/fulfillment-sync/internal/core/domain"
)

// LocalLocker is a process-local lock that honors context deadlines.
type LocalLocker struct {
	ch chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{ch: make(chan struct{}, 1)}
}

func (l *LocalLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MemoryIdempotency remembers keys for the lifetime of the process.
type MemoryIdempotency struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{seen: make(map[string]struct{})}
}

func (m *MemoryIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

type MemoryBindingRepository struct {
	mu       sync.RWMutex
	bindings []domain.MessageBinding
}

func NewMemoryBindingRepository() *MemoryBindingRepository {
	return &MemoryBindingRepository{}
}

func (m *MemoryBindingRepository) Create(ctx context.Context, b domain.MessageBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings = append(m.bindings, b)
	return nil
}

// Latest picks the newest binding; ties go to the one created last.
func (m *MemoryBindingRepository) Latest(ctx context.Context, orderID string) (*domain.MessageBinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *domain.MessageBinding
	for i := range m.bindings {
		b := m.bindings[i]
		if b.OrderID != orderID {
			continue
		}
		if latest == nil || !b.CreatedAt.Before(latest.CreatedAt) {
			latest = &b
		}
	}
	return latest, nil
}

func (m *MemoryBindingRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.bindings[:0]
	var deleted int64
	for _, b := range m.bindings {
		if b.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, b)
	}
	m.bindings = kept
	return deleted, nil
}

// All returns the stored bindings ordered by creation time.
func (m *MemoryBindingRepository) All() []domain.MessageBinding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.MessageBinding, len(m.bindings))
	copy(out, m.bindings)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
