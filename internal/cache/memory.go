package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value      []byte
	expiration time.Time
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]memoryItem
	config Config
	now    func() time.Time
}

func NewMemoryStore(config Config) *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]memoryItem),
		config: config,
		now:    time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	item, ok := m.items[m.config.Prefix+key]
	m.mu.RUnlock()
	if !ok {
		return nil, miss(key)
	}
	if !item.expiration.IsZero() && m.now().After(item.expiration) {
		m.mu.Lock()
		delete(m.items, m.config.Prefix+key)
		m.mu.Unlock()
		return nil, miss(key)
	}
	return append([]byte(nil), item.value...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiration = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.items[m.config.Prefix+key] = item
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, m.config.Prefix+key)
	m.mu.Unlock()
	return nil
}
