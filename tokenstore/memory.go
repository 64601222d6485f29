package tokenstore

import (
	"context"
	"sync"
)

type memoryKV struct {
	items map[string]string
	mutex sync.RWMutex
}

// NewMemory builds an in-memory backend. Contents do not survive the process.
func NewMemory() KV {
	return &memoryKV{items: make(map[string]string)}
}

func (m *memoryKV) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	values := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.items[k]; ok {
			values[k] = v
		}
	}
	return values, nil
}

func (m *memoryKV) SetMany(_ context.Context, values map[string]string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for k, v := range values {
		m.items[k] = v
	}
	return nil
}

func (m *memoryKV) Delete(_ context.Context, keys ...string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func (m *memoryKV) CompareAndSet(_ context.Context, guardKey, guardValue string, values map[string]string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if current, ok := m.items[guardKey]; !ok || current != guardValue {
		return false, nil
	}
	for k, v := range values {
		m.items[k] = v
	}
	return true, nil
}

func (m *memoryKV) Close(context.Context) error {
	return nil
}
