package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Memory is an in-process Store. It is used for local runs and tests and
// implements BoundedIncrementer under its own mutex.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory { return &Memory{data: make(map[string]string)} }

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) IncrementIfBelow(_ context.Context, key string, limit int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur int64
	if v, ok := m.data[key]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("parse %s: %w", key, err)
		}
		cur = n
	}
	if cur >= limit {
		return cur, false, nil
	}
	cur++
	m.data[key] = strconv.FormatInt(cur, 10)
	return cur, true, nil
}
