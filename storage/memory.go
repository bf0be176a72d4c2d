package storage

import (
	"context"
	"sync"
)

type Memory struct {
	rooms map[string]map[string][]byte
	mu    sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, room, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.rooms[room][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Put(_ context.Context, room, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[room]
	if !ok {
		r = make(map[string][]byte)
		m.rooms[room] = r
	}
	r[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Close() error { return nil }
