// Package storage provides the durable key-value backends rooms persist
// their logs to.
package storage

import (
	"context"
	"fmt"

	"chatrelay-server/config"
)

// Backend stores opaque values keyed by room and key. Implementations must
// be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, room, key string) ([]byte, bool, error)
	Put(ctx context.Context, room, key string, value []byte) error
	Close() error
}

// Scoped is a Backend narrowed to a single room.
type Scoped struct {
	backend Backend
	room    string
}

func ForRoom(b Backend, room string) *Scoped {
	return &Scoped{backend: b, room: room}
}

func (s *Scoped) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.backend.Get(ctx, s.room, key)
}

func (s *Scoped) Put(ctx context.Context, key string, value []byte) error {
	return s.backend.Put(ctx, s.room, key, value)
}

func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return NewMemory(), nil
	case config.DriverMySQL:
		return OpenMySQL(ctx, MySQLDSN(cfg))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
