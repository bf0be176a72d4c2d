package relay

import (
	"context"
	"fmt"

	"chatrelay-server/domain"
)

// StorageKey is the single key a room's log is persisted under.
const StorageKey = "messages"

// Store is the per-room durable storage a Log syncs with.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

type SyncMode int

const (
	// SyncLazy reloads from storage only when the log is empty, then persists.
	SyncLazy SyncMode = iota
	// SyncReload always replaces the log with the stored copy, then persists.
	SyncReload
	// SyncForce skips loading and overwrites storage with the current log.
	SyncForce
)

// Log is an append-only, arrival-ordered event log. It is not safe for
// concurrent use; a Room owns exactly one.
type Log struct {
	events []domain.Event
	store  Store
	// stale is set after a failed load. Until a load succeeds, every sync
	// reloads first and stored history is placed ahead of newer events.
	stale bool
}

func NewLog(store Store) *Log {
	return &Log{store: store}
}

func (l *Log) Append(ev domain.Event) {
	l.events = append(l.events, ev)
}

func (l *Log) Len() int { return len(l.events) }

func (l *Log) Snapshot() []domain.Event {
	out := make([]domain.Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Log) Reset() {
	l.events = nil
}

// Sync reconciles the log with storage. Nothing is written back until a load
// has succeeded, so an unreadable store is never overwritten.
func (l *Log) Sync(ctx context.Context, mode SyncMode) error {
	if mode == SyncForce {
		l.stale = false
	} else if len(l.events) == 0 || mode == SyncReload || l.stale {
		stored, err := l.load(ctx)
		if err != nil {
			l.stale = true
			return err
		}
		if l.stale && mode != SyncReload {
			stored = append(stored, l.events...)
		}
		l.events = stored
		l.stale = false
	}

	raw, err := domain.EncodeEvents(l.events)
	if err != nil {
		return fmt.Errorf("encode %s: %w", StorageKey, err)
	}
	if err := l.store.Put(ctx, StorageKey, raw); err != nil {
		return fmt.Errorf("persist %s: %w", StorageKey, err)
	}
	return nil
}

func (l *Log) load(ctx context.Context) ([]domain.Event, error) {
	raw, ok, err := l.store.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", StorageKey, err)
	}
	if !ok {
		return nil, nil
	}
	events, err := domain.DecodeEvents(raw)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", StorageKey, err)
	}
	return events, nil
}
