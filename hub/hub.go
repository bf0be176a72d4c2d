package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatrelay-server/domain"
	"chatrelay-server/protocol"
	"chatrelay-server/relay"
	"chatrelay-server/storage"
)

type room struct {
	relay   *relay.Room
	clients map[string]domain.Connection
}

type Hub struct {
	ctx      context.Context
	backend  storage.Backend
	opts     []relay.Option
	timeout  time.Duration
	rooms    map[string]*room
	retiring map[string]<-chan struct{}
	mu       sync.Mutex
}

// New returns a Hub whose rooms live until ctx is cancelled or their last
// client leaves.
func New(ctx context.Context, backend storage.Backend, timeout time.Duration, opts ...relay.Option) *Hub {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Hub{
		ctx:      ctx,
		backend:  backend,
		opts:     opts,
		timeout:  timeout,
		rooms:    make(map[string]*room),
		retiring: make(map[string]<-chan struct{}),
	}
}

// roomLocked returns the live room for name, starting one if needed.
// Callers must hold h.mu.
func (h *Hub) roomLocked(name string) *room {
	if r, ok := h.rooms[name]; ok {
		return r
	}

	opts := append([]relay.Option(nil), h.opts...)
	if prev, ok := h.retiring[name]; ok {
		opts = append(opts, relay.After(prev))
		delete(h.retiring, name)
	}

	r := &room{
		relay:   relay.NewRoom(name, storage.ForRoom(h.backend, name), opts...),
		clients: make(map[string]domain.Connection),
	}
	h.rooms[name] = r
	go r.relay.Run(h.ctx)

	slog.Info("room created", "room", name)
	return r
}

// Register adds conn to its room. A still-open connection with the same ID is
// closed; its later Unregister is then ignored.
func (h *Hub) Register(conn domain.Connection) {
	h.mu.Lock()
	r := h.roomLocked(conn.Room())
	replaced := r.clients[conn.ID()]
	r.clients[conn.ID()] = conn
	count := len(r.clients)
	h.mu.Unlock()

	if replaced != nil && replaced != conn {
		slog.Info("closing replaced connection", "room", conn.Room(), "clientId", conn.ID())
		replaced.Close()
	}
	slog.Info("client connected", "room", conn.Room(), "clientId", conn.ID(), "clients", count)

	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()
	if err := r.relay.Connect(ctx, conn); err != nil {
		slog.Error("connect failed", "room", conn.Room(), "clientId", conn.ID(), "error", err)
	}
}

func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	r, exists := h.rooms[conn.Room()]
	if !exists || r.clients[conn.ID()] != conn {
		h.mu.Unlock()
		return
	}

	delete(r.clients, conn.ID())
	count := len(r.clients)
	if count == 0 {
		delete(h.rooms, conn.Room())
		h.retire(conn.Room(), r.relay.Done())
	}
	h.mu.Unlock()

	slog.Info("client disconnected", "room", conn.Room(), "clientId", conn.ID(), "clients", count)

	if err := r.relay.Disconnect(conn); err != nil {
		slog.Warn("disconnect not delivered", "room", conn.Room(), "clientId", conn.ID(), "error", err)
	}
	if count == 0 {
		r.relay.Stop()
		slog.Info("room removed", "room", conn.Room())
	}
}

// retire records that a room instance is shutting down so its successor can
// wait for it. Callers must hold h.mu.
func (h *Hub) retire(name string, done <-chan struct{}) {
	h.retiring[name] = done
	go func() {
		<-done
		h.mu.Lock()
		if h.retiring[name] == done {
			delete(h.retiring, name)
		}
		h.mu.Unlock()
	}()
}

func (h *Hub) Lookup(name string) (protocol.Receiver, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[name]
	if !ok {
		return nil, false
	}
	return r.relay, true
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		clients += len(r.clients)
	}
	return rooms, clients
}
