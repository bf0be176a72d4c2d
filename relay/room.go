// Package relay is the per-room chat relay: it validates frames, keeps the
// room log in sync with storage, runs commands and fans events out.
//
// Every Room is driven by a single goroutine (Run). The public methods only
// enqueue work, so room state is never touched concurrently.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"chatrelay-server/command"
	"chatrelay-server/domain"
	"chatrelay-server/protocol"
)

var ErrRoomClosed = errors.New("room closed")

const inboxSize = 64

type op func(ctx context.Context)

type Room struct {
	name        string
	log         *Log
	registry    *command.Registry
	dispatcher  *command.Dispatcher
	logger      *slog.Logger
	now         func() time.Time
	syncTimeout time.Duration
	after       <-chan struct{}

	conns map[string]domain.Connection
	order []string
	nicks map[string]string

	inbox   chan op
	done    chan struct{}
	stopped bool
}

type Option func(*Room)

func WithLogger(l *slog.Logger) Option {
	return func(r *Room) { r.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Room) { r.now = now }
}

func WithSyncTimeout(d time.Duration) Option {
	return func(r *Room) {
		if d > 0 {
			r.syncTimeout = d
		}
	}
}

// WithCommands registers extra commands on top of the built-ins.
func WithCommands(cmds ...command.Command) Option {
	return func(r *Room) {
		for _, c := range cmds {
			r.registry.Register(c)
		}
	}
}

// After delays warm-up until ch is closed. Used to let a retiring instance
// of the same room finish persisting first.
func After(ch <-chan struct{}) Option {
	return func(r *Room) { r.after = ch }
}

func NewRoom(name string, store Store, opts ...Option) *Room {
	r := &Room{
		name:        name,
		log:         NewLog(store),
		registry:    command.NewRegistry(command.Builtins()...),
		logger:      slog.Default(),
		now:         time.Now,
		syncTimeout: 5 * time.Second,
		conns:       make(map[string]domain.Connection),
		nicks:       make(map[string]string),
		inbox:       make(chan op, inboxSize),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("room", name)
	r.dispatcher = command.NewDispatcher(r.registry, r.logger, func() time.Time { return r.now() })
	return r
}

func (r *Room) Name() string { return r.name }

// Done is closed once Run has returned.
func (r *Room) Done() <-chan struct{} { return r.done }

// Run warms the log up from storage and then processes queued events one at
// a time until ctx is cancelled or Stop is processed.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)

	if r.after != nil {
		select {
		case <-r.after:
		case <-ctx.Done():
			return
		}
	}

	r.sync(ctx, SyncLazy)
	r.logger.Debug("room ready", "events", r.log.Len())

	for !r.stopped {
		select {
		case <-ctx.Done():
			return
		case fn := <-r.inbox:
			fn(ctx)
		}
	}
}

// Stop ends Run after every event queued before it has been handled.
func (r *Room) Stop() {
	_ = r.enqueue(context.Background(), func(context.Context) { r.stopped = true })
}

// Connect announces conn to the room and sends it the log snapshot. It
// returns once the snapshot has been handed to conn.
func (r *Room) Connect(ctx context.Context, conn domain.Connection) error {
	return r.call(ctx, func(ctx context.Context) { r.handleConnect(ctx, conn) })
}

// Message handles one raw client frame. It returns after the frame has been
// validated, logged and broadcast; command replies may arrive later.
func (r *Room) Message(ctx context.Context, conn domain.Connection, data []byte) error {
	return r.call(ctx, func(ctx context.Context) { r.handleMessage(ctx, conn, data) })
}

// Disconnect queues the leave for conn without waiting for it.
func (r *Room) Disconnect(conn domain.Connection) error {
	return r.enqueue(context.Background(), func(ctx context.Context) { r.handleDisconnect(ctx, conn) })
}

// Snapshot returns the current log as seen by the room goroutine.
func (r *Room) Snapshot(ctx context.Context) ([]domain.Event, error) {
	var events []domain.Event
	err := r.call(ctx, func(context.Context) { events = r.log.Snapshot() })
	return events, err
}

func (r *Room) enqueue(ctx context.Context, fn op) error {
	select {
	case r.inbox <- fn:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) call(ctx context.Context, fn op) error {
	finished := make(chan struct{})
	err := r.enqueue(ctx, func(ctx context.Context) {
		defer close(finished)
		fn(ctx)
	})
	if err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) handleConnect(ctx context.Context, conn domain.Connection) {
	id := conn.ID()
	if _, exists := r.conns[id]; !exists {
		r.order = append(r.order, id)
	}
	r.conns[id] = conn

	join := domain.Join{Username: id, Timestamp: r.now()}
	r.broadcast(join, id)
	r.log.Append(join)
	r.sync(ctx, SyncLazy)
	r.send(conn, domain.Snapshot{Events: r.log.Snapshot()})

	r.logger.Info("client joined", "clientId", id, "clients", len(r.conns))
}

func (r *Room) handleMessage(ctx context.Context, conn domain.Connection, data []byte) {
	chat, err := protocol.ParseChat(data)
	if err != nil {
		r.logger.Warn("invalid message", "clientId", conn.ID(), "error", err)
		r.send(conn, domain.ErrorEvent{Message: protocol.InvalidMessageReply})
		return
	}

	chat.Timestamp = r.now()
	chat.Nickname = r.nicks[conn.ID()]

	r.log.Append(chat)
	r.sync(ctx, SyncLazy)

	if command.IsInvocation(chat.Message) {
		r.dispatcher.Dispatch(ctx, roomView{r}, conn, data, chat)
		return
	}
	r.broadcast(chat, conn.ID())
}

func (r *Room) handleDisconnect(ctx context.Context, conn domain.Connection) {
	id := conn.ID()
	if cur, ok := r.conns[id]; ok && cur == conn {
		delete(r.conns, id)
		delete(r.nicks, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}

	leave := domain.Leave{Username: id, Timestamp: r.now()}
	r.broadcast(leave, id)
	r.log.Append(leave)
	r.sync(ctx, SyncLazy)

	r.logger.Info("client left", "clientId", id, "clients", len(r.conns))
}

func (r *Room) sync(ctx context.Context, mode SyncMode) {
	ctx, cancel := context.WithTimeout(ctx, r.syncTimeout)
	defer cancel()

	if err := r.log.Sync(ctx, mode); err != nil {
		r.logger.Error("storage sync failed", "error", err)
	}
}

func (r *Room) send(conn domain.Connection, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encode event", "type", ev.Type(), "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		r.logger.Warn("send failed", "clientId", conn.ID(), "error", err)
		conn.Close()
	}
}

// broadcast sends ev to every connection except the listed ids.
func (r *Room) broadcast(ev domain.Event, except ...string) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encode event", "type", ev.Type(), "error", err)
		return
	}

	for _, id := range r.order {
		if contains(except, id) {
			continue
		}
		conn := r.conns[id]
		if err := conn.Send(data); err != nil {
			r.logger.Warn("broadcast failed", "clientId", id, "error", err)
			conn.Close()
		}
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// roomView is the command.Room handed to handlers. It is only used from the
// room goroutine.
type roomView struct{ r *Room }

func (v roomView) Name() string { return v.r.name }

func (v roomView) Members() []string {
	return append([]string(nil), v.r.order...)
}

func (v roomView) SetNick(connID, nick string) {
	v.r.nicks[connID] = nick
}

func (v roomView) Clear(ctx context.Context) {
	v.r.log.Reset()
	v.r.sync(ctx, SyncForce)
	v.r.broadcast(domain.Snapshot{Events: v.r.log.Snapshot()})
	v.r.logger.Info("log cleared")
}
