package protocol

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chatrelay-server/domain"
)

// Receiver accepts raw frames for one room.
type Receiver interface {
	Message(ctx context.Context, conn domain.Connection, data []byte) error
}

type RoomFinder interface {
	Lookup(room string) (Receiver, bool)
}

type Handler struct {
	rooms   RoomFinder
	timeout time.Duration
}

func NewHandler(rooms RoomFinder, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{rooms: rooms, timeout: timeout}
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	room, ok := h.rooms.Lookup(conn.Room())
	if !ok {
		slog.Warn("frame for unknown room", "room", conn.Room(), "clientId", conn.ID())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := room.Message(ctx, conn, data); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.DeadlineExceeded) {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "frame not delivered", "room", conn.Room(), "clientId", conn.ID(), "error", err)
	}
}
