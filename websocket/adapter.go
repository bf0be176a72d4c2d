package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay-server/config"
	"chatrelay-server/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

const RateLimitReply = "Rate limit exceeded"

var (
	ErrConnClosed = errors.New("connection closed")
	ErrSendFull   = errors.New("send buffer full")
)

type Conn struct {
	id      string
	room    string
	ws      *websocket.Conn
	send    chan []byte
	hub     domain.Hub
	handler domain.MessageHandler
	limiter *limiter
	maxSize int64

	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(id, room string, ws *websocket.Conn, h domain.Hub, mh domain.MessageHandler, cfg config.Config) *Conn {
	return &Conn{
		id:      id,
		room:    room,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
		handler: mh,
		limiter: newLimiter(cfg.RateLimit, time.Now),
		maxSize: cfg.MaxMessageSize,
		done:    make(chan struct{}),
	}
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Room() string { return c.room }

func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendFull
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Start runs the pumps. The writer is started before registering so the
// join snapshot can be flushed while Register is still in progress.
func (c *Conn) Start() {
	go c.writePump()
	c.hub.Register(c)
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	if c.maxSize > 0 {
		c.ws.SetReadLimit(c.maxSize)
	}
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "room", c.room, "clientId", c.id, "error", err)
			}
			return
		}

		if !c.limiter.allow() {
			slog.Warn("rate limit exceeded", "room", c.room, "clientId", c.id)
			c.reject(RateLimitReply)
			continue
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) reject(reason string) {
	data, err := json.Marshal(domain.ErrorEvent{Message: reason})
	if err != nil {
		return
	}
	if err := c.Send(data); err != nil {
		slog.Warn("reject not delivered", "room", c.room, "clientId", c.id, "error", err)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// NewUpgrader accepts browser origins listed in cfg.AllowedOrigins, or any
// origin when the list contains "*". Requests without an Origin header are
// not from browsers and are let through.
func NewUpgrader(cfg config.Config) websocket.Upgrader {
	allowAll := cfg.AllowAllOrigins()
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || allowed[origin]
		},
	}
}
