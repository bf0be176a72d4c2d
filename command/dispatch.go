package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatrelay-server/domain"
)

const Prefix = "!"

const (
	NotFoundReply = "Command not found"
	FailureReply  = "An error occurred while processing the command"
)

var errNoOutcome = errors.New("command produced no outcome")

func IsInvocation(text string) bool {
	return strings.HasPrefix(text, Prefix)
}

type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(registry *Registry, logger *slog.Logger, now func() time.Time) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{registry: registry, logger: logger, now: now}
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs the command named by the chat text. The invocation is always
// consumed: callers must not relay the chat message afterwards.
func (d *Dispatcher) Dispatch(ctx context.Context, room Room, sender domain.Connection, raw []byte, chat domain.Chat) {
	args := strings.Fields(chat.Message)
	name := ""
	if len(args) > 0 {
		name = strings.TrimPrefix(args[0], Prefix)
	}

	cmd, ok := d.registry.Lookup(name)
	if !ok {
		d.reply(sender, domain.ErrorEvent{Message: NotFoundReply, Timestamp: d.now()})
		return
	}

	inv := Invocation{Sender: sender, Raw: raw, Chat: chat, Args: args, Commands: d.registry}
	future := d.invoke(ctx, cmd, room, inv)

	select {
	case out, ok := <-future:
		d.settle(sender, cmd.Name, out, ok)
	default:
		go func() {
			out, ok := <-future
			d.settle(sender, cmd.Name, out, ok)
		}()
	}
}

func (d *Dispatcher) invoke(ctx context.Context, cmd Command, room Room, inv Invocation) (future Future) {
	defer func() {
		if p := recover(); p != nil {
			future = Failed(fmt.Errorf("command panicked: %v", p))
		}
	}()
	future = cmd.Handler(ctx, room, inv)
	if future == nil {
		return Failed(errNoOutcome)
	}
	return future
}

func (d *Dispatcher) settle(sender domain.Connection, name string, out Outcome, ok bool) {
	if !ok {
		out.Err = errNoOutcome
	}
	if out.Err != nil {
		d.logger.Error("command failed", "command", name, "clientId", sender.ID(), "error", out.Err)
		d.reply(sender, domain.ErrorEvent{Message: FailureReply, Timestamp: d.now()})
		return
	}

	switch out.Result.Kind {
	case KindError:
		d.reply(sender, domain.ErrorEvent{Message: out.Result.Message, Timestamp: d.now()})
	default:
		d.reply(sender, domain.System{Message: out.Result.Message, Timestamp: d.now()})
	}
}

func (d *Dispatcher) reply(sender domain.Connection, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("encode command reply", "clientId", sender.ID(), "error", err)
		return
	}
	if err := sender.Send(data); err != nil {
		d.logger.Warn("command reply not sent", "clientId", sender.ID(), "error", err)
	}
}
