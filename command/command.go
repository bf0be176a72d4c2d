// Package command implements the in-band "!name args" commands a chat room
// understands. Handlers always return a Future so synchronous and
// asynchronous commands are delivered the same way.
package command

import (
	"context"
	"fmt"

	"chatrelay-server/domain"
)

type Kind int

const (
	KindInfo Kind = iota
	KindError
)

// Result is what a command reports back to the connection that issued it.
type Result struct {
	Kind    Kind
	Message string
}

func Info(msg string) Result  { return Result{Kind: KindInfo, Message: msg} }
func Error(msg string) Result { return Result{Kind: KindError, Message: msg} }

// Outcome is a settled Future. Err means the handler itself failed, which is
// different from a handler returning an Error result.
type Outcome struct {
	Result Result
	Err    error
}

type Future <-chan Outcome

func Resolve(r Result) Future {
	ch := make(chan Outcome, 1)
	ch <- Outcome{Result: r}
	close(ch)
	return ch
}

func Failed(err error) Future {
	ch := make(chan Outcome, 1)
	ch <- Outcome{Err: err}
	close(ch)
	return ch
}

// Async runs fn on its own goroutine. A panic in fn settles the Future with
// an error.
func Async(fn func() (Result, error)) Future {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		defer func() {
			if p := recover(); p != nil {
				ch <- Outcome{Err: fmt.Errorf("command panicked: %v", p)}
			}
		}()
		res, err := fn()
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

// Room is the slice of room state a handler may touch. It is only valid
// during the synchronous part of a handler; Async work must not call it.
type Room interface {
	Name() string
	Members() []string
	SetNick(connID, nick string)
	Clear(ctx context.Context)
}

type Invocation struct {
	Sender   domain.Connection
	Raw      []byte
	Chat     domain.Chat
	Args     []string
	Commands *Registry
}

type Handler func(ctx context.Context, room Room, inv Invocation) Future

type Command struct {
	Name    string
	Doc     string
	Handler Handler
}

// Registry maps names to commands and remembers registration order.
type Registry struct {
	byName map[string]Command
	order  []string
}

func NewRegistry(cmds ...Command) *Registry {
	r := &Registry{byName: make(map[string]Command)}
	for _, c := range cmds {
		r.Register(c)
	}
	return r
}

// Register adds c, replacing any command with the same name in place.
func (r *Registry) Register(c Command) {
	if _, exists := r.byName[c.Name]; !exists {
		r.order = append(r.order, c.Name)
	}
	r.byName[c.Name] = c
}

func (r *Registry) Lookup(name string) (Command, bool) {
	c, ok := r.byName[name]
	return c, ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
