// Package router matches inbound chat messages against registered command
// patterns and runs the matching handlers.
//
// Handlers never take the receive loop down: a returned error or a panic is
// logged, counted and answered with a short failure reply in the originating room.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"sync"

	"github.com/mcint/nullbot/gateway"
	"github.com/mcint/nullbot/telemetry"
)

// Sender posts a message into a room.
type Sender interface {
	SendMessage(ctx context.Context, room, text string) error
}

// Request is what a handler gets for one matching message.
type Request struct {
	gateway.Message
	// Match holds the full match followed by the pattern's submatches.
	Match []string

	sender Sender
}

// Reply posts text into the room the message came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.sender.SendMessage(ctx, r.Room, text)
}

// Handler serves one command. Errors it returns are reported generically; a
// handler that wants a specific message in chat replies itself and returns nil.
type Handler func(ctx context.Context, req *Request) error

type command struct {
	name    string
	pattern *regexp.Regexp
	handler Handler
}

// Router dispatches messages to every command whose pattern matches the whole body.
type Router struct {
	sender Sender

	mu       sync.RWMutex
	commands []command
}

func New(sender Sender) *Router {
	telemetry.Init()
	return &Router{sender: sender}
}

// Handle registers h under name (the metrics label) for bodies fully matching pattern.
func (r *Router) Handle(name, pattern string, h Handler) error {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return fmt.Errorf("command %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command{name: name, pattern: re, handler: h})
	return nil
}

// MustHandle is Handle for patterns known at compile time.
func (r *Router) MustHandle(name, pattern string, h Handler) {
	if err := r.Handle(name, pattern, h); err != nil {
		panic(err)
	}
}

// Commands lists registered command names in registration order.
func (r *Router) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c.name)
	}
	return out
}

// Dispatch runs every matching handler in registration order. It is a
// gateway.Handler.
func (r *Router) Dispatch(ctx context.Context, msg gateway.Message) {
	r.mu.RLock()
	cmds := append([]command(nil), r.commands...)
	r.mu.RUnlock()

	for _, c := range cmds {
		m := c.pattern.FindStringSubmatch(msg.Body)
		if m == nil {
			continue
		}
		r.run(ctx, c, &Request{Message: msg, Match: m, sender: r.sender})
	}
}

func (r *Router) run(ctx context.Context, c command, req *Request) {
	ctx = telemetry.NewCorrelation(ctx)
	ctx, span := telemetry.StartSpan(ctx, "command."+c.name)
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("command", c.name),
		slog.String("room", req.Room),
		slog.String("sender", req.Sender),
		slog.String("component", "router"))

	result := "ok"
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				result = "panic"
				err = fmt.Errorf("panic: %v", p)
				log.Error("command handler panicked", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			}
		}()
		return c.handler(ctx, req)
	}()
	if err != nil {
		if result == "ok" {
			result = "error"
			log.Error("command failed", slog.Any("err", err))
		}
		telemetry.RecordError(span, err)
		if rerr := req.Reply(ctx, "error: !"+c.name+" failed"); rerr != nil {
			log.Warn("failed to send error reply", slog.Any("err", rerr))
		}
	} else {
		telemetry.SetSpanSuccess(span)
		log.Debug("command handled")
	}
	telemetry.Commands.WithLabelValues(c.name, result).Inc()
}
