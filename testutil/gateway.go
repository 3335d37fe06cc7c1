package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mcint/nullbot/gateway"
)

// SentMessage is one message a FakeGateway was asked to send.
type SentMessage struct {
	Room string
	Text string
}

// FakeGateway is an in-memory gateway.Gateway that records sends and lets tests
// inject inbound messages with Deliver.
type FakeGateway struct {
	// Aliases maps aliases to room ids for ResolveAlias; unknown aliases fail.
	Aliases map[string]string
	// FailSendContaining makes SendMessage fail for texts containing the key.
	FailSendContaining string
	// LoginErr, when set, is returned by Login.
	LoginErr error

	mu       sync.Mutex
	sent     []SentMessage
	handlers []gateway.Handler
	calls    []string
	inbox    chan gateway.Message
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{Aliases: map[string]string{}, inbox: make(chan gateway.Message, 16)}
}

func (f *FakeGateway) Name() string { return "fake" }

func (f *FakeGateway) Login(context.Context) error {
	f.record("login")
	return f.LoginErr
}

func (f *FakeGateway) InitialSync(context.Context) error {
	f.record("initial_sync")
	return nil
}

func (f *FakeGateway) ResolveAlias(_ context.Context, alias string) (string, error) {
	f.record("resolve:" + alias)
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.Aliases[alias]; ok {
		return room, nil
	}
	return "", fmt.Errorf("%w: %s", gateway.ErrUnknownRoom, alias)
}

func (f *FakeGateway) SendMessage(_ context.Context, room, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSendContaining != "" && strings.Contains(text, f.FailSendContaining) {
		return errors.New("fake gateway: send rejected")
	}
	f.sent = append(f.sent, SentMessage{Room: room, Text: text})
	return nil
}

func (f *FakeGateway) Subscribe(h gateway.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

// RunForever delivers queued messages until ctx ends.
func (f *FakeGateway) RunForever(ctx context.Context, _ time.Duration) error {
	f.record("run")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-f.inbox:
			f.dispatch(ctx, msg)
		}
	}
}

// Deliver hands msg to the subscribed handlers synchronously.
func (f *FakeGateway) Deliver(ctx context.Context, msg gateway.Message) {
	f.dispatch(ctx, msg)
}

// Enqueue queues msg for RunForever.
func (f *FakeGateway) Enqueue(msg gateway.Message) {
	f.inbox <- msg
}

func (f *FakeGateway) dispatch(ctx context.Context, msg gateway.Message) {
	f.mu.Lock()
	hs := append([]gateway.Handler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range hs {
		h(ctx, msg)
	}
}

// Sent returns a copy of every message sent so far.
func (f *FakeGateway) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}

// SentTexts returns the texts of every message sent so far.
func (f *FakeGateway) SentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

// Reset forgets recorded sends.
func (f *FakeGateway) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// Calls returns the lifecycle calls seen so far, in order.
func (f *FakeGateway) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeGateway) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

var _ gateway.Gateway = (*FakeGateway)(nil)
