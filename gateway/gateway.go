// Package gateway defines the chat transport the bot runs on. Adapters live in
// subpackages: matrix (mautrix), twitchirc (go-twitch-irc) and telegram
// (telegram-bot-api).
package gateway

import (
	"context"
	"errors"
	"time"
)

// Message is one inbound text message.
type Message struct {
	ID        string
	Room      string // room identity the reply should go to
	Sender    string
	Body      string
	Timestamp time.Time
}

// Handler receives inbound messages. It runs on the receive loop and must not block
// for longer than one store or network call sequence.
type Handler func(ctx context.Context, msg Message)

// Gateway is a logged-in chat session.
type Gateway interface {
	// Name identifies the adapter in logs, e.g. "matrix".
	Name() string
	// Login authenticates. No messages are delivered before RunForever.
	Login(ctx context.Context) error
	// InitialSync drains the backlog so historic messages are never dispatched.
	InitialSync(ctx context.Context) error
	// ResolveAlias turns a human room reference into the identity SendMessage takes.
	ResolveAlias(ctx context.Context, alias string) (string, error)
	SendMessage(ctx context.Context, room, text string) error
	// Subscribe registers h for every inbound text message. Call before RunForever.
	Subscribe(h Handler)
	// RunForever delivers messages until ctx is canceled or the session fails.
	// resync bounds each long-poll round trip.
	RunForever(ctx context.Context, resync time.Duration) error
}

// ErrNotLoggedIn is returned by adapters used before Login succeeded.
var ErrNotLoggedIn = errors.New("gateway: not logged in")

// ErrUnknownRoom is returned when an alias does not resolve to a room.
var ErrUnknownRoom = errors.New("gateway: unknown room")
