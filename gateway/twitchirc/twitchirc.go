// Package twitchirc runs the bot inside Twitch chat over IRC.
// Rooms are channel names without the leading '#'.
package twitchirc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/mcint/nullbot/gateway"
)

// Gateway adapts a go-twitch-irc client to gateway.Gateway.
type Gateway struct {
	username string
	oauth    string
	channels []string

	mu       sync.Mutex
	client   *twitch.Client
	handlers []gateway.Handler
	ready    chan struct{}
	once     sync.Once
	ctx      context.Context
}

// New returns an IRC gateway that joins channels once connected. The token may
// be given with or without the "oauth:" prefix.
func New(username, oauthToken string, channels ...string) *Gateway {
	if !strings.HasPrefix(oauthToken, "oauth:") {
		oauthToken = "oauth:" + oauthToken
	}
	return &Gateway{
		username: strings.ToLower(username),
		oauth:    oauthToken,
		channels: normalizeChannels(channels),
		ready:    make(chan struct{}),
		ctx:      context.Background(),
	}
}

func (g *Gateway) Name() string { return "twitch" }

// Login prepares the client. IRC authenticates during the connect handshake in
// RunForever, so a bad token surfaces there.
func (g *Gateway) Login(_ context.Context) error {
	if g.username == "" || g.oauth == "oauth:" {
		return errors.New("twitch chat: username and oauth token required")
	}
	c := twitch.NewClient(g.username, g.oauth)
	c.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("user", g.username), slog.String("component", "gateway"))
		g.once.Do(func() { close(g.ready) })
	})
	c.OnPrivateMessage(g.dispatch)
	if len(g.channels) > 0 {
		c.Join(g.channels...)
	}
	g.mu.Lock()
	g.client = c
	g.mu.Unlock()
	return nil
}

// InitialSync is a no-op: IRC has no backlog to replay.
func (g *Gateway) InitialSync(context.Context) error { return nil }

// ResolveAlias normalizes a channel reference and joins it.
func (g *Gateway) ResolveAlias(_ context.Context, alias string) (string, error) {
	ch := normalizeChannel(alias)
	if ch == "" {
		return "", gateway.ErrUnknownRoom
	}
	c, err := g.get()
	if err != nil {
		return "", err
	}
	c.Join(ch)
	return ch, nil
}

// SendMessage waits for the connection before saying text in room.
func (g *Gateway) SendMessage(ctx context.Context, room, text string) error {
	c, err := g.get()
	if err != nil {
		return err
	}
	select {
	case <-g.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.Say(normalizeChannel(room), text)
	return nil
}

func (g *Gateway) Subscribe(h gateway.Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, h)
}

// RunForever connects and blocks until ctx is canceled or the connection fails.
// The client keeps its own PING schedule; resync is unused.
func (g *Gateway) RunForever(ctx context.Context, _ time.Duration) error {
	c, err := g.get()
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := c.Disconnect(); err != nil {
				slog.Debug("twitch chat disconnect", slog.Any("err", err))
			}
		case <-done:
		}
	}()
	err = c.Connect()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (g *Gateway) get() (*twitch.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil, gateway.ErrNotLoggedIn
	}
	return g.client, nil
}

func (g *Gateway) dispatch(msg twitch.PrivateMessage) {
	if strings.EqualFold(msg.User.Name, g.username) {
		return
	}
	g.mu.Lock()
	ctx := g.ctx
	handlers := append([]gateway.Handler(nil), g.handlers...)
	g.mu.Unlock()
	m := toMessage(msg)
	for _, h := range handlers {
		h(ctx, m)
	}
}

func toMessage(msg twitch.PrivateMessage) gateway.Message {
	return gateway.Message{
		ID:        msg.ID,
		Room:      normalizeChannel(msg.Channel),
		Sender:    msg.User.Name,
		Body:      msg.Message,
		Timestamp: msg.Time,
	}
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}

func normalizeChannels(chs []string) []string {
	out := make([]string, 0, len(chs))
	for _, ch := range chs {
		if n := normalizeChannel(ch); n != "" {
			out = append(out, n)
		}
	}
	return out
}
