// Package bot owns the chat session and the plugin lifecycle.
//
// Run logs in, discards the backlog with one throwaway sync, registers every
// plugin exactly once, then hands inbound messages to the command router until
// the context ends or the session fails. Plugins get a *Handle: the send
// capability, alias resolution, platform watch-lists, command registration and
// a way to start background tasks such as stream monitors.
package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcint/nullbot/db"
	"github.com/mcint/nullbot/gateway"
	"github.com/mcint/nullbot/router"
	"github.com/mcint/nullbot/streams"
	"github.com/mcint/nullbot/watchlist"
)

// Plugin is a statically registered feature.
type Plugin struct {
	Name string
	// Register wires commands and starts background tasks. It runs once per process,
	// after the initial sync and before the receive loop.
	Register func(ctx context.Context, h *Handle) error
}

// Options configure a Bot.
type Options struct {
	DB          *sql.DB
	Dialect     db.Dialect
	SyncTimeout time.Duration
}

// Bot composes a gateway, a router and the registered plugins.
type Bot struct {
	gw      gateway.Gateway
	router  *router.Router
	db      *sql.DB
	dialect db.Dialect
	resync  time.Duration
	plugins []Plugin

	started atomic.Bool
	ready   atomic.Bool

	mu       sync.RWMutex
	monitors []*streams.Monitor
}

func New(gw gateway.Gateway, opts Options, plugins ...Plugin) *Bot {
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	return &Bot{
		gw:      gw,
		router:  router.New(gw),
		db:      opts.DB,
		dialect: opts.Dialect,
		resync:  opts.SyncTimeout,
		plugins: plugins,
	}
}

// Run drives the session. It returns nil when ctx is canceled and the error that
// ended the session otherwise. Run may only be called once.
func (b *Bot) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("bot: already started")
	}
	log := slog.With(slog.String("gateway", b.gw.Name()), slog.String("component", "bot"))

	if err := b.gw.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := b.gw.InitialSync(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}
	log.Info("session established")

	g, gctx := errgroup.WithContext(ctx)
	h := &Handle{bot: b, group: g, ctx: gctx}
	for _, p := range b.plugins {
		if err := p.Register(gctx, h); err != nil {
			return fmt.Errorf("register plugin %s: %w", p.Name, err)
		}
		log.Info("plugin registered", slog.String("plugin", p.Name))
	}

	b.gw.Subscribe(b.router.Dispatch)
	g.Go(func() error {
		return b.gw.RunForever(gctx, b.resync)
	})
	b.ready.Store(true)
	log.Info("receive loop started", slog.Any("commands", b.router.Commands()), slog.Duration("resync", b.resync))

	err := g.Wait()
	b.ready.Store(false)
	if ctx.Err() != nil {
		log.Info("bot stopped")
		return nil
	}
	return err
}

// Ready reports whether the receive loop is running.
func (b *Bot) Ready() bool { return b.ready.Load() }

// Statuses snapshots every monitor started by plugins.
func (b *Bot) Statuses() []streams.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]streams.Status, 0, len(b.monitors))
	for _, m := range b.monitors {
		out = append(out, m.Status())
	}
	return out
}

// Handle is the bot capability set passed to plugins.
type Handle struct {
	bot   *Bot
	group *errgroup.Group
	ctx   context.Context
}

// SendToRoom posts text into room.
func (h *Handle) SendToRoom(ctx context.Context, room, text string) error {
	return h.bot.gw.SendMessage(ctx, room, text)
}

// ResolveAlias maps a room alias to the identity SendToRoom expects.
func (h *Handle) ResolveAlias(ctx context.Context, alias string) (string, error) {
	return h.bot.gw.ResolveAlias(ctx, alias)
}

// Store returns the shared watch-list for platform.
func (h *Handle) Store(platform string, opts ...watchlist.Option) *watchlist.SQLStore {
	return watchlist.NewSQLStore(h.bot.db, h.bot.dialect, platform, opts...)
}

// Handle registers a chat command with the router.
func (h *Handle) Handle(name, pattern string, fn router.Handler) error {
	return h.bot.router.Handle(name, pattern, fn)
}

// Go runs fn for the life of the session. A task that returns because the
// session is ending is not an error; any other error ends the session.
func (h *Handle) Go(name string, fn func(ctx context.Context) error) {
	h.group.Go(func() error {
		err := fn(h.ctx)
		if err != nil && h.ctx.Err() == nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// StartMonitor runs m in the background and exposes its status.
func (h *Handle) StartMonitor(m *streams.Monitor) {
	h.bot.mu.Lock()
	h.bot.monitors = append(h.bot.monitors, m)
	h.bot.mu.Unlock()
	h.Go("monitor "+m.Platform(), m.Run)
}
