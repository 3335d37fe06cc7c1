// Package watch provides the watch-list admin commands for one streaming platform
// and starts that platform's stream monitor.
//
//	!watch add <name...>   validate, then track names
//	!watch rm <name...>    untrack names
//	!watch ls [substring]  list tracked names
//
// Each platform registers its own keywords (for Twitch "watch" and "twitch",
// for YouTube "yt") over its own partition of the watch-list table.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcint/nullbot/bot"
	"github.com/mcint/nullbot/router"
	"github.com/mcint/nullbot/streams"
	"github.com/mcint/nullbot/telemetry"
	"github.com/mcint/nullbot/watchlist"
)

// Store is the watch-list the commands edit.
type Store interface {
	watchlist.Store
	// Names normalizes user input the way the store keys entries.
	Names(names []string) []string
}

// Registrar is the part of the bot handle the commands need.
type Registrar interface {
	Handle(name, pattern string, fn router.Handler) error
}

// Commands implements the admin grammar over one Store.
type Commands struct {
	store     Store
	validator streams.Validator
	label     string
	keywords  []string
}

// NewCommands returns the commands for store. A nil validator accepts every name.
// label names the platform in replies; keywords default to "watch".
func NewCommands(store Store, v streams.Validator, label string, keywords ...string) *Commands {
	if len(keywords) == 0 {
		keywords = []string{"watch"}
	}
	return &Commands{store: store, validator: v, label: label, keywords: keywords}
}

// Register adds the command to r under the first keyword's name.
func (c *Commands) Register(r Registrar) error {
	return r.Handle(c.keywords[0], pattern(c.keywords), c.handle)
}

func (c *Commands) handle(ctx context.Context, req *router.Request) error {
	switch cmd := Parse(req.Match[1], req.Match[2]).(type) {
	case Add:
		return c.add(ctx, req, cmd.Names)
	case Remove:
		return c.remove(ctx, req, cmd.Names)
	case List:
		return c.list(ctx, req, cmd.Filter)
	default:
		return req.Reply(ctx, c.usage())
	}
}

func (c *Commands) usage() string {
	k := c.keywords[0]
	return fmt.Sprintf("usage: !%[1]s add <name...> | !%[1]s rm <name...> | !%[1]s ls [filter]", k)
}

func (c *Commands) add(ctx context.Context, req *router.Request, input []string) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "watch"), slog.String("platform", c.label))
	names := c.store.Names(input)
	if len(names) == 0 {
		return req.Reply(ctx, c.usage())
	}

	valid := names
	if c.validator != nil {
		known, err := c.validator.Validate(ctx, names)
		if err != nil {
			log.Warn("name validation failed; refusing add", slog.Any("err", err), slog.Any("names", names))
			return req.Reply(ctx, fmt.Sprintf("Could not reach %s; refusing to add %s", c.label, strings.Join(names, " ")))
		}
		knownSet := streams.NewSet(c.store.Names(known)...)
		valid = valid[:0:0]
		for _, n := range names {
			if knownSet.Has(n) {
				valid = append(valid, n)
				continue
			}
			if err := req.Reply(ctx, fmt.Sprintf("%s not known to %s. Skipping!", n, c.label)); err != nil {
				log.Warn("reply failed", slog.Any("err", err))
			}
		}
	}
	if len(valid) == 0 {
		return nil
	}

	added, err := c.store.Add(ctx, valid, req.Sender)
	if err != nil {
		log.Error("watch-list add failed", slog.Any("err", err), slog.Any("names", valid))
		return req.Reply(ctx, "error: could not add "+strings.Join(valid, " "))
	}
	log.Info("watch-list updated", slog.Any("added", added), slog.String("by", req.Sender))

	addedSet := streams.NewSet(added...)
	var already []string
	for _, n := range valid {
		if !addedSet.Has(n) {
			already = append(already, n)
		}
	}
	var lines []string
	if len(added) > 0 {
		lines = append(lines, "Added: "+strings.Join(added, " "))
	}
	if len(already) > 0 {
		lines = append(lines, "Already watching: "+strings.Join(already, " "))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (c *Commands) remove(ctx context.Context, req *router.Request, input []string) error {
	names := c.store.Names(input)
	if len(names) == 0 {
		return req.Reply(ctx, c.usage())
	}
	if err := c.store.Remove(ctx, names); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("watch-list remove failed",
			slog.Any("err", err), slog.Any("names", names), slog.String("component", "watch"))
		return req.Reply(ctx, "error: could not remove "+strings.Join(names, " "))
	}
	return req.Reply(ctx, "Removed: "+strings.Join(names, " "))
}

func (c *Commands) list(ctx context.Context, req *router.Request, filter string) error {
	names, err := c.store.Find(ctx, filter)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("watch-list read failed", slog.Any("err", err), slog.String("component", "watch"))
		return req.Reply(ctx, "error: could not list "+c.label+" streams")
	}
	if len(names) == 0 {
		return req.Reply(ctx, "no entities match")
	}
	return req.Reply(ctx, fmt.Sprintf("Watching %s streams:\n%s", c.label, strings.Join(names, "\n")))
}

// Options configure one platform's plugin.
type Options struct {
	// Platform is the watch-list partition, e.g. "twitch".
	Platform string
	// Label names the platform in replies, e.g. "Twitch".
	Label    string
	Keywords []string

	Provider   streams.Provider
	Validator  streams.Validator
	Normalizer watchlist.Normalizer

	// Room is the alias or id announcements go to. Empty disables the monitor.
	Room    string
	Monitor streams.Options
}

// ErrNoPlatform is returned when Options lack a Platform.
var ErrNoPlatform = errors.New("watch: platform required")

// Plugin returns the bot plugin for one platform: the admin commands plus a stream
// monitor when a provider and room are configured.
func Plugin(opts Options) bot.Plugin {
	return bot.Plugin{
		Name: "watch:" + opts.Platform,
		Register: func(ctx context.Context, h *bot.Handle) error {
			return register(ctx, h, opts)
		},
	}
}

func register(ctx context.Context, h *bot.Handle, opts Options) error {
	if opts.Platform == "" {
		return ErrNoPlatform
	}
	if opts.Label == "" {
		opts.Label = opts.Platform
	}
	var storeOpts []watchlist.Option
	if opts.Normalizer != nil {
		storeOpts = append(storeOpts, watchlist.WithNormalizer(opts.Normalizer))
	}
	store := h.Store(opts.Platform, storeOpts...)
	if err := NewCommands(store, opts.Validator, opts.Label, opts.Keywords...).Register(h); err != nil {
		return err
	}

	log := slog.With(slog.String("platform", opts.Platform), slog.String("component", "watch"))
	if opts.Provider == nil || opts.Room == "" {
		log.Warn("not monitoring streams: provider or room not configured")
		return nil
	}
	room, err := h.ResolveAlias(ctx, opts.Room)
	if err != nil {
		log.Warn("not monitoring streams: could not resolve room", slog.String("room", opts.Room), slog.Any("err", err))
		return nil
	}
	h.StartMonitor(streams.NewMonitor(opts.Provider, store, streams.SenderFunc(h.SendToRoom), room, opts.Monitor))
	return nil
}
