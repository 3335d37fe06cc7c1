// Package choose answers "!choose a,b,c" with one option picked at random.
// A single character right after the keyword replaces the comma as separator:
// "!choose| a|b, c|d" picks among "a", "b, c" and "d".
package choose

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/mcint/nullbot/bot"
	"github.com/mcint/nullbot/router"
)

// Pattern captures the optional separator and the option list.
const Pattern = `!choose(\S)?\s+(.+)`

const usage = "usage: !choose[separator] a,b,c"

// Registrar is the part of the bot handle choose needs.
type Registrar interface {
	Handle(name, pattern string, fn router.Handler) error
}

// Chooser picks options. intn must return a value in [0, n).
type Chooser struct {
	intn func(n int) int
}

func New() *Chooser { return &Chooser{intn: rand.IntN} }

// Plugin returns the bot plugin for !choose.
func Plugin() bot.Plugin {
	return bot.Plugin{
		Name: "choose",
		Register: func(_ context.Context, h *bot.Handle) error {
			return New().Register(h)
		},
	}
}

func (c *Chooser) Register(r Registrar) error {
	return r.Handle("choose", Pattern, c.handle)
}

func (c *Chooser) handle(ctx context.Context, req *router.Request) error {
	sep := ","
	if req.Match[1] != "" {
		sep = req.Match[1]
	}
	options := Split(req.Match[2], sep)
	if len(options) == 0 {
		return req.Reply(ctx, usage)
	}
	return req.Reply(ctx, options[c.intn(len(options))])
}

// Split breaks s on sep, trimming each option and dropping empty ones.
func Split(s, sep string) []string {
	var out []string
	for _, opt := range strings.Split(s, sep) {
		if opt = strings.TrimSpace(opt); opt != "" {
			out = append(out, opt)
		}
	}
	return out
}
