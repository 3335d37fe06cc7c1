// Package telegram runs the bot as a Telegram bot using long polling.
// Rooms are chat ids in decimal; "@name" aliases resolve through getChat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mcint/nullbot/gateway"
)

// pollMargin is how much longer the HTTP client waits than the getUpdates
// long-poll it carries.
const pollMargin = 30 * time.Second

// Gateway adapts tgbotapi to gateway.Gateway.
type Gateway struct {
	token       string
	endpoint    string
	client      *http.Client
	pollTimeout time.Duration

	mu       sync.Mutex
	bot      *tgbotapi.BotAPI
	handlers []gateway.Handler
	offset   int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithEndpoint overrides the Bot API endpoint format (tgbotapi.APIEndpoint).
func WithEndpoint(endpoint string) Option {
	return func(g *Gateway) { g.endpoint = endpoint }
}

// WithHTTPClient sets the client used for Bot API calls. Long-polls are
// shortened to fit inside its Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithPollTimeout sizes the default HTTP client for getUpdates long-polls of up
// to d. Non-positive values keep the 60s default.
func WithPollTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.pollTimeout = d
		}
	}
}

func New(token string, opts ...Option) *Gateway {
	g := &Gateway{
		token:       token,
		endpoint:    tgbotapi.APIEndpoint,
		pollTimeout: 60 * time.Second,
	}
	for _, o := range opts {
		o(g)
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: g.pollTimeout + pollMargin}
	}
	return g
}

func (g *Gateway) Name() string { return "telegram" }

// Login verifies the token with getMe.
func (g *Gateway) Login(_ context.Context) error {
	bot, err := tgbotapi.NewBotAPIWithClient(g.token, g.endpoint, g.client)
	if err != nil {
		return fmt.Errorf("telegram login: %w", err)
	}
	slog.Info("telegram bot authorized", slog.String("username", bot.Self.UserName), slog.String("component", "gateway"))
	g.mu.Lock()
	g.bot = bot
	g.mu.Unlock()
	return nil
}

// InitialSync skips pending updates: offset -1 returns only the newest update,
// and the next poll starts after it.
func (g *Gateway) InitialSync(_ context.Context) error {
	bot, err := g.get()
	if err != nil {
		return err
	}
	cfg := tgbotapi.NewUpdate(-1)
	cfg.Timeout = 0
	updates, err := bot.GetUpdates(cfg)
	if err != nil {
		return fmt.Errorf("telegram initial sync: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, u := range updates {
		if u.UpdateID >= g.offset {
			g.offset = u.UpdateID + 1
		}
	}
	slog.Debug("telegram backlog skipped", slog.Int("offset", g.offset))
	return nil
}

// ResolveAlias accepts a numeric chat id or an "@channel" / "@supergroup" name.
func (g *Gateway) ResolveAlias(_ context.Context, alias string) (string, error) {
	alias = strings.TrimSpace(alias)
	if _, err := strconv.ParseInt(alias, 10, 64); err == nil {
		return alias, nil
	}
	if !strings.HasPrefix(alias, "@") {
		return "", fmt.Errorf("%w: %q", gateway.ErrUnknownRoom, alias)
	}
	bot, err := g.get()
	if err != nil {
		return "", err
	}
	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: alias}})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", gateway.ErrUnknownRoom, alias, err)
	}
	return strconv.FormatInt(chat.ID, 10), nil
}

func (g *Gateway) SendMessage(_ context.Context, room, text string) error {
	bot, err := g.get()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", gateway.ErrUnknownRoom, room)
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (g *Gateway) Subscribe(h gateway.Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, h)
}

// RunForever long-polls getUpdates with resync as the server-side timeout.
// tgbotapi requests carry no context, so cancellation takes effect once the
// in-flight poll returns.
func (g *Gateway) RunForever(ctx context.Context, resync time.Duration) error {
	bot, err := g.get()
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.pollOnce(ctx, bot, resync); err != nil {
			slog.Warn("telegram getUpdates failed; retrying", slog.Any("err", err), slog.String("component", "gateway"))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
}

func (g *Gateway) pollOnce(ctx context.Context, bot *tgbotapi.BotAPI, resync time.Duration) error {
	g.mu.Lock()
	cfg := tgbotapi.NewUpdate(g.offset)
	g.mu.Unlock()
	cfg.Timeout = longPollSeconds(resync, g.client.Timeout)
	cfg.AllowedUpdates = []string{"message", "channel_post"}
	updates, err := bot.GetUpdates(cfg)
	if err != nil {
		return err
	}
	for _, u := range updates {
		g.mu.Lock()
		if u.UpdateID < g.offset {
			g.mu.Unlock()
			continue
		}
		g.offset = u.UpdateID + 1
		handlers := append([]gateway.Handler(nil), g.handlers...)
		g.mu.Unlock()

		msg, ok := toMessage(u)
		if !ok {
			continue
		}
		for _, h := range handlers {
			h(ctx, msg)
		}
	}
	return nil
}

// longPollSeconds returns the getUpdates timeout for resync, shortened so that
// Telegram answers before an HTTP client with clientTimeout gives up.
func longPollSeconds(resync, clientTimeout time.Duration) int {
	if clientTimeout > 0 && resync > clientTimeout-pollMargin {
		resync = clientTimeout - pollMargin
	}
	if resync < 0 {
		return 0
	}
	return int(resync / time.Second)
}

func (g *Gateway) get() (*tgbotapi.BotAPI, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bot == nil {
		return nil, gateway.ErrNotLoggedIn
	}
	return g.bot, nil
}

func toMessage(u tgbotapi.Update) (gateway.Message, bool) {
	m := u.Message
	if m == nil {
		m = u.ChannelPost
	}
	if m == nil || m.Text == "" || m.Chat == nil {
		return gateway.Message{}, false
	}
	sender := ""
	if m.From != nil {
		sender = m.From.UserName
		if sender == "" {
			sender = strconv.FormatInt(m.From.ID, 10)
		}
	}
	return gateway.Message{
		ID:        strconv.Itoa(m.MessageID),
		Room:      strconv.FormatInt(m.Chat.ID, 10),
		Sender:    sender,
		Body:      m.Text,
		Timestamp: m.Time(),
	}, true
}
