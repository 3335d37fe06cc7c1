// Package matrix runs the bot on a Matrix homeserver through mautrix.
//
// The sync loop is driven here rather than by Client.Sync so the long-poll
// timeout is configurable and the backlog can be discarded explicitly: InitialSync
// performs one sync whose events are thrown away and keeps only its next_batch.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/mcint/nullbot/gateway"
)

// maxSyncOutage is how long RunForever keeps retrying a failing sync before it
// gives up and returns the error.
const maxSyncOutage = 10 * time.Minute

// Gateway adapts a mautrix client to gateway.Gateway.
type Gateway struct {
	homeserver string
	username   string
	password   string

	mu       sync.Mutex
	client   *mautrix.Client
	syncer   *mautrix.DefaultSyncer
	since    string
	handlers []gateway.Handler
}

func New(homeserver, username, password string) *Gateway {
	return &Gateway{homeserver: homeserver, username: username, password: password}
}

func (g *Gateway) Name() string { return "matrix" }

// Login authenticates with a password and registers the message and invite handlers.
func (g *Gateway) Login(ctx context.Context) error {
	client, err := mautrix.NewClient(g.homeserver, "", "")
	if err != nil {
		return fmt.Errorf("matrix client: %w", err)
	}
	resp, err := client.Login(ctx, &mautrix.ReqLogin{
		Type:                     mautrix.AuthTypePassword,
		Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: g.username},
		Password:                 g.password,
		InitialDeviceDisplayName: "nullbot",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	slog.Info("matrix logged in", slog.String("user_id", resp.UserID.String()), slog.String("component", "gateway"))

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, g.onMessage)
	syncer.OnEventType(event.StateMember, g.onMember)

	g.mu.Lock()
	g.client = client
	g.syncer = syncer
	g.mu.Unlock()
	return nil
}

// InitialSync fetches the current state and discards it, so only events that
// arrive after this call reach the handlers.
func (g *Gateway) InitialSync(ctx context.Context) error {
	client, err := g.get()
	if err != nil {
		return err
	}
	resp, err := client.SyncRequest(ctx, 0, "", "", false, event.PresenceOnline)
	if err != nil {
		return fmt.Errorf("matrix initial sync: %w", err)
	}
	g.mu.Lock()
	g.since = resp.NextBatch
	g.mu.Unlock()
	slog.Debug("matrix backlog discarded", slog.Int("joined_rooms", len(resp.Rooms.Join)))
	return nil
}

// ResolveAlias accepts a room id (!abc:server) or alias (#name:server) and makes
// sure the bot has joined it.
func (g *Gateway) ResolveAlias(ctx context.Context, alias string) (string, error) {
	client, err := g.get()
	if err != nil {
		return "", err
	}
	alias = strings.TrimSpace(alias)
	var roomID id.RoomID
	switch {
	case strings.HasPrefix(alias, "!"):
		roomID = id.RoomID(alias)
	case strings.HasPrefix(alias, "#"):
		resp, err := client.ResolveAlias(ctx, id.RoomAlias(alias))
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", gateway.ErrUnknownRoom, alias, err)
		}
		roomID = resp.RoomID
	default:
		return "", fmt.Errorf("%w: %q is neither a room id nor an alias", gateway.ErrUnknownRoom, alias)
	}
	if _, err := client.JoinRoomByID(ctx, roomID); err != nil {
		return "", fmt.Errorf("join %s: %w", roomID, err)
	}
	return roomID.String(), nil
}

func (g *Gateway) SendMessage(ctx context.Context, room, text string) error {
	client, err := g.get()
	if err != nil {
		return err
	}
	if _, err := client.SendText(ctx, id.RoomID(room), text); err != nil {
		return fmt.Errorf("matrix send: %w", err)
	}
	return nil
}

func (g *Gateway) Subscribe(h gateway.Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, h)
}

// RunForever long-polls /sync with resync as the server-side timeout. Failing
// syncs are retried with exponential backoff; an invalidated token, or an outage
// longer than maxSyncOutage, ends the session.
func (g *Gateway) RunForever(ctx context.Context, resync time.Duration) error {
	client, err := g.get()
	if err != nil {
		return err
	}
	timeoutMS := int(resync / time.Millisecond)
	// the first sync after login resends full room state
	fullState := true
	for {
		g.mu.Lock()
		since := g.since
		g.mu.Unlock()

		resp, err := backoff.Retry(ctx, func() (*mautrix.RespSync, error) {
			resp, err := client.SyncRequest(ctx, timeoutMS, since, "", fullState, event.PresenceOnline)
			if err != nil && isSessionError(err) {
				return nil, backoff.Permanent(err)
			}
			return resp, err
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(maxSyncOutage),
			backoff.WithNotify(func(err error, next time.Duration) {
				slog.Warn("matrix sync failed; retrying", slog.Any("err", err), slog.Duration("next", next), slog.String("component", "gateway"))
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("matrix sync: %w", err)
		}
		fullState = false
		if err := g.syncer.ProcessResponse(ctx, resp, since); err != nil {
			slog.Error("matrix sync processing failed", slog.Any("err", err), slog.String("component", "gateway"))
		}
		g.mu.Lock()
		g.since = resp.NextBatch
		g.mu.Unlock()
	}
}

func isSessionError(err error) bool {
	return errors.Is(err, mautrix.MUnknownToken) || errors.Is(err, mautrix.MMissingToken)
}

func (g *Gateway) get() (*mautrix.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil, gateway.ErrNotLoggedIn
	}
	return g.client, nil
}

func (g *Gateway) onMessage(ctx context.Context, evt *event.Event) {
	g.mu.Lock()
	self := id.UserID("")
	if g.client != nil {
		self = g.client.UserID
	}
	handlers := append([]gateway.Handler(nil), g.handlers...)
	g.mu.Unlock()

	msg, ok := toMessage(evt, self)
	if !ok {
		return
	}
	for _, h := range handlers {
		h(ctx, msg)
	}
}

// onMember accepts invites addressed to the bot.
func (g *Gateway) onMember(ctx context.Context, evt *event.Event) {
	client, err := g.get()
	if err != nil {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite || evt.GetStateKey() != client.UserID.String() {
		return
	}
	if _, err := client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Warn("failed to accept invite", slog.String("room", evt.RoomID.String()), slog.Any("err", err))
		return
	}
	slog.Info("joined room on invite", slog.String("room", evt.RoomID.String()), slog.String("inviter", evt.Sender.String()))
}

func toMessage(evt *event.Event, self id.UserID) (gateway.Message, bool) {
	if evt.Sender == self {
		return gateway.Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText || content.Body == "" {
		return gateway.Message{}, false
	}
	return gateway.Message{
		ID:        evt.ID.String(),
		Room:      evt.RoomID.String(),
		Sender:    evt.Sender.String(),
		Body:      content.Body,
		Timestamp: time.UnixMilli(evt.Timestamp),
	}, true
}
