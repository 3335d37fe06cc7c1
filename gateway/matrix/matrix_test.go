package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/mcint/nullbot/gateway"
)

func TestToMessage(t *testing.T) {
	self := id.UserID("@nullbot:example.org")
	text := func(sender, body, msgType string) *event.Event {
		return &event.Event{
			ID:        "$e1",
			RoomID:    "!room:example.org",
			Sender:    id.UserID(sender),
			Timestamp: 1709294400000,
			Content:   event.Content{Parsed: &event.MessageEventContent{MsgType: event.MessageType(msgType), Body: body}},
		}
	}
	tests := []struct {
		name string
		evt  *event.Event
		ok   bool
	}{
		{"text from user", text("@alice:example.org", "!watch ls", "m.text"), true},
		{"own message", text("@nullbot:example.org", "!watch ls", "m.text"), false},
		{"notice", text("@alice:example.org", "hello", "m.notice"), false},
		{"empty body", text("@alice:example.org", "", "m.text"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := toMessage(tt.evt, self)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			want := gateway.Message{
				ID:        "$e1",
				Room:      "!room:example.org",
				Sender:    "@alice:example.org",
				Body:      "!watch ls",
				Timestamp: time.UnixMilli(1709294400000),
			}
			if msg != want {
				t.Errorf("message = %+v, want %+v", msg, want)
			}
		})
	}
}

type fakeHomeserver struct {
	mu        sync.Mutex
	sent      []string
	syncs     []string
	fullState []string
}

func (f *fakeHomeserver) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		p := r.URL.Path
		switch {
		case strings.HasSuffix(p, "/login"):
			json.NewEncoder(w).Encode(map[string]string{"user_id": "@nullbot:example.org", "access_token": "tok", "device_id": "DEV"})
		case strings.HasSuffix(p, "/sync"):
			since := r.URL.Query().Get("since")
			f.syncs = append(f.syncs, since)
			f.fullState = append(f.fullState, r.URL.Query().Get("full_state"))
			if since == "" {
				// backlog that must never be dispatched
				json.NewEncoder(w).Encode(syncResponse("s1", "$old", "!watch add old"))
				return
			}
			json.NewEncoder(w).Encode(syncResponse("s2", "$new", "!watch ls"))
		case strings.Contains(p, "/directory/room/"):
			if !strings.HasSuffix(p, "#streams:example.org") {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]string{"errcode": "M_NOT_FOUND", "error": "no alias"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"room_id": "!room:example.org", "servers": []string{"example.org"}})
		case strings.HasSuffix(p, "/join"):
			json.NewEncoder(w).Encode(map[string]string{"room_id": "!room:example.org"})
		case strings.Contains(p, "/send/m.room.message/"):
			b, _ := io.ReadAll(r.Body)
			var content struct {
				Body string `json:"body"`
			}
			json.Unmarshal(b, &content)
			f.sent = append(f.sent, content.Body)
			json.NewEncoder(w).Encode(map[string]string{"event_id": "$sent"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, p)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func syncResponse(next, eventID, body string) map[string]interface{} {
	return map[string]interface{}{
		"next_batch": next,
		"rooms": map[string]interface{}{
			"join": map[string]interface{}{
				"!room:example.org": map[string]interface{}{
					"timeline": map[string]interface{}{
						"events": []interface{}{
							map[string]interface{}{
								"type":             "m.room.message",
								"event_id":         eventID,
								"sender":           "@alice:example.org",
								"origin_server_ts": 1709294400000,
								"content":          map[string]string{"msgtype": "m.text", "body": body},
							},
						},
					},
				},
			},
		},
	}
}

func TestGatewaySession(t *testing.T) {
	f := &fakeHomeserver{}
	server := httptest.NewServer(f.handler(t))
	defer server.Close()

	g := New(server.URL, "nullbot", "hunter2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := g.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := g.InitialSync(ctx); err != nil {
		t.Fatalf("InitialSync() error = %v", err)
	}

	room, err := g.ResolveAlias(ctx, "#streams:example.org")
	if err != nil {
		t.Fatalf("ResolveAlias() error = %v", err)
	}
	if room != "!room:example.org" {
		t.Errorf("room = %q", room)
	}
	if _, err := g.ResolveAlias(ctx, "#nope:example.org"); !errors.Is(err, gateway.ErrUnknownRoom) {
		t.Errorf("unknown alias err = %v", err)
	}
	if _, err := g.ResolveAlias(ctx, "streams"); !errors.Is(err, gateway.ErrUnknownRoom) {
		t.Errorf("bare alias err = %v", err)
	}

	if err := g.SendMessage(ctx, room, "alice is live"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	var got []gateway.Message
	g.Subscribe(func(_ context.Context, m gateway.Message) {
		got = append(got, m)
		cancel()
	})
	if err := g.RunForever(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunForever() = %v, want context.Canceled", err)
	}

	if len(got) != 1 || got[0].Body != "!watch ls" || got[0].ID != "$new" {
		t.Errorf("dispatched = %+v, want only the post-sync message", got)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) != 1 || f.sent[0] != "alice is live" {
		t.Errorf("sent = %v", f.sent)
	}
	if len(f.syncs) < 2 || f.syncs[0] != "" || f.syncs[1] != "s1" {
		t.Errorf("sync tokens = %v, want [\"\" s1 ...]", f.syncs)
	}
	// only the first long-poll after the initial sync asks for full state
	for i, fs := range f.fullState {
		want := ""
		if i == 1 {
			want = "true"
		}
		if fs != want {
			t.Errorf("sync %d full_state = %q, want %q", i, fs, want)
		}
	}
}

func TestUseBeforeLogin(t *testing.T) {
	g := New("http://localhost", "u", "p")
	if err := g.SendMessage(context.Background(), "!r:x", "hi"); !errors.Is(err, gateway.ErrNotLoggedIn) {
		t.Errorf("SendMessage err = %v", err)
	}
	if err := g.RunForever(context.Background(), time.Second); !errors.Is(err, gateway.ErrNotLoggedIn) {
		t.Errorf("RunForever err = %v", err)
	}
}
