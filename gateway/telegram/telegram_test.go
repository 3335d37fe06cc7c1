package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mcint/nullbot/gateway"
)

type fakeBotAPI struct {
	mu       sync.Mutex
	sent     []map[string]string
	offsets  []string
	timeouts []string
	updates  []map[string]interface{}
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if !strings.HasPrefix(r.URL.Path, "/bottest-token/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var result interface{}
		f.mu.Lock()
		switch method {
		case "getMe":
			result = map[string]interface{}{"id": 42, "is_bot": true, "username": "nullbot"}
		case "getUpdates":
			f.offsets = append(f.offsets, r.PostForm.Get("offset"))
			f.timeouts = append(f.timeouts, r.PostForm.Get("timeout"))
			result = f.updates
			f.updates = nil
		case "sendMessage":
			f.sent = append(f.sent, map[string]string{"chat_id": r.PostForm.Get("chat_id"), "text": r.PostForm.Get("text")})
			result = map[string]interface{}{"message_id": 1, "date": 0, "chat": map[string]interface{}{"id": 1}}
		case "getChat":
			if r.PostForm.Get("chat_id") != "@streams" {
				f.mu.Unlock()
				json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error_code": 400, "description": "chat not found"})
				return
			}
			result = map[string]interface{}{"id": -100123, "type": "channel"}
		default:
			t.Errorf("unexpected method %s", method)
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": result})
	}
}

func newTestGateway(t *testing.T, f *fakeBotAPI) *Gateway {
	t.Helper()
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)
	g := New("test-token", WithEndpoint(server.URL+"/bot%s/%s"), WithHTTPClient(server.Client()))
	if err := g.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return g
}

func update(id int, chatID int64, user, text string) map[string]interface{} {
	return map[string]interface{}{
		"update_id": id,
		"message": map[string]interface{}{
			"message_id": id * 10,
			"date":       1709294400,
			"chat":       map[string]interface{}{"id": chatID, "type": "group"},
			"from":       map[string]interface{}{"id": 7, "is_bot": false, "first_name": "U", "username": user},
			"text":       text,
		},
	}
}

func TestInitialSyncSkipsBacklog(t *testing.T) {
	f := &fakeBotAPI{updates: []map[string]interface{}{update(41, 5, "old", "!watch add stale")}}
	g := newTestGateway(t, f)

	if err := g.InitialSync(context.Background()); err != nil {
		t.Fatalf("InitialSync() error = %v", err)
	}
	if g.offset != 42 {
		t.Errorf("offset = %d, want 42", g.offset)
	}
	if f.offsets[0] != "-1" {
		t.Errorf("initial sync offset = %q, want -1", f.offsets[0])
	}
}

func TestPollDispatchesMessages(t *testing.T) {
	f := &fakeBotAPI{}
	g := newTestGateway(t, f)
	g.offset = 42

	var got []gateway.Message
	g.Subscribe(func(_ context.Context, m gateway.Message) { got = append(got, m) })

	f.updates = []map[string]interface{}{
		update(42, -5, "viewer", "!choose a,b"),
		{"update_id": 43}, // no message
	}
	bot, _ := g.get()
	if err := g.pollOnce(context.Background(), bot, 0); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("dispatched %d, want 1", len(got))
	}
	m := got[0]
	if m.Room != "-5" || m.Sender != "viewer" || m.Body != "!choose a,b" || m.ID != "420" {
		t.Errorf("message = %+v", m)
	}
	if !m.Timestamp.Equal(time.Unix(1709294400, 0)) {
		t.Errorf("timestamp = %v", m.Timestamp)
	}
	if g.offset != 44 {
		t.Errorf("offset = %d, want 44", g.offset)
	}
	if f.offsets[len(f.offsets)-1] != "42" {
		t.Errorf("poll offset = %q, want 42", f.offsets[len(f.offsets)-1])
	}
}

func TestClientTimeoutCoversLongPoll(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want time.Duration
	}{
		{"default", nil, 90 * time.Second},
		{"long sync timeout", []Option{WithPollTimeout(2 * time.Minute)}, 150 * time.Second},
		{"zero keeps default", []Option{WithPollTimeout(0)}, 90 * time.Second},
		{"custom client wins", []Option{WithPollTimeout(time.Hour), WithHTTPClient(&http.Client{Timeout: time.Second})}, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New("t", tt.opts...).client.Timeout; got != tt.want {
				t.Errorf("client timeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLongPollSeconds(t *testing.T) {
	tests := []struct {
		name          string
		resync, limit time.Duration
		want          int
	}{
		{"fits", 30 * time.Second, 90 * time.Second, 30},
		{"at limit", 60 * time.Second, 90 * time.Second, 60},
		{"clamped", 120 * time.Second, 90 * time.Second, 60},
		{"no client timeout", 5 * time.Minute, 0, 300},
		{"tiny client timeout", 30 * time.Second, 10 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := longPollSeconds(tt.resync, tt.limit); got != tt.want {
				t.Errorf("longPollSeconds(%v, %v) = %d, want %d", tt.resync, tt.limit, got, tt.want)
			}
		})
	}
}

func TestPollFitsInsideClientTimeout(t *testing.T) {
	f := &fakeBotAPI{}
	server := httptest.NewServer(f.handler(t))
	defer server.Close()
	client := *server.Client()
	client.Timeout = 40 * time.Second
	g := New("test-token", WithEndpoint(server.URL+"/bot%s/%s"), WithHTTPClient(&client))
	if err := g.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	bot, _ := g.get()
	if err := g.pollOnce(context.Background(), bot, 90*time.Second); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if got := f.timeouts[len(f.timeouts)-1]; got != "10" {
		t.Errorf("getUpdates timeout = %q, want 10", got)
	}
}

func TestSendAndResolve(t *testing.T) {
	f := &fakeBotAPI{}
	g := newTestGateway(t, f)
	ctx := context.Background()

	room, err := g.ResolveAlias(ctx, "@streams")
	if err != nil {
		t.Fatalf("ResolveAlias() error = %v", err)
	}
	if room != "-100123" {
		t.Errorf("room = %q", room)
	}
	if r, _ := g.ResolveAlias(ctx, "12345"); r != "12345" {
		t.Errorf("numeric alias = %q", r)
	}
	if _, err := g.ResolveAlias(ctx, "@missing"); !errors.Is(err, gateway.ErrUnknownRoom) {
		t.Errorf("missing alias err = %v", err)
	}
	if _, err := g.ResolveAlias(ctx, "streams"); !errors.Is(err, gateway.ErrUnknownRoom) {
		t.Errorf("bare alias err = %v", err)
	}

	if err := g.SendMessage(ctx, room, "alice is live"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(f.sent) != 1 || f.sent[0]["chat_id"] != "-100123" || f.sent[0]["text"] != "alice is live" {
		t.Errorf("sent = %v", f.sent)
	}
	if err := g.SendMessage(ctx, "not-a-chat", "x"); !errors.Is(err, gateway.ErrUnknownRoom) {
		t.Errorf("bad room err = %v", err)
	}
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	f := &fakeBotAPI{}
	g := newTestGateway(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.RunForever(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("RunForever() = %v, want context.Canceled", err)
	}
}
