package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockHelixServer is a stateful fake of the Helix endpoints the bot uses:
// /oauth2/token, /helix/users and /helix/streams. Point a HelixClient at
// URL+"/helix" and its TokenSource at URL+"/oauth2/token".
type MockHelixServer struct {
	*httptest.Server

	mu      sync.Mutex
	users   map[string]string // login -> id
	live    map[string]MockStream
	status  int // when non-zero every Helix call answers with it
	request []string
}

// MockStream is one live stream served by /helix/streams.
type MockStream struct {
	Login     string
	Name      string
	Title     string
	StartedAt time.Time
}

// NewMockHelixServer starts a server with no known users and nobody live.
func NewMockHelixServer(t *testing.T) *MockHelixServer {
	t.Helper()
	m := &MockHelixServer{users: map[string]string{}, live: map[string]MockStream{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", m.token)
	mux.HandleFunc("/helix/users", m.getUsers)
	mux.HandleFunc("/helix/streams", m.getStreams)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// AddUsers makes logins known to /helix/users.
func (m *MockHelixServer) AddUsers(logins ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range logins {
		m.users[strings.ToLower(l)] = "id-" + strings.ToLower(l)
	}
}

// SetLive replaces the set of live streams.
func (m *MockHelixServer) SetLive(streams ...MockStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = make(map[string]MockStream, len(streams))
	for _, s := range streams {
		m.live[strings.ToLower(s.Login)] = s
	}
}

// FailWith makes every Helix call answer with status; 0 restores normal answers.
func (m *MockHelixServer) FailWith(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// Requests returns the Helix paths called so far, in order.
func (m *MockHelixServer) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.request...)
}

func (m *MockHelixServer) token(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"access_token": "mock-app-token",
		"expires_in":   3600,
		"token_type":   "bearer",
	})
}

// begin records the call and reports whether the handler should continue.
func (m *MockHelixServer) begin(w http.ResponseWriter, r *http.Request) bool {
	m.mu.Lock()
	m.request = append(m.request, r.URL.Path)
	status := m.status
	m.mu.Unlock()
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return false
	}
	if r.Header.Get("Authorization") == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return false
	}
	return true
}

func (m *MockHelixServer) getUsers(w http.ResponseWriter, r *http.Request) {
	if !m.begin(w, r) {
		return
	}
	m.mu.Lock()
	data := []map[string]string{}
	for _, l := range r.URL.Query()["login"] {
		if id, ok := m.users[strings.ToLower(l)]; ok {
			data = append(data, map[string]string{"id": id, "login": strings.ToLower(l), "display_name": l})
		}
	}
	m.mu.Unlock()
	writeJSON(w, map[string]any{"data": data})
}

func (m *MockHelixServer) getStreams(w http.ResponseWriter, r *http.Request) {
	if !m.begin(w, r) {
		return
	}
	m.mu.Lock()
	data := []map[string]string{}
	for _, l := range r.URL.Query()["user_login"] {
		s, ok := m.live[strings.ToLower(l)]
		if !ok {
			continue
		}
		name := s.Name
		if name == "" {
			name = s.Login
		}
		data = append(data, map[string]string{
			"id":         "stream-" + strings.ToLower(s.Login),
			"user_login": strings.ToLower(s.Login),
			"user_name":  name,
			"type":       "live",
			"title":      s.Title,
			"started_at": s.StartedAt.UTC().Format(time.RFC3339),
		})
	}
	m.mu.Unlock()
	writeJSON(w, map[string]any{"data": data})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
