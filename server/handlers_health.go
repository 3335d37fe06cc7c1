package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/mcint/nullbot/streams"
	"github.com/mcint/nullbot/telemetry"
)

// HandleHealthz responds to liveness checks. The process is alive if it can answer.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness checks: the database answers and the chat
// session is receiving.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"session", func() error {
			if h.bot == nil || !h.bot.Ready() {
				return errors.New("chat session not established")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	Ready    bool             `json:"ready"`
	Tracing  bool             `json:"tracing"`
	Time     time.Time        `json:"time"`
	Monitors []streams.Status `json:"monitors"`
}

// HandleStatus reports each stream monitor's live set, last poll and backoff.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{Time: time.Now().UTC(), Tracing: telemetry.TracingEnabled(), Monitors: []streams.Status{}}
	if h.bot != nil {
		resp.Ready = h.bot.Ready()
		resp.Monitors = h.bot.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
