package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CHAT_GATEWAY", "")
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USERNAME", "nullbot")
	t.Setenv("MATRIX_PASSWORD", "hunter2")
	t.Setenv("DB_DSN", "sqlite://:memory:")
	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("STREAM_ROOM", "#streams:example.org")
	t.Setenv("BOT_CONFIG", "")
	t.Setenv("STREAM_POLL_INTERVAL", "")
	t.Setenv("STREAM_FRESH_WINDOW", "")
	t.Setenv("STREAM_MAX_BACKOFF", "")
	t.Setenv("YOUTUBE_POLL_INTERVAL", "")
	t.Setenv("SYNC_TIMEOUT", "")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Gateway != GatewayMatrix {
		t.Errorf("Gateway = %q, want matrix", cfg.Gateway)
	}
	if cfg.Monitor.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.FreshWindow != 5*time.Minute {
		t.Errorf("FreshWindow = %v, want 5m", cfg.Monitor.FreshWindow)
	}
	if cfg.Monitor.MaxBackoff != 32 {
		t.Errorf("MaxBackoff = %d, want 32", cfg.Monitor.MaxBackoff)
	}
	if cfg.Monitor.YouTubePollInterval != 15*time.Minute {
		t.Errorf("YouTubePollInterval = %v, want 15m", cfg.Monitor.YouTubePollInterval)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.YouTubeStreamRoom != cfg.StreamRoom {
		t.Errorf("YouTubeStreamRoom = %q, want fallback to STREAM_ROOM", cfg.YouTubeStreamRoom)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidateNamesEveryMissingVariable(t *testing.T) {
	setRequired(t)
	t.Setenv("MATRIX_PASSWORD", "")
	t.Setenv("STREAM_ROOM", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected error when required env is missing")
	}
	for _, key := range []string{"MATRIX_PASSWORD", "STREAM_ROOM"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidatePerGateway(t *testing.T) {
	tests := []struct {
		name    string
		gateway string
		env     map[string]string
		wantErr string
	}{
		{name: "twitch ok", gateway: "twitch", env: map[string]string{"TWITCH_BOT_USERNAME": "bot", "TWITCH_OAUTH_TOKEN": "oauth:x"}},
		{name: "twitch missing token", gateway: "twitch", env: map[string]string{"TWITCH_BOT_USERNAME": "bot", "TWITCH_OAUTH_TOKEN": ""}, wantErr: "TWITCH_OAUTH_TOKEN"},
		{name: "telegram ok", gateway: "telegram", env: map[string]string{"TELEGRAM_TOKEN": "123:abc"}},
		{name: "telegram missing", gateway: "telegram", env: map[string]string{"TELEGRAM_TOKEN": ""}, wantErr: "TELEGRAM_TOKEN"},
		{name: "unknown gateway", gateway: "irc", wantErr: "unknown CHAT_GATEWAY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv("CHAT_GATEWAY", tt.gateway)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	setRequired(t)
	t.Setenv("STREAM_POLL_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid STREAM_POLL_INTERVAL")
	}
	t.Setenv("STREAM_POLL_INTERVAL", "")
	t.Setenv("STREAM_MAX_BACKOFF", "0")
	if _, err := Load(); err == nil {
		t.Error("expected error for STREAM_MAX_BACKOFF=0")
	}
}

func TestLoadYouTubePollInterval(t *testing.T) {
	setRequired(t)
	t.Setenv("STREAM_POLL_INTERVAL", "10s")
	t.Setenv("YOUTUBE_POLL_INTERVAL", "20m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Monitor.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.YouTubePollInterval != 20*time.Minute {
		t.Errorf("YouTubePollInterval = %v, want 20m", cfg.Monitor.YouTubePollInterval)
	}

	t.Setenv("YOUTUBE_POLL_INTERVAL", "-1m")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative YOUTUBE_POLL_INTERVAL")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "bot.yaml")
	data := "monitor:\n  poll_interval: 20s\n  fresh_window: 2m\n  max_backoff: 8\n  youtube_poll_interval: 30m\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOT_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Monitor.PollInterval != 20*time.Second || cfg.Monitor.FreshWindow != 2*time.Minute || cfg.Monitor.MaxBackoff != 8 ||
		cfg.Monitor.YouTubePollInterval != 30*time.Minute {
		t.Errorf("overlay not applied: %+v", cfg.Monitor)
	}
}

func TestLoadTwitchChannels(t *testing.T) {
	setRequired(t)
	t.Setenv("TWITCH_CHANNELS", " alpha, ,beta ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.TwitchChannels) != 2 || cfg.TwitchChannels[0] != "alpha" || cfg.TwitchChannels[1] != "beta" {
		t.Errorf("TwitchChannels = %q, want [alpha beta]", cfg.TwitchChannels)
	}
}
