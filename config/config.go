// Package config loads environment variables and provides a typed Config used across the bot.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Required settings are checked by Validate, which main calls before opening any connection.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Gateway kinds accepted by CHAT_GATEWAY.
const (
	GatewayMatrix   = "matrix"
	GatewayTwitch   = "twitch"
	GatewayTelegram = "telegram"
)

type Config struct {
	Gateway string

	// Matrix
	MatrixHomeserver string
	MatrixUsername   string
	MatrixPassword   string

	// Twitch chat
	TwitchBotUsername string
	TwitchOAuthToken  string
	TwitchChannels    []string // extra channels to take commands from

	// Telegram
	TelegramToken string

	// Twitch Helix (stream status provider)
	TwitchClientID     string
	TwitchClientSecret string

	// YouTube Data API (optional second provider)
	YouTubeAPIKey     string
	YouTubeStreamRoom string

	// Database
	DBDsn string

	// Notifications
	StreamRoom string

	Monitor MonitorConfig

	// Session
	SyncTimeout time.Duration

	HTTPAddr string
}

// MonitorConfig holds the stream monitor tuning knobs. They can be overridden by
// the YAML file named in BOT_CONFIG.
type MonitorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	FreshWindow  time.Duration `yaml:"fresh_window"`
	MaxBackoff   int           `yaml:"max_backoff"`

	// YouTubePollInterval paces the YouTube monitor separately: every search.list
	// call costs 100 of the default 10k daily quota units.
	YouTubePollInterval time.Duration `yaml:"youtube_poll_interval"`
}

// Load reads environment variables and applies defaults. It does not fail on missing
// credentials; use Validate for that. Malformed values (bad durations) are errors.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Gateway = strings.ToLower(os.Getenv("CHAT_GATEWAY"))
	if cfg.Gateway == "" {
		cfg.Gateway = GatewayMatrix
	}

	cfg.MatrixHomeserver = os.Getenv("MATRIX_HOMESERVER")
	cfg.MatrixUsername = os.Getenv("MATRIX_USERNAME")
	cfg.MatrixPassword = os.Getenv("MATRIX_PASSWORD")

	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	for _, ch := range strings.Split(os.Getenv("TWITCH_CHANNELS"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			cfg.TwitchChannels = append(cfg.TwitchChannels, ch)
		}
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.StreamRoom = os.Getenv("STREAM_ROOM")

	cfg.YouTubeAPIKey = os.Getenv("YOUTUBE_API_KEY")
	cfg.YouTubeStreamRoom = os.Getenv("YOUTUBE_STREAM_ROOM")
	if cfg.YouTubeStreamRoom == "" {
		cfg.YouTubeStreamRoom = cfg.StreamRoom
	}

	// DB
	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.Monitor = MonitorConfig{
		PollInterval: 30 * time.Second,
		FreshWindow:  5 * time.Minute,
		MaxBackoff:   32,

		YouTubePollInterval: 15 * time.Minute,
	}
	var err error
	if cfg.Monitor.PollInterval, err = durationEnv("STREAM_POLL_INTERVAL", cfg.Monitor.PollInterval); err != nil {
		return nil, err
	}
	if cfg.Monitor.FreshWindow, err = durationEnv("STREAM_FRESH_WINDOW", cfg.Monitor.FreshWindow); err != nil {
		return nil, err
	}
	if cfg.Monitor.YouTubePollInterval, err = durationEnv("YOUTUBE_POLL_INTERVAL", cfg.Monitor.YouTubePollInterval); err != nil {
		return nil, err
	}
	if v := os.Getenv("STREAM_MAX_BACKOFF"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid STREAM_MAX_BACKOFF %q: want a positive integer", v)
		}
		cfg.Monitor.MaxBackoff = n
	}
	if cfg.SyncTimeout, err = durationEnv("SYNC_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	if path := os.Getenv("BOT_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// fileConfig mirrors the subset of settings accepted from BOT_CONFIG.
type fileConfig struct {
	Monitor *MonitorConfig `yaml:"monitor"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read BOT_CONFIG: %w", err)
	}
	fc := fileConfig{Monitor: &c.Monitor}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse BOT_CONFIG %s: %w", path, err)
	}
	if c.Monitor.PollInterval <= 0 || c.Monitor.FreshWindow <= 0 || c.Monitor.MaxBackoff < 1 || c.Monitor.YouTubePollInterval <= 0 {
		return fmt.Errorf("BOT_CONFIG %s: monitor values must be positive", path)
	}
	return nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", key, v)
	}
	return d, nil
}

// Validate checks every setting the bot cannot start without. The returned error
// names all missing variables at once.
func (c *Config) Validate() error {
	var missing []string
	need := func(key, val string) {
		if val == "" {
			missing = append(missing, key)
		}
	}
	switch c.Gateway {
	case GatewayMatrix:
		need("MATRIX_HOMESERVER", c.MatrixHomeserver)
		need("MATRIX_USERNAME", c.MatrixUsername)
		need("MATRIX_PASSWORD", c.MatrixPassword)
	case GatewayTwitch:
		need("TWITCH_BOT_USERNAME", c.TwitchBotUsername)
		need("TWITCH_OAUTH_TOKEN", c.TwitchOAuthToken)
	case GatewayTelegram:
		need("TELEGRAM_TOKEN", c.TelegramToken)
	default:
		return fmt.Errorf("unknown CHAT_GATEWAY %q (want matrix, twitch or telegram)", c.Gateway)
	}
	need("DB_DSN", c.DBDsn)
	need("TWITCH_CLIENT_ID", c.TwitchClientID)
	need("TWITCH_CLIENT_SECRET", c.TwitchClientSecret)
	need("STREAM_ROOM", c.StreamRoom)
	if len(missing) > 0 {
		return errors.New("missing required env: " + strings.Join(missing, ", "))
	}
	return nil
}

// YouTubeEnabled reports whether the optional YouTube monitor should run.
func (c *Config) YouTubeEnabled() bool { return c.YouTubeAPIKey != "" }
