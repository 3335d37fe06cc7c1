// Command nullbot is a chat bot that watches streaming platforms and announces
// when tracked channels go live. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres or SQLite and runs migrations.
//   - Logs into the configured chat network (Matrix, Twitch IRC or Telegram).
//   - Registers the !choose and !watch plugins and starts one stream monitor per
//     configured platform (Twitch always, YouTube when an API key is set).
//   - Exposes /healthz, /readyz, /status and /metrics over HTTP.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mcint/nullbot/bot"
	"github.com/mcint/nullbot/config"
	"github.com/mcint/nullbot/db"
	"github.com/mcint/nullbot/gateway"
	"github.com/mcint/nullbot/gateway/matrix"
	"github.com/mcint/nullbot/gateway/telegram"
	"github.com/mcint/nullbot/gateway/twitchirc"
	"github.com/mcint/nullbot/plugins/choose"
	"github.com/mcint/nullbot/plugins/watch"
	"github.com/mcint/nullbot/server"
	"github.com/mcint/nullbot/streams"
	"github.com/mcint/nullbot/telemetry"
	"github.com/mcint/nullbot/twitchapi"
	"github.com/mcint/nullbot/watchlist"
	"github.com/mcint/nullbot/youtubeapi"
)

const version = "0.1.0"

func main() {
	// .env is a local dev convenience; production relies on real env
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "nullbot:", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("bot exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}

// setupLogging configures the default slog handler from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	if unknown {
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func run(cfg *config.Config) error {
	telemetry.Init()
	shutdown, err := telemetry.InitTracing("nullbot", version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdown()

	database, dialect, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// versioned migrations first; the embedded idempotent schema covers
	// databases created before schema_migrations existed
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database, dialect); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			return fmt.Errorf("migrate db: %w", err)
		}
	}

	gw, err := newGateway(cfg)
	if err != nil {
		return err
	}
	plugins, err := buildPlugins(ctx, cfg)
	if err != nil {
		return err
	}
	b := bot.New(gw, bot.Options{DB: database, Dialect: dialect, SyncTimeout: cfg.SyncTimeout}, plugins...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, database, b, cfg.HTTPAddr) })
	g.Go(func() error {
		err := b.Run(gctx)
		// the HTTP server has nothing to report once the session is gone
		stop()
		return err
	})
	return g.Wait()
}

// newGateway builds the chat adapter selected by CHAT_GATEWAY.
func newGateway(cfg *config.Config) (gateway.Gateway, error) {
	switch cfg.Gateway {
	case config.GatewayMatrix:
		return matrix.New(cfg.MatrixHomeserver, cfg.MatrixUsername, cfg.MatrixPassword), nil
	case config.GatewayTwitch:
		return twitchirc.New(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannels...), nil
	case config.GatewayTelegram:
		return telegram.New(cfg.TelegramToken, telegram.WithPollTimeout(cfg.SyncTimeout)), nil
	default:
		return nil, fmt.Errorf("unknown gateway %q", cfg.Gateway)
	}
}

// monitorOptions returns the monitor tuning for one platform. YouTube gets its
// own interval so a single search per channel stays inside the daily quota.
func monitorOptions(cfg *config.Config, platform string) streams.Options {
	opts := streams.Options{
		Interval:    cfg.Monitor.PollInterval,
		FreshWindow: cfg.Monitor.FreshWindow,
		MaxBackoff:  cfg.Monitor.MaxBackoff,
	}
	if platform == youtubeapi.Platform && cfg.Monitor.YouTubePollInterval > 0 {
		opts.Interval = cfg.Monitor.YouTubePollInterval
	}
	return opts
}

// buildPlugins returns the static plugin list.
func buildPlugins(ctx context.Context, cfg *config.Config) ([]bot.Plugin, error) {
	twitch := twitchapi.NewProvider(cfg.TwitchClientID, cfg.TwitchClientSecret)
	plugins := []bot.Plugin{
		choose.Plugin(),
		watch.Plugin(watch.Options{
			Platform:  twitchapi.Platform,
			Label:     "Twitch",
			Keywords:  []string{"watch", "twitch"},
			Provider:  twitch,
			Validator: twitch,
			Room:      cfg.StreamRoom,
			Monitor:   monitorOptions(cfg, twitchapi.Platform),
		}),
	}

	if cfg.YouTubeEnabled() {
		yt, err := youtubeapi.New(ctx, cfg.YouTubeAPIKey)
		if err != nil {
			return nil, fmt.Errorf("youtube client: %w", err)
		}
		plugins = append(plugins, watch.Plugin(watch.Options{
			Platform:   youtubeapi.Platform,
			Label:      "YouTube",
			Keywords:   []string{"yt", "youtube"},
			Provider:   yt,
			Validator:  yt,
			Normalizer: watchlist.Exact,
			Room:       cfg.YouTubeStreamRoom,
			Monitor:    monitorOptions(cfg, youtubeapi.Platform),
		}))
		slog.Info("youtube monitor enabled", slog.String("component", "youtube_monitor"),
			slog.Duration("interval", monitorOptions(cfg, youtubeapi.Platform).Interval))
	} else {
		slog.Info("youtube monitor disabled: YOUTUBE_API_KEY not set")
	}
	return plugins, nil
}
