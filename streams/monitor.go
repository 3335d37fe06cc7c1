package streams

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mcint/nullbot/telemetry"
)

// Lister reads the current watch-list.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Sender delivers a chat message into a room.
type Sender interface {
	SendMessage(ctx context.Context, room, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, room, text string) error

func (f SenderFunc) SendMessage(ctx context.Context, room, text string) error {
	return f(ctx, room, text)
}

// Options tune a Monitor. Zero values take the defaults noted on each field.
type Options struct {
	Interval    time.Duration // base sleep between polls; default 30s
	FreshWindow time.Duration // default 5m
	MaxBackoff  int           // cap on the interval multiplier; default 32
	// ProviderTimeout bounds one provider call; default half the interval.
	ProviderTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.FreshWindow <= 0 {
		o.FreshWindow = 5 * time.Minute
	}
	if o.MaxBackoff < 1 {
		o.MaxBackoff = 32
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = o.Interval / 2
	}
}

// Status is a point-in-time view of a Monitor for the status endpoint.
type Status struct {
	Platform  string    `json:"platform"`
	Room      string    `json:"room"`
	Live      []string  `json:"live"`
	LastPoll  time.Time `json:"last_poll"`
	LastError string    `json:"last_error,omitempty"`
	Backoff   int       `json:"backoff"`
	Polls     uint64    `json:"polls"`
	Announced uint64    `json:"announced"`
}

// Monitor polls one Provider for the names in one watch-list and announces
// fresh go-live transitions into one room. Its live set is private to the
// Run goroutine; Status returns copies.
type Monitor struct {
	provider Provider
	list     Lister
	sender   Sender
	room     string
	opts     Options

	backoff *backoff.ExponentialBackOff
	mult    int // interval multiplier applied to the current sleep
	live    Set

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	status Status
}

// NewMonitor wires a Monitor. It does not start polling; call Run.
func NewMonitor(p Provider, list Lister, sender Sender, room string, opts Options) *Monitor {
	opts.setDefaults()
	telemetry.Init()
	maxInterval := opts.Interval * time.Duration(opts.MaxBackoff)
	initial := 2 * opts.Interval
	if initial > maxInterval {
		initial = maxInterval
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxInterval
	b.Reset()
	return &Monitor{
		provider: p,
		list:     list,
		sender:   sender,
		room:     room,
		opts:     opts,
		backoff:  b,
		mult:     1,
		live:     make(Set),
		now:      time.Now,
		sleep:    sleepCtx,
		status:   Status{Platform: p.Platform(), Room: room, Backoff: 1, Live: []string{}},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Platform returns the provider's platform name.
func (m *Monitor) Platform() string { return m.provider.Platform() }

// Status returns a copy of the monitor's current state.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	s.Live = append([]string(nil), m.status.Live...)
	return s
}

// Run polls until ctx is canceled. The first poll happens immediately.
func (m *Monitor) Run(ctx context.Context) error {
	platform := m.provider.Platform()
	slog.Info("stream monitor started",
		slog.String("platform", platform),
		slog.String("room", m.room),
		slog.Duration("interval", m.opts.Interval),
		slog.Duration("fresh_window", m.opts.FreshWindow),
		slog.String("component", "stream_monitor"))
	for {
		next := m.Poll(ctx)
		if err := m.sleep(ctx, next); err != nil {
			slog.Info("stream monitor stopped", slog.String("platform", platform), slog.String("component", "stream_monitor"))
			return err
		}
	}
}

// Poll runs one iteration and returns how long to sleep before the next one.
func (m *Monitor) Poll(ctx context.Context) time.Duration {
	platform := m.provider.Platform()
	ctx = telemetry.NewCorrelation(ctx)
	ctx, span := telemetry.StartSpan(ctx, "stream_monitor.poll", telemetry.PlatformAttr(platform))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("platform", platform), slog.String("component", "stream_monitor"))
	start := time.Now()
	defer func() {
		telemetry.PollDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	}()

	names, err := m.list.List(ctx)
	if err != nil {
		log.Warn("watch-list read failed; skipping cycle", slog.Any("err", err))
		telemetry.RecordError(span, err)
		m.finish("store_error", err)
		return m.opts.Interval
	}
	if len(names) == 0 {
		log.Debug("watch-list empty; skipping provider call")
		m.finish("empty", nil)
		return m.opts.Interval
	}

	var snaps []Snapshot
	pctx, cancel := context.WithTimeout(ctx, m.opts.ProviderTimeout)
	took := telemetry.TimeFunc(telemetry.ProviderDuration.WithLabelValues(platform), func() {
		snaps, err = m.provider.LiveStreams(pctx, names)
	})
	cancel()
	log.Debug("provider call finished", slog.Int("names", len(names)), slog.Duration("took", took))
	if err != nil {
		if ctx.Err() != nil {
			// shutting down; Run returns on the next sleep
			return m.opts.Interval
		}
		telemetry.RecordError(span, err)
		kind := Classify(err)
		telemetry.ProviderErrors.WithLabelValues(platform, kind.String()).Inc()
		if kind == KindTransient {
			next := m.backoff.NextBackOff()
			m.mult = int(next / m.opts.Interval)
			log.Warn("provider unreachable; backing off",
				slog.Any("err", err),
				slog.Duration("next_poll", next))
			m.finish("transient_error", err)
			return next
		}
		log.Error("provider error; no update this cycle", slog.Any("err", err))
		m.finish("provider_error", err)
		return m.opts.Interval
	}

	m.backoff.Reset()
	m.mult = 1
	byName := make(map[string]Snapshot, len(snaps))
	current := make(Set, len(snaps))
	for _, s := range snaps {
		byName[s.Name] = s
		current[s.Name] = struct{}{}
	}

	now := m.now()
	var announced uint64
	for _, name := range Diff(m.live, current).Sorted() {
		snap := byName[name]
		if !Fresh(snap.StartedAt, now, m.opts.FreshWindow) {
			log.Debug("live but not fresh; not announcing",
				slog.String("name", name),
				slog.Time("started_at", snap.StartedAt))
			telemetry.NotificationsSuppressed.WithLabelValues(platform).Inc()
			continue
		}
		if err := m.sender.SendMessage(ctx, m.room, Announcement(snap)); err != nil {
			log.Warn("notification failed", slog.String("name", name), slog.Any("err", err))
			telemetry.NotificationsFailed.WithLabelValues(platform).Inc()
			continue
		}
		announced++
		telemetry.NotificationsSent.WithLabelValues(platform).Inc()
		log.Info("announced stream", slog.String("name", name), slog.String("title", snap.Title))
	}

	m.live = current
	telemetry.LiveEntities.WithLabelValues(platform).Set(float64(len(current)))
	telemetry.SetSpanSuccess(span)

	m.mu.Lock()
	m.status.Announced += announced
	m.mu.Unlock()
	m.finish("ok", nil)
	return m.opts.Interval
}

// finish records the outcome of a poll in metrics and Status.
func (m *Monitor) finish(result string, err error) {
	platform := m.provider.Platform()
	telemetry.Polls.WithLabelValues(platform, result).Inc()
	mult := m.mult
	telemetry.BackoffMultiplier.WithLabelValues(platform).Set(float64(mult))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Polls++
	m.status.LastPoll = m.now()
	m.status.Backoff = mult
	m.status.Live = m.live.Sorted()
	m.status.LastError = ""
	if err != nil {
		m.status.LastError = err.Error()
	}
}

// Announcement formats the go-live message for a snapshot.
func Announcement(s Snapshot) string {
	if s.Title == "" {
		return fmt.Sprintf("%s is live at %s!", s.Label(), s.URL)
	}
	return fmt.Sprintf("%s is live: %s at %s!", s.Label(), s.Title, s.URL)
}
