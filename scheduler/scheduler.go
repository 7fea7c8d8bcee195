// Package scheduler drives backup sweeps across every guild and channel on a
// recurring, reconfigurable interval, plus on-demand single-channel backups.
//
// At most one sweep runs at a time: a tick that arrives while a sweep is in
// progress is dropped. Within a sweep channels are processed sequentially and
// each channel's failure is recorded in its ChannelResult without stopping
// the sweep.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/onnwee/chat-archiver/archive"
	"github.com/onnwee/chat-archiver/collector"
	"github.com/onnwee/chat-archiver/notify"
	"github.com/onnwee/chat-archiver/platform"
	"github.com/onnwee/chat-archiver/telemetry"
)

// Store persists captured archives.
type Store interface {
	Write(ctx context.Context, a *archive.Archive) (archive.Ref, error)
}

// Announcer is the notification side of a backup.
type Announcer interface {
	Announce(ctx context.Context, guild platform.Guild, s notify.Summary)
}

// AfterFunc returns a channel that fires once after d and a function that cancels it.
type AfterFunc func(d time.Duration) (<-chan time.Time, func())

func timerAfter(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// Trigger labels what started a backup.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
	TriggerAdmin  Trigger = "admin"
)

// ChannelResult is the outcome of backing up one channel.
type ChannelResult struct {
	GuildID     string
	ChannelID   string
	ChannelName string
	OK          bool
	Ref         archive.Ref
	CreatedAt   time.Time
	Messages    int
	Err         error
}

// SweepSummary collects every channel result of one sweep.
type SweepSummary struct {
	ID         string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []ChannelResult
	// Err is set when the sweep could not enumerate guilds at all.
	Err error
}

// Archived counts successful channels.
func (s SweepSummary) Archived() int {
	n := 0
	for _, r := range s.Results {
		if r.OK {
			n++
		}
	}
	return n
}

// Failed counts failed channels.
func (s SweepSummary) Failed() int { return len(s.Results) - s.Archived() }

// Status is a point-in-time view of the scheduler.
type Status struct {
	Interval  time.Duration
	Sweeping  bool
	Running   bool
	LastSweep *SweepSummary
}

// Scheduler runs sweeps and manual backups.
type Scheduler struct {
	dir       platform.Directory
	collector *collector.Collector
	store     Store
	notifier  Announcer
	cfg       *Config
	logger    *slog.Logger
	after     AfterFunc
	now       func() time.Time

	sweepOnStart bool
	sweeping     atomic.Bool

	mu          sync.Mutex
	last        *SweepSummary
	sweepHooks  []func(context.Context, SweepSummary)
	backupHooks []func(context.Context, Trigger, ChannelResult)
	cancel      context.CancelFunc
	done        chan struct{}
	resched     chan struct{}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithNotifier announces sweep and manual backup results.
func WithNotifier(a Announcer) Option { return func(s *Scheduler) { s.notifier = a } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithAfterFunc replaces the timer used between sweeps.
func WithAfterFunc(f AfterFunc) Option { return func(s *Scheduler) { s.after = f } }

// WithClock overrides the time source for sweep timestamps.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithSweepOnStart runs a sweep as soon as Start is called instead of after the first interval.
func WithSweepOnStart(v bool) Option { return func(s *Scheduler) { s.sweepOnStart = v } }

// New wires a scheduler. cfg may be nil for the default interval.
func New(dir platform.Directory, c *collector.Collector, store Store, cfg *Config, opts ...Option) *Scheduler {
	if cfg == nil {
		cfg = NewConfig(DefaultInterval)
	}
	s := &Scheduler{
		dir:       dir,
		collector: c,
		store:     store,
		cfg:       cfg,
		logger:    slog.Default(),
		after:     timerAfter,
		now:       time.Now,
		resched:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(slog.String("component", "scheduler"))
	telemetry.SetInterval(cfg.Interval())
	return s
}

// Config returns the interval configuration.
func (s *Scheduler) Config() *Config { return s.cfg }

// OnSweep registers fn to receive every completed sweep summary.
func (s *Scheduler) OnSweep(fn func(context.Context, SweepSummary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepHooks = append(s.sweepHooks, fn)
}

// OnBackup registers fn to receive every channel result, from sweeps and manual backups alike.
func (s *Scheduler) OnBackup(fn func(context.Context, Trigger, ChannelResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backupHooks = append(s.backupHooks, fn)
}

// SetIntervalMinutes validates and applies a new interval. The pending wait is
// not disturbed; the next wait uses the new value.
func (s *Scheduler) SetIntervalMinutes(minutes int) error {
	prev := s.cfg.Interval()
	if err := s.cfg.SetIntervalMinutes(minutes); err != nil {
		s.logger.Warn("interval change rejected", slog.Int("minutes", minutes), slog.Duration("current", prev))
		return err
	}
	telemetry.SetInterval(s.cfg.Interval())
	s.logger.Info("interval changed", slog.Duration("from", prev), slog.Duration("to", s.cfg.Interval()))
	return nil
}

// Sweeping reports whether a sweep is in progress.
func (s *Scheduler) Sweeping() bool { return s.sweeping.Load() }

// Status returns the interval, sweep flag and last completed sweep.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Interval: s.cfg.Interval(), Sweeping: s.sweeping.Load(), Running: s.done != nil}
	if s.last != nil {
		last := *s.last
		st.LastSweep = &last
	}
	return st
}

func (s *Scheduler) begin() bool {
	if !s.sweeping.CompareAndSwap(false, true) {
		telemetry.Inc(telemetry.SweepsSkipped)
		s.logger.Info("sweep already in progress, tick dropped")
		return false
	}
	telemetry.SetSweepInProgress(true)
	return true
}

func (s *Scheduler) end() {
	telemetry.SetSweepInProgress(false)
	s.sweeping.Store(false)
}

// Tick runs one sweep unless another is in progress, in which case it returns
// false without touching any channel.
func (s *Scheduler) Tick(ctx context.Context) (SweepSummary, bool) {
	return s.tick(ctx, TriggerTimer)
}

func (s *Scheduler) tick(ctx context.Context, trigger Trigger) (SweepSummary, bool) {
	if !s.begin() {
		return SweepSummary{}, false
	}
	defer s.end()
	return s.sweep(ctx, trigger), true
}

// SweepAsync starts a sweep in the background. It returns false, starting
// nothing, when a sweep is already running.
func (s *Scheduler) SweepAsync(ctx context.Context) bool {
	if !s.begin() {
		return false
	}
	go func() {
		defer s.end()
		s.sweep(ctx, TriggerAdmin)
	}()
	return true
}

func (s *Scheduler) sweep(ctx context.Context, trigger Trigger) SweepSummary {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "scheduler.sweep")
	defer span.End()

	telemetry.Inc(telemetry.SweepsStarted)
	sum := SweepSummary{ID: uuid.NewString(), Trigger: trigger, StartedAt: s.now().UTC()}
	logger := s.logger.With(slog.String("sweep_id", sum.ID), slog.String("trigger", string(trigger)))
	logger.Info("sweep starting")

	telemetry.TimeFunc(telemetry.SweepDuration, func() {
		guilds, err := s.dir.Guilds(ctx)
		if err != nil {
			sum.Err = fmt.Errorf("list guilds: %w", err)
			logger.Error("sweep aborted", slog.Any("err", err))
			return
		}
		for _, g := range guilds {
			if ctx.Err() != nil {
				return
			}
			results := s.sweepGuild(ctx, logger, g, trigger)
			sum.Results = append(sum.Results, results...)
		}
	})
	sum.FinishedAt = s.now().UTC()

	if sum.Err != nil {
		telemetry.RecordError(span, sum.Err)
	} else {
		telemetry.SetSpanSuccess(span)
	}
	logger.Info("sweep finished",
		slog.Int("archived", sum.Archived()),
		slog.Int("failed", sum.Failed()),
		slog.Duration("took", sum.FinishedAt.Sub(sum.StartedAt)))

	s.mu.Lock()
	last := sum
	s.last = &last
	hooks := slices.Clone(s.sweepHooks)
	s.mu.Unlock()
	for _, h := range hooks {
		h(ctx, sum)
	}
	return sum
}

func (s *Scheduler) sweepGuild(ctx context.Context, logger *slog.Logger, g platform.Guild, trigger Trigger) []ChannelResult {
	logger = logger.With(slog.String("guild_id", g.ID))
	channels, err := s.dir.TextChannels(ctx, g.ID)
	if err != nil {
		// an unlistable guild counts as one failed result
		logger.Warn("list channels", slog.Any("err", err))
		telemetry.ObserveChannelBackup(archive.ClassCollection.String())
		return []ChannelResult{{
			GuildID:     g.ID,
			ChannelName: g.Name,
			Err:         fmt.Errorf("list channels of guild %s: %w", g.ID, &archive.CollectionError{ChannelID: g.ID, Err: err}),
		}}
	}
	results := make([]ChannelResult, 0, len(channels))
	for _, ch := range channels {
		if ctx.Err() != nil {
			return results
		}
		if ch.GuildID == "" {
			ch.GuildID = g.ID
		}
		results = append(results, s.backup(ctx, trigger, ch))
	}
	if s.notifier != nil {
		archived := 0
		for _, r := range results {
			if r.OK {
				archived++
			}
		}
		s.notifier.Announce(ctx, g, notify.Summary{
			CreatedAt: s.now().UTC(),
			Archived:  archived,
			Failed:    len(results) - archived,
		})
	}
	return results
}

// backup captures and stores one channel. Errors and panics are confined to
// the returned result.
func (s *Scheduler) backup(ctx context.Context, trigger Trigger, ch platform.Channel) (res ChannelResult) {
	res = ChannelResult{GuildID: ch.GuildID, ChannelID: ch.ID, ChannelName: ch.Name}
	logger := s.logger.With(slog.String("channel_id", ch.ID), slog.String("channel", ch.Name))

	defer func() {
		if r := recover(); r != nil {
			res.OK, res.Ref = false, ""
			res.Err = fmt.Errorf("backup of channel %s panicked: %v", ch.ID, r)
		}
		label := "ok"
		if res.Err != nil {
			label = archive.Classify(res.Err).String()
			logger.Warn("channel backup failed", slog.String("class", label), slog.Any("err", res.Err))
		} else {
			logger.Info("channel backed up", slog.String("ref", string(res.Ref)), slog.Int("messages", res.Messages))
		}
		telemetry.ObserveChannelBackup(label)

		s.mu.Lock()
		hooks := slices.Clone(s.backupHooks)
		s.mu.Unlock()
		for _, h := range hooks {
			h(ctx, trigger, res)
		}
	}()

	a, err := s.collector.Capture(ctx, ch)
	if err != nil {
		res.Err = err
		return res
	}
	ref, err := s.store.Write(ctx, a)
	if err != nil {
		res.Err = err
		return res
	}
	res.OK, res.Ref, res.CreatedAt, res.Messages = true, ref, a.CreatedAt, len(a.Messages)
	return res
}

// BackupNow backs up exactly one channel outside the sweep cadence and
// announces it to the channel's guild. It never waits for a running sweep.
func (s *Scheduler) BackupNow(ctx context.Context, ch platform.Channel) (archive.Ref, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "scheduler.backup_now", telemetry.ChannelAttr(ch.ID))
	defer span.End()

	res := s.backup(ctx, TriggerManual, ch)
	if !res.OK {
		telemetry.RecordError(span, res.Err)
		return "", res.Err
	}
	if s.notifier != nil {
		s.notifier.Announce(ctx, s.guild(ctx, ch.GuildID), notify.Summary{
			CreatedAt:   res.CreatedAt,
			Ref:         res.Ref,
			ChannelID:   ch.ID,
			ChannelName: ch.Name,
			Archived:    1,
		})
	}
	telemetry.SetSpanSuccess(span)
	return res.Ref, nil
}

// BackupChannel resolves channelID through the directory and backs it up.
func (s *Scheduler) BackupChannel(ctx context.Context, channelID string) (archive.Ref, error) {
	ch, err := s.dir.Channel(ctx, channelID)
	if err != nil {
		return "", fmt.Errorf("resolve channel %s: %w", channelID, err)
	}
	return s.BackupNow(ctx, ch)
}

// guild looks up the guild's display name; the id alone is enough to notify.
func (s *Scheduler) guild(ctx context.Context, id string) platform.Guild {
	guilds, err := s.dir.Guilds(ctx)
	if err == nil {
		for _, g := range guilds {
			if g.ID == id {
				return g
			}
		}
	}
	return platform.Guild{ID: id}
}

// Start launches the sweep loop. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	s.logger.Info("scheduler starting",
		slog.Duration("interval", s.cfg.Interval()),
		slog.Bool("sweep_on_start", s.sweepOnStart))
	go s.loop(ctx, done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if s.sweepOnStart {
		s.Tick(ctx)
	}
	for {
		d := s.cfg.Interval()
		fire, stop := s.after(d)
		select {
		case <-ctx.Done():
			stop()
			s.logger.Info("scheduler stopped")
			return
		case <-s.resched:
			stop()
			s.logger.Debug("wait restarted", slog.Duration("interval", s.cfg.Interval()))
		case <-fire:
			s.Tick(ctx)
		}
	}
}

// Reschedule abandons the pending wait and starts a new one with the current interval.
func (s *Scheduler) Reschedule() {
	select {
	case s.resched <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for it to exit. A running sweep stops
// after its current channel.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.mu.Lock()
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
}
