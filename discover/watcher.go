package discover

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/lukemcguire/zombiecheck/crawler"
)

// Admitter receives newly discovered items while a run is active.
// *crawler.Controller satisfies it.
type Admitter interface {
	// ActiveRun returns the ID of the run in progress, or "" when idle.
	ActiveRun() string
	// AdmitRun adds items to runID and drops them if that run has ended.
	AdmitRun(runID string, items []*crawler.Item) int
}

// WatchOptions tunes a Watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 2s.
	Interval time.Duration
	// Filter, when set, drops links before they are admitted.
	Filter Filter
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
}

// WatchStats are point-in-time watcher counters.
type WatchStats struct {
	Polls    int64 `json:"polls"`
	Admitted int64 `json:"admitted"`
	Errors   int64 `json:"errors"`
}

// Watcher re-reads a Source while a run is active and admits links that were
// not part of the run yet. Between runs it stays idle.
type Watcher struct {
	src     Source
	target  Admitter
	tracker *Tracker
	opts    WatchOptions
	log     zerolog.Logger

	// mu serializes Seed and Poll so a poll never straddles a tracker reset.
	mu sync.Mutex

	polls    atomic.Int64
	admitted atomic.Int64
	errors   atomic.Int64
}

// NewWatcher creates a Watcher. Call Seed when a run starts and Run to
// start polling.
func NewWatcher(src Source, target Admitter, tracker *Tracker, opts WatchOptions) *Watcher {
	opts.defaults()
	return &Watcher{
		src:     src,
		target:  target,
		tracker: tracker,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "watcher").Str("source", src.String()).Logger(),
	}
}

// Seed forgets earlier runs, records links as already admitted, and returns
// them as items for Controller.Start.
func (w *Watcher) Seed(links []Link) []*crawler.Item {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tracker.Reset()
	for _, l := range links {
		w.tracker.Add(l.URL)
	}
	return ToItems(links)
}

// Run polls until ctx is cancelled. It always returns nil; poll errors are
// logged and counted.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", w.opts.Interval).Msg("watch started")
	for {
		select {
		case <-ctx.Done():
			w.logStopped()
			return nil
		case <-ticker.C:
			if w.target.ActiveRun() != "" {
				w.Poll(ctx)
			}
		}
	}
}

// Poll reads the source once and admits unseen links into the active run.
// It returns the number admitted. Links read for a run that ends before they
// are admitted are dropped.
func (w *Watcher) Poll(ctx context.Context) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	runID := w.target.ActiveRun()
	if runID == "" {
		return 0
	}
	w.polls.Add(1)

	links, err := w.src.Links(ctx)
	if err != nil {
		w.errors.Add(1)
		w.log.Warn().Err(err).Msg("poll failed")
		return 0
	}
	if w.opts.Filter != nil {
		links = w.opts.Filter(ctx, links)
	}

	fresh := lo.Filter(links, func(l Link, _ int) bool { return w.tracker.Add(l.URL) })
	if len(fresh) == 0 {
		return 0
	}

	n := w.target.AdmitRun(runID, ToItems(fresh))
	w.admitted.Add(int64(n))
	w.log.Info().Str("run_id", runID).Int("discovered", len(fresh)).Int("admitted", n).Msg("new links")
	return n
}

func (w *Watcher) logStopped() {
	stats := w.Stats()
	level := zerolog.InfoLevel
	trackerErr := w.tracker.LastError()
	if trackerErr != nil {
		level = zerolog.WarnLevel
	}
	w.log.WithLevel(level).
		AnErr("tracker_error", trackerErr).
		Int64("polls", stats.Polls).
		Int64("admitted", stats.Admitted).
		Int64("errors", stats.Errors).
		Msg("watch stopped")
}

// Stats returns the current counters.
func (w *Watcher) Stats() WatchStats {
	return WatchStats{
		Polls:    w.polls.Load(),
		Admitted: w.admitted.Load(),
		Errors:   w.errors.Load(),
	}
}
