// Package crawler checks a growing set of links with bounded concurrency.
// A Controller owns the run counters and a FIFO queue, dispatches Checker
// invocations up to a concurrency limit, and reports each terminal result
// and the final summary to its Notifier and Marker.
package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lukemcguire/zombiecheck/probe"
	"github.com/lukemcguire/zombiecheck/result"
)

// ErrRunActive is returned by Start while a run is in progress.
var ErrRunActive = errors.New("run already in progress")

// ErrNoRun is returned by Wait when no run has been started.
var ErrNoRun = errors.New("no run started")

// RunState is a point-in-time view of the controller counters.
type RunState struct {
	RunID   string
	Total   int // Items admitted this run
	Checked int // Terminal results received
	Broken  int
	Skipped int
	Active  int // In-flight checks
	Queued  int // Items waiting for a slot
	Running bool
}

// Controller is the scheduler and run controller. All counters and the queue
// are guarded by mu; every transition and its completion check happen in one
// critical section.
type Controller struct {
	cfg     Config
	checker *Checker
	log     zerolog.Logger

	mu      sync.Mutex
	runID   uuid.UUID
	running bool
	queue   []*Item
	total   int
	checked int
	active  int
	skipped int
	broken  []result.LinkResult
	started time.Time
	cancel  context.CancelFunc
	runCtx  context.Context
	run     *runRecord

	// emitMu orders delivery of events to the marker and notifier. It is
	// acquired before mu is released so delivery follows transition order.
	emitMu sync.Mutex
}

// runRecord holds one run's completion signal and summary. summary is set
// before done is closed.
type runRecord struct {
	done    chan struct{}
	summary *result.Result
}

func (r *runRecord) wait(ctx context.Context) (*result.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.summary, nil
	}
}

// New creates a Controller that probes links with prober.
func New(cfg Config, prober probe.Prober) *Controller {
	cfg.applyDefaults()
	return &Controller{
		cfg:     cfg,
		checker: NewChecker(prober, cfg.RequestTimeout, cfg.RetryPolicy),
		log:     cfg.Logger.With().Str("component", "controller").Logger(),
	}
}

// Start begins a new run seeded with items and returns its run ID. It is a
// no-op returning ErrRunActive if a run is already in progress. Starting
// resets all counters and clears every mark from the previous run.
//
// In-flight probes inherit ctx; cancelling it abandons their network calls
// but the run still completes once every admitted item has a result.
func (c *Controller) Start(ctx context.Context, items []*Item) (string, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return "", ErrRunActive
	}

	c.runID = uuid.New()
	c.running = true
	c.queue = nil
	c.total = 0
	c.checked = 0
	c.active = 0
	c.skipped = 0
	c.broken = nil
	c.started = time.Now()
	c.runCtx, c.cancel = context.WithCancel(ctx)
	c.run = &runRecord{done: make(chan struct{})}

	c.admitLocked(items)
	c.pumpLocked()
	events := []RunEvent{c.eventLocked(EventStarted)}
	if evt, finished := c.finishIfDoneLocked(); finished {
		events = append(events, evt)
	}

	runID := c.runID.String()
	c.unlockAndEmit(events)
	return runID, nil
}

// Admit appends items to the tail of the active run's queue and dispatches
// them as slots free up. It returns the number of items admitted, which is 0
// when no run is active.
func (c *Controller) Admit(items []*Item) int {
	return c.admit(uuid.Nil, items)
}

// AdmitRun is Admit restricted to the run runID. Items are dropped when that
// run is no longer the active one.
func (c *Controller) AdmitRun(runID string, items []*Item) int {
	id, err := uuid.Parse(runID)
	if err != nil || id == uuid.Nil {
		return 0
	}
	return c.admit(id, items)
}

func (c *Controller) admit(runID uuid.UUID, items []*Item) int {
	if len(items) == 0 {
		return 0
	}

	c.mu.Lock()
	if !c.running || (runID != uuid.Nil && runID != c.runID) {
		c.mu.Unlock()
		return 0
	}
	c.admitLocked(items)
	c.pumpLocked()
	c.unlockAndEmit([]RunEvent{c.eventLocked(EventAdmitted)})
	return len(items)
}

// Abort abandons the active run. In-flight probes are cancelled and their
// results are discarded. It reports whether a run was active.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}

	c.running = false
	c.cancel()
	c.queue = nil
	c.active = 0
	summary := c.summaryLocked()
	c.run.summary = summary
	close(c.run.done)

	evt := c.eventLocked(EventAborted)
	evt.Summary = summary
	c.unlockAndEmit([]RunEvent{evt})
	return true
}

// Running reports whether a run is in progress. The start trigger should be
// disabled while it returns true.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ActiveRun returns the ID of the run in progress, or "" when idle.
func (c *Controller) ActiveRun() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ""
	}
	return c.runID.String()
}

// Snapshot returns the current counters.
func (c *Controller) Snapshot() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RunState{
		RunID:   c.runIDLocked(),
		Total:   c.total,
		Checked: c.checked,
		Broken:  len(c.broken),
		Skipped: c.skipped,
		Active:  c.active,
		Queued:  len(c.queue),
		Running: c.running,
	}
}

// Wait blocks until the current run finishes or is aborted and returns its
// summary. If no run is active it returns the last run's summary. A run
// started after Wait was called does not affect its result.
func (c *Controller) Wait(ctx context.Context) (*result.Result, error) {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	if run == nil {
		return nil, ErrNoRun
	}
	return run.wait(ctx)
}

// complete records the terminal result of one dispatched item. Results from
// an abandoned run are discarded.
func (c *Controller) complete(runID uuid.UUID, item *Item, res result.LinkResult) {
	c.mu.Lock()
	if !c.running || runID != c.runID {
		c.mu.Unlock()
		c.log.Debug().Str("url", item.URL).Str("run_id", runID.String()).Msg("discarding stale result")
		return
	}

	c.checked++
	switch res.Status {
	case result.StatusBroken:
		c.broken = append(c.broken, res)
	case result.StatusSkipped:
		c.skipped++
	}

	evt := c.eventLocked(EventResult)
	evt.Item = item
	evt.Result = res
	events := []RunEvent{evt}

	c.active--
	c.pumpLocked()
	if done, finished := c.finishIfDoneLocked(); finished {
		events = append(events, done)
	}
	c.unlockAndEmit(events)
}

// admitLocked appends items to the queue and grows total. Must be called
// with mu held.
func (c *Controller) admitLocked(items []*Item) {
	c.queue = append(c.queue, items...)
	c.total += len(items)
}

// pumpLocked dispatches queued items in FIFO order until the concurrency
// limit is reached. It never waits for a check to finish. Must be called with
// mu held.
func (c *Controller) pumpLocked() {
	for c.active < c.cfg.Concurrency && len(c.queue) > 0 {
		item := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.active++
		go c.dispatch(c.runCtx, c.runID, item)
	}
}

func (c *Controller) dispatch(ctx context.Context, runID uuid.UUID, item *Item) {
	res := c.checker.Check(ctx, item)
	c.complete(runID, item, res)
}

// finishIfDoneLocked ends the run when every admitted item has a result.
// Must be called with mu held, after the counter update it follows.
func (c *Controller) finishIfDoneLocked() (RunEvent, bool) {
	if c.checked != c.total || c.active != 0 || len(c.queue) != 0 {
		return RunEvent{}, false
	}

	c.running = false
	c.cancel()
	summary := c.summaryLocked()
	c.run.summary = summary
	close(c.run.done)

	evt := c.eventLocked(EventFinished)
	evt.Summary = summary
	return evt, true
}

func (c *Controller) summaryLocked() *result.Result {
	brokenLinks := make([]result.LinkResult, len(c.broken))
	copy(brokenLinks, c.broken)
	return &result.Result{
		RunID:       c.runID.String(),
		BrokenLinks: brokenLinks,
		Stats: result.RunStats{
			Total:        c.total,
			Checked:      c.checked,
			BrokenCount:  len(brokenLinks),
			SkippedCount: c.skipped,
			Duration:     time.Since(c.started),
		},
	}
}

func (c *Controller) eventLocked(kind EventKind) RunEvent {
	return RunEvent{
		Kind:    kind,
		RunID:   c.runIDLocked(),
		Total:   c.total,
		Checked: c.checked,
		Broken:  len(c.broken),
		Active:  c.active,
		Queued:  len(c.queue),
		Percent: Percent(c.checked, c.total),
		Running: c.running,
	}
}

func (c *Controller) runIDLocked() string {
	if c.runID == uuid.Nil {
		return ""
	}
	return c.runID.String()
}

// unlockAndEmit releases mu and delivers events to the logger, marker and
// notifier. emitMu is taken before mu is released, so a later transition
// cannot overtake these events.
func (c *Controller) unlockAndEmit(events []RunEvent) {
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	for _, evt := range events {
		switch evt.Kind {
		case EventStarted:
			c.cfg.Marker.Reset()
		case EventResult:
			c.cfg.Marker.Mark(evt.Item, evt.Result)
		}
		c.logEvent(evt)
		c.cfg.Notifier.Notify(evt)
	}
}

func (c *Controller) logEvent(evt RunEvent) {
	switch evt.Kind {
	case EventStarted:
		c.log.Info().Str("run_id", evt.RunID).Int("total", evt.Total).Msg("run started")
	case EventAdmitted:
		c.log.Debug().Str("run_id", evt.RunID).Int("total", evt.Total).Int("queued", evt.Queued).Msg("items admitted")
	case EventResult:
		res := evt.Result
		var logEvt *zerolog.Event
		switch res.Status {
		case result.StatusBroken:
			logEvt = c.log.Warn().Str("reason", res.Error).Str("error_type", string(res.ErrorCategory))
		case result.StatusSkipped:
			logEvt = c.log.Debug().Str("reason", res.Error)
		default:
			logEvt = c.log.Debug().Str("method", res.Method)
		}
		logEvt.Str("url", res.URL).
			Str("status", string(res.Status)).
			Int("status_code", res.StatusCode).
			Int("attempts", res.Attempts).
			Int("checked", evt.Checked).
			Int("total", evt.Total).
			Int("percent", evt.Percent).
			Msg("link checked")
	case EventFinished, EventAborted:
		msg := "run finished"
		if evt.Kind == EventAborted {
			msg = "run aborted"
		}
		if evt.Summary == nil {
			return
		}
		for _, link := range evt.Summary.BrokenLinks {
			c.log.Warn().Str("url", link.URL).Str("reason", link.Error).Msg("broken link")
		}
		c.log.Info().
			Str("run_id", evt.RunID).
			Int("total", evt.Summary.Stats.Total).
			Int("checked", evt.Summary.Stats.Checked).
			Int("broken", evt.Summary.Stats.BrokenCount).
			Int("skipped", evt.Summary.Stats.SkippedCount).
			Dur("duration", evt.Summary.Stats.Duration).
			Msg(msg)
	}
}
