package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lukemcguire/zombiecheck/crawler"
	"github.com/lukemcguire/zombiecheck/probe"
	"github.com/lukemcguire/zombiecheck/result"
)

// gatedProber blocks every probe until release is signalled or closed.
type gatedProber struct {
	release chan struct{}
	calls   atomic.Int32
}

func newGatedProber() *gatedProber {
	return &gatedProber{release: make(chan struct{})}
}

func (p *gatedProber) Probe(ctx context.Context, _, method string, _ time.Duration) probe.Outcome {
	p.calls.Add(1)
	select {
	case <-p.release:
		return probe.Outcome{Kind: probe.KindSuccess, Method: method, StatusCode: http.StatusOK}
	case <-ctx.Done():
		return probe.Outcome{Kind: probe.KindNetworkError, Method: method, Err: ctx.Err()}
	}
}

// eventRecorder is a Notifier that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []crawler.RunEvent
}

func (r *eventRecorder) Notify(evt crawler.RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) snapshot() []crawler.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]crawler.RunEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count(kind crawler.EventKind) int {
	n := 0
	for _, evt := range r.snapshot() {
		if evt.Kind == kind {
			n++
		}
	}
	return n
}

func makeItems(n int, prefix string) []*crawler.Item {
	items := make([]*crawler.Item, n)
	for i := range items {
		items[i] = &crawler.Item{URL: fmt.Sprintf("https://x/%s/%d", prefix, i)}
	}
	return items
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitResult(t *testing.T, ctrl *crawler.Controller) *result.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := ctrl.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	return res
}

// TestController_ConcurrencyLimit admits 12 items with a limit of 5 and checks
// the queue split before and after the first completion.
func TestController_ConcurrencyLimit(t *testing.T) {
	prober := newGatedProber()
	events := make(chan crawler.RunEvent, 100)
	ctrl := crawler.New(crawler.Config{
		Concurrency:    5,
		RequestTimeout: time.Second,
		Notifier:       crawler.ChannelNotifier(context.Background(), events),
	}, prober)

	if _, err := ctrl.Start(context.Background(), makeItems(12, "c")); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, "5 probes in flight", func() bool { return prober.calls.Load() == 5 })

	state := ctrl.Snapshot()
	if state.Active != 5 || state.Queued != 7 || state.Total != 12 || state.Checked != 0 || !state.Running {
		t.Fatalf("before first completion: got %+v, want active=5 queued=7 total=12", state)
	}

	prober.release <- struct{}{}
	for evt := range events {
		if evt.Kind == crawler.EventResult {
			break
		}
	}

	state = ctrl.Snapshot()
	if state.Checked != 1 || state.Active != 5 || state.Queued != 6 {
		t.Errorf("after first completion: got %+v, want checked=1 active=5 queued=6", state)
	}

	close(prober.release)
	res := waitResult(t, ctrl)
	if res.Stats.Checked != 12 || res.Stats.Total != 12 {
		t.Errorf("expected 12/12 checked, got %+v", res.Stats)
	}
	if ctrl.Running() {
		t.Error("expected run to be finished")
	}
}

// TestController_StartWhileRunningIsNoop verifies a second trigger changes nothing.
func TestController_StartWhileRunningIsNoop(t *testing.T) {
	prober := newGatedProber()
	ctrl := crawler.New(crawler.Config{Concurrency: 2, RequestTimeout: time.Second}, prober)

	runID, err := ctrl.Start(context.Background(), makeItems(4, "a"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, "2 probes in flight", func() bool { return prober.calls.Load() == 2 })
	before := ctrl.Snapshot()

	_, err = ctrl.Start(context.Background(), makeItems(10, "b"))
	if !errors.Is(err, crawler.ErrRunActive) {
		t.Fatalf("second Start() error = %v, want ErrRunActive", err)
	}

	after := ctrl.Snapshot()
	if before != after {
		t.Errorf("state changed by rejected Start: before %+v, after %+v", before, after)
	}
	if after.RunID != runID {
		t.Errorf("RunID = %q, want %q", after.RunID, runID)
	}

	close(prober.release)
	waitResult(t, ctrl)
}

// TestController_GrowthCompletesOnce admits batches while checks are in
// flight and verifies completion fires once, with checked never above total.
func TestController_GrowthCompletesOnce(t *testing.T) {
	prober := probe.ProberFunc(func(ctx context.Context, url, method string, _ time.Duration) probe.Outcome {
		time.Sleep(2 * time.Millisecond)
		if len(url)%3 == 0 {
			return probe.Outcome{Kind: probe.KindHTTPError, Method: method, StatusCode: http.StatusForbidden}
		}
		return probe.Outcome{Kind: probe.KindSuccess, Method: method, StatusCode: http.StatusOK}
	})
	recorder := &eventRecorder{}
	ctrl := crawler.New(crawler.Config{Concurrency: 3, RequestTimeout: time.Second, Notifier: recorder}, prober)

	if _, err := ctrl.Start(context.Background(), makeItems(10, "seed")); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for batch := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := ctrl.Admit(makeItems(5, fmt.Sprintf("batch%d", batch)))
			admitted.Add(int32(n))
		}()
	}
	wg.Wait()

	res := waitResult(t, ctrl)
	wantTotal := 10 + int(admitted.Load())
	if res.Stats.Total != wantTotal || res.Stats.Checked != wantTotal {
		t.Errorf("expected total=checked=%d, got %+v", wantTotal, res.Stats)
	}
	if got := recorder.count(crawler.EventFinished); got != 1 {
		t.Errorf("expected exactly 1 finished event, got %d", got)
	}

	var brokenResults int
	for _, evt := range recorder.snapshot() {
		if evt.Checked > evt.Total {
			t.Errorf("checked %d exceeds total %d in %s event", evt.Checked, evt.Total, evt.Kind)
		}
		if evt.Kind == crawler.EventResult && evt.Result.IsBroken() {
			brokenResults++
		}
		if evt.Kind == crawler.EventFinished {
			if evt.Active != 0 || evt.Queued != 0 || evt.Checked != evt.Total || evt.Running {
				t.Errorf("finished event with pending work: %+v", evt)
			}
		}
	}
	if res.Stats.BrokenCount != brokenResults {
		t.Errorf("BrokenCount = %d, want %d", res.Stats.BrokenCount, brokenResults)
	}
	last := recorder.snapshot()
	if last[len(last)-1].Kind != crawler.EventFinished {
		t.Errorf("last event = %s, want finished", last[len(last)-1].Kind)
	}
}

// TestController_EmptyRun finishes immediately with no items.
func TestController_EmptyRun(t *testing.T) {
	recorder := &eventRecorder{}
	ctrl := crawler.New(crawler.Config{Notifier: recorder}, newGatedProber())

	if _, err := ctrl.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if ctrl.Running() {
		t.Error("empty run should finish immediately")
	}
	res := waitResult(t, ctrl)
	if res.Stats.Total != 0 || res.Stats.Checked != 0 {
		t.Errorf("unexpected stats %+v", res.Stats)
	}
	events := recorder.snapshot()
	if len(events) != 2 || events[0].Kind != crawler.EventStarted || events[1].Kind != crawler.EventFinished {
		t.Errorf("expected started+finished events, got %v", events)
	}
	if !events[0].Running || events[1].Running {
		t.Error("trigger state should be disabled on start and enabled on finish")
	}
}

// TestController_AdmitWithoutRun ignores items when no run is active.
func TestController_AdmitWithoutRun(t *testing.T) {
	ctrl := crawler.New(crawler.DefaultConfig(), newGatedProber())
	if n := ctrl.Admit(makeItems(3, "x")); n != 0 {
		t.Errorf("Admit() = %d, want 0", n)
	}
	if state := ctrl.Snapshot(); state.Total != 0 || state.Queued != 0 {
		t.Errorf("state changed: %+v", state)
	}
	if _, err := ctrl.Wait(context.Background()); !errors.Is(err, crawler.ErrNoRun) {
		t.Errorf("Wait() error = %v, want ErrNoRun", err)
	}
}

// TestController_AdmitRunScopesToRunID drops items addressed to a run that is
// no longer active.
func TestController_AdmitRunScopesToRunID(t *testing.T) {
	prober := newGatedProber()
	ctrl := crawler.New(crawler.Config{Concurrency: 1, RequestTimeout: time.Second}, prober)

	if got := ctrl.ActiveRun(); got != "" {
		t.Errorf("ActiveRun() before start = %q, want empty", got)
	}
	firstID, err := ctrl.Start(context.Background(), makeItems(1, "first"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if got := ctrl.ActiveRun(); got != firstID {
		t.Errorf("ActiveRun() = %q, want %q", got, firstID)
	}
	ctrl.Abort()

	secondID, err := ctrl.Start(context.Background(), makeItems(1, "second"))
	if err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	if n := ctrl.AdmitRun(firstID, makeItems(3, "stale")); n != 0 {
		t.Errorf("AdmitRun(stale) = %d, want 0", n)
	}
	if n := ctrl.AdmitRun("not-a-run", makeItems(3, "bogus")); n != 0 {
		t.Errorf("AdmitRun(bogus) = %d, want 0", n)
	}
	if n := ctrl.AdmitRun(secondID, makeItems(2, "fresh")); n != 2 {
		t.Errorf("AdmitRun(current) = %d, want 2", n)
	}

	close(prober.release)
	res := waitResult(t, ctrl)
	if res.RunID != secondID || res.Stats.Total != 3 {
		t.Errorf("summary = %s total=%d, want %s total=3", res.RunID, res.Stats.Total, secondID)
	}
}

// TestController_AbortDiscardsStaleResults aborts a run with probes in
// flight and verifies their late results do not leak into the next run.
func TestController_AbortDiscardsStaleResults(t *testing.T) {
	prober := newGatedProber()
	recorder := &eventRecorder{}
	ctrl := crawler.New(crawler.Config{Concurrency: 3, RequestTimeout: time.Second, Notifier: recorder}, prober)

	firstID, err := ctrl.Start(context.Background(), makeItems(3, "old"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, "3 probes in flight", func() bool { return prober.calls.Load() == 3 })

	if !ctrl.Abort() {
		t.Fatal("Abort() = false, want true")
	}
	if ctrl.Abort() {
		t.Error("second Abort() should report no active run")
	}

	secondID, err := ctrl.Start(context.Background(), makeItems(2, "new"))
	if err != nil {
		t.Fatalf("Start() after Abort error: %v", err)
	}
	if secondID == firstID {
		t.Error("expected a fresh run ID")
	}

	close(prober.release)
	res := waitResult(t, ctrl)
	if res.RunID != secondID {
		t.Errorf("summary RunID = %q, want %q", res.RunID, secondID)
	}
	if res.Stats.Total != 2 || res.Stats.Checked != 2 || res.Stats.BrokenCount != 0 {
		t.Errorf("expected clean 2/2 run, got %+v", res.Stats)
	}

	for _, evt := range recorder.snapshot() {
		if evt.Kind == crawler.EventResult && evt.RunID == firstID {
			t.Errorf("stale result delivered: %+v", evt.Result)
		}
	}
	if got := recorder.count(crawler.EventAborted); got != 1 {
		t.Errorf("expected 1 aborted event, got %d", got)
	}
}

type recordingMarker struct {
	mu     sync.Mutex
	resets int
	marks  map[string]result.Status
}

func (m *recordingMarker) Mark(item *crawler.Item, res result.LinkResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[item.URL] = res.Status
}

func (m *recordingMarker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.marks = map[string]result.Status{}
}

// TestController_IntegrationWithHTTPProber runs the full stack against a test
// server covering success, escalation, broken and skipped targets.
func TestController_IntegrationWithHTTPProber(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/no-head", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	marker := &recordingMarker{marks: map[string]result.Status{}}
	cfg := crawler.DefaultConfig()
	cfg.Marker = marker
	ctrl := crawler.New(cfg, probe.NewHTTPProber(probe.Options{}))

	items := []*crawler.Item{
		{URL: ts.URL + "/ok"},
		{URL: ts.URL + "/missing"},
		{URL: ts.URL + "/no-head"},
		{URL: ts.URL + "/forbidden"},
		{URL: "#anchor"},
		{URL: "mailto:someone@example.com"},
	}
	for run := 1; run <= 2; run++ {
		if _, err := ctrl.Start(context.Background(), items); err != nil {
			t.Fatalf("run %d: Start() error: %v", run, err)
		}
		res := waitResult(t, ctrl)

		if res.Stats.Total != 6 || res.Stats.Checked != 6 {
			t.Errorf("run %d: expected 6/6, got %+v", run, res.Stats)
		}
		if res.Stats.BrokenCount != 2 || res.Stats.SkippedCount != 2 {
			t.Errorf("run %d: expected 2 broken and 2 skipped, got %+v", run, res.Stats)
		}
		reasons := map[string]string{}
		for _, link := range res.BrokenLinks {
			reasons[link.URL] = link.Error
		}
		if reasons[ts.URL+"/missing"] != "GET error 404" {
			t.Errorf("run %d: /missing reason = %q", run, reasons[ts.URL+"/missing"])
		}
		if reasons[ts.URL+"/forbidden"] != "HEAD error 403" {
			t.Errorf("run %d: /forbidden reason = %q", run, reasons[ts.URL+"/forbidden"])
		}
	}

	marker.mu.Lock()
	defer marker.mu.Unlock()
	if marker.resets != 2 {
		t.Errorf("expected marks reset once per run, got %d", marker.resets)
	}
	if marker.marks[ts.URL+"/no-head"] != result.StatusOK {
		t.Errorf("/no-head mark = %q, want ok", marker.marks[ts.URL+"/no-head"])
	}
	if marker.marks[ts.URL+"/missing"] != result.StatusBroken {
		t.Errorf("/missing mark = %q, want broken", marker.marks[ts.URL+"/missing"])
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		checked, total, want int
	}{
		{0, 0, 0},
		{0, 12, 0},
		{1, 3, 33},
		{2, 3, 67},
		{12, 12, 100},
	}
	for _, tt := range tests {
		if got := crawler.Percent(tt.checked, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.checked, tt.total, got, tt.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := crawler.DefaultConfig()
	if cfg.Concurrency != 5 {
		t.Errorf("Concurrency = %d, want 5", cfg.Concurrency)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.RetryPolicy.MaxRetries != 1 || cfg.RetryPolicy.Delay != 500*time.Millisecond {
		t.Errorf("RetryPolicy = %+v, want 1 retry / 500ms", cfg.RetryPolicy)
	}
}

func TestChannelNotifier_DropsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan crawler.RunEvent, 1)
	n := crawler.ChannelNotifier(ctx, ch)

	n.Notify(crawler.RunEvent{Kind: crawler.EventStarted})
	cancel()

	done := make(chan struct{})
	go func() {
		n.Notify(crawler.RunEvent{Kind: crawler.EventFinished})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked after cancel")
	}

	if evt := <-ch; evt.Kind != crawler.EventStarted {
		t.Errorf("first event = %v, want started", evt.Kind)
	}
}
