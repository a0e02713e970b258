package crawler

import (
	"context"
	"math"

	"github.com/lukemcguire/zombiecheck/result"
)

// EventKind identifies a run lifecycle transition.
type EventKind int

const (
	// EventStarted is emitted when a run starts; the trigger becomes disabled.
	EventStarted EventKind = iota
	// EventAdmitted is emitted when items are added to an active run.
	EventAdmitted
	// EventResult is emitted for every terminal item result.
	EventResult
	// EventFinished is emitted exactly once when a run completes.
	EventFinished
	// EventAborted is emitted when an active run is abandoned.
	EventAborted
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventAdmitted:
		return "admitted"
	case EventResult:
		return "result"
	case EventFinished:
		return "finished"
	case EventAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// RunEvent reports progress of a run. Counters are a consistent snapshot
// taken together with the transition that produced the event.
type RunEvent struct {
	Kind    EventKind
	RunID   string
	Item    *Item             // Set for EventResult
	Result  result.LinkResult // Set for EventResult
	Summary *result.Result    // Set for EventFinished and EventAborted
	Total   int
	Checked int
	Broken  int
	Active  int
	Queued  int
	Percent int
	Running bool // The start trigger is disabled while true
}

// Notifier observes run events. Notify is called in event order, one event at
// a time. It must not call back into the Controller.
type Notifier interface {
	Notify(evt RunEvent)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(evt RunEvent)

// Notify calls f(evt).
func (f NotifierFunc) Notify(evt RunEvent) { f(evt) }

// ChannelNotifier returns a Notifier that sends every event on ch. Sends
// block until the receiver takes the event; once ctx is done events are
// dropped so an abandoned receiver cannot stall the Controller.
func ChannelNotifier(ctx context.Context, ch chan<- RunEvent) Notifier {
	return NotifierFunc(func(evt RunEvent) {
		select {
		case ch <- evt:
		case <-ctx.Done():
		}
	})
}

// Marker applies per-item state for terminal results. Reset clears all marks
// at the start of every run. Implementations must be idempotent.
type Marker interface {
	Mark(item *Item, res result.LinkResult)
	Reset()
}

type nopMarker struct{}

func (nopMarker) Mark(*Item, result.LinkResult) {}
func (nopMarker) Reset()                        {}

// Percent returns checked/total as a rounded percentage, or 0 for an empty run.
func Percent(checked, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(checked) / float64(total) * 100))
}
