package restore

import (
	"context"
	"slices"
	"time"

	"github.com/hpungsan/snapkeep/internal/capture"
)

// ActionStatus is the synchronous answer to Start.
type ActionStatus string

const (
	StatusOK     ActionStatus = "ok"
	StatusNoData ActionStatus = "no_data"
	StatusNoConn ActionStatus = "no_conn"
	StatusBusy   ActionStatus = "busy"
)

// ItemStatus is the result of writing one item back to the live system.
type ItemStatus string

const (
	ItemOK           ItemStatus = "ok"
	ItemAccessError  ItemStatus = "access_error"
	ItemTypeError    ItemStatus = "type_error"
	ItemDisconnected ItemStatus = "disconnected"
)

// State is the aggregated verdict of a finished batch.
type State string

const (
	StateOK       State = "ok"
	StateWarnings State = "warnings"
	StateError    State = "error"
)

// Live is the live-value layer a restore writes to. Write blocks until the item's
// result is known and may be called from many goroutines at once.
type Live interface {
	Write(ctx context.Context, name string, value capture.Value) ItemStatus
	IsConnected(name string) bool
}

// Request describes one restore. It is consumed by a single Start call.
type Request struct {
	Capture *capture.File

	// Subset restricts the restore to these item names, compared after macro
	// substitution. Nil restores everything.
	Subset []string

	Force  bool
	Macros map[string]string
}

// Result is returned by Start. Outcome is non-nil only when Status is StatusOK; it
// receives exactly one value and is then closed.
type Result struct {
	Status       ActionStatus
	Disconnected []string
	Outcome      <-chan *Outcome
}

// Outcome is the per-item result of a batch. It is not modified after delivery.
type Outcome struct {
	ID         string                `json:"id"`
	Capture    string                `json:"capture"`
	Forced     bool                  `json:"forced"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Items      map[string]ItemStatus `json:"items"`
}

// State aggregates the item statuses. Access errors are expected under force and
// only downgrade the batch to warnings; type errors always make it an error.
func (o *Outcome) State() State {
	state := StateOK
	for _, st := range o.Items {
		switch st {
		case ItemOK:
		case ItemAccessError, ItemDisconnected:
			if !o.Forced {
				return StateError
			}
			state = StateWarnings
		default:
			return StateError
		}
	}
	return state
}

// Counts returns how many items ended in each status.
func (o *Outcome) Counts() map[ItemStatus]int {
	counts := make(map[ItemStatus]int)
	for _, st := range o.Items {
		counts[st]++
	}
	return counts
}

// Failed returns the sorted names of items that did not restore.
func (o *Outcome) Failed() []string {
	var names []string
	for name, st := range o.Items {
		if st != ItemOK {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Duration is the time from dispatch to the last item result.
func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}
