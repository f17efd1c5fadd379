// Package ifweight implements the interface-weight recalculation engine:
// periodic density/weight computation from transmit counts, and the
// bounded per-parent delay queue that staggers when a freshly computed
// weight set is actually applied.
//
// Grounded on Contiki-NG's rpl-timers.c (handle_ifw_recalc_timer,
// handle_ifw_delay_timer, rpl_schedule_interface_weighting), adapted
// from Contiki's MEMB/LIST arena to a Go slice-backed bounded queue.
package ifweight

import (
	"math"
	"time"

	"github.com/rplmesh/rplmesh/internal/lladdr"
)

// Config mirrors IF_WEIGHTS_WINDOW / IF_WEIGHTS_DELAY / the weighting
// queue bound.
type Config struct {
	Window          time.Duration
	Delay           time.Duration
	MaxQueueEntries int
}

// DefaultConfig mirrors RPL_IF_WEIGHTS_WINDOW / RPL_IF_WEIGHTS_DELAY /
// RPL_MAX_WEIGHTING_QUEUE_ENTRIES.
func DefaultConfig() Config {
	return Config{
		Window:          60 * time.Second,
		Delay:           10 * time.Second,
		MaxQueueEntries: 4,
	}
}

// Interface is one radio interface's ID and advertised data rate, as
// returned by internal/radio's dispatch layer.
type Interface struct {
	IfaceID  uint8
	DataRate uint32
}

// densityScale and the magic constant are RPL's literal formula:
// density = (tx_to_preferred / window_seconds) * 240; weight =
// round(2^((density*data_rate)/8197.7)).
const (
	densityScale     = 240.0
	weightLogDivisor = 8197.7
)

// ComputeWeights implements rpl_recalculate_interface_weights: given how
// many packets were sent to the preferred parent over the just-elapsed
// window, derive a weight per interface from its advertised data rate.
// Weights are clamped to [1, 255] — a zero weight is never produced,
// matching internal/linkstats.ModifyWeight's rejection of weight zero.
func ComputeWeights(numTxToPreferred int, window time.Duration, ifaces []Interface) map[uint8]uint8 {
	windowSeconds := window.Seconds()
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	density := (float64(numTxToPreferred) / windowSeconds) * densityScale

	out := make(map[uint8]uint8, len(ifaces))
	for _, ifc := range ifaces {
		exp := (density * float64(ifc.DataRate)) / weightLogDivisor
		w := math.Round(math.Pow(2, exp))
		if w < 1 {
			w = 1
		}
		if w > 255 {
			w = 255
		}
		out[ifc.IfaceID] = uint8(w)
	}
	return out
}

// ApplyFunc is invoked once a parent's interface weights are due to be
// applied: the caller pushes the new weights into internal/linkstats
// and re-runs preferred-interface selection for that parent.
type ApplyFunc func(parent lladdr.Addr)

// Scheduler abstracts time.AfterFunc for deterministic tests.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) *time.Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, f)
}

type queueEntry struct {
	parent   lladdr.Addr
	queuedAt time.Time
}

// DelayQueue staggers weight application across parents so a burst of
// topology churn does not apply every parent's weights at once. It is
// rpl_schedule_interface_weighting plus handle_ifw_delay_timer's queue
// drain, collapsed into one type.
type DelayQueue struct {
	cfg   Config
	apply ApplyFunc
	sched Scheduler
	now   func() time.Time

	busy    bool
	timer   *time.Timer
	pending []queueEntry
}

// NewDelayQueue builds a delay queue. sched/now may be nil to use the
// real clock.
func NewDelayQueue(cfg Config, apply ApplyFunc, sched Scheduler, now func() time.Time) *DelayQueue {
	if sched == nil {
		sched = realScheduler{}
	}
	if now == nil {
		now = time.Now
	}
	return &DelayQueue{cfg: cfg, apply: apply, sched: sched, now: now}
}

// Schedule is rpl_schedule_interface_weighting: if the delay timer is
// idle, arm it immediately for parent; otherwise enqueue parent (bounded
// by MaxQueueEntries, dropping the request if the queue is full).
func (q *DelayQueue) Schedule(parent lladdr.Addr) {
	if !q.busy {
		q.arm(parent, q.cfg.Delay)
		return
	}
	if len(q.pending) >= q.cfg.MaxQueueEntries {
		return
	}
	q.pending = append(q.pending, queueEntry{parent: parent, queuedAt: q.now()})
}

func (q *DelayQueue) arm(parent lladdr.Addr, delay time.Duration) {
	q.busy = true
	q.timer = q.sched.AfterFunc(delay, func() { q.fire(parent) })
}

// fire is handle_ifw_delay_timer: apply the due parent's weights, then
// pop the next queued entry (if any) and arm it for whatever delay
// remains of its own Delay budget, accounting for time it already spent
// waiting in the queue.
func (q *DelayQueue) fire(parent lladdr.Addr) {
	if q.apply != nil {
		q.apply(parent)
	}
	q.busy = false

	if len(q.pending) == 0 {
		return
	}
	next := q.pending[0]
	q.pending = q.pending[1:]

	elapsed := q.now().Sub(next.queuedAt)
	remaining := q.cfg.Delay - elapsed
	if remaining < 0 {
		remaining = 0
	}
	q.arm(next.parent, remaining)
}

// Len reports how many parents are waiting behind the in-flight one.
func (q *DelayQueue) Len() int { return len(q.pending) }

// Stop cancels any in-flight delay timer without draining the queue.
func (q *DelayQueue) Stop() {
	if q.timer != nil {
		q.timer.Stop()
	}
}
