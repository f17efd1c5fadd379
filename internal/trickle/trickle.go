// Package trickle implements the RPL DIO trickle timer: exponential
// interval doubling, redundancy-based suppression, and the forced reset
// to the minimum interval used by local/global repair.
//
// Grounded on Contiki-NG's rpl-timers.c (new_dio_interval,
// handle_dio_timer, rpl_reset_dio_timer), adapted from Contiki's ctimer
// callbacks to an injectable Scheduler (the same shape used by
// internal/mac) so tests can run with tiny durations instead of a real
// clock.
package trickle

import (
	"math/rand"
	"sync"
	"time"
)

// Config mirrors the DIO_INTERVAL_MIN / DIO_INTERVAL_DOUBLINGS /
// DIO_REDUNDANCY_CONSTANT knobs.
type Config struct {
	// IntervalMin is dio_intmin: the minimum trickle interval, expressed
	// as a log2 of milliseconds (DEFAULT_DIO_INTERVAL_MIN = 12 means a
	// 4.096s floor).
	IntervalMin int
	// IntervalDoublings is dio_intdoubl: how many times the interval may
	// double above IntervalMin before it plateaus.
	IntervalDoublings int
	// Redundancy is dio_redundancy: DIOs heard at or above this count
	// during an interval suppress this node's own DIO. Zero disables
	// suppression.
	Redundancy int
}

// DefaultConfig mirrors RPL's compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		IntervalMin:       12,
		IntervalDoublings: 8,
		Redundancy:        10,
	}
}

// Scheduler abstracts time.AfterFunc for deterministic tests.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) *time.Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, f)
}

// SendFunc transmits this node's own DIO (RPL's dio_output).
type SendFunc func()

// Timer is one instance's DIO trickle timer; each Instance owns exactly
// one. It is not safe for concurrent use from multiple goroutines beyond
// what its own locking provides.
type Timer struct {
	mu sync.Mutex

	cfg   Config
	send  SendFunc
	sched Scheduler
	rng   *rand.Rand

	intCurrent int
	counter    int
	nextDelay  time.Duration
	sendOnFire bool

	ctimer *time.Timer
}

// New builds a trickle timer. send is invoked to emit this node's own
// DIO when the interval expires without sufficient suppression. sched
// may be nil to use the real clock. The jitter comes from a fixed-seed
// random source.
func New(cfg Config, send SendFunc, sched Scheduler) *Timer {
	if sched == nil {
		sched = realScheduler{}
	}
	return &Timer{
		cfg:        cfg,
		send:       send,
		sched:      sched,
		rng:        rand.New(rand.NewSource(1)),
		intCurrent: cfg.IntervalMin,
	}
}

// Reset restarts the trickle schedule at the minimum interval — this is
// rpl_reset_dio_timer, called on topology changes (new preferred parent,
// rank change, local/global repair). Per the original it is a no-op if
// the current interval is already at or below the minimum, matching
// Contiki's "do not reset if already on the minimum interval".
func (tm *Timer) Reset() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.intCurrent <= tm.cfg.IntervalMin {
		return
	}
	tm.counter = 0
	tm.intCurrent = tm.cfg.IntervalMin
	tm.newIntervalLocked()
}

// Start begins the trickle schedule. It is idempotent only in the sense
// that calling it again restarts the ctimer; callers should call it once
// at instance creation.
func (tm *Timer) Start() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.newIntervalLocked()
}

// Stop cancels any pending DIO firing.
func (tm *Timer) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.ctimer != nil {
		tm.ctimer.Stop()
	}
}

// IntervalCurrent reports dio_intcurrent, for diagnostics.
func (tm *Timer) IntervalCurrent() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.intCurrent
}

// NoteConsistentDIO is dio_counter++, called whenever an incoming DIO is
// consistent with this node's own view (same instance/DAG/rank sense) —
// it raises the bar for suppression at the end of the interval.
func (tm *Timer) NoteConsistentDIO() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.counter++
}

// newIntervalLocked is new_dio_interval: picks a random delay in
// [I/2, I), schedules the "did we hear enough DIOs" check at that delay,
// and resets the redundancy counter. tm.mu must be held.
func (tm *Timer) newIntervalLocked() {
	full := time.Duration(1<<uint(tm.intCurrent)) * time.Millisecond
	half := full / 2
	jitter := time.Duration(0)
	if half > 0 {
		jitter = time.Duration(tm.rng.Int63n(int64(half)))
	}
	tm.nextDelay = full - (half + jitter)
	delay := half + jitter

	tm.counter = 0
	tm.sendOnFire = true

	if tm.ctimer != nil {
		tm.ctimer.Stop()
	}
	tm.ctimer = tm.sched.AfterFunc(delay, tm.fire)
}

// fire is handle_dio_timer: at the random point in [I/2, I) chosen by
// newIntervalLocked it decides whether to transmit (based
// on redundancy suppression) and reschedules the remainder of the
// interval; at the interval boundary it doubles (bounded) and starts a
// fresh interval.
func (tm *Timer) fire() {
	tm.mu.Lock()

	if tm.sendOnFire {
		tm.sendOnFire = false
		suppress := tm.cfg.Redundancy != 0 && tm.counter >= tm.cfg.Redundancy
		delay := tm.nextDelay
		send := tm.send
		tm.ctimer = tm.sched.AfterFunc(delay, tm.fire)
		tm.mu.Unlock()
		if !suppress && send != nil {
			send()
		}
		return
	}

	if tm.intCurrent < tm.cfg.IntervalMin+tm.cfg.IntervalDoublings {
		tm.intCurrent++
	}
	tm.newIntervalLocked()
	tm.mu.Unlock()
}
