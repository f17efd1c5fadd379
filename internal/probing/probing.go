// Package probing implements the probing engine: it decides which
// neighbor to probe next (urgent target, a stale preferred parent, a
// random stale parent, or the parent with the stalest interface record)
// and schedules the next probing round.
//
// Grounded on Contiki-NG's rpl-timers.c (get_probing_delay,
// get_probing_target, rpl_schedule_probing(_now)), adapted from
// Contiki's nbr_table iteration to a small DAG view interface so this
// package stays independent of internal/routing's concrete Parent/DAG
// representation.
package probing

import (
	"math/rand"
	"time"

	"github.com/rplmesh/rplmesh/internal/lladdr"
)

// Config mirrors PROBING_INTERVAL.
type Config struct {
	Interval time.Duration
}

// DefaultConfig mirrors RPL_PROBING_INTERVAL's usual few-minute default.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute}
}

// Parent is the minimal per-parent view get_probing_target needs: its
// address and its current rank-via-parent (for the lowest-rank tie
// break among candidates).
type Parent struct {
	Addr          lladdr.Addr
	RankViaParent uint16
}

// LinkStats is the subset of internal/linkstats.Table's API probing
// needs, kept narrow so this package never imports the concrete table.
type LinkStats interface {
	HasNonFreshInterface(addr lladdr.Addr) bool
	OldestInterfaceUpdate(addr lladdr.Addr) (time.Time, bool)
}

// DAG is the minimal per-DAG view get_probing_target needs.
type DAG interface {
	// UrgentProbingTarget returns the DAG's urgent_probing_target, if set:
	// the post-parent-switch fallback where the previously-best parent is
	// probed urgently until it proves fresh or is dropped.
	UrgentProbingTarget() (lladdr.Addr, bool)
	// PreferredParent returns the DAG's current preferred parent.
	PreferredParent() (lladdr.Addr, bool)
	// Parents returns every parent currently attached to this DAG.
	Parents() []Parent
}

// Scheduler abstracts time.AfterFunc for deterministic tests.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) *time.Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, f)
}

// ProbeFunc is invoked with the chosen target whenever a probing round
// fires; the caller (the routing layer) is responsible for building and
// sending the actual unicast DIS/DIO.
type ProbeFunc func(target lladdr.Addr)

// Engine drives one instance's probing timer.
type Engine struct {
	cfg   Config
	dag   DAG
	link  LinkStats
	probe ProbeFunc
	sched Scheduler
	rng   *rand.Rand

	timer *time.Timer
}

// NewEngine builds a probing engine. sched may be nil to use the real
// clock.
func NewEngine(cfg Config, dag DAG, link LinkStats, probe ProbeFunc, sched Scheduler) *Engine {
	if sched == nil {
		sched = realScheduler{}
	}
	return &Engine{
		cfg:   cfg,
		dag:   dag,
		link:  link,
		probe: probe,
		sched: sched,
		rng:   rand.New(rand.NewSource(1)),
	}
}

// Delay implements get_probing_delay: a jittered interval in
// [Interval/2, 3*Interval/2), centered on Interval (half plus a uniform
// draw over a full interval).
func (e *Engine) Delay() time.Duration {
	if e.cfg.Interval <= 0 {
		return 0
	}
	return e.cfg.Interval/2 + time.Duration(e.rng.Int63n(int64(e.cfg.Interval)))
}

// Target implements get_probing_target's exact priority order:
//  1. the urgent probing target, if any;
//  2. the preferred parent, if any of its interfaces is non-fresh;
//  3. with 50% probability, the parent (among those with at least one
//     non-fresh interface) with the lowest rank-via-parent;
//  4. otherwise, the parent owning the least recently updated interface
//     record.
func (e *Engine) Target() (lladdr.Addr, bool) {
	if e.dag == nil {
		return lladdr.Addr{}, false
	}
	if target, ok := e.dag.UrgentProbingTarget(); ok {
		return target, true
	}
	if pp, ok := e.dag.PreferredParent(); ok && e.link != nil && e.link.HasNonFreshInterface(pp) {
		return pp, true
	}

	parents := e.dag.Parents()

	if e.rng.Intn(2) == 0 {
		var best lladdr.Addr
		var bestRank uint16
		found := false
		for _, p := range parents {
			if e.link == nil || !e.link.HasNonFreshInterface(p.Addr) {
				continue
			}
			if !found || p.RankViaParent < bestRank {
				best, bestRank, found = p.Addr, p.RankViaParent, true
			}
		}
		if found {
			return best, true
		}
	}

	var stalest lladdr.Addr
	var stalestAge time.Time
	found := false
	now := time.Now()
	for _, p := range parents {
		if e.link == nil {
			continue
		}
		oldest, ok := e.link.OldestInterfaceUpdate(p.Addr)
		if !ok {
			continue
		}
		if !found || now.Sub(oldest) > now.Sub(stalestAge) {
			stalest, stalestAge, found = p.Addr, oldest, true
		}
	}
	return stalest, found
}

// Schedule is rpl_schedule_probing: arms the next round at Delay().
func (e *Engine) Schedule() {
	e.arm(e.Delay())
}

// ScheduleNow is rpl_schedule_probing_now: arms the next round within a
// 4-second jitter window, used right after topology changes that want a
// probe soon without a thundering herd.
func (e *Engine) ScheduleNow() {
	e.arm(time.Duration(e.rng.Int63n(int64(4 * time.Second))))
}

func (e *Engine) arm(delay time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = e.sched.AfterFunc(delay, e.fire)
}

func (e *Engine) fire() {
	if target, ok := e.Target(); ok && e.probe != nil {
		e.probe(target)
	}
	e.Schedule()
}

// Stop cancels any pending probing round.
func (e *Engine) Stop() {
	if e.timer != nil {
		e.timer.Stop()
	}
}
