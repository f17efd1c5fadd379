package probing

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rplmesh/rplmesh/internal/lladdr"
)

func addr(b byte) lladdr.Addr {
	var a lladdr.Addr
	a[7] = b
	return a
}

type fakeDAG struct {
	urgent    lladdr.Addr
	hasUrgent bool
	preferred lladdr.Addr
	hasPref   bool
	parents   []Parent
}

func (d *fakeDAG) UrgentProbingTarget() (lladdr.Addr, bool) { return d.urgent, d.hasUrgent }
func (d *fakeDAG) PreferredParent() (lladdr.Addr, bool)     { return d.preferred, d.hasPref }
func (d *fakeDAG) Parents() []Parent                        { return d.parents }

type fakeLinks struct {
	nonFresh map[lladdr.Addr]bool
	oldest   map[lladdr.Addr]time.Time
}

func (f *fakeLinks) HasNonFreshInterface(a lladdr.Addr) bool { return f.nonFresh[a] }
func (f *fakeLinks) OldestInterfaceUpdate(a lladdr.Addr) (time.Time, bool) {
	t, ok := f.oldest[a]
	return t, ok
}

func TestTargetPrefersUrgentTarget(t *testing.T) {
	dag := &fakeDAG{urgent: addr(1), hasUrgent: true, preferred: addr(2), hasPref: true}
	links := &fakeLinks{nonFresh: map[lladdr.Addr]bool{addr(2): true}}
	e := NewEngine(DefaultConfig(), dag, links, nil, nil)

	target, ok := e.Target()
	require.True(t, ok)
	assert.Equal(t, addr(1), target)
}

func TestTargetFallsBackToStalePreferredParent(t *testing.T) {
	dag := &fakeDAG{preferred: addr(2), hasPref: true}
	links := &fakeLinks{nonFresh: map[lladdr.Addr]bool{addr(2): true}}
	e := NewEngine(DefaultConfig(), dag, links, nil, nil)

	target, ok := e.Target()
	require.True(t, ok)
	assert.Equal(t, addr(2), target)
}

func TestTargetFallsBackToStalestInterfaceWhenNoOtherCandidate(t *testing.T) {
	dag := &fakeDAG{
		parents: []Parent{
			{Addr: addr(3), RankViaParent: 100},
			{Addr: addr(4), RankViaParent: 50},
		},
	}
	now := time.Now()
	links := &fakeLinks{
		oldest: map[lladdr.Addr]time.Time{
			addr(3): now.Add(-10 * time.Minute),
			addr(4): now.Add(-1 * time.Minute),
		},
	}
	e := NewEngine(DefaultConfig(), dag, links, nil, nil)
	e.rng.Seed(2) // force the 50%-probability branch to miss on the first pick path

	target, ok := e.Target()
	require.True(t, ok)
	assert.Equal(t, addr(3), target, "the parent with the least recently updated interface must win")
}

func TestScheduleFiresAndReschedules(t *testing.T) {
	dag := &fakeDAG{preferred: addr(5), hasPref: true}
	links := &fakeLinks{nonFresh: map[lladdr.Addr]bool{addr(5): true}}

	var calls int32
	cfg := Config{Interval: 5 * time.Millisecond}
	e := NewEngine(cfg, dag, links, func(lladdr.Addr) { atomic.AddInt32(&calls, 1) }, nil)
	e.Schedule()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, time.Millisecond)
	e.Stop()
}

func TestScheduleNowUsesFourSecondWindow(t *testing.T) {
	e := NewEngine(DefaultConfig(), &fakeDAG{}, &fakeLinks{}, func(lladdr.Addr) {}, nil)
	e.ScheduleNow()
	require.NotNil(t, e.timer)
	e.Stop()
}
