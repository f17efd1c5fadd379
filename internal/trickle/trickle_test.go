package trickle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{IntervalMin: 1, IntervalDoublings: 3, Redundancy: 2}
}

func TestTimerFiresAndSendsWhenBelowRedundancy(t *testing.T) {
	var fired int32
	tm := New(fastConfig(), func() { atomic.AddInt32(&fired, 1) }, nil)
	tm.Start()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) >= 1 }, time.Second, time.Millisecond)
}

func TestConsistentDIOsAboveRedundancySuppressSend(t *testing.T) {
	var fired int32
	cfg := fastConfig()
	cfg.IntervalMin = 7 // 128 ms: the first send decision lands in [64, 128) ms
	tm := New(cfg, func() { atomic.AddInt32(&fired, 1) }, nil)
	tm.Start()
	// Start resets the redundancy counter, so the DIOs are noted inside
	// the first interval.
	tm.NoteConsistentDIO()
	tm.NoteConsistentDIO()

	// Wait past the first send decision but short of the second
	// interval's (no earlier than 256 ms); the counter should have
	// suppressed the send, but the timer keeps running (doubling
	// continues regardless of suppression).
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestIntervalDoublesUpToBound(t *testing.T) {
	tm := New(fastConfig(), func() {}, nil)
	tm.Start()
	require.Eventually(t, func() bool {
		return tm.IntervalCurrent() == fastConfig().IntervalMin+fastConfig().IntervalDoublings
	}, 2*time.Second, time.Millisecond)
}

func TestResetIsNoopAtMinimum(t *testing.T) {
	tm := New(fastConfig(), func() {}, nil)
	tm.Start()
	before := tm.IntervalCurrent()
	tm.Reset()
	assert.Equal(t, before, tm.IntervalCurrent())
}

func TestResetReturnsToMinimumAfterDoubling(t *testing.T) {
	tm := New(fastConfig(), func() {}, nil)
	tm.Start()
	require.Eventually(t, func() bool { return tm.IntervalCurrent() > fastConfig().IntervalMin }, time.Second, time.Millisecond)

	tm.Reset()
	assert.Equal(t, fastConfig().IntervalMin, tm.IntervalCurrent())
}
