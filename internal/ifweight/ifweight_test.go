package ifweight

import (
	"sync"
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

func TestComputeWeightsHigherDataRateGetsHigherWeight(t *testing.T) {
	ifaces := []Interface{
		{IfaceID: 1, DataRate: 50000},
		{IfaceID: 2, DataRate: 250000},
	}
	weights := ComputeWeights(30, 60*time.Second, ifaces)
	assert.GreaterOrEqual(t, weights[2], weights[1])
}

func TestComputeWeightsNeverProducesZero(t *testing.T) {
	weights := ComputeWeights(0, 60*time.Second, []Interface{{IfaceID: 1, DataRate: 50000}})
	assert.Equal(t, uint8(1), weights[1])
}

func TestComputeWeightsClampsToByteRange(t *testing.T) {
	weights := ComputeWeights(100000, 1*time.Second, []Interface{{IfaceID: 1, DataRate: 250000}})
	assert.Equal(t, uint8(255), weights[1])
}

func TestDelayQueueAppliesImmediatelyWhenIdle(t *testing.T) {
	var applied int32
	var last atomic.Value
	q := NewDelayQueue(Config{Delay: 5 * time.Millisecond, MaxQueueEntries: 4}, func(p lladdr.Addr) {
		atomic.AddInt32(&applied, 1)
		last.Store(p)
	}, nil, nil)

	q.Schedule(addr(1))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&applied) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, addr(1), last.Load())
}

func TestDelayQueueDrainsInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []lladdr.Addr
	q := NewDelayQueue(Config{Delay: 5 * time.Millisecond, MaxQueueEntries: 4}, func(p lladdr.Addr) {
		mu.Lock()
		order = append(order, p)
		mu.Unlock()
	}, nil, nil)

	q.Schedule(addr(1))
	q.Schedule(addr(2))
	q.Schedule(addr(3))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []lladdr.Addr{addr(1), addr(2), addr(3)}, order)
}

func TestDelayQueueDropsBeyondBound(t *testing.T) {
	q := NewDelayQueue(Config{Delay: time.Hour, MaxQueueEntries: 1}, func(lladdr.Addr) {}, nil, nil)
	q.Schedule(addr(1)) // goes straight to the in-flight slot
	q.Schedule(addr(2)) // fills the one queue slot
	q.Schedule(addr(3)) // dropped, queue already full
	assert.Equal(t, 1, q.Len())
}
