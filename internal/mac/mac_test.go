package mac

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rplmesh/rplmesh/internal/linkstats"
	"github.com/rplmesh/rplmesh/internal/lladdr"
	"github.com/rplmesh/rplmesh/internal/radio"
	"github.com/rplmesh/rplmesh/internal/simradio"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.UnitBackoff = time.Millisecond
	cfg.AckWaitTime = 20 * time.Millisecond
	cfg.AfterAckDetectedWait = 20 * time.Millisecond
	return cfg
}

func addr(b byte) lladdr.Addr {
	var a lladdr.Addr
	a[7] = b
	return a
}

type callbackRecorder struct {
	mu     sync.Mutex
	calls  []TxStatus
	numTx  []int
}

func (r *callbackRecorder) cb(cookie any, status TxStatus, numTx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, status)
	r.numTx = append(r.numTx, numTx)
}

func (r *callbackRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *callbackRecorder) last() (TxStatus, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.calls)
	return r.calls[n-1], r.numTx[n-1]
}

func singleDriverDispatch(fake *simradio.Fake) radio.MultiDriver {
	d := radio.NewMultiDispatch(map[uint8]radio.Driver{0: fake}, map[uint8]uint32{0: fake.DataRate})
	d.SetSelectedInterface(0)
	return d
}

func TestSendBroadcastSucceedsImmediately(t *testing.T) {
	fake := simradio.New(0, 50000)
	disp := singleDriverDispatch(fake)
	link := linkstats.NewTable(linkstats.DefaultConfig(), nil)
	out := NewOutput(fastConfig(), disp, link, nil)

	rec := &callbackRecorder{}
	out.Send(lladdr.Zero, []byte("hello"), 0, false, rec.cb, nil)

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, time.Millisecond)
	status, numTx := rec.last()
	assert.Equal(t, TxOK, status)
	assert.Equal(t, 1, numTx)
}

func TestSendUnicastNoAckExhaustsRetries(t *testing.T) {
	fake := simradio.New(0, 50000)
	disp := singleDriverDispatch(fake)
	link := linkstats.NewTable(linkstats.DefaultConfig(), nil)
	cfg := fastConfig()
	out := NewOutput(cfg, disp, link, nil)

	rec := &callbackRecorder{}
	dst := addr(9)
	out.Send(dst, []byte("hi"), 2, false, rec.cb, nil)

	require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, time.Millisecond)
	status, numTx := rec.last()
	assert.Equal(t, TxNoAck, status)
	assert.Equal(t, 2, numTx)
}

func TestSendUnicastAckMatchSucceeds(t *testing.T) {
	fake := simradio.New(0, 50000)
	fake.AutoAck = true
	disp := singleDriverDispatch(fake)
	link := linkstats.NewTable(linkstats.DefaultConfig(), nil)
	out := NewOutput(fastConfig(), disp, link, nil)

	rec := &callbackRecorder{}
	dst := addr(10)
	out.Send(dst, []byte("hi"), 3, false, rec.cb, nil)

	require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, time.Millisecond)
	status, _ := rec.last()
	assert.Equal(t, TxOK, status)
}

func TestSendAllInterfacesRestoresSelection(t *testing.T) {
	fakeA := simradio.New(1, 50000)
	fakeB := simradio.New(2, 250000)
	fakeA.AutoAck = true
	fakeB.AutoAck = true
	disp := radio.NewMultiDispatch(map[uint8]radio.Driver{1: fakeA, 2: fakeB}, map[uint8]uint32{1: 50000, 2: 250000})
	require.NoError(t, disp.SetSelectedInterface(1))

	link := linkstats.NewTable(linkstats.DefaultConfig(), nil)
	out := NewOutput(fastConfig(), disp, link, nil)

	rec := &callbackRecorder{}
	dst := addr(11)
	out.Send(dst, []byte("burst"), 1, true, rec.cb, nil)

	require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint8(1), disp.SelectedInterface(), "selection must be restored after the all-interfaces burst completes")
}

func TestQueueLengthReflectsPendingPackets(t *testing.T) {
	fake := simradio.New(0, 50000)
	fake.NextTx = []radio.TxResult{radio.TxCollision}
	disp := singleDriverDispatch(fake)
	link := linkstats.NewTable(linkstats.DefaultConfig(), nil)
	cfg := fastConfig()
	cfg.UnitBackoff = time.Hour // freeze the retry so the queue stays observable
	out := NewOutput(cfg, disp, link, nil)

	dst := addr(12)
	out.Send(dst, []byte("a"), 3, false, func(any, TxStatus, int) {}, nil)
	out.Send(dst, []byte("b"), 3, false, func(any, TxStatus, int) {}, nil)

	require.Eventually(t, func() bool { return out.QueueLength(dst) >= 1 }, time.Second, time.Millisecond)
}

func TestCancelQueueDropsPending(t *testing.T) {
	fake := simradio.New(0, 50000)
	disp := singleDriverDispatch(fake)
	link := linkstats.NewTable(linkstats.DefaultConfig(), nil)
	cfg := fastConfig()
	cfg.UnitBackoff = time.Hour
	out := NewOutput(cfg, disp, link, nil)

	dst := addr(13)
	out.Send(dst, []byte("a"), 3, false, func(any, TxStatus, int) {}, nil)
	out.CancelQueue(dst)
	assert.Equal(t, 0, out.QueueLength(dst))
}
