// Package mac implements the unicast MAC output engine and input demux:
// per-neighbor transmit queues, binary-exponential backoff, ACK
// matching, the "all-interfaces transmit" fan-out, and duplicate
// suppression on receive.
//
// Grounded on Contiki-NG's twofaced-mac (twofaced-mac-output.c's
// queueing/backoff/outcome handling, twofaced-mac.c's all-interfaces
// fan-out and input filtering), adapted from Contiki's memb/list arenas
// and ctimer callbacks to Go maps/slices and an explicit scheduler hook.
package mac

import (
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rplmesh/rplmesh/internal/frame"
	"github.com/rplmesh/rplmesh/internal/linkstats"
	"github.com/rplmesh/rplmesh/internal/lladdr"
	"github.com/rplmesh/rplmesh/internal/metrics"
	"github.com/rplmesh/rplmesh/internal/radio"
)

// TxStatus mirrors MAC_TX_*.
type TxStatus int

const (
	TxOK TxStatus = iota
	TxCollision
	TxNoAck
	TxErrFatal
	TxErr
	TxDeferred
)

// Config holds the MAC-relevant tunables.
type Config struct {
	MaxNeighborQueues      int
	MaxPacketPerNeighbor   int
	MinBE                  int
	MaxBE                  int
	MaxBackoff             int
	MaxFrameRetries        int
	UnitBackoff            time.Duration
	AckWaitTime            time.Duration
	AfterAckDetectedWait   time.Duration
	AckLen                 int
}

// DefaultConfig mirrors TWOFACED_MAC_* compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		MaxNeighborQueues:    16,
		MaxPacketPerNeighbor: 8,
		MinBE:                3,
		MaxBE:                5,
		MaxBackoff:           5,
		MaxFrameRetries:      3,
		UnitBackoff:          320 * time.Microsecond, // aUnitBackoffPeriod, RTIMER_SECOND/3125
		AckWaitTime:          400 * time.Microsecond, // RTIMER_SECOND/2500
		AfterAckDetectedWait: 667 * time.Microsecond, // RTIMER_SECOND/1500
		AckLen:               frame.AckLen,
	}
}

// SentCallback is invoked exactly once per enqueued packet, with the
// terminal status and the number of over-the-air transmission attempts
// actually made for it.
type SentCallback func(cookie any, status TxStatus, numTx int)

type queuedPacket struct {
	payload      []byte
	ifaceID      *uint8 // nil: use the dispatcher's currently-selected interface
	maxTx        int
	sentCallback SentCallback
	cookie       any
}

type neighborQueue struct {
	addr    lladdr.Addr
	packets []*queuedPacket
	numTx   int
	numCol  int
	timer   *time.Timer
}

// Scheduler abstracts the event-loop's timer facility so tests can drive
// backoff deterministically instead of waiting on a real clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) *time.Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, f)
}

// Output is the per-node MAC output engine.
type Output struct {
	mu   sync.Mutex
	cfg  Config
	disp radio.MultiDriver
	link *linkstats.Table
	sched Scheduler
	rng  *rand.Rand

	seqno    uint8
	seqInit  bool
	queues   map[lladdr.Addr]*neighborQueue
	duplicates *dupTable
}

// NewOutput wires the MAC output engine to a multi-radio dispatcher and
// the link-stats table that every terminal outcome feeds.
func NewOutput(cfg Config, disp radio.MultiDriver, link *linkstats.Table, sched Scheduler) *Output {
	if sched == nil {
		sched = realScheduler{}
	}
	return &Output{
		cfg:        cfg,
		disp:       disp,
		link:       link,
		sched:      sched,
		rng:        rand.New(rand.NewSource(1)),
		queues:     make(map[lladdr.Addr]*neighborQueue),
		duplicates: newDupTable(64),
	}
}

func (o *Output) nextSeqno() uint8 {
	if !o.seqInit {
		o.seqno = uint8(o.rng.Intn(256))
		o.seqInit = true
	}
	if o.seqno == 0 {
		o.seqno++
	}
	s := o.seqno
	o.seqno++
	return s
}

// Send implements the output(callback, cookie) contract. dst is the
// broadcast address (lladdr.Zero) or a unicast neighbor. allInterfaces
// requests a fan-out transmit across every dispatched interface.
func (o *Output) Send(dst lladdr.Addr, payload []byte, maxTx int, allInterfaces bool, cb SentCallback, cookie any) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seq := o.nextSeqno()
	framed := frame.Build(&frame.Frame{Type: frame.TypeData, Dst: dst, Src: lladdr.Zero, Seq: seq, Payload: payload})

	if maxTx <= 0 {
		maxTx = o.cfg.MaxFrameRetries + 1
	}

	if allInterfaces {
		ifaces := o.disp.InterfaceIDs()
		if len(ifaces) == 0 {
			o.enqueueLocked(dst, framed, nil, maxTx, cb, cookie)
			return
		}
		prevSelected := o.disp.SelectedInterface()
		for i, ifd := range ifaces {
			id := ifd.IfaceID
			if i == len(ifaces)-1 {
				restore := prevSelected
				wrapped := func(cookie any, status TxStatus, numTx int) {
					o.disp.SetSelectedInterface(restore)
					if cb != nil {
						cb(cookie, status, numTx)
					}
				}
				o.enqueueLocked(dst, framed, &id, maxTx, wrapped, cookie)
			} else {
				o.enqueueLocked(dst, framed, &id, maxTx, cb, cookie)
			}
		}
		return
	}

	o.enqueueLocked(dst, framed, nil, maxTx, cb, cookie)
}

func (o *Output) enqueueLocked(dst lladdr.Addr, framed []byte, ifaceID *uint8, maxTx int, cb SentCallback, cookie any) {
	nq, ok := o.queues[dst]
	if !ok {
		if len(o.queues) >= o.cfg.MaxNeighborQueues {
			if cb != nil {
				cb(cookie, TxErr, 1)
			}
			return
		}
		nq = &neighborQueue{addr: dst}
		o.queues[dst] = nq
	}
	if len(nq.packets) >= o.cfg.MaxPacketPerNeighbor {
		if cb != nil {
			cb(cookie, TxErr, 1)
		}
		return
	}
	pkt := &queuedPacket{payload: framed, ifaceID: ifaceID, maxTx: maxTx, sentCallback: cb, cookie: cookie}
	nq.packets = append(nq.packets, pkt)
	if len(nq.packets) == 1 {
		o.scheduleTransmissionLocked(nq)
	}
}

// backoffDelay implements schedule_transmission's BE/backoff formula.
func (o *Output) backoffDelay(numCol int) time.Duration {
	be := numCol + o.cfg.MinBE
	if be > o.cfg.MaxBE {
		be = o.cfg.MaxBE
	}
	maxSlots := (1 << uint(be)) - 1
	if maxSlots <= 0 {
		return 0
	}
	slots := o.rng.Intn(maxSlots + 1)
	return time.Duration(slots) * o.cfg.UnitBackoff
}

func (o *Output) scheduleTransmissionLocked(nq *neighborQueue) {
	delay := o.backoffDelay(nq.numCol)
	nq.timer = o.sched.AfterFunc(delay, func() { o.transmitFromQueue(nq.addr) })
}

func (o *Output) transmitFromQueue(addr lladdr.Addr) {
	o.mu.Lock()
	nq, ok := o.queues[addr]
	if !ok || len(nq.packets) == 0 {
		o.mu.Unlock()
		return
	}
	pkt := nq.packets[0]
	o.mu.Unlock()

	status := o.sendOnePacket(addr, pkt)
	o.packetSentResult(addr, pkt, status, 1)
}

// sendOnePacket implements send_one_packet: prepare, collision check,
// transmit, and (for unicast) the two busy-wait windows for ACK
// matching.
func (o *Output) sendOnePacket(addr lladdr.Addr, pkt *queuedPacket) TxStatus {
	var driver radio.Driver = o.disp
	if pkt.ifaceID != nil {
		if d, ok := o.disp.DriverFor(*pkt.ifaceID); ok {
			driver = d
		}
	}

	isBroadcast := addr.IsZero()

	if err := driver.Prepare(pkt.payload); err != nil {
		return TxErrFatal
	}

	if driver.ReceivingPacket() || (!isBroadcast && driver.PendingPacket()) {
		return TxCollision
	}

	result := driver.Transmit(len(pkt.payload))
	switch result {
	case radio.TxCollision:
		return TxCollision
	case radio.TxOK:
		if isBroadcast {
			return TxOK
		}
		return o.awaitAck(driver, pkt)
	default:
		return TxErr
	}
}

func (o *Output) awaitAck(driver radio.Driver, pkt *queuedPacket) TxStatus {
	dsn := frameDSN(pkt.payload)

	if !busyWaitUntil(o.cfg.AckWaitTime, driver.PendingPacket) {
		return TxNoAck
	}

	if !(driver.ReceivingPacket() || driver.PendingPacket() || !driver.ChannelClear()) {
		return TxNoAck
	}

	busyWaitUntil(o.cfg.AfterAckDetectedWait, driver.PendingPacket)
	if !driver.PendingPacket() {
		return TxNoAck
	}

	ackbuf := make([]byte, o.cfg.AckLen)
	n, err := driver.Read(ackbuf)
	if err != nil || n != o.cfg.AckLen || ackbuf[2] != dsn {
		return TxCollision
	}
	return TxOK
}

func frameDSN(framed []byte) uint8 {
	if f, err := frame.Parse(framed); err == nil {
		return f.Seq
	}
	return 0
}

// busyWaitUntil spins (no allocation, no yielding to other cooperative
// work) until cond returns true or the deadline elapses.
func busyWaitUntil(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}

// packetSentResult implements packet_sent's outcome dispatch
// (tx_ok/noack/collision), including the MAX_BACKOFF roll-up and
// feeding Link-Stats.
func (o *Output) packetSentResult(addr lladdr.Addr, pkt *queuedPacket, status TxStatus, numTxAttempt int) {
	o.mu.Lock()
	nq, ok := o.queues[addr]
	if !ok {
		o.mu.Unlock()
		return
	}

	var ifaceID uint8
	if pkt.ifaceID != nil {
		ifaceID = *pkt.ifaceID
	} else {
		ifaceID = o.disp.SelectedInterface()
	}

	var finalStatus TxStatus
	terminal := false

	switch status {
	case TxOK:
		nq.numCol = 0
		nq.numTx += numTxAttempt
		finalStatus = TxOK
		terminal = true
		o.link.PacketSent(addr, ifaceID, linkstats.TxOK, nq.numTx)

	case TxNoAck:
		nq.numCol = 0
		nq.numTx += numTxAttempt
		metrics.MACRetries.WithLabelValues("noack").Inc()
		o.link.PacketSent(addr, ifaceID, linkstats.TxNoAck, nq.numTx)
		if nq.numTx >= pkt.maxTx {
			finalStatus = TxNoAck
			terminal = true
		}

	case TxCollision:
		nq.numCol += numTxAttempt
		metrics.MACCollisions.WithLabelValues(strconv.Itoa(int(ifaceID))).Inc()
		if nq.numCol > o.cfg.MaxBackoff {
			nq.numCol = 0
			nq.numTx++
		}
		if nq.numTx >= pkt.maxTx {
			finalStatus = TxCollision
			terminal = true
		}

	default: // TxErrFatal, TxErr
		finalStatus = status
		terminal = true
	}

	if terminal {
		numTx := nq.numTx // freePacketLocked resets the counter
		o.freePacketLocked(nq, pkt, finalStatus)
		o.mu.Unlock()
		if pkt.sentCallback != nil {
			pkt.sentCallback(pkt.cookie, finalStatus, numTx)
		}
		return
	}

	o.scheduleTransmissionLocked(nq)
	o.mu.Unlock()
}

// freePacketLocked implements free_packet: remove the head packet, and
// either reset counters and reschedule for the next packet, or free the
// neighbor queue entirely once it is empty.
func (o *Output) freePacketLocked(nq *neighborQueue, pkt *queuedPacket, status TxStatus) {
	out := nq.packets[:0]
	for _, p := range nq.packets {
		if p != pkt {
			out = append(out, p)
		}
	}
	nq.packets = out
	if len(nq.packets) > 0 {
		nq.numTx = 0
		nq.numCol = 0
		o.scheduleTransmissionLocked(nq)
	} else {
		if nq.timer != nil {
			nq.timer.Stop()
		}
		delete(o.queues, nq.addr)
	}
}

// CancelQueue drops a neighbor's entire packet queue: a single packet
// can only be cancelled by dropping the whole queue.
func (o *Output) CancelQueue(addr lladdr.Addr) {
	o.mu.Lock()
	defer o.mu.Unlock()
	nq, ok := o.queues[addr]
	if !ok {
		return
	}
	if nq.timer != nil {
		nq.timer.Stop()
	}
	delete(o.queues, addr)
}

// QueueLength reports the number of packets queued for addr (diagnostic
// and test use).
func (o *Output) QueueLength(addr lladdr.Addr) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	nq, ok := o.queues[addr]
	if !ok {
		return 0
	}
	return len(nq.packets)
}
