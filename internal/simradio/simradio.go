// Package simradio provides a deterministic fake radio.Driver for
// exercising the link-stats, MAC, and routing layers without real
// hardware — the Go equivalent of Cooja/cooja-radio.c in the original
// simulation-only environment this mesh was ported from.
package simradio

import (
	"sync"

	"github.com/rplmesh/rplmesh/internal/frame"
	"github.com/rplmesh/rplmesh/internal/radio"
)

// Fake is a radio.Driver whose transmit/receive outcomes are scripted by
// the test. It never touches real hardware.
type Fake struct {
	mu sync.Mutex

	IfaceID  uint8
	DataRate uint32

	// NextTx is popped (FIFO) on each Transmit call; if empty, TxOK is used.
	NextTx []radio.TxResult

	// Inbox holds bytes waiting to be returned by Read.
	Inbox [][]byte

	// AutoAck, when set, makes a successful Transmit of a unicast frame
	// immediately queue a matching ACK into Inbox, simulating an
	// instantaneous over-the-air round trip for deterministic tests.
	AutoAck bool

	receiving bool
	channel   int
	txPower   int
	rssi      int
	on        bool

	lastPrepared []byte
}

func New(ifaceID uint8, dataRate uint32) *Fake {
	return &Fake{IfaceID: ifaceID, DataRate: dataRate}
}

func (f *Fake) Init() error { return nil }

// LastPrepared returns the most recent payload handed to Prepare, for
// tests that assert on what a higher layer actually put on the air.
func (f *Fake) LastPrepared() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrepared
}

func (f *Fake) Prepare(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPrepared = append([]byte(nil), payload...)
	return nil
}

func (f *Fake) Transmit(length int) radio.TxResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := radio.TxOK
	if len(f.NextTx) > 0 {
		r = f.NextTx[0]
		f.NextTx = f.NextTx[1:]
	}
	if r == radio.TxOK && f.AutoAck {
		if fr, err := frame.Parse(f.lastPrepared); err == nil && !fr.Dst.IsZero() {
			f.Inbox = append(f.Inbox, frame.BuildAck(fr.Seq))
		}
	}
	return r
}

func (f *Fake) Send(payload []byte) radio.TxResult {
	if err := f.Prepare(payload); err != nil {
		return radio.TxErr
	}
	return f.Transmit(len(payload))
}

func (f *Fake) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Inbox) == 0 {
		return 0, nil
	}
	next := f.Inbox[0]
	f.Inbox = f.Inbox[1:]
	n := copy(buf, next)
	return n, nil
}

// QueueInbound appends b to Inbox, making it available to a later Read
// call.
func (f *Fake) QueueInbound(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Inbox = append(f.Inbox, b)
}

func (f *Fake) ChannelClear() bool    { return true }
func (f *Fake) ReceivingPacket() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.receiving }

func (f *Fake) SetReceiving(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiving = v
}

func (f *Fake) PendingPacket() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Inbox) > 0
}

func (f *Fake) On() error  { f.mu.Lock(); f.on = true; f.mu.Unlock(); return nil }
func (f *Fake) Off() error { f.mu.Lock(); f.on = false; f.mu.Unlock(); return nil }

func (f *Fake) GetValue(p radio.Param) (int, radio.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch p {
	case radio.ParamChannel:
		return f.channel, radio.ResultOK
	case radio.ParamTxPower:
		return f.txPower, radio.ResultOK
	case radio.ParamRSSI, radio.ParamLastRSSI:
		return f.rssi, radio.ResultOK
	case radio.ParamInterfaceID:
		return int(f.IfaceID), radio.ResultOK
	case radio.ParamDataRate:
		return int(f.DataRate), radio.ResultOK
	case radio.ParamMultiRF:
		return 0, radio.ResultOK
	default:
		return 0, radio.ResultNotSupported
	}
}

func (f *Fake) SetValue(p radio.Param, v int) radio.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch p {
	case radio.ParamChannel:
		f.channel = v
	case radio.ParamTxPower:
		f.txPower = v
	case radio.ParamRSSI, radio.ParamLastRSSI:
		f.rssi = v
	default:
		return radio.ResultNotSupported
	}
	return radio.ResultOK
}

func (f *Fake) GetObject(o radio.Object) (any, radio.Result) {
	return nil, radio.ResultNotSupported
}

func (f *Fake) SetObject(o radio.Object, v any) radio.Result {
	return radio.ResultNotSupported
}

var _ radio.Driver = (*Fake)(nil)
