package mac

import (
	"github.com/rplmesh/rplmesh/internal/frame"
	"github.com/rplmesh/rplmesh/internal/linkstats"
	"github.com/rplmesh/rplmesh/internal/lladdr"
)

// dupTable is the 802.15.4 sequence-number duplicate cache used by
// input(): one last-seen sequence number per source address, a
// bounded-size ring grounded on Contiki-NG's mac-sequence.c design
// (one entry per recently-heard neighbor, overwritten oldest-first).
type dupTable struct {
	cap     int
	order   []lladdr.Addr
	lastSeq map[lladdr.Addr]uint8
}

func newDupTable(capacity int) *dupTable {
	return &dupTable{cap: capacity, lastSeq: make(map[lladdr.Addr]uint8)}
}

func (d *dupTable) isDuplicate(src lladdr.Addr, seq uint8) bool {
	last, ok := d.lastSeq[src]
	return ok && last == seq
}

func (d *dupTable) register(src lladdr.Addr, seq uint8) {
	if _, ok := d.lastSeq[src]; !ok {
		if len(d.order) >= d.cap {
			oldest := d.order[0]
			d.order = d.order[1:]
			delete(d.lastSeq, oldest)
		}
		d.order = append(d.order, src)
	}
	d.lastSeq[src] = seq
}

// Deliver is the callback invoked once per accepted (non-duplicate)
// frame, with its interface ID and RSSI for Link-Stats feedback.
type Deliver func(f *frame.Frame, ifaceID uint8, rssi int16)

// Input is the MAC input demux: duplicate detection, address filtering,
// and delivery to the routing layer. Grounded on Contiki-NG's
// twofaced-mac.c input().
type Input struct {
	self   lladdr.Addr
	link   *linkstats.Table
	dup    *dupTable
	ackLen int
	locked bool
}

// NewInput builds an input demux for a node whose own address is self.
func NewInput(self lladdr.Addr, link *linkstats.Table) *Input {
	return &Input{self: self, link: link, dup: newDupTable(64), ackLen: frame.AckLen}
}

// LockInput / UnlockInput implement the try-lock that prevents
// re-entrant delivery while a twofaced MAC is mid-dispatching a burst
// across interfaces.
func (in *Input) LockInput() bool {
	if in.locked {
		return false
	}
	in.locked = true
	return true
}

func (in *Input) UnlockInput() { in.locked = false }

// Process implements input(): ACK-length frames are ignored outright;
// parse failures, frames not addressed to us (and not broadcast), and
// frames from ourselves are dropped; duplicates (by 802.15.4 sequence
// number) are suppressed, but Link-Stats RSSI still updates on every
// reception that reaches that point.
func (in *Input) Process(raw []byte, ifaceID uint8, rssi int16, deliver Deliver) {
	if len(raw) == in.ackLen {
		return
	}
	f, err := frame.Parse(raw)
	if err != nil {
		return
	}
	if f.Dst != in.self && !f.Dst.IsZero() {
		return
	}
	if f.Src == in.self {
		return
	}

	in.link.PacketReceived(f.Src, ifaceID, rssi)

	if in.dup.isDuplicate(f.Src, f.Seq) {
		return
	}
	in.dup.register(f.Src, f.Seq)

	if deliver != nil {
		deliver(f, ifaceID, rssi)
	}
}
