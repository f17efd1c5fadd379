package radio

import (
	"fmt"
	"sort"
	"sync"
)

// MultiDispatch presents a single Driver/MultiDriver façade over a set
// of per-interface physical drivers. It is the Go realization of
// Contiki-NG's twofaced-rf composite driver, generalized from exactly
// two radios to an arbitrary set keyed by interface ID.
//
// Mutation of the selected interface is serialized by a
// lock_interface/unlock_interface try-lock; callers that fail to
// acquire it must defer their operation and re-poll rather than block,
// since the whole stack runs on one cooperative event loop.
type MultiDispatch struct {
	mu       sync.Mutex
	locked   bool
	selected uint8
	ifaces   map[uint8]Driver
	rates    map[uint8]uint32
}

// NewMultiDispatch builds a dispatcher over the supplied per-interface
// drivers. rates supplies the advertised data rate for each interface
// ID, needed for weight recalculation.
func NewMultiDispatch(drivers map[uint8]Driver, rates map[uint8]uint32) *MultiDispatch {
	return &MultiDispatch{
		ifaces: drivers,
		rates:  rates,
	}
}

// LockInterface is a try-lock: it never blocks. Callers must defer and
// re-poll on failure.
func (m *MultiDispatch) LockInterface() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return false
	}
	m.locked = true
	return true
}

// UnlockInterface releases a lock acquired by LockInterface.
func (m *MultiDispatch) UnlockInterface() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
}

// SelectedInterface returns the currently active interface ID.
func (m *MultiDispatch) SelectedInterface() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// SetSelectedInterface switches the active interface. The write is
// guarded by the dispatcher's mutex; it does not check or take the
// interface lock. internal/mac's all-interfaces restore calls it from
// the MAC's backoff timer goroutine, so a selection made by another
// caller while such a burst is in flight is overwritten by the restore.
func (m *MultiDispatch) SetSelectedInterface(id uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ifaces[id]; !ok {
		return fmt.Errorf("radio: unknown interface id %d", id)
	}
	m.selected = id
	return nil
}

func (m *MultiDispatch) active() Driver {
	m.mu.Lock()
	d := m.ifaces[m.selected]
	m.mu.Unlock()
	return d
}

// InterfaceIDs returns the advertised INTERFACE_ID_COLLECTION in a
// stable (ascending ID) order, since all-interfaces transmit must
// enumerate them in advertised order.
func (m *MultiDispatch) InterfaceIDs() []InterfaceDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint8, 0, len(m.ifaces))
	for id := range m.ifaces {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]InterfaceDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, InterfaceDescriptor{IfaceID: id, DataRate: m.rates[id]})
	}
	return out
}

// DriverFor returns the underlying driver for a given interface ID.
func (m *MultiDispatch) DriverFor(id uint8) (Driver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.ifaces[id]
	return d, ok
}

// --- Driver interface, delegated to the currently-selected interface ---

func (m *MultiDispatch) Init() error {
	for _, d := range m.ifaces {
		if err := d.Init(); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiDispatch) Prepare(payload []byte) error { return m.active().Prepare(payload) }
func (m *MultiDispatch) Transmit(length int) TxResult { return m.active().Transmit(length) }
func (m *MultiDispatch) Send(payload []byte) TxResult { return m.active().Send(payload) }
func (m *MultiDispatch) Read(buf []byte) (int, error) { return m.active().Read(buf) }
func (m *MultiDispatch) ChannelClear() bool            { return m.active().ChannelClear() }
func (m *MultiDispatch) ReceivingPacket() bool          { return m.active().ReceivingPacket() }
func (m *MultiDispatch) PendingPacket() bool            { return m.active().PendingPacket() }

func (m *MultiDispatch) On() error {
	for _, d := range m.ifaces {
		if err := d.On(); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiDispatch) Off() error {
	for _, d := range m.ifaces {
		if err := d.Off(); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiDispatch) GetValue(p Param) (int, Result) {
	if p == ParamSelIfaceID {
		return int(m.SelectedInterface()), ResultOK
	}
	if p == ParamMultiRF {
		return 1, ResultOK
	}
	return m.active().GetValue(p)
}

func (m *MultiDispatch) SetValue(p Param, v int) Result {
	if p == ParamSelIfaceID {
		if err := m.SetSelectedInterface(uint8(v)); err != nil {
			return ResultInvalidValue
		}
		return ResultOK
	}
	return m.active().SetValue(p, v)
}

func (m *MultiDispatch) GetObject(o Object) (any, Result) {
	if o == ObjectInterfaceIDCollection {
		return m.InterfaceIDs(), ResultOK
	}
	return m.active().GetObject(o)
}

func (m *MultiDispatch) SetObject(o Object, v any) Result {
	return m.active().SetObject(o, v)
}

// ChannelClearAll, ReceivingPacketAll, PendingPacketAll poll every
// underlying interface, used by probing and collision checks that must
// consider the whole composite radio rather than just the active leg.
func (m *MultiDispatch) ChannelClearAll() map[uint8]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint8]bool, len(m.ifaces))
	for id, d := range m.ifaces {
		out[id] = d.ChannelClear()
	}
	return out
}

func (m *MultiDispatch) ReceivingPacketAll() map[uint8]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint8]bool, len(m.ifaces))
	for id, d := range m.ifaces {
		out[id] = d.ReceivingPacket()
	}
	return out
}

func (m *MultiDispatch) PendingPacketAll() map[uint8]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint8]bool, len(m.ifaces))
	for id, d := range m.ifaces {
		out[id] = d.PendingPacket()
	}
	return out
}

var _ MultiDriver = (*MultiDispatch)(nil)
