package radio

import (
	"fmt"
	"sync"

	hamlib "github.com/xylo04/goHamlib"
)

// HamlibDriver binds Driver's CHANNEL/TXPOWER parameters to amateur-radio
// rig control via goHamlib. A KISS TNC's ptt.go carries a HAMLIB branch
// that was left disabled ("Hamlib support currently disabled due to
// mid-stage porting complexity") even though goHamlib already sat in
// go.mod; this finishes that wiring for the one radio leg that needs
// CAT control rather than a bare GPIO PTT line.
//
// HamlibDriver only implements the control-plane parameters (CHANNEL,
// TXPOWER, RSSI); actual framed transmit/receive is delegated to a
// wrapped Driver, since hamlib itself does not move payload bytes.
type HamlibDriver struct {
	Driver // embedded: payload path

	mu  sync.Mutex
	rig *hamlib.Rig
}

// NewHamlibDriver opens a rig of the given model over the given device
// path/baud and layers it onto payload for PTT/frequency control.
func NewHamlibDriver(model int, device string, baud int, payload Driver) (*HamlibDriver, error) {
	rig := hamlib.NewRig(model)
	if rig == nil {
		return nil, fmt.Errorf("radio: hamlib could not construct rig model %d", model)
	}
	rig.SetConf("rig_pathname", device)
	rig.SetConf("serial_speed", fmt.Sprintf("%d", baud))
	if err := rig.Open(); err != nil {
		return nil, fmt.Errorf("radio: hamlib rig_open failed: %w", err)
	}
	return &HamlibDriver{Driver: payload, rig: rig}, nil
}

func (h *HamlibDriver) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rig.Close()
}

// GetValue overrides CHANNEL/RSSI to read from the rig; every other
// parameter, TXPOWER included, falls through to the embedded payload
// driver.
func (h *HamlibDriver) GetValue(p Param) (int, Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch p {
	case ParamChannel:
		freq, err := h.rig.GetFreq(hamlib.VFOCurrent)
		if err != nil {
			return 0, ResultError
		}
		return int(freq), ResultOK
	case ParamRSSI:
		lvl, err := h.rig.GetStrength(hamlib.VFOCurrent)
		if err != nil {
			return 0, ResultError
		}
		return lvl, ResultOK
	default:
		return h.Driver.GetValue(p)
	}
}

// SetValue overrides CHANNEL/TXPOWER to drive the rig over CAT control.
func (h *HamlibDriver) SetValue(p Param, v int) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch p {
	case ParamChannel:
		if err := h.rig.SetFreq(hamlib.VFOCurrent, float64(v)); err != nil {
			return ResultError
		}
		return ResultOK
	case ParamTxPower:
		if err := h.rig.SetLevel(hamlib.VFOCurrent, hamlib.LevelRFPower, float32(v)/100.0); err != nil {
			return ResultError
		}
		return ResultOK
	default:
		return h.Driver.SetValue(p, v)
	}
}

// SetPTT keys or unkeys the transmitter through the rig's CAT PTT
// command, where a KISS TNC would leave its rig_set_ptt branch
// disabled.
func (h *HamlibDriver) SetPTT(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := hamlib.PTTOff
	if on {
		state = hamlib.PTTOn
	}
	return h.rig.SetPTT(hamlib.VFOCurrent, state)
}

var _ Driver = (*HamlibDriver)(nil)
