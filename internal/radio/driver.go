// Package radio defines the radio driver contract and the multi-radio
// dispatch layer: a unified radio façade that routes per-interface
// operations to the correct underlying physical driver and advertises
// the supported interface-ID set. Register programming itself is an
// external collaborator — Driver implementations live outside this
// package; HamlibDriver (hamlib.go) is the one concrete non-simulated
// binding.
package radio

import "errors"

// Result is the radio_result_t return taxonomy.
type Result int

const (
	ResultOK Result = iota
	ResultNotSupported
	ResultInvalidValue
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultNotSupported:
		return "NOT_SUPPORTED"
	case ResultInvalidValue:
		return "INVALID_VALUE"
	default:
		return "ERROR"
	}
}

// TxResult is the outcome of a single transmit() call at the driver level.
type TxResult int

const (
	TxOK TxResult = iota
	TxCollision
	TxErr
)

// Param identifies a gettable/settable radio parameter.
type Param int

const (
	ParamRxModeAddressFilter Param = iota
	ParamRxModeAutoAck
	ParamRxModePollMode
	ParamTxModeSendOnCCA
	ParamChannel
	ParamTxPower
	ParamRSSI
	ParamLastRSSI
	ParamLastLinkQuality
	ParamCCAThreshold
	ParamSelIfaceID  // SEL_IF_ID: multi-interface extra
	ParamInterfaceID // const: this driver's own interface ID
	ParamDataRate    // const: this driver's bits/sec
	ParamMultiRF     // const bool: true if this driver multiplexes >1 radio
)

// Object identifies a gettable/settable structured radio object.
type Object int

const (
	ObjectLastPacketTimestamp Object = iota
	ObjectInterfaceIDCollection
)

// InterfaceDescriptor is one entry of INTERFACE_ID_COLLECTION.
type InterfaceDescriptor struct {
	IfaceID  uint8
	DataRate uint32 // bits per second
}

var ErrNotSupported = errors.New("radio: parameter or object not supported")

// Driver is the contract a physical (or simulated) radio implements.
// A single-radio driver simply never returns more than one entry from
// InterfaceIDCollection.
type Driver interface {
	Init() error
	Prepare(payload []byte) error
	Transmit(length int) TxResult
	Send(payload []byte) TxResult // Prepare + Transmit
	Read(buf []byte) (int, error)
	ChannelClear() bool
	ReceivingPacket() bool
	PendingPacket() bool
	On() error
	Off() error

	GetValue(p Param) (int, Result)
	SetValue(p Param, v int) Result
	GetObject(o Object) (any, Result)
	SetObject(o Object, v any) Result
}

// MultiDriver is implemented by drivers that multiplex more than one
// underlying physical interface under one address space.
type MultiDriver interface {
	Driver
	LockInterface() bool // try-lock
	UnlockInterface()
	ChannelClearAll() map[uint8]bool
	ReceivingPacketAll() map[uint8]bool
	PendingPacketAll() map[uint8]bool
	InterfaceIDs() []InterfaceDescriptor
}
