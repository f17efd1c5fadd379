// Package frame implements the MAC-level framing the routing core sits
// on top of: frame type 1 for data frames, a 3-byte ACK with the third
// byte echoing the sender's sequence number.
//
// The wire layout is deliberately simple (fixed 8-byte addresses, no
// variable-length callsign encoding) since AX.25-style address field
// encoding is out of scope for this mesh.
package frame

import (
	"encoding/binary"
	"errors"

	"github.com/rplmesh/rplmesh/internal/lladdr"
)

// FrameType identifies the class of frame, mirroring AX25_FRAME_TYPE_*
// from packet-radio framing but trimmed to what the routing core needs
// to distinguish.
type FrameType uint8

const (
	TypeData FrameType = 1 // frame type 1 is a data frame.
)

// AckLen is the fixed size of an ACK frame.
const AckLen = 3

// HeaderLen is dst(8) + src(8) + type(1) + seq(1).
const HeaderLen = lladdr.Size*2 + 2

var (
	ErrTooShort   = errors.New("frame: buffer shorter than header")
	ErrBadType    = errors.New("frame: unsupported frame type")
	ErrTruncated  = errors.New("frame: payload shorter than declared length")
)

// Frame is a parsed data frame ready for the routing layer.
type Frame struct {
	Type    FrameType
	Dst     lladdr.Addr
	Src     lladdr.Addr
	Seq     uint8
	Payload []byte
}

// Build serializes f into a wire buffer.
func Build(f *Frame) []byte {
	buf := make([]byte, HeaderLen+len(f.Payload))
	copy(buf[0:], f.Dst[:])
	copy(buf[lladdr.Size:], f.Src[:])
	buf[lladdr.Size*2] = byte(f.Type)
	buf[lladdr.Size*2+1] = f.Seq
	copy(buf[HeaderLen:], f.Payload)
	return buf
}

// Parse is the inverse of Build. It returns ErrBadType for anything
// other than a data frame; callers handling ACKs use ParseAck instead.
func Parse(buf []byte) (*Frame, error) {
	if len(buf) < HeaderLen {
		return nil, ErrTooShort
	}
	f := &Frame{}
	copy(f.Dst[:], buf[0:lladdr.Size])
	copy(f.Src[:], buf[lladdr.Size:lladdr.Size*2])
	f.Type = FrameType(buf[lladdr.Size*2])
	f.Seq = buf[lladdr.Size*2+1]
	if f.Type != TypeData {
		return nil, ErrBadType
	}
	f.Payload = append([]byte(nil), buf[HeaderLen:]...)
	return f, nil
}

// BuildAck builds the 3-byte ACK frame for sequence number seq. Byte 2
// (the third byte, index 2) echoes seq.
func BuildAck(seq uint8) []byte {
	ack := make([]byte, AckLen)
	binary.BigEndian.PutUint16(ack[0:2], 0)
	ack[2] = seq
	return ack
}

// MatchesAck reports whether an AckLen-sized buffer is a valid ACK for seq.
func MatchesAck(buf []byte, seq uint8) bool {
	return len(buf) == AckLen && buf[2] == seq
}
