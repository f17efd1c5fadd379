// Package lladdr implements the fixed-size link-layer address shared
// across every radio interface a node exposes.
package lladdr

import (
	"encoding/hex"
	"fmt"
)

// Size is the number of bytes in an address. AX.25-style stacks carry
// variable-length callsigns; this mesh uses a fixed 8-byte address so
// two interfaces of the same neighbor compare equal without a lookup
// table.
const Size = 8

// Addr is an opaque link-layer address. Two neighbors with identical
// addresses on two different radios are the same neighbor.
type Addr [Size]byte

// Zero is the null/unset address.
var Zero Addr

// IsZero reports whether a is the unset address.
func (a Addr) IsZero() bool {
	return a == Zero
}

// String renders the address as colon-separated hex, e.g. "01:02:03:...".
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x:%02x:%02x",
		a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7])
}

// FromBytes copies b (which must be exactly Size bytes) into an Addr.
func FromBytes(b []byte) (Addr, error) {
	var a Addr
	if len(b) != Size {
		return a, fmt.Errorf("lladdr: want %d bytes, got %d", Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// ParseHex parses a hex string (with or without ':' separators) into an Addr.
func ParseHex(s string) (Addr, error) {
	var clean []byte
	for i := 0; i < len(s); i++ {
		if s[i] == ':' || s[i] == '-' {
			continue
		}
		clean = append(clean, s[i])
	}
	b, err := hex.DecodeString(string(clean))
	if err != nil {
		return Zero, fmt.Errorf("lladdr: %w", err)
	}
	return FromBytes(b)
}
