package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rplmesh/rplmesh/internal/lladdr"
)

func TestBuildParseRoundTrip(t *testing.T) {
	f := &Frame{
		Type:    TypeData,
		Dst:     lladdr.Addr{1, 2, 3, 4, 5, 6, 7, 8},
		Src:     lladdr.Addr{8, 7, 6, 5, 4, 3, 2, 1},
		Seq:     42,
		Payload: []byte("hello mesh"),
	}
	got, err := Parse(Build(f))
	require.NoError(t, err)
	assert.Equal(t, *f, *got)
}

func TestParseRejectsTruncatedBuffer(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestParseRejectsNonDataFrameType(t *testing.T) {
	f := &Frame{Type: FrameType(99), Dst: lladdr.Zero, Src: lladdr.Zero}
	_, err := Parse(Build(f))
	assert.ErrorIs(t, err, ErrBadType)
}

func TestMatchesAckRoundTrip(t *testing.T) {
	for seq := 0; seq < 256; seq++ {
		ack := BuildAck(uint8(seq))
		assert.True(t, MatchesAck(ack, uint8(seq)))
		assert.False(t, MatchesAck(ack, uint8(seq+1)))
	}
}

// TestBuildParsePropertyRoundTrip checks parse(build(x)) == x for
// arbitrary addresses/sequence numbers/payload bytes, since
// hand-picked examples above can't cover every header-boundary case.
func TestBuildParsePropertyRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var dst, src lladdr.Addr
		for i := range dst {
			dst[i] = byte(rapid.IntRange(0, 255).Draw(rt, "dst_byte"))
		}
		for i := range src {
			src[i] = byte(rapid.IntRange(0, 255).Draw(rt, "src_byte"))
		}
		seq := byte(rapid.IntRange(0, 255).Draw(rt, "seq"))
		payload := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(rt, "payload")

		f := &Frame{Type: TypeData, Dst: dst, Src: src, Seq: seq, Payload: payload}
		got, err := Parse(Build(f))
		require.NoError(rt, err)
		assert.Equal(rt, f.Dst, got.Dst)
		assert.Equal(rt, f.Src, got.Src)
		assert.Equal(rt, f.Seq, got.Seq)
		assert.Equal(rt, f.Payload, got.Payload)
	})
}
