package linkstats

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rplmesh/rplmesh/internal/lladdr"
)

// TestUpdateNormMetricIsOrderIndependent checks that NormalizedMetric
// depends only on the set of (interface, weight) pairs a neighbor holds,
// not the order those interfaces were first observed in — the weighted
// sum update_norm_metric computes is commutative, so permuting insertion
// order must never change the result.
func TestUpdateNormMetricIsOrderIndependent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, DefaultConfig().MaxIfacesPerNbr).Draw(rt, "n_interfaces")
		ifaceIDs := make([]uint8, n)
		weights := make([]uint8, n)
		for i := 0; i < n; i++ {
			ifaceIDs[i] = uint8(i + 1)
			weights[i] = uint8(rapid.IntRange(1, 255).Draw(rt, "weight"))
		}
		perm := intRange(n)
		for i := n - 1; i > 0; i-- {
			j := rapid.IntRange(0, i).Draw(rt, "swap_j")
			perm[i], perm[j] = perm[j], perm[i]
		}

		addr := lladdr.Addr{1}
		forward := NewTable(DefaultConfig(), nil)
		for i := 0; i < n; i++ {
			require.NoError(rt, forward.PacketSent(addr, ifaceIDs[i], TxOK, 1))
			require.True(rt, forward.ModifyWeight(addr, ifaceIDs[i], weights[i]))
		}
		require.True(rt, forward.UpdateNormMetric(addr))
		want := forward.Get(addr).NormalizedMetric

		shuffled := NewTable(DefaultConfig(), nil)
		for _, i := range perm {
			require.NoError(rt, shuffled.PacketSent(addr, ifaceIDs[i], TxOK, 1))
			require.True(rt, shuffled.ModifyWeight(addr, ifaceIDs[i], weights[i]))
		}
		require.True(rt, shuffled.UpdateNormMetric(addr))
		got := shuffled.Get(addr).NormalizedMetric

		if want != got {
			rt.Fatalf("normalized metric depends on insertion order: forward=%d shuffled=%d", want, got)
		}
	})
}

func intRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
