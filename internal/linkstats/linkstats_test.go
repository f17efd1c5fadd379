package linkstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rplmesh/rplmesh/internal/lladdr"
)

func addr(b byte) lladdr.Addr {
	var a lladdr.Addr
	a[7] = b
	return a
}

func TestPacketSentCreatesNeighborAndInterface(t *testing.T) {
	tbl := NewTable(DefaultConfig(), nil)
	a := addr(1)

	err := tbl.PacketSent(a, 0, TxOK, 0)
	require.NoError(t, err)

	n := tbl.Get(a)
	require.NotNil(t, n)
	require.Len(t, n.Interfaces, 1)
	assert.Equal(t, uint8(0), n.Interfaces[0].IfaceID)
}

func TestPacketSentNoAckUnknownNeighborIsNoop(t *testing.T) {
	tbl := NewTable(DefaultConfig(), nil)
	a := addr(2)

	err := tbl.PacketSent(a, 0, TxNoAck, 0)
	require.NoError(t, err)
	assert.Nil(t, tbl.Get(a))
}

func TestPacketSentEWMAMovesTowardObservedETX(t *testing.T) {
	cfg := DefaultConfig()
	tbl := NewTable(cfg, nil)
	a := addr(3)

	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 0))
	initial := tbl.Get(a).Interfaces[0].InferredMetric

	for i := 0; i < 20; i++ {
		require.NoError(t, tbl.PacketSent(a, 0, TxNoAck, 0))
	}
	degraded := tbl.Get(a).Interfaces[0].InferredMetric
	assert.Greater(t, degraded, initial, "repeated NoAck outcomes should raise the inferred ETX")
}

func TestPacketSentTableFullReturnsError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIfacesPerNbr = 1
	tbl := NewTable(cfg, nil)
	a := addr(4)

	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 0))
	err := tbl.PacketSent(a, 1, TxOK, 0)
	assert.ErrorIs(t, err, ErrTableFull)
}

func TestPacketReceivedNeverMovesETX(t *testing.T) {
	tbl := NewTable(DefaultConfig(), nil)
	a := addr(5)

	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 1))
	before := tbl.Get(a).Interfaces[0].InferredMetric

	for i := 0; i < 5; i++ {
		require.NoError(t, tbl.PacketReceived(a, 0, -70))
	}
	after := tbl.Get(a).Interfaces[0].InferredMetric
	assert.Equal(t, before, after, "receptions must never perturb the ETX EWMA")
}

func TestModifyWeightRejectsZero(t *testing.T) {
	tbl := NewTable(DefaultConfig(), nil)
	a := addr(6)
	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 0))

	assert.False(t, tbl.ModifyWeight(a, 0, 0))
	assert.True(t, tbl.ModifyWeight(a, 0, 5))
	assert.Equal(t, uint8(5), tbl.Get(a).Interfaces[0].Weight)
}

func TestSelectPrefIfacePrefersBetterMetricWhenBothUp(t *testing.T) {
	cfg := DefaultConfig()
	tbl := NewTable(cfg, nil)
	a := addr(7)

	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 0))
	require.NoError(t, tbl.PacketSent(a, 1, TxOK, 0))
	// Drive interface 1's metric up via repeated NoAck so it becomes worse
	// while staying under the metric threshold (192 -> 528 -> 780).
	for i := 0; i < 2; i++ {
		require.NoError(t, tbl.PacketSent(a, 1, TxNoAck, 0))
	}
	require.True(t, tbl.SelectPrefIface(a))
	assert.Equal(t, uint8(0), tbl.Get(a).PrefIfaceID)
}

func TestIsDeferRequiredTrueOnlyWhenMixed(t *testing.T) {
	tbl := NewTable(DefaultConfig(), nil)
	a := addr(8)
	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 0))

	assert.False(t, tbl.IsDeferRequired(a), "single interface can never be 'mixed'")

	require.NoError(t, tbl.PacketSent(a, 1, TxOK, 0))
	assert.False(t, tbl.IsDeferRequired(a))
}

func TestResetDeferFlagsClearsAll(t *testing.T) {
	tbl := NewTable(DefaultConfig(), nil)
	a := addr(9)
	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 0))
	tbl.Get(a).Interfaces[0].DeferFlag = true

	require.True(t, tbl.ResetDeferFlags(a))
	assert.False(t, tbl.Get(a).Interfaces[0].DeferFlag)
}

func TestUpdateNormMetricAccountsForMissingInterfaces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIfacesPerNbr = 2
	tbl := NewTable(cfg, nil)
	a := addr(10)
	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 0))

	require.True(t, tbl.UpdateNormMetric(a))
	n := tbl.Get(a)
	assert.Greater(t, n.NormalizedMetric, n.Interfaces[0].InferredMetric,
		"a missing second interface should drag the normalized metric toward the placeholder")
}

func TestTickHalvesFreshness(t *testing.T) {
	tbl := NewTable(DefaultConfig(), nil)
	a := addr(11)
	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 0))
	tbl.Get(a).Freshness = 16
	tbl.Get(a).Interfaces[0].Freshness = 16

	tbl.Tick()
	assert.Equal(t, uint8(8), tbl.Get(a).Freshness)
	assert.Equal(t, uint8(8), tbl.Get(a).Interfaces[0].Freshness)
}

func TestRemoveInterfaceDropsNeighborWhenEmptied(t *testing.T) {
	tbl := NewTable(DefaultConfig(), nil)
	a := addr(12)
	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 0))

	tbl.RemoveInterface(a, 0)
	assert.Nil(t, tbl.Get(a))
}

func TestLQLModeDerivesFromRSSI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeLQL
	tbl := NewTable(cfg, nil)
	a := addr(13)

	require.NoError(t, tbl.PacketReceived(a, 0, -60))
	strong := tbl.Get(a).Interfaces[0].InferredMetric

	b := addr(14)
	require.NoError(t, tbl.PacketReceived(b, 0, -90))
	weak := tbl.Get(b).Interfaces[0].InferredMetric

	assert.Less(t, strong, weak, "a stronger RSSI should map to a lower (better) LQL bucket")
}

func TestPacketCountModeAggregatesTxAndAck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeETXPacketCount
	tbl := NewTable(cfg, nil)
	a := addr(15)

	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 1))
	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 1))
	ir := tbl.Get(a).Interfaces[0]
	assert.Equal(t, uint16(2), ir.TxCount)
	assert.Equal(t, uint16(2), ir.AckCount)
	assert.Equal(t, cfg.ETXDivisor, ir.InferredMetric)
}

func TestFreshnessAccumulatesOverTime(t *testing.T) {
	now := time.Now()
	clock := &now
	tbl := NewTable(DefaultConfig(), func() time.Time { return *clock })
	a := addr(16)

	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 1))
	require.NoError(t, tbl.PacketSent(a, 0, TxOK, 1))
	assert.Greater(t, tbl.Get(a).Freshness, uint8(0))
}
