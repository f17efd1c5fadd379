package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rplmesh/rplmesh/internal/linkstats"
	"github.com/rplmesh/rplmesh/internal/lladdr"
	"github.com/rplmesh/rplmesh/internal/of"
	"github.com/rplmesh/rplmesh/internal/proto"
)

func addr(b byte) lladdr.Addr {
	var a lladdr.Addr
	a[7] = b
	return a
}

func fastTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Trickle.IntervalMin = 20 // large enough the trickle timer never interferes mid-test
	cfg.PoisonPeriod = 10 * time.Millisecond
	return cfg
}

func newTestRouter() (*Router, *linkstats.Table) {
	links := linkstats.NewTable(linkstats.DefaultConfig(), nil)
	links.PacketSent(addr(1), 0, linkstats.TxOK, 1) // seed a link-stats record for the would-be parent
	reg := of.NewDefaultRegistry()
	r := NewRouter(addr(0xAA), false, links, reg, fastTestConfig(), Hooks{})
	return r, links
}

func baseDIO() proto.DIO {
	return proto.DIO{
		InstanceID:    30,
		Version:       10,
		Rank:          512,
		MOP:           proto.MopStoring,
		OCP:           proto.OCPDriplOF,
		DagID:         proto.DagID{1},
		DagMaxRankInc: 512 * 7,
		MinHopRankInc: 256,
	}
}

func TestProcessDIOJoinsInstanceAndAdoptsParent(t *testing.T) {
	r, _ := newTestRouter()
	err := r.ProcessDIO(addr(1), baseDIO())
	require.NoError(t, err)

	assert.Equal(t, 1, r.Instances())
	pp, ok := r.PreferredParent(30)
	require.True(t, ok)
	assert.Equal(t, addr(1), pp)
}

func TestProcessDIORejectsUnsupportedOCP(t *testing.T) {
	r, _ := newTestRouter()
	dio := baseDIO()
	dio.OCP = proto.OCP(0xFFFF)
	err := r.ProcessDIO(addr(1), dio)
	assert.ErrorIs(t, err, ErrUnsupportedOCP)
}

func TestProcessDIORejectsRankBelowRoot(t *testing.T) {
	r, _ := newTestRouter()
	dio := baseDIO()
	dio.Rank = 10
	err := r.ProcessDIO(addr(1), dio)
	assert.ErrorIs(t, err, ErrRankBelowRoot)
}

func TestSecondBetterParentBecomesPreferred(t *testing.T) {
	r, links := newTestRouter()
	require.NoError(t, r.ProcessDIO(addr(1), baseDIO()))

	// addr(2) has a much better (lower) rank, so it should win best_parent.
	links.PacketSent(addr(2), 0, linkstats.TxOK, 1)
	better := baseDIO()
	better.Rank = 256
	require.NoError(t, r.ProcessDIO(addr(2), better))

	pp, ok := r.PreferredParent(30)
	require.True(t, ok)
	assert.Equal(t, addr(2), pp)
}

func TestLocalRepairDetachesAllParents(t *testing.T) {
	r, _ := newTestRouter()
	require.NoError(t, r.ProcessDIO(addr(1), baseDIO()))
	_, ok := r.PreferredParent(30)
	require.True(t, ok)

	r.LocalRepair(30)

	rank, ok := r.AdvertisedRank(30)
	require.True(t, ok)
	assert.Equal(t, proto.InfiniteRank, rank)
	_, hasPreferred := r.PreferredParent(30)
	assert.False(t, hasPreferred)
}

func TestPoisonWindowRejectsFiniteRankDIOs(t *testing.T) {
	r, _ := newTestRouter()
	require.NoError(t, r.ProcessDIO(addr(1), baseDIO()))
	r.LocalRepair(30)

	err := r.ProcessDIO(addr(1), baseDIO())
	assert.ErrorIs(t, err, ErrPoisonedInstance)
}

func TestUnacceptableRankNullifiesParent(t *testing.T) {
	r, _ := newTestRouter()
	dio := baseDIO()
	dio.DagMaxRankInc = 1 // make almost any rank increase unacceptable
	require.NoError(t, r.ProcessDIO(addr(1), dio))

	// A much worse rank from the same parent should now fail acceptability.
	worse := dio
	worse.Rank = 60000
	require.NoError(t, r.ProcessDIO(addr(1), worse))

	_, ok := r.PreferredParent(30)
	assert.False(t, ok, "an unacceptable preferred parent must be dropped, triggering local repair")
}
