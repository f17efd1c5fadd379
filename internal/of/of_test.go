package of

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rplmesh/rplmesh/internal/lladdr"
	"github.com/rplmesh/rplmesh/internal/proto"
)

type fakeLinks map[lladdr.Addr]uint16

func (f fakeLinks) NormalizedMetric(a lladdr.Addr) (uint16, bool) {
	v, ok := f[a]
	return v, ok
}

func addr(b byte) lladdr.Addr {
	var a lladdr.Addr
	a[7] = b
	return a
}

func TestDriplOFParentLinkMetricUnknownNeighborIsInfinite(t *testing.T) {
	d := NewDriplOF(DefaultDriplConfig())
	links := fakeLinks{}
	p := &ParentInfo{Addr: addr(1), Rank: 256, MinHopRankInc: 256}
	assert.Equal(t, uint16(0xffff), d.ParentLinkMetric(links, p))
}

func TestDriplOFRankViaParentUsesLowerBound(t *testing.T) {
	d := NewDriplOF(DefaultDriplConfig())
	a1 := addr(1)
	links := fakeLinks{a1: 0} // perfect link
	p := &ParentInfo{Addr: a1, Rank: 256, MinHopRankInc: 256}

	rank := d.RankViaParent(links, p)
	assert.Equal(t, proto.Rank(512), rank, "with a perfect link, rank should be parent rank + min_hoprankinc")
}

func TestDriplOFParentIsAcceptableRejectsHighLinkMetric(t *testing.T) {
	cfg := DefaultDriplConfig()
	d := NewDriplOF(cfg)
	a1 := addr(1)
	links := fakeLinks{a1: cfg.MaxLinkMetricBase*cfg.ETXDivisor + 1}
	p := &ParentInfo{Addr: a1, Rank: 256, MinHopRankInc: 256}

	assert.False(t, d.ParentIsAcceptable(links, p))
}

func TestDriplOFBestParentHysteresisKeepsPreferred(t *testing.T) {
	cfg := DefaultDriplConfig()
	d := NewDriplOF(cfg)
	a1, a2 := addr(1), addr(2)
	links := fakeLinks{a1: 0, a2: 10} // small delta, within hysteresis

	preferred := &ParentInfo{Addr: a1, Rank: 256, MinHopRankInc: 256, IsPreferred: true}
	challenger := &ParentInfo{Addr: a2, Rank: 256, MinHopRankInc: 256}

	best := d.BestParent(links, preferred, challenger)
	require.NotNil(t, best)
	assert.Equal(t, a1, best.Addr, "a small cost delta must not displace the preferred parent")
}

func TestDriplOFBestParentSwitchesOnLargeGain(t *testing.T) {
	cfg := DefaultDriplConfig()
	d := NewDriplOF(cfg)
	a1, a2 := addr(1), addr(2)
	links := fakeLinks{a1: 10000, a2: 0}

	preferred := &ParentInfo{Addr: a1, Rank: 256, MinHopRankInc: 256, IsPreferred: true}
	challenger := &ParentInfo{Addr: a2, Rank: 256, MinHopRankInc: 256}

	best := d.BestParent(links, preferred, challenger)
	require.NotNil(t, best)
	assert.Equal(t, a2, best.Addr, "a large cost gain must displace the preferred parent")
}

func TestDriplOFBestDagGroundedBeatsUngrounded(t *testing.T) {
	d := NewDriplOF(DefaultDriplConfig())
	grounded := &DagInfo{Grounded: true, Rank: 1000}
	ungrounded := &DagInfo{Grounded: false, Rank: 10}

	assert.Same(t, grounded, d.BestDag(grounded, ungrounded))
}

func TestPoOFNeverAcceptsAParent(t *testing.T) {
	p := NewPoOF()
	links := fakeLinks{}
	pi := &ParentInfo{Addr: addr(1), Rank: 0}
	assert.False(t, p.ParentIsAcceptable(links, pi))
	assert.Equal(t, proto.InfiniteRank, p.RankViaParent(links, pi))
	assert.Nil(t, p.BestParent(links, pi, pi))
}

func TestRegistryLooksUpByOCP(t *testing.T) {
	reg := NewDefaultRegistry()
	of, ok := reg.Lookup(proto.OCPDriplOF)
	require.True(t, ok)
	assert.Equal(t, proto.OCPDriplOF, of.OCP())

	of, ok = reg.Lookup(proto.OCPPoOF)
	require.True(t, ok)
	assert.Equal(t, proto.OCPPoOF, of.OCP())
}
