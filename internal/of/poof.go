package of

import "github.com/rplmesh/rplmesh/internal/proto"

// PoOF is the diagnostic Parent-Oriented Objective Function: it always
// returns INFINITE_RANK and never accepts a parent, used to force a
// node to detach. Grounded directly on Contiki-NG's rpl-poof.c.
type PoOF struct{}

func NewPoOF() *PoOF { return &PoOF{} }

func (p *PoOF) OCP() proto.OCP { return proto.OCPPoOF }

func (p *PoOF) ParentLinkMetric(LinkMetricSource, *ParentInfo) uint16   { return 0xffff }
func (p *PoOF) ParentPathCost(LinkMetricSource, *ParentInfo) uint16    { return 0xffff }
func (p *PoOF) ParentHasUsableLink(LinkMetricSource, *ParentInfo) bool { return false }
func (p *PoOF) ParentIsAcceptable(LinkMetricSource, *ParentInfo) bool  { return false }

func (p *PoOF) RankViaParent(LinkMetricSource, *ParentInfo) proto.Rank {
	return proto.InfiniteRank
}

func (p *PoOF) BestParent(LinkMetricSource, *ParentInfo, *ParentInfo) *ParentInfo {
	return nil
}

// BestDag uses the same grounded > preference > rank ordering as
// DRiPL-OF; POOF only differs in how it treats individual parents.
func (p *PoOF) BestDag(a, b *DagInfo) *DagInfo {
	if a.Grounded != b.Grounded {
		if a.Grounded {
			return a
		}
		return b
	}
	if a.Preference != b.Preference {
		if a.Preference > b.Preference {
			return a
		}
		return b
	}
	if a.Rank < b.Rank {
		return a
	}
	return b
}

func (p *PoOF) UpdateMetricContainer(bool, proto.Rank, uint16) proto.MetricContainer {
	return proto.MetricContainer{}
}

var _ ObjectiveFunction = (*DriplOF)(nil)
var _ ObjectiveFunction = (*PoOF)(nil)
