package of

import (
	"github.com/rplmesh/rplmesh/internal/proto"
)

// DriplConfig holds DRiPLOF's tunables, generalized from the C
// preprocessor constants in rpl-driplof.c (MAX_LINK_METRIC_BASE,
// PARENT_SWITCH_THRESHOLD_BASE, MAX_PATH_COST_BASE), scaled by the
// link-stats ETX divisor.
type DriplConfig struct {
	ETXDivisor            uint16
	MaxLinkMetricBase     uint16  // default 8
	ParentSwitchThreshold float64 // fraction of ETXDivisor, default 0.75
	MaxPathCostBase       uint16  // default 256
}

// DefaultDriplConfig mirrors rpl-driplof.c's compiled-in defaults.
func DefaultDriplConfig() DriplConfig {
	return DriplConfig{
		ETXDivisor:            128,
		MaxLinkMetricBase:     8,
		ParentSwitchThreshold: 0.75,
		MaxPathCostBase:       256,
	}
}

// DriplOF is the default objective function, grounded on Contiki-NG's
// rpl-driplof.c.
type DriplOF struct {
	cfg DriplConfig
}

func NewDriplOF(cfg DriplConfig) *DriplOF { return &DriplOF{cfg: cfg} }

func (d *DriplOF) OCP() proto.OCP { return proto.OCPDriplOF }

func (d *DriplOF) maxLinkMetric() uint16 {
	return d.cfg.MaxLinkMetricBase * d.cfg.ETXDivisor
}

func (d *DriplOF) maxPathCost() uint16 {
	return d.cfg.MaxPathCostBase * d.cfg.ETXDivisor
}

func (d *DriplOF) parentSwitchThreshold() uint32 {
	return uint32(d.cfg.ParentSwitchThreshold * float64(d.cfg.ETXDivisor))
}

// ParentLinkMetric reads the neighbor's normalized_metric, matching
// rpl-driplof.c's parent_link_metric.
func (d *DriplOF) ParentLinkMetric(links LinkMetricSource, p *ParentInfo) uint16 {
	if p == nil {
		return 0xffff
	}
	m, ok := links.NormalizedMetric(p.Addr)
	if !ok {
		return 0xffff
	}
	return m
}

// ParentPathCost is MIN(p.rank + parent_link_metric(p), 0xffff).
func (d *DriplOF) ParentPathCost(links LinkMetricSource, p *ParentInfo) uint16 {
	if p == nil {
		return 0xffff
	}
	base := uint32(p.Rank)
	return uint16(minU32(base+uint32(d.ParentLinkMetric(links, p)), 0xffff))
}

// RankViaParent is MAX(MIN(p.rank + min_hoprankinc, 0xffff), path_cost).
func (d *DriplOF) RankViaParent(links LinkMetricSource, p *ParentInfo) proto.Rank {
	if p == nil {
		return proto.InfiniteRank
	}
	lowerBound := minU32(uint32(p.Rank)+uint32(p.MinHopRankInc), 0xffff)
	pathCost := uint32(d.ParentPathCost(links, p))
	return proto.Rank(maxU32(lowerBound, pathCost))
}

// ParentIsAcceptable excludes links with too high link metric or path
// cost (RFC 6719 §3.2.2, rpl-driplof.c's parent_is_acceptable).
func (d *DriplOF) ParentIsAcceptable(links LinkMetricSource, p *ParentInfo) bool {
	return d.ParentLinkMetric(links, p) <= d.maxLinkMetric() &&
		d.ParentPathCost(links, p) <= d.maxPathCost()
}

func (d *DriplOF) ParentHasUsableLink(links LinkMetricSource, p *ParentInfo) bool {
	return d.ParentLinkMetric(links, p) <= d.maxLinkMetric()
}

// BestParent applies acceptability screening and then hysteresis around
// the current preferred parent, matching rpl-driplof.c's best_parent.
func (d *DriplOF) BestParent(links LinkMetricSource, a, b *ParentInfo) *ParentInfo {
	aOK := a != nil && d.ParentIsAcceptable(links, a)
	bOK := b != nil && d.ParentIsAcceptable(links, b)

	if !aOK {
		if bOK {
			return b
		}
		return nil
	}
	if !bOK {
		return a
	}

	aCost := uint32(d.ParentPathCost(links, a))
	bCost := uint32(d.ParentPathCost(links, b))

	if a.IsPreferred || b.IsPreferred {
		threshold := d.parentSwitchThreshold()
		if withinHysteresis(aCost, bCost, threshold) {
			if a.IsPreferred {
				return a
			}
			return b
		}
	}

	if aCost < bCost {
		return a
	}
	return b
}

func withinHysteresis(aCost, bCost, threshold uint32) bool {
	upper := bCost + threshold
	var lower uint32
	if bCost > threshold {
		lower = bCost - threshold
	}
	return aCost < upper && aCost > lower
}

// BestDag: grounded > preference > rank, matching rpl-driplof.c.
func (d *DriplOF) BestDag(a, b *DagInfo) *DagInfo {
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

// UpdateMetricContainer mirrors rpl-driplof.c's RPL_WITH_MC-disabled
// branch: this mesh does not define a populated metric container type,
// so non-root nodes advertise RPL_DAG_MC_NONE and only the root
// publishes a minimal additive container.
func (d *DriplOF) UpdateMetricContainer(isRoot bool, rootRank proto.Rank, pathCost uint16) proto.MetricContainer {
	if !isRoot {
		return proto.MetricContainer{}
	}
	return proto.MetricContainer{
		Type:  1, // RPL_DAG_MC (populated), matching the C constant's intent
		Flags: 0,
		Aggr:  0, // RPL_DAG_MC_AGGR_ADDITIVE
		Prec:  0,
	}
}
