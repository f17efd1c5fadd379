// Package of implements the pluggable objective-function contract: the
// routing core dispatches rank and parent/DAG comparisons through this
// interface, keyed by OCP, rather than hard coding one policy. Grounded
// on Contiki-NG's rpl-driplof.c and rpl-poof.c (the rpl_of_t trait).
package of

import (
	"github.com/rplmesh/rplmesh/internal/lladdr"
	"github.com/rplmesh/rplmesh/internal/proto"
)

// ParentInfo is the read-only view of a candidate parent that the
// routing core hands to an ObjectiveFunction. It decouples this package
// from internal/routing's Parent/DAG arena types.
type ParentInfo struct {
	Addr          lladdr.Addr
	Rank          proto.Rank
	MinHopRankInc uint16
	IsPreferred   bool // true iff this is the DAG's current preferred parent
}

// DagInfo is the read-only view of a candidate DAG handed to best_dag.
type DagInfo struct {
	ID         proto.DagID
	Grounded   bool
	Preference uint8
	Rank       proto.Rank
}

// LinkMetricSource supplies parent_link_metric's normalized_metric read.
// internal/linkstats.Table satisfies this directly.
type LinkMetricSource interface {
	NormalizedMetric(addr lladdr.Addr) (uint16, bool)
}

// ObjectiveFunction is the rpl_of_t-style contract every objective
// function implements.
type ObjectiveFunction interface {
	OCP() proto.OCP

	ParentLinkMetric(links LinkMetricSource, p *ParentInfo) uint16
	ParentPathCost(links LinkMetricSource, p *ParentInfo) uint16
	ParentHasUsableLink(links LinkMetricSource, p *ParentInfo) bool
	ParentIsAcceptable(links LinkMetricSource, p *ParentInfo) bool
	RankViaParent(links LinkMetricSource, p *ParentInfo) proto.Rank

	// BestParent returns whichever of a, b should be preferred, or nil
	// if neither is acceptable. Exactly one of a, b may have IsPreferred
	// set, to drive hysteresis.
	BestParent(links LinkMetricSource, a, b *ParentInfo) *ParentInfo

	BestDag(a, b *DagInfo) *DagInfo

	// UpdateMetricContainer returns the metric container this OF wants
	// advertised for a root (or non-root, via pathCost) node.
	UpdateMetricContainer(isRoot bool, rootRank proto.Rank, pathCost uint16) proto.MetricContainer
}

// Registry maps OCP to the OF implementation that handles it — a static
// table of supported OFs keyed by OCP.
type Registry map[proto.OCP]ObjectiveFunction

// NewDefaultRegistry returns the two OFs a node needs: DRiPL-OF
// (default) and PO-OF (diagnostic).
func NewDefaultRegistry() Registry {
	return Registry{
		proto.OCPDriplOF: NewDriplOF(DefaultDriplConfig()),
		proto.OCPPoOF:    NewPoOF(),
	}
}

func (r Registry) Lookup(ocp proto.OCP) (ObjectiveFunction, bool) {
	of, ok := r[ocp]
	return of, ok
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
