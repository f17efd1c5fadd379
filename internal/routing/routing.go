// Package routing implements the DODAG routing state machine: instances,
// DAGs, and parents held in stable-index arenas; DIO processing;
// preferred-parent and DAG selection; rank acceptability; local/global
// repair and the poison window.
//
// Grounded on Contiki-NG's rpl-dag.c (rpl_process_dio,
// rpl_select_parent, rpl_select_dag, rpl_process_parent_event,
// rpl_local_repair, rpl_acceptable_rank), adapted from Contiki's
// MEMB-backed rpl_instance_t/rpl_dag_t/rpl_parent_t pointer graph to Go
// slices indexed by stable int handles, so no pointer cycles can form.
package routing

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rplmesh/rplmesh/internal/ifweight"
	"github.com/rplmesh/rplmesh/internal/linkstats"
	"github.com/rplmesh/rplmesh/internal/lladdr"
	"github.com/rplmesh/rplmesh/internal/lollipop"
	"github.com/rplmesh/rplmesh/internal/metrics"
	"github.com/rplmesh/rplmesh/internal/of"
	"github.com/rplmesh/rplmesh/internal/probing"
	"github.com/rplmesh/rplmesh/internal/proto"
	"github.com/rplmesh/rplmesh/internal/trickle"
)

// Sentinel errors replace Contiki's int/NULL return-code conventions.
var (
	ErrUnsupportedMOP   = errors.New("routing: unsupported mode of operation")
	ErrUnsupportedOCP   = errors.New("routing: unsupported objective code point")
	ErrInstancesFull    = errors.New("routing: instance arena full")
	ErrDagsFull         = errors.New("routing: dag arena full per instance")
	ErrRankBelowRoot    = errors.New("routing: advertised rank below root rank")
	ErrPoisonedInstance = errors.New("routing: instance is in its poison window")
)

// Config holds the routing-relevant tunables.
type Config struct {
	MaxInstances      int
	MaxDagPerInstance int
	RootRank          proto.Rank
	PoisonPeriod      time.Duration
	Trickle           trickle.Config
	Probing           probing.Config
	IfWeights         ifweight.Config
	// DagLifetimeUnit is RPL_DAG_LIFETIME: the seconds multiplier applied
	// to the trickle interval ceiling when computing how long an idle,
	// non-current DAG is kept around before RetireExpiredDags evicts it.
	DagLifetimeUnit uint32
}

// DefaultConfig mirrors RPL's compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		MaxInstances:      1,
		MaxDagPerInstance: 1,
		RootRank:          256, // ROOT_RANK: MinHopRankIncrease for a depth-0 root
		PoisonPeriod:      30 * time.Second,
		Trickle:           trickle.DefaultConfig(),
		Probing:           probing.DefaultConfig(),
		IfWeights:         ifweight.DefaultConfig(),
		DagLifetimeUnit:   60, // RPL_DAG_LIFETIME
	}
}

// ParentFlags mirrors RPL_PARENT_FLAG_*.
type ParentFlags uint8

const (
	FlagNotEligible ParentFlags = 1 << iota
	FlagWasKicked
	FlagUpdated
)

// Parent is the per-neighbor-per-DAG candidacy record.
type Parent struct {
	Addr   lladdr.Addr
	DagIdx int // index into Router.dags; -1 if detached
	Rank   proto.Rank
	DTSN   uint8
	MC     proto.MetricContainer
	Flags  ParentFlags
}

func (p *Parent) eligible() bool { return p.Flags&FlagNotEligible == 0 }

// Dag is the DODAG record.
type Dag struct {
	InstanceIdx        int
	ID                 proto.DagID
	Rank               proto.Rank
	MinRank            proto.Rank
	PreferredParentIdx int // index into Router.parents; -1 if none
	Prefix             *proto.PrefixInfo
	Version            uint8
	Grounded           bool
	Preference         uint8
	Joined             bool
	ExpiresAt          time.Time // zero until the first DIO sets it; see RetireExpiredDags
	urgentTarget       lladdr.Addr
	hasUrgent          bool
}

// Instance is the RPL instance record, owning up to
// Config.MaxDagPerInstance DAGs and its own trickle/probing/ifweight
// timers.
type Instance struct {
	InstanceID uint8
	MOP        proto.ModeOfOperation
	OCP        proto.OCP
	DagIdxs    []int
	CurrentDag int // index into DagIdxs, or -1
	DtsnOut    uint8
	MaxRankInc uint16

	numTxToPreferred int
	poisonedUntil    time.Time

	trickleTimer *trickle.Timer
	probeEngine  *probing.Engine
	ifwQueue     *ifweight.DelayQueue
}

// Hooks lets the embedding engine observe routing events without this
// package depending on internal/mac or internal/engine; the single
// owning struct that wires them together lives one layer up.
type Hooks struct {
	SendDIO      func(instanceIdx int)
	SendDAO      func(instanceIdx int)
	SendProbe    func(instanceIdx int, target lladdr.Addr)
	ApplyWeights func(parent lladdr.Addr)
}

// Router is the owning store for every Instance/Dag/Parent: one struct,
// arena-backed, no pointer cycles.
type Router struct {
	mu sync.Mutex

	cfg   Config
	self  lladdr.Addr
	root  bool
	links *linkstats.Table
	ofReg of.Registry
	hooks Hooks
	now   func() time.Time

	instances []*Instance
	dags      []*Dag
	parents   []*Parent
	byAddr    map[lladdr.Addr]int // parent addr -> index into parents
}

// NewRouter constructs an empty router for self, which is the root iff
// root is true.
func NewRouter(self lladdr.Addr, root bool, links *linkstats.Table, ofReg of.Registry, cfg Config, hooks Hooks) *Router {
	return &Router{
		cfg:    cfg,
		self:   self,
		root:   root,
		links:  links,
		ofReg:  ofReg,
		hooks:  hooks,
		now:    time.Now,
		byAddr: make(map[lladdr.Addr]int),
	}
}

// Instances returns the live instance count (diagnostic use).
func (r *Router) Instances() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

func (r *Router) instanceByID(id uint8) (int, *Instance) {
	for i, inst := range r.instances {
		if inst.InstanceID == id {
			return i, inst
		}
	}
	return -1, nil
}

func (r *Router) dagByID(inst *Instance, id proto.DagID) (int, *Dag) {
	for _, di := range inst.DagIdxs {
		if r.dags[di].ID == id {
			return di, r.dags[di]
		}
	}
	return -1, nil
}

func (r *Router) parentFor(addr lladdr.Addr) (int, *Parent) {
	idx, ok := r.byAddr[addr]
	if !ok {
		return -1, nil
	}
	return idx, r.parents[idx]
}

func (r *Router) newParent(addr lladdr.Addr, dagIdx int) int {
	p := &Parent{Addr: addr, DagIdx: dagIdx}
	r.parents = append(r.parents, p)
	idx := len(r.parents) - 1
	r.byAddr[addr] = idx
	return idx
}

// acceptableRank implements rpl_acceptable_rank: finite, and within
// min_rank+max_rankinc of the DAG's floor.
func acceptableRank(dag *Dag, maxRankInc uint16, rank proto.Rank) bool {
	if rank == proto.InfiniteRank {
		return false
	}
	return proto.DagRank(rank) <= proto.DagRank(dag.MinRank+proto.Rank(maxRankInc))
}

// ProcessDIO implements process_dio(from, dio): the 11-step DIO handler.
func (r *Router) ProcessDIO(from lladdr.Addr, dio proto.DIO) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Step 1: drop if MOP unsupported or OCP unknown.
	switch dio.MOP {
	case proto.MopNoDownwardRoutes, proto.MopNonStoring, proto.MopStoring, proto.MopStoringMulticast:
	default:
		return ErrUnsupportedMOP
	}
	objFn, ok := r.ofReg.Lookup(dio.OCP)
	if !ok {
		return ErrUnsupportedOCP
	}

	// Step 2: look up instance and DAG (may both be absent on first DIO).
	instIdx, inst := r.instanceByID(dio.InstanceID)

	if inst != nil && !r.now().After(inst.poisonedUntil) && dio.Rank != proto.InfiniteRank {
		// Poison window: finite-rank DIOs for this instance are ignored
		// until local repair's poison period elapses.
		return ErrPoisonedInstance
	}

	var dagIdx int
	var dag *Dag
	if inst != nil {
		dagIdx, dag = r.dagByID(inst, dio.DagID)
	}

	// Step 3: lollipop version comparison, only meaningful once both
	// instance and DAG already exist.
	if dag != nil {
		switch {
		case lollipopGreater(dio.Version, dag.Version):
			if r.root {
				dag.Version = bumpPast(dio.Version)
			} else {
				r.globalRepairLocked(instIdx, dagIdx, &dio)
			}
		case lollipopGreater(dag.Version, dio.Version):
			r.resetDioTrickleLocked(instIdx)
			r.poisonLocked(inst)
			return nil
		}
	}

	// Step 4: unknown instance -> join it, adopting sender as our first
	// parent and OF.
	if inst == nil {
		if len(r.instances) >= r.cfg.MaxInstances {
			return ErrInstancesFull
		}
		inst = &Instance{
			InstanceID: dio.InstanceID,
			MOP:        dio.MOP,
			OCP:        dio.OCP,
			CurrentDag: -1,
			MaxRankInc: dio.DagMaxRankInc,
		}
		r.instances = append(r.instances, inst)
		instIdx = len(r.instances) - 1
		r.armInstanceTimersLocked(instIdx, inst)
	}

	// Step 5: unknown DAG within a known instance -> add it (bounded by
	// MaxDagPerInstance).
	if dag == nil {
		if len(inst.DagIdxs) >= r.cfg.MaxDagPerInstance {
			return ErrDagsFull
		}
		dag = &Dag{
			InstanceIdx:        instIdx,
			ID:                 dio.DagID,
			Rank:               dio.Rank,
			MinRank:            dio.Rank,
			PreferredParentIdx: -1,
			Prefix:             dio.PrefixInfo,
			Version:            dio.Version,
			Grounded:           dio.Grounded,
			Preference:         dio.Preference,
			Joined:             true,
		}
		r.dags = append(r.dags, dag)
		dagIdx = len(r.dags) - 1
		inst.DagIdxs = append(inst.DagIdxs, dagIdx)
		if inst.CurrentDag < 0 {
			inst.CurrentDag = len(inst.DagIdxs) - 1
		}
	}

	// Step 6: reject ranks below the root's floor.
	if dio.Rank < r.cfg.RootRank {
		return ErrRankBelowRoot
	}

	// Step 7: refresh DAG lifetime. RetireExpiredDags evicts non-current
	// DAGs whose lifetime has elapsed since their last DIO.
	lifetimeSec := (uint64(1) << (uint64(r.cfg.Trickle.IntervalMin) + uint64(r.cfg.Trickle.IntervalDoublings))) * uint64(r.cfg.DagLifetimeUnit) / 1000
	dag.ExpiresAt = r.now().Add(time.Duration(lifetimeSec) * time.Second)

	// Step 8: find/create the parent record for the sender in this DAG.
	pIdx, p := r.parentFor(from)
	if p == nil {
		pIdx = r.newParent(from, dagIdx)
		p = r.parents[pIdx]
	} else {
		p.DagIdx = dagIdx
	}
	if dio.Rank < dag.Rank {
		p.Flags &^= FlagNotEligible
	} else {
		p.Flags |= FlagNotEligible
	}
	p.Rank = dio.Rank
	p.DTSN = dio.DTSN
	p.MC = dio.MC

	// Step 9: rpl_exec_norm_metric_logic(reset_defer=true) over every
	// parent of this DAG, not just the sender: normalize each parent's
	// metric, except the current preferred parent while its defer
	// condition is still pending (so a transient down-interface doesn't
	// yank the default route), then reset every parent's defer flags
	// regardless of whether normalization ran.
	for idx, parent := range r.parents {
		if parent.DagIdx != dagIdx {
			continue
		}
		isPreferred := dag.PreferredParentIdx == idx
		if !(isPreferred && r.links.IsDeferRequired(parent.Addr)) {
			r.links.UpdateNormMetric(parent.Addr)
		}
		r.links.ResetDeferFlags(parent.Addr)
	}

	// Step 10: enforce acceptability for the affected parent; this may
	// trigger local repair if it was the preferred parent.
	r.processParentEventLocked(instIdx, pIdx)

	// Step 11: a preferred parent advertising INFINITE_RANK resets
	// trickle; any DIO carrying a non-zero DTSN bumps DtsnOut and
	// schedules a DAO refresh.
	if dag.PreferredParentIdx >= 0 && r.parents[dag.PreferredParentIdx].Rank == proto.InfiniteRank {
		r.resetDioTrickleLocked(instIdx)
	}
	if dio.DTSN != 0 && r.hooks.SendDAO != nil {
		inst.DtsnOut++
		r.hooks.SendDAO(instIdx)
	}

	_ = objFn // the OF is exercised via select_parent/select_dag below
	r.selectDagLocked(instIdx, pIdx)

	return nil
}

// processParentEventLocked implements rpl_process_parent_event: checks
// whether p's rank-via-parent is still acceptable under its DAG; if not,
// it is nullified, and if it was the preferred parent this escalates to
// local repair. r.mu must be held.
func (r *Router) processParentEventLocked(instIdx, pIdx int) {
	inst := r.instances[instIdx]
	p := r.parents[pIdx]
	if p.DagIdx < 0 {
		return
	}
	dag := r.dags[p.DagIdx]

	objFn, _ := r.ofReg.Lookup(inst.OCP)
	if objFn == nil {
		return
	}
	info := r.parentInfoLocked(dag, pIdx)
	rank := objFn.RankViaParent(r.links, info)

	if !acceptableRank(dag, inst.MaxRankInc, rank) && p.eligible() {
		p.Flags |= FlagNotEligible
		if dag.PreferredParentIdx == pIdx {
			r.localRepairLocked(instIdx)
			return
		}
	}

	r.selectDagLocked(instIdx, pIdx)
}

// parentInfoLocked builds the of.ParentInfo view for p within dag.
// r.mu must be held.
func (r *Router) parentInfoLocked(dag *Dag, pIdx int) *of.ParentInfo {
	p := r.parents[pIdx]
	inst := r.instances[dag.InstanceIdx]
	return &of.ParentInfo{
		Addr:          p.Addr,
		Rank:          p.Rank,
		MinHopRankInc: inst.MaxRankInc,
		IsPreferred:   dag.PreferredParentIdx == pIdx,
	}
}

// selectParentLocked implements rpl_select_parent(dag): chooses the OF's
// best eligible, acceptable-rank parent, with freshness-aware fallback
// and urgent-probing escalation. r.mu must be held.
func (r *Router) selectParentLocked(dagIdx int) {
	dag := r.dags[dagIdx]
	inst := r.instances[dag.InstanceIdx]
	objFn, ok := r.ofReg.Lookup(inst.OCP)
	if !ok {
		return
	}

	var candidates []int
	for idx, p := range r.parents {
		if p.DagIdx != dagIdx || !p.eligible() {
			continue
		}
		if p.Rank == proto.InfiniteRank || p.Rank < r.cfg.RootRank {
			continue
		}
		candidates = append(candidates, idx)
	}
	if len(candidates) == 0 {
		dag.PreferredParentIdx = -1
		return
	}

	bestIdx := candidates[0]
	for _, idx := range candidates[1:] {
		a := r.parentInfoLocked(dag, bestIdx)
		b := r.parentInfoLocked(dag, idx)
		winner := objFn.BestParent(r.links, a, b)
		if winner != nil && winner.Addr == b.Addr {
			bestIdx = idx
		}
	}

	best := r.parents[bestIdx]
	if !r.links.HasNonFreshInterface(best.Addr) {
		r.notePreferredParentChange(inst.InstanceID, dag.PreferredParentIdx, bestIdx)
		dag.PreferredParentIdx = bestIdx
		dag.hasUrgent = false
		return
	}

	// Fall back, in priority order, to an all-fresh or any-fresh
	// candidate; the original best stays the urgent probing target.
	fallback := -1
	anyFresh := -1
	for _, idx := range candidates {
		p := r.parents[idx]
		if !r.links.HasNonFreshInterface(p.Addr) {
			fallback = idx
			break
		}
		if anyFresh < 0 && r.links.HasFreshInterface(p.Addr) {
			anyFresh = idx
		}
	}
	chosen := bestIdx
	switch {
	case fallback >= 0:
		chosen = fallback
	case anyFresh >= 0:
		chosen = anyFresh
	}
	r.notePreferredParentChange(inst.InstanceID, dag.PreferredParentIdx, chosen)
	dag.PreferredParentIdx = chosen
	dag.urgentTarget = best.Addr
	dag.hasUrgent = true
	if inst.probeEngine != nil {
		inst.probeEngine.ScheduleNow()
	}
}

// selectDagLocked implements rpl_select_dag(instance, p): re-run
// selectParent for the hinted parent's DAG, then pick the OF's best DAG
// across the instance and migrate if it changed. r.mu must be held.
func (r *Router) selectDagLocked(instIdx, hintParentIdx int) {
	inst := r.instances[instIdx]
	hintDagIdx := r.parents[hintParentIdx].DagIdx
	if hintDagIdx < 0 {
		return
	}

	prevPreferred := r.dags[hintDagIdx].PreferredParentIdx
	r.selectParentLocked(hintDagIdx)

	objFn, ok := r.ofReg.Lookup(inst.OCP)
	if !ok {
		return
	}

	bestLocal := inst.CurrentDag
	if bestLocal < 0 {
		bestLocal = 0
	}
	for i := range inst.DagIdxs {
		if i == bestLocal {
			continue
		}
		a := dagInfo(r.dags[inst.DagIdxs[bestLocal]])
		b := dagInfo(r.dags[inst.DagIdxs[i]])
		winner := objFn.BestDag(a, b)
		if winner != nil && winner.ID == b.ID {
			bestLocal = i
		}
	}

	changed := bestLocal != inst.CurrentDag
	inst.CurrentDag = bestLocal
	dag := r.dags[inst.DagIdxs[bestLocal]]

	if dag.PreferredParentIdx >= 0 {
		info := r.parentInfoLocked(dag, dag.PreferredParentIdx)
		dag.Rank = objFn.RankViaParent(r.links, info)
	}

	if changed || dag.PreferredParentIdx != prevPreferred {
		if r.links != nil && dag.PreferredParentIdx >= 0 {
			r.links.ModifyWifselFlag(r.parents[dag.PreferredParentIdx].Addr, true)
		}
		if r.hooks.SendDAO != nil {
			r.hooks.SendDAO(instIdx)
		}
		r.resetDioTrickleLocked(instIdx)
	}
}

// notePreferredParentChange bumps the parent-switch counter iff
// select_parent actually changed the winning candidate.
func (r *Router) notePreferredParentChange(instanceID uint8, prevIdx, nextIdx int) {
	if prevIdx == nextIdx {
		return
	}
	metrics.ParentSwitches.WithLabelValues(strconv.Itoa(int(instanceID))).Inc()
}

func dagInfo(d *Dag) *of.DagInfo {
	return &of.DagInfo{ID: d.ID, Grounded: d.Grounded, Preference: d.Preference, Rank: d.Rank}
}

// localRepairLocked implements rpl_local_repair: every DAG in the
// instance goes to INFINITE_RANK with no parents, and a poison window
// begins.
func (r *Router) localRepairLocked(instIdx int) {
	inst := r.instances[instIdx]
	for _, di := range inst.DagIdxs {
		dag := r.dags[di]
		dag.Rank = proto.InfiniteRank
		dag.PreferredParentIdx = -1
	}
	for _, p := range r.parents {
		if p.DagIdx >= 0 && r.dags[p.DagIdx].InstanceIdx == instIdx {
			p.Flags |= FlagNotEligible
		}
	}
	r.resetDioTrickleLocked(instIdx)
	r.poisonLocked(inst)
}

// globalRepairLocked implements the "not root, version advanced" branch
// of step 3: drop all parents, apply the new DAG's prefix, re-add the
// sender, and recompute rank.
func (r *Router) globalRepairLocked(instIdx, dagIdx int, dio *proto.DIO) {
	dag := r.dags[dagIdx]
	for _, p := range r.parents {
		if p.DagIdx == dagIdx {
			p.DagIdx = -1
		}
	}
	dag.Version = dio.Version
	dag.Prefix = dio.PrefixInfo
	dag.PreferredParentIdx = -1
	dag.MinRank = dio.Rank
}

// poisonLocked starts/refreshes the instance's poison window.
func (r *Router) poisonLocked(inst *Instance) {
	inst.poisonedUntil = r.now().Add(r.cfg.PoisonPeriod)
}

func (r *Router) resetDioTrickleLocked(instIdx int) {
	inst := r.instances[instIdx]
	if inst.trickleTimer != nil {
		inst.trickleTimer.Reset()
		metrics.TrickleResets.WithLabelValues(strconv.Itoa(int(inst.InstanceID))).Inc()
	}
}

// RetireExpiredDags evicts each instance's non-current DAGs whose
// ExpiresAt (set by ProcessDIO's step 7) has elapsed: a DAG that has
// stopped hearing DIOs for longer than RPL_DAG_LIFETIME implies is
// stale and is dropped from the instance's candidate set. The current
// DAG is never evicted by this pass even if its lifetime lapsed,
// matching rpl-dag.c's lifetime check only gating non-preferred DAGs.
// Retired Dag/Parent records stay in their arenas (no pointer cycles to
// unwind) but are no longer reachable from any Instance.
func (r *Router) RetireExpiredDags() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, inst := range r.instances {
		if len(inst.DagIdxs) == 0 {
			continue
		}
		var curDagIdx = -1
		if inst.CurrentDag >= 0 && inst.CurrentDag < len(inst.DagIdxs) {
			curDagIdx = inst.DagIdxs[inst.CurrentDag]
		}

		kept := inst.DagIdxs[:0]
		for _, dIdx := range inst.DagIdxs {
			dag := r.dags[dIdx]
			expired := !dag.ExpiresAt.IsZero() && now.After(dag.ExpiresAt)
			if expired && dIdx != curDagIdx {
				dag.Joined = false
				continue
			}
			kept = append(kept, dIdx)
		}
		if len(kept) == len(inst.DagIdxs) {
			continue
		}
		inst.DagIdxs = kept
		inst.CurrentDag = -1
		for i, dIdx := range inst.DagIdxs {
			if dIdx == curDagIdx {
				inst.CurrentDag = i
				break
			}
		}
	}
}

// armInstanceTimersLocked wires the trickle, probing, and interface
// weighting engines for a freshly joined instance into this Router's own
// DIO/DAO/probe hooks and parent-view adapters.
func (r *Router) armInstanceTimersLocked(instIdx int, inst *Instance) {
	inst.trickleTimer = trickle.New(r.cfg.Trickle, func() {
		if r.hooks.SendDIO != nil {
			r.hooks.SendDIO(instIdx)
		}
	}, nil)
	inst.trickleTimer.Start()

	dv := &dagProbeView{r: r, instIdx: instIdx}
	inst.probeEngine = probing.NewEngine(r.cfg.Probing, dv, r.links, func(target lladdr.Addr) {
		if r.hooks.SendProbe != nil {
			r.hooks.SendProbe(instIdx, target)
		}
	}, nil)
	inst.probeEngine.Schedule()

	inst.ifwQueue = ifweight.NewDelayQueue(r.cfg.IfWeights, func(parent lladdr.Addr) {
		r.links.SelectPrefIface(parent)
		if r.hooks.ApplyWeights != nil {
			r.hooks.ApplyWeights(parent)
		}
	}, nil, nil)
}

// dagProbeView adapts a Router instance's currently-selected DAG to
// internal/probing's DAG interface without exposing Router internals.
type dagProbeView struct {
	r       *Router
	instIdx int
}

func (v *dagProbeView) currentDag() *Dag {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	inst := v.r.instances[v.instIdx]
	if inst.CurrentDag < 0 || inst.CurrentDag >= len(inst.DagIdxs) {
		return nil
	}
	return v.r.dags[inst.DagIdxs[inst.CurrentDag]]
}

func (v *dagProbeView) UrgentProbingTarget() (lladdr.Addr, bool) {
	d := v.currentDag()
	if d == nil {
		return lladdr.Addr{}, false
	}
	return d.urgentTarget, d.hasUrgent
}

func (v *dagProbeView) PreferredParent() (lladdr.Addr, bool) {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	inst := v.r.instances[v.instIdx]
	if inst.CurrentDag < 0 {
		return lladdr.Addr{}, false
	}
	dag := v.r.dags[inst.DagIdxs[inst.CurrentDag]]
	if dag.PreferredParentIdx < 0 {
		return lladdr.Addr{}, false
	}
	return v.r.parents[dag.PreferredParentIdx].Addr, true
}

func (v *dagProbeView) Parents() []probing.Parent {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	inst := v.r.instances[v.instIdx]
	if inst.CurrentDag < 0 {
		return nil
	}
	dagIdx := inst.DagIdxs[inst.CurrentDag]
	objFn, _ := v.r.ofReg.Lookup(inst.OCP)
	var out []probing.Parent
	for _, p := range v.r.parents {
		if p.DagIdx != dagIdx || !p.eligible() {
			continue
		}
		rank := p.Rank
		if objFn != nil {
			rank = objFn.RankViaParent(v.r.links, v.r.parentInfoLocked(v.r.dags[dagIdx], v.r.byAddr[p.Addr]))
		}
		out = append(out, probing.Parent{Addr: p.Addr, RankViaParent: uint16(rank)})
	}
	return out
}

// PreferredParent reports the preferred parent of instanceID's current
// DAG, for external callers (e.g. DAO emission, the MAC default route).
func (r *Router) PreferredParent(instanceID uint8) (lladdr.Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, inst := r.instanceByID(instanceID)
	if inst == nil || inst.CurrentDag < 0 {
		return lladdr.Addr{}, false
	}
	dag := r.dags[inst.DagIdxs[inst.CurrentDag]]
	if dag.PreferredParentIdx < 0 {
		return lladdr.Addr{}, false
	}
	return r.parents[dag.PreferredParentIdx].Addr, true
}

// AdvertisedRank reports instanceID's current DAG rank (what this node
// would put in its own outgoing DIO).
func (r *Router) AdvertisedRank(instanceID uint8) (proto.Rank, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, inst := r.instanceByID(instanceID)
	if inst == nil || inst.CurrentDag < 0 {
		return 0, false
	}
	return r.dags[inst.DagIdxs[inst.CurrentDag]].Rank, true
}

// DIOFor builds the outgoing DIO this node would currently advertise
// for instanceID, for the composition root's trickle-timer SendDIO
// hook. ok is false for an instance with no joined DAG yet (a root
// with nothing to advertise still constructs its own instance/DAG out
// of band, before this is ever called).
func (r *Router) DIOFor(instanceID uint8) (dio proto.DIO, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, inst := r.instanceByID(instanceID)
	if inst == nil || inst.CurrentDag < 0 {
		return proto.DIO{}, false
	}
	dag := r.dags[inst.DagIdxs[inst.CurrentDag]]
	dio = proto.DIO{
		InstanceID:    inst.InstanceID,
		Version:       dag.Version,
		Rank:          dag.Rank,
		Grounded:      dag.Grounded,
		Preference:    dag.Preference,
		MOP:           inst.MOP,
		OCP:           inst.OCP,
		DTSN:          inst.DtsnOut,
		DagID:         dag.ID,
		DagMaxRankInc: inst.MaxRankInc,
		MinHopRankInc: inst.MaxRankInc,
		PrefixInfo:    dag.Prefix,
	}
	return dio, true
}

// NoteTxToPreferredParent increments the transmit counter that
// RecalculateInterfaceWeights's density formula consumes. The MAC output
// engine does not call it; the counter only advances through direct
// calls to this method.
func (r *Router) NoteTxToPreferredParent(instanceID uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, inst := r.instanceByID(instanceID); inst != nil {
		inst.numTxToPreferred++
	}
}

// RecalculateInterfaceWeights implements handle_ifw_recalc_timer: derive
// a weight per interface from the just-elapsed window's transmit count,
// write the weights into Link-Stats for the preferred parent at once,
// schedule that parent on the instance's ifweight delay queue (which
// re-runs preferred-interface selection after IfWeights.Delay), and
// reset the window counter. The weights themselves are not held back by
// the delay queue.
func (r *Router) RecalculateInterfaceWeights(instanceID uint8, ifaces []ifweight.Interface) {
	r.mu.Lock()
	_, inst := r.instanceByID(instanceID)
	if inst == nil {
		r.mu.Unlock()
		return
	}
	numTx := inst.numTxToPreferred
	inst.numTxToPreferred = 0
	var preferred lladdr.Addr
	hasPreferred := false
	if inst.CurrentDag >= 0 {
		dag := r.dags[inst.DagIdxs[inst.CurrentDag]]
		if dag.PreferredParentIdx >= 0 {
			preferred = r.parents[dag.PreferredParentIdx].Addr
			hasPreferred = true
		}
	}
	queue := inst.ifwQueue
	r.mu.Unlock()

	if !hasPreferred {
		return
	}
	weights := ifweight.ComputeWeights(numTx, r.cfg.IfWeights.Window, ifaces)
	for ifaceID, w := range weights {
		r.links.ModifyWeight(preferred, ifaceID, w)
	}
	if queue != nil {
		queue.Schedule(preferred)
	}
}

// SetRoot implements rpl_set_root: originate a fresh instance/DAG at
// RootRank with no parents, for a node configured as the DODAG root. It
// is a no-op-safe re-grounding if instanceID already exists: any
// existing DAGs are dropped first.
func (r *Router) SetRoot(instanceID uint8, dagID proto.DagID, mop proto.ModeOfOperation, ocp proto.OCP, maxRankInc uint16) error {
	if _, ok := r.ofReg.Lookup(ocp); !ok {
		return ErrUnsupportedOCP
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	instIdx, inst := r.instanceByID(instanceID)
	if inst == nil {
		if len(r.instances) >= r.cfg.MaxInstances {
			return ErrInstancesFull
		}
		inst = &Instance{InstanceID: instanceID, CurrentDag: -1}
		r.instances = append(r.instances, inst)
		instIdx = len(r.instances) - 1
		r.armInstanceTimersLocked(instIdx, inst)
	} else {
		inst.DagIdxs = inst.DagIdxs[:0]
		inst.CurrentDag = -1
	}
	inst.MOP = mop
	inst.OCP = ocp
	inst.MaxRankInc = maxRankInc

	dag := &Dag{
		InstanceIdx:        instIdx,
		ID:                 dagID,
		Rank:               r.cfg.RootRank,
		MinRank:            r.cfg.RootRank,
		PreferredParentIdx: -1,
		Version:            lollipop.Init,
		Grounded:           true,
		Preference:         0,
		Joined:             true,
	}
	r.dags = append(r.dags, dag)
	dagIdx := len(r.dags) - 1
	inst.DagIdxs = append(inst.DagIdxs, dagIdx)
	inst.CurrentDag = 0

	r.resetDioTrickleLocked(instIdx)
	return nil
}

// LocalRepair triggers a local repair of instanceID from outside the DIO
// path (e.g. a MAC-observed link failure toward the preferred parent).
func (r *Router) LocalRepair(instanceID uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, inst := r.instanceByID(instanceID); inst != nil {
		r.localRepairLocked(idx)
	}
}

func lollipopGreater(a, b uint8) bool { return lollipop.GreaterThan(a, b) }
func bumpPast(v uint8) uint8          { return lollipop.Incr(v) }
