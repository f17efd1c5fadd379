// Package linkstats implements the per-neighbor, per-interface link
// statistics engine: insertion, EWMA/packet-count metric updates,
// threshold-crossing defer-flag maintenance, weighted normalization,
// preferred-interface selection, and freshness aging.
//
// Grounded on Contiki-NG's link-stats.c, adapted from Contiki's
// nbr-table/memb arena allocation to Go maps, and on the
// mutex-protected single-table pattern an AX.25 "stations heard" table
// uses.
package linkstats

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rplmesh/rplmesh/internal/lladdr"
	"github.com/rplmesh/rplmesh/internal/metrics"
)

// Tunables mirroring the ETX-default constants of Contiki-NG's
// link-stats.c.
type Config struct {
	MaxIfacesPerNbr   int
	ETXDivisor        uint16
	NoAckPenalty      uint16
	EWMAScale         uint16
	EWMAAlpha         uint16
	EWMABootstrap     uint16
	TxCountMax        uint16
	RSSIHigh          int16
	RSSILow           int16
	FreshnessMax      uint8
	FreshnessTarget   uint8
	FreshnessHalfLife time.Duration
	MetricPlaceholder uint16
	DefaultWeight     uint8
	MetricThreshold   uint16
	// WorseThanThresh implements LINK_STATS_WORSE_THAN_THRESH. The
	// default (metric >= threshold is worse, i.e. higher ETX is worse)
	// matches DRiPL-OF's ETX-based threshold.
	WorseThanThresh func(metric uint16, threshold uint16) bool
	// Mode selects ETX (EWMA or packet-count) vs LQL metric computation.
	Mode MetricMode
}

// MetricMode selects how InferredMetric is derived.
type MetricMode int

const (
	ModeETXEwma MetricMode = iota
	ModeETXPacketCount
	ModeLQL
)

// DefaultConfig mirrors Contiki-NG's link-stats.c constants.
func DefaultConfig() Config {
	return Config{
		MaxIfacesPerNbr:   2,
		ETXDivisor:        128,
		NoAckPenalty:      12,
		EWMAScale:         100,
		EWMAAlpha:         10,
		EWMABootstrap:     25,
		TxCountMax:        32,
		RSSIHigh:          -60,
		RSSILow:           -90,
		FreshnessMax:      16,
		FreshnessTarget:   4,
		FreshnessHalfLife: 15 * time.Minute,
		MetricPlaceholder: 0xFFFF,
		DefaultWeight:     1,
		MetricThreshold:   8 * 128, // MAX_LINK_METRIC_BASE(8) * ETX_DIVISOR
		WorseThanThresh: func(metric, threshold uint16) bool {
			return metric >= threshold
		},
		Mode: ModeETXEwma,
	}
}

// TxStatus is the terminal MAC outcome fed into packet_sent.
type TxStatus int

const (
	TxOK TxStatus = iota
	TxNoAck
	TxCollision
	TxErr
)

// InterfaceRecord is a neighbor's per-interface link record.
type InterfaceRecord struct {
	IfaceID        uint8
	InferredMetric uint16
	DeferFlag      bool
	Weight         uint8
	LastTxTime     time.Time
	Freshness      uint8
	RSSI           int16
	TxCount        uint16
	AckCount       uint16
}

// IsFresh reports whether the record's freshness counter meets target.
func (ir *InterfaceRecord) IsFresh(target uint8) bool {
	return ir != nil && ir.Freshness >= target
}

// Neighbor is the aggregate per-neighbor link-stats record, combining
// every interface that neighbor is reachable over.
type Neighbor struct {
	Addr             lladdr.Addr
	ETX              uint16
	RSSI             int16
	Freshness        uint8
	LastTxTime       time.Time
	NormalizedMetric uint16
	PrefIfaceID      uint8
	WifselFlag       bool
	Interfaces       []*InterfaceRecord
	TxCount          uint16
	AckCount         uint16
}

func (n *Neighbor) find(ifaceID uint8) *InterfaceRecord {
	for _, ir := range n.Interfaces {
		if ir.IfaceID == ifaceID {
			return ir
		}
	}
	return nil
}

// IsFresh mirrors link_stats_is_fresh: an aggregate freshness check used
// where no specific interface is in play.
func (n *Neighbor) IsFresh(target uint8) bool {
	return n != nil && n.Freshness >= target
}

// ErrTableFull is returned when the neighbor or interface table is at
// capacity; callers must not partially insert.
var ErrTableFull = errors.New("linkstats: table full")

// Table is the owning store of every neighbor's link-stats record.
type Table struct {
	mu   sync.Mutex
	cfg  Config
	now  func() time.Time
	nbrs map[lladdr.Addr]*Neighbor
}

// NewTable constructs an empty table. now is injectable for deterministic
// tests; pass nil to use time.Now.
func NewTable(cfg Config, now func() time.Time) *Table {
	if now == nil {
		now = time.Now
	}
	return &Table{cfg: cfg, now: now, nbrs: make(map[lladdr.Addr]*Neighbor)}
}

// Get returns the neighbor record for addr, or nil if unknown.
func (t *Table) Get(addr lladdr.Addr) *Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nbrs[addr]
}

// Len returns the number of known neighbors (diagnostic use).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nbrs)
}

func (t *Table) getOrCreate(addr lladdr.Addr, allowCreate bool) (*Neighbor, error) {
	if n, ok := t.nbrs[addr]; ok {
		return n, nil
	}
	if !allowCreate {
		return nil, nil
	}
	n := &Neighbor{
		Addr: addr,
		ETX:  2 * t.cfg.ETXDivisor, // ETX_DEFAULT
	}
	t.nbrs[addr] = n
	return n, nil
}

// remove deletes a neighbor once its interface list has gone empty.
func (t *Table) remove(addr lladdr.Addr) {
	delete(t.nbrs, addr)
}

// inferredMetric implements get_interface_etx / LQL guessing from
// Contiki-NG's link-stats.c, generalized over Config.Mode.
func (t *Table) inferredMetric(ir *InterfaceRecord, status TxStatus, numtx int, isNew bool) uint16 {
	cfg := t.cfg
	if status != TxOK && status != TxNoAck {
		return ir.InferredMetric
	}
	if status == TxOK && numtx == 0 && !isNew {
		// Receptions never feed the ETX EWMA; callers pass numtx=0 for
		// rx-only metric refresh (RSSI/freshness) and it is a no-op here.
		return ir.InferredMetric
	}

	switch cfg.Mode {
	case ModeLQL:
		if status != TxOK {
			return ir.InferredMetric
		}
		return lqlFromRSSI(ir.RSSI, cfg.RSSILow, cfg.RSSIHigh)

	case ModeETXPacketCount:
		n := numtx
		if status == TxNoAck {
			n += int(cfg.NoAckPenalty)
		}
		if int(ir.TxCount)+n > int(cfg.TxCountMax) {
			ir.TxCount /= 2
			ir.AckCount /= 2
		}
		ir.TxCount += uint16(n)
		if status == TxOK {
			ir.AckCount++
		}
		if ir.AckCount > 0 {
			return ir.TxCount * cfg.ETXDivisor / ir.AckCount
		}
		maxv := cfg.NoAckPenalty
		if ir.TxCount > maxv {
			maxv = ir.TxCount
		}
		return maxv * cfg.ETXDivisor

	default: // ModeETXEwma
		n := numtx
		if status == TxNoAck {
			n += int(cfg.NoAckPenalty)
		}
		stored := ir.InferredMetric
		if isNew {
			stored = 2 * cfg.ETXDivisor // ETX_DEFAULT
		}
		packetETX := uint32(n) * uint32(cfg.ETXDivisor)
		alpha := uint32(cfg.EWMAAlpha)
		if !ir.IsFresh(t.cfg.FreshnessTarget) {
			alpha = uint32(cfg.EWMABootstrap)
		}
		ewma := (uint32(stored)*(uint32(cfg.EWMAScale)-alpha) + packetETX*alpha) / uint32(cfg.EWMAScale)
		return uint16(ewma)
	}
}

func lqlFromRSSI(rssi, low, high int16) uint16 {
	bounded := rssi
	if bounded > high {
		bounded = high
	}
	if bounded < low+1 {
		bounded = low + 1
	}
	diff := high - low
	lql := 7 - (((int(bounded-low) * 6) + int(diff)/2) / int(diff))
	return uint16(lql)
}

// applyDeferCrossing updates the defer flag only when the metric crossed
// LINK_STATS_METRIC_THRESHOLD; it is never reset on mere record
// creation.
func (t *Table) applyDeferCrossing(ir *InterfaceRecord, oldMetric uint16) {
	wasDown := t.cfg.WorseThanThresh(oldMetric, t.cfg.MetricThreshold)
	isDown := t.cfg.WorseThanThresh(ir.InferredMetric, t.cfg.MetricThreshold)
	if wasDown && !isDown {
		ir.DeferFlag = false
	} else if !wasDown && isDown {
		ir.DeferFlag = true
	}
}

// PacketSent is the MAC's terminal-outcome callback.
// status must be TxOK or TxNoAck for a stats update to occur; collisions
// and fatal errors are ignored here (they never reach Link-Stats).
func (t *Table) PacketSent(addr lladdr.Addr, ifaceID uint8, status TxStatus, numtx int) error {
	if status != TxOK && status != TxNoAck {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n, _ := t.getOrCreate(addr, status == TxOK)
	if n == nil {
		// status == TxNoAck and neighbor unknown: do not create (matches
		// original link_stats_packet_sent).
		return nil
	}

	ir := n.find(ifaceID)
	crossed := false
	created := false
	if ir != nil {
		old := ir.InferredMetric
		ir.InferredMetric = t.inferredMetric(ir, status, numtx, false)
		if old != ir.InferredMetric {
			t.applyDeferCrossing(ir, old)
			crossed = true
		}
	} else {
		if len(n.Interfaces) >= t.cfg.MaxIfacesPerNbr {
			return ErrTableFull
		}
		ir = &InterfaceRecord{IfaceID: ifaceID, Weight: t.cfg.DefaultWeight}
		ir.InferredMetric = t.inferredMetric(ir, status, numtx, true)
		n.Interfaces = append(n.Interfaces, ir)
		created = true
	}

	now := t.now()
	n.LastTxTime = now
	n.Freshness = capFreshness(n.Freshness+uint8(clampNumtx(numtx)), t.cfg.FreshnessMax)
	ir.LastTxTime = now
	ir.Freshness = capFreshness(ir.Freshness+uint8(clampNumtx(numtx)), t.cfg.FreshnessMax)

	if created {
		t.updateNormLocked(addr)
		t.selectPrefIfaceLocked(addr)
	} else if crossed {
		t.selectPrefIfaceLocked(addr)
	}

	// Aggregate ETX, mirroring link_stats_packet_sent's parallel
	// stats->etx bookkeeping (kept for OF callers that read Neighbor.ETX
	// directly rather than per-interface records).
	nAdj := numtx
	if status == TxNoAck {
		nAdj += int(t.cfg.NoAckPenalty)
	}
	if t.cfg.Mode == ModeETXPacketCount {
		if int(n.TxCount)+nAdj > int(t.cfg.TxCountMax) {
			n.TxCount /= 2
			n.AckCount /= 2
		}
		n.TxCount += uint16(nAdj)
		if status == TxOK {
			n.AckCount++
		}
		if n.AckCount > 0 {
			n.ETX = n.TxCount * t.cfg.ETXDivisor / n.AckCount
		} else {
			maxv := t.cfg.NoAckPenalty
			if n.TxCount > maxv {
				maxv = n.TxCount
			}
			n.ETX = maxv * t.cfg.ETXDivisor
		}
	} else {
		packetETX := uint32(nAdj) * uint32(t.cfg.ETXDivisor)
		alpha := uint32(t.cfg.EWMAAlpha)
		if !n.IsFresh(t.cfg.FreshnessTarget) {
			alpha = uint32(t.cfg.EWMABootstrap)
		}
		n.ETX = uint16((uint32(n.ETX)*(uint32(t.cfg.EWMAScale)-alpha) + packetETX*alpha) / uint32(t.cfg.EWMAScale))
	}
	return nil
}

func clampNumtx(numtx int) int {
	if numtx < 0 {
		return 0
	}
	return numtx
}

func capFreshness(v uint8, max uint8) uint8 {
	if v > max {
		return max
	}
	return v
}

// PacketReceived is the framer-accepted-frame callback.
// It never feeds the ETX EWMA: only RSSI, last_tx_time, and freshness
// change.
func (t *Table) PacketReceived(addr lladdr.Addr, ifaceID uint8, rssi int16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, _ := t.getOrCreate(addr, true)
	if n == nil {
		return ErrTableFull
	}
	n.RSSI = ewmaRSSI(n.RSSI, rssi, n.IsFresh(t.cfg.FreshnessTarget), t.cfg)

	ir := n.find(ifaceID)
	created := false
	if ir == nil {
		if len(n.Interfaces) >= t.cfg.MaxIfacesPerNbr {
			return ErrTableFull
		}
		ir = &InterfaceRecord{IfaceID: ifaceID, Weight: t.cfg.DefaultWeight, RSSI: rssi}
		ir.InferredMetric = 2 * t.cfg.ETXDivisor // ETX_DEFAULT
		if t.cfg.Mode == ModeLQL {
			ir.InferredMetric = t.inferredMetric(ir, TxOK, 0, true)
		}
		n.Interfaces = append(n.Interfaces, ir)
		created = true
	} else {
		old := ir.InferredMetric
		ir.RSSI = ewmaRSSI(ir.RSSI, rssi, ir.IsFresh(t.cfg.FreshnessTarget), t.cfg)
		ir.InferredMetric = t.inferredMetric(ir, TxOK, 0, false)
		if old != ir.InferredMetric {
			t.applyDeferCrossing(ir, old)
		}
	}

	now := t.now()
	n.LastTxTime = now
	n.Freshness = capFreshness(n.Freshness+1, t.cfg.FreshnessMax)
	ir.LastTxTime = now
	ir.Freshness = capFreshness(ir.Freshness+1, t.cfg.FreshnessMax)

	if created {
		t.updateNormLocked(addr)
		t.selectPrefIfaceLocked(addr)
	} else {
		t.selectPrefIfaceLocked(addr)
	}
	return nil
}

func ewmaRSSI(stored, sample int16, fresh bool, cfg Config) int16 {
	alpha := int32(cfg.EWMAAlpha)
	if !fresh {
		alpha = int32(cfg.EWMABootstrap)
	}
	return int16((int32(stored)*(int32(cfg.EWMAScale)-alpha) + int32(sample)*alpha) / int32(cfg.EWMAScale))
}

// ModifyWeight sets the weight of one interface of one neighbor,
// implementing modify_weight. A weight of 0 is rejected, mirroring
// Contiki-NG's refusal ("Setting a weight of 0 is prohibited").
func (t *Table) ModifyWeight(addr lladdr.Addr, ifaceID uint8, weight uint8) bool {
	if weight == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nbrs[addr]
	if n == nil {
		return false
	}
	ir := n.find(ifaceID)
	if ir == nil {
		return false
	}
	ir.Weight = weight
	return true
}

// ModifyWeights sets the weight of ifaceID across every known neighbor,
// implementing modify_weights.
func (t *Table) ModifyWeights(ifaceID uint8, weight uint8) bool {
	if weight == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.nbrs {
		if ir := n.find(ifaceID); ir != nil {
			ir.Weight = weight
		}
	}
	return true
}

// ModifyWifselFlag sets whether preferred-interface selection for addr
// is weight-based: true iff the neighbor is in some DAG's parent set.
func (t *Table) ModifyWifselFlag(addr lladdr.Addr, v bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nbrs[addr]
	if n == nil {
		return false
	}
	n.WifselFlag = v
	return true
}

// SelectPrefIface is the exported, locking entry point for
// select_pref_iface.
func (t *Table) SelectPrefIface(addr lladdr.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selectPrefIfaceLocked(addr)
}

func (t *Table) selectPrefIfaceLocked(addr lladdr.Addr) bool {
	n := t.nbrs[addr]
	if n == nil || len(n.Interfaces) == 0 {
		return false
	}
	pref := n.Interfaces[0]
	for _, ir := range n.Interfaces[1:] {
		prefDown := t.cfg.WorseThanThresh(pref.InferredMetric, t.cfg.MetricThreshold)
		irDown := t.cfg.WorseThanThresh(ir.InferredMetric, t.cfg.MetricThreshold)
		switch {
		case prefDown == irDown:
			prefMetric, irMetric := uint32(pref.InferredMetric), uint32(ir.InferredMetric)
			if prefDown {
				// both down: neutralize with placeholders only if the
				// threshold predicate is defined as "< threshold"
				// (a strict-inequality threshold).
				if t.cfg.WorseThanThresh(t.cfg.MetricThreshold-1, t.cfg.MetricThreshold) {
					prefMetric = uint32(t.cfg.MetricPlaceholder)
					irMetric = uint32(t.cfg.MetricPlaceholder)
				}
			}
			if n.WifselFlag {
				prefW, irW := uint32(pref.Weight), uint32(ir.Weight)
				if prefW == 0 {
					prefW = uint32(t.cfg.DefaultWeight)
				}
				if irW == 0 {
					irW = uint32(t.cfg.DefaultWeight)
				}
				prefMetric = (prefMetric*10000 + prefW/2) / prefW
				irMetric = (irMetric*10000 + irW/2) / irW
			}
			if irMetric < prefMetric {
				pref = ir
			}
		case prefDown:
			// pref is down, ir is up: ir wins regardless of weight.
			pref = ir
		}
	}
	if n.PrefIfaceID != pref.IfaceID {
		metrics.PreferredInterfaceSwitches.WithLabelValues(addr.String()).Inc()
	}
	n.PrefIfaceID = pref.IfaceID
	for _, ir := range n.Interfaces {
		ifaceLabel := strconv.Itoa(int(ir.IfaceID))
		metrics.ETX.WithLabelValues(addr.String(), ifaceLabel).Set(float64(ir.InferredMetric))
		metrics.Freshness.WithLabelValues(addr.String(), ifaceLabel).Set(float64(ir.Freshness))
	}
	return true
}

// SelectPrefIfacesAll runs SelectPrefIface for every known neighbor,
// implementing select_pref_ifaces_all.
func (t *Table) SelectPrefIfacesAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr := range t.nbrs {
		t.selectPrefIfaceLocked(addr)
	}
}

// UpdateNormMetric recomputes normalized_metric, implementing
// update_norm_metric. It does not consult defer flags — the routing layer decides when to
// defer, via IsDeferRequired.
func (t *Table) UpdateNormMetric(addr lladdr.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateNormLocked(addr)
}

func (t *Table) updateNormLocked(addr lladdr.Addr) bool {
	n := t.nbrs[addr]
	if n == nil {
		return false
	}
	var numerator uint64
	var denominator uint64
	for _, ir := range n.Interfaces {
		metric := uint64(ir.InferredMetric)
		if t.cfg.WorseThanThresh(ir.InferredMetric, t.cfg.MetricThreshold) {
			metric = uint64(t.cfg.MetricPlaceholder)
		}
		weight := uint64(ir.Weight)
		if weight == 0 {
			weight = uint64(t.cfg.DefaultWeight)
		}
		numerator += metric * weight
		denominator += weight
	}
	missing := t.cfg.MaxIfacesPerNbr - len(n.Interfaces)
	if missing > 0 {
		numerator += uint64(missing) * uint64(t.cfg.MetricPlaceholder) * uint64(t.cfg.DefaultWeight)
		denominator += uint64(missing) * uint64(t.cfg.DefaultWeight)
	}
	if denominator == 0 {
		denominator = 1
	}
	n.NormalizedMetric = uint16((numerator + denominator/2) / denominator)
	return true
}

// IsDeferRequired implements is_defer_required: true iff some but not
// all interfaces of the neighbor have their defer flag set.
func (t *Table) IsDeferRequired(addr lladdr.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nbrs[addr]
	if n == nil {
		return false
	}
	numDef := 0
	for _, ir := range n.Interfaces {
		if ir.DeferFlag {
			numDef++
		}
	}
	return numDef > 0 && numDef < len(n.Interfaces)
}

// ResetDeferFlags clears every interface's defer flag for addr,
// implementing reset_defer_flags.
func (t *Table) ResetDeferFlags(addr lladdr.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nbrs[addr]
	if n == nil {
		return false
	}
	for _, ir := range n.Interfaces {
		ir.DeferFlag = false
	}
	return true
}

// Tick implements periodic freshness half-life aging: every neighbor's
// and every interface's freshness counter is halved.
func (t *Table) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.nbrs {
		n.Freshness >>= 1
		for _, ir := range n.Interfaces {
			ir.Freshness >>= 1
		}
	}
}

// NormalizedMetric returns the neighbor's current normalized_metric, for
// use by internal/of's LinkMetricSource contract (parent_link_metric).
func (t *Table) NormalizedMetric(addr lladdr.Addr) (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nbrs[addr]
	if n == nil {
		return 0, false
	}
	return n.NormalizedMetric, true
}

// HasNonFreshInterface implements the "ANY of the parent's interfaces is
// stale" check used by get_probing_target, as distinct from
// Neighbor.IsFresh's aggregate sense.
func (t *Table) HasNonFreshInterface(addr lladdr.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nbrs[addr]
	if n == nil {
		return false
	}
	for _, ir := range n.Interfaces {
		if !ir.IsFresh(t.cfg.FreshnessTarget) {
			return true
		}
	}
	return false
}

// HasFreshInterface reports whether addr has at least one fresh
// interface, the complement check select_parent's fallback ladder needs
// alongside HasNonFreshInterface.
func (t *Table) HasFreshInterface(addr lladdr.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nbrs[addr]
	if n == nil {
		return false
	}
	for _, ir := range n.Interfaces {
		if ir.IsFresh(t.cfg.FreshnessTarget) {
			return true
		}
	}
	return false
}

// OldestInterfaceUpdate returns the least recently updated interface's
// LastTxTime for addr (get_probing_target's final fallback). ok is
// false if addr is unknown or has no interfaces.
func (t *Table) OldestInterfaceUpdate(addr lladdr.Addr) (oldest time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nbrs[addr]
	if n == nil || len(n.Interfaces) == 0 {
		return time.Time{}, false
	}
	oldest = n.Interfaces[0].LastTxTime
	for _, ir := range n.Interfaces[1:] {
		if ir.LastTxTime.Before(oldest) {
			oldest = ir.LastTxTime
		}
	}
	return oldest, true
}

// RemoveInterface drops ifaceID from addr's interface list and removes
// the neighbor outright if that empties it.
func (t *Table) RemoveInterface(addr lladdr.Addr, ifaceID uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nbrs[addr]
	if n == nil {
		return
	}
	out := n.Interfaces[:0]
	for _, ir := range n.Interfaces {
		if ir.IfaceID != ifaceID {
			out = append(out, ir)
		}
	}
	n.Interfaces = out
	if len(n.Interfaces) == 0 {
		t.remove(addr)
	}
}
