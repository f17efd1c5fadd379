// Package engine is rplmeshd's composition root: one struct holding
// every subsystem's owning store, wired together once at startup, then
// driven by a single event loop — constructed once and passed by
// reference to every handler, replacing a flags-config-subsystems-run
// main() composition pattern (and its package-level globals) with an
// explicit struct instead.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rplmesh/rplmesh/internal/config"
	"github.com/rplmesh/rplmesh/internal/frame"
	"github.com/rplmesh/rplmesh/internal/heard"
	"github.com/rplmesh/rplmesh/internal/ifweight"
	"github.com/rplmesh/rplmesh/internal/linkstats"
	"github.com/rplmesh/rplmesh/internal/lladdr"
	"github.com/rplmesh/rplmesh/internal/mac"
	"github.com/rplmesh/rplmesh/internal/of"
	"github.com/rplmesh/rplmesh/internal/probing"
	"github.com/rplmesh/rplmesh/internal/proto"
	"github.com/rplmesh/rplmesh/internal/radio"
	"github.com/rplmesh/rplmesh/internal/rlog"
	"github.com/rplmesh/rplmesh/internal/routing"
	"github.com/rplmesh/rplmesh/internal/trickle"
)

var log = rlog.Named(rlog.Engine)

// Engine is the running node: every owning store plus the hooks that
// connect them.
type Engine struct {
	cfg  config.Config
	self lladdr.Addr

	links  *linkstats.Table
	router *routing.Router
	ofReg  of.Registry
	disp   *radio.MultiDispatch
	macOut *mac.Output
	macIn  *mac.Input
	heard  *heard.Table
	csv    *rlog.EventSink

	pollInterval time.Duration
}

// New builds an Engine from cfg and a driver for each of cfg.Interfaces.
// Driver construction (hamlib vs. simulated) is the caller's
// responsibility; New only wires the already-constructed drivers into
// the dispatch/MAC/routing stack.
func New(cfg config.Config, drivers map[uint8]radio.Driver) (*Engine, error) {
	self, err := cfg.SelfAddr()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	rates := make(map[uint8]uint32, len(cfg.Interfaces))
	for _, ifc := range cfg.Interfaces {
		rates[ifc.IfaceID] = ifc.DataRate
	}
	disp := radio.NewMultiDispatch(drivers, rates)

	linkCfg := linkstats.DefaultConfig()
	linkCfg.MaxIfacesPerNbr = cfg.MaxIfacesPerNbr
	linkCfg.FreshnessTarget = cfg.FreshnessTarget
	linkCfg.FreshnessHalfLife = cfg.FreshnessHalfLife
	linkCfg.MetricPlaceholder = cfg.MetricPlaceholder
	linkCfg.DefaultWeight = cfg.DefaultWeight
	linkCfg.MetricThreshold = cfg.MetricThreshold
	links := linkstats.NewTable(linkCfg, nil)

	ofReg := of.NewDefaultRegistry()

	csv, err := rlog.NewEventSink(cfg.LogCSV)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:          cfg,
		self:         self,
		links:        links,
		ofReg:        ofReg,
		disp:         disp,
		heard:        heard.NewTable(),
		csv:          csv,
		pollInterval: 2 * time.Millisecond,
	}

	rcfg := routing.Config{
		MaxInstances:      cfg.MaxInstances,
		MaxDagPerInstance: cfg.MaxDagPerInstance,
		RootRank:          proto.Rank(cfg.Node.RootRank),
		PoisonPeriod:      cfg.PoisonPeriod,
		Trickle: trickle.Config{
			IntervalMin:       cfg.DioIntervalMin,
			IntervalDoublings: cfg.DioIntervalDoublings,
			Redundancy:        cfg.DioRedundancy,
		},
		Probing: probing.Config{Interval: cfg.ProbingInterval},
		IfWeights: ifweight.Config{
			Window:          cfg.IfWeightsWindow,
			Delay:           cfg.IfWeightsDelay,
			MaxQueueEntries: 4,
		},
	}
	e.router = routing.NewRouter(self, cfg.Node.Root, links, ofReg, rcfg, routing.Hooks{
		SendDIO:      e.sendDIO,
		SendDAO:      e.sendDAO,
		SendProbe:    e.sendProbe,
		ApplyWeights: e.applyWeights,
	})

	macCfg := mac.DefaultConfig()
	macCfg.MaxNeighborQueues = cfg.MaxNeighborQueues
	macCfg.MaxPacketPerNeighbor = cfg.MaxPacketPerNeighbor
	macCfg.MinBE = cfg.MinBE
	macCfg.MaxBE = cfg.MaxBE
	macCfg.MaxBackoff = cfg.MaxBackoff
	macCfg.MaxFrameRetries = cfg.MaxFrameRetries
	e.macOut = mac.NewOutput(macCfg, disp, links, nil)
	e.macIn = mac.NewInput(self, links)

	if cfg.Node.Root {
		// maxRankInc mirrors DAG_MAX_RANK_INCREASE/MinHopRankIncrease,
		// which RPL-classic conventionally sets equal to the root rank
		// granularity (ROOT_RANK).
		if err := e.router.SetRoot(cfg.Node.InstanceID, proto.DagID{1}, proto.MopStoring, proto.OCPDriplOF, cfg.Node.RootRank); err != nil {
			return nil, fmt.Errorf("engine: set root: %w", err)
		}
	}

	return e, nil
}

// sendDIO is the routing.Hooks.SendDIO callback: broadcasts the current
// DIO for the configured instance (cfg.Node.InstanceID) to every
// interface. instanceIdx is not used.
func (e *Engine) sendDIO(instanceIdx int) {
	dio, ok := e.router.DIOFor(e.cfg.Node.InstanceID)
	if !ok {
		return
	}
	payload := encodeDIO(&dio)
	e.macOut.Send(lladdr.Zero, payload, 1, true, nil, nil)
	if e.csv != nil {
		e.csv.Record("dio", dio.InstanceID, lladdr.Zero, 0, uint16(dio.Rank), "sent")
	}
}

// sendDAO emits a DAO to the preferred parent, addressing control
// traffic straight at the default route.
func (e *Engine) sendDAO(instanceIdx int) {
	parent, ok := e.router.PreferredParent(e.cfg.Node.InstanceID)
	if !ok {
		return
	}
	dao := proto.DAO{InstanceID: e.cfg.Node.InstanceID, Lifetime: 0xFFFF}
	payload := encodeDAO(&dao)
	e.macOut.Send(parent, payload, e.cfg.MaxFrameRetries+1, false, nil, nil)
}

func (e *Engine) sendProbe(instanceIdx int, target lladdr.Addr) {
	dis := proto.DIS{Solicited: true}
	payload := encodeDIS(&dis)
	e.macOut.Send(target, payload, e.cfg.MaxFrameRetries+1, false, nil, nil)
}

func (e *Engine) applyWeights(parent lladdr.Addr) {
	log.Debug("applied interface weights", "parent", parent)
}

// RecalculateWeights should be called once per IfWeightsWindow by the
// caller's scheduler; it derives each interface's current data rate
// from cfg.Interfaces and hands it to the router.
func (e *Engine) RecalculateWeights() {
	ifaces := make([]ifweight.Interface, 0, len(e.cfg.Interfaces))
	for _, ifc := range e.cfg.Interfaces {
		ifaces = append(ifaces, ifweight.Interface{IfaceID: ifc.IfaceID, DataRate: ifc.DataRate})
	}
	e.router.RecalculateInterfaceWeights(e.cfg.Node.InstanceID, ifaces)
}

// Neighbors exposes the heard-table snapshot for rplmeshctl.
func (e *Engine) Neighbors() []heard.Entry { return e.heard.Snapshot() }

// PreferredParent exposes the live preferred parent for rplmeshctl.
func (e *Engine) PreferredParent() (lladdr.Addr, bool) {
	return e.router.PreferredParent(e.cfg.Node.InstanceID)
}

// Run drives the receive-poll loop across every configured interface
// until ctx is cancelled, dispatching accepted frames to the routing
// core. It never returns a non-nil error except from irrecoverable
// driver setup failures at startup.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.disp.Init(); err != nil {
		return fmt.Errorf("engine: init interfaces: %w", err)
	}
	if err := e.disp.On(); err != nil {
		return fmt.Errorf("engine: power on interfaces: %w", err)
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	weightTicker := time.NewTicker(e.cfg.IfWeightsWindow)
	defer weightTicker.Stop()
	freshnessTicker := time.NewTicker(e.cfg.FreshnessHalfLife)
	defer freshnessTicker.Stop()

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-weightTicker.C:
			e.RecalculateWeights()
		case <-freshnessTicker.C:
			e.links.Tick()
			e.router.RetireExpiredDags()
		case <-ticker.C:
			e.pollOnce(buf)
		}
	}
}

func (e *Engine) pollOnce(buf []byte) {
	for _, ifd := range e.disp.InterfaceIDs() {
		d, ok := e.disp.DriverFor(ifd.IfaceID)
		if !ok || !d.PendingPacket() {
			continue
		}
		n, err := d.Read(buf)
		if err != nil || n == 0 {
			continue
		}
		rssiInt, _ := d.GetValue(radio.ParamLastRSSI)
		e.macIn.Process(buf[:n], ifd.IfaceID, int16(rssiInt), e.deliver)
	}
}

// deliver is the mac.Deliver callback: it decodes the control-message
// envelope carried in f.Payload and routes it to the DODAG state
// machine, noting every sender in the heard table regardless of
// message kind.
func (e *Engine) deliver(f *frame.Frame, ifaceID uint8, rssi int16) {
	e.heard.Note(f.Src, ifaceID, time.Now())

	env, err := decodeEnvelope(f.Payload)
	if err != nil {
		log.Warn("dropped frame with undecodable payload", "src", f.Src, "err", err)
		return
	}

	switch env.Kind {
	case kindDIO:
		if env.DIO == nil {
			return
		}
		if err := e.router.ProcessDIO(f.Src, *env.DIO); err != nil {
			log.Debug("rejected DIO", "src", f.Src, "err", err)
			return
		}
		if e.csv != nil {
			e.csv.Record("dio", env.DIO.InstanceID, f.Src, ifaceID, uint16(env.DIO.Rank), "received")
		}
	case kindDAO:
		if env.DAO == nil {
			return
		}
		if e.csv != nil {
			e.csv.Record("dao", env.DAO.InstanceID, f.Src, ifaceID, 0, "received")
		}
	case kindDIS:
		if env.DIS == nil {
			return
		}
		if e.csv != nil {
			e.csv.Record("dis", e.cfg.Node.InstanceID, f.Src, ifaceID, 0, "received")
		}
	}
}
