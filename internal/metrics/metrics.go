// Package metrics exposes Prometheus counters and gauges for the
// routing core's observability surface: per-interface ETX/freshness,
// preferred-parent and preferred-interface switches, DIO trickle
// resets, and MAC retry/collision counts.
//
// Grounded on the promauto-registered package-level Histogram/
// HistogramVec style seen in m-lab/tcp-info's metrics package and
// served with promhttp.Handler() over plain net/http the way
// runZeroInc/sockstats's exporter does, rather than any hand-rolled
// counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ETX tracks the current per-interface inferred link metric per
	// neighbor/interface.
	ETX = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rplmesh_link_etx",
			Help: "current per-interface inferred ETX-style link metric",
		},
		[]string{"neighbor", "iface_id"},
	)

	// Freshness tracks the current freshness counter per neighbor/interface.
	Freshness = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rplmesh_link_freshness",
			Help: "current link freshness counter",
		},
		[]string{"neighbor", "iface_id"},
	)

	// PreferredInterfaceSwitches counts select_pref_iface outcomes that
	// changed the winning interface for a neighbor.
	PreferredInterfaceSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rplmesh_preferred_interface_switches_total",
			Help: "number of times select_pref_iface changed the preferred interface for a neighbor",
		},
		[]string{"neighbor"},
	)

	// ParentSwitches counts select_parent outcomes that changed the
	// preferred parent of a DAG.
	ParentSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rplmesh_parent_switches_total",
			Help: "number of times select_parent changed the preferred parent",
		},
		[]string{"instance_id"},
	)

	// TrickleResets counts DIO trickle timer resets, by instance.
	TrickleResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rplmesh_dio_trickle_resets_total",
			Help: "number of DIO trickle timer resets",
		},
		[]string{"instance_id"},
	)

	// MACRetries counts frame retransmission attempts, by terminal status.
	MACRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rplmesh_mac_retries_total",
			Help: "number of MAC-layer retransmission attempts",
		},
		[]string{"status"},
	)

	// MACCollisions counts CSMA/CA collisions observed on transmit.
	MACCollisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rplmesh_mac_collisions_total",
			Help: "number of CSMA/CA collisions observed on transmit",
		},
		[]string{"iface_id"},
	)
)

// Serve starts the Prometheus /metrics HTTP endpoint on addr and blocks
// while serving it; it returns only when the listener fails, with that
// error. The caller runs it in its own goroutine, mirroring
// runZeroInc/sockstats's exporter_example main().
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
