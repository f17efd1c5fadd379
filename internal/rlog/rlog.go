// Package rlog provides structured, per-component logging for
// rplmeshd.
//
// Grounded on a KISS TNC's textcolor.go, which tags every message with
// a dw_color_e category (DW_COLOR_XMIT, DW_COLOR_ERROR, DW_COLOR_DEBUG,
// ...), and on Contiki-NG's LOG_MODULE/LOG_LEVEL convention (every
// subsystem file declares its own #define LOG_MODULE "RPL" and checks
// LOG_LEVEL before emitting). Both ideas collapse onto
// github.com/charmbracelet/log's per-logger prefix and level: one
// *log.Logger per component, each independently levelled.
package rlog

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Component names mirror the packages that call Named, one per
// subsystem a careful operator would want to silence independently.
const (
	LinkStats = "link-stats"
	MAC       = "mac"
	Routing   = "routing"
	OF        = "of"
	Probing   = "probing"
	Radio     = "radio"
	Engine    = "engine"
)

var root = log.NewWithOptions(os.Stderr, log.Options{
	ReportCaller:    false,
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// SetLevel parses one of "debug"/"info"/"warn"/"error" and applies it
// to every component logger handed out by Named (they all share the
// root logger's level since charmbracelet/log's level lives on the
// logger, and Named returns a shallow child via With).
func SetLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	root.SetLevel(lvl)
	return nil
}

// SetOutput redirects every component logger's destination, e.g. to a
// multi-writer that also feeds the CSV sink below.
func SetOutput(w io.Writer) {
	root.SetOutput(w)
}

// Named returns the logger for one named component, tagged so log
// lines are greppable by subsystem the way dw_color_e categories let a
// reader scan for XMIT vs ERROR lines.
func Named(component string) *log.Logger {
	return root.With("component", component)
}
