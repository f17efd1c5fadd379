// Package heard maintains a live "neighbors heard" table for
// diagnostic introspection, generalizing an AX.25-callsign station list
// (keyed by callsign, one entry per RF/IS station with last-heard
// timestamps and position) into a per-neighbor last-heard/interface-seen
// table keyed by lladdr.Addr, queried by rplmeshctl neighbors.
package heard

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rplmesh/rplmesh/internal/lladdr"
)

// Entry is one neighbor's diagnostic summary.
type Entry struct {
	Addr        lladdr.Addr
	Count       int
	LastHeard   time.Time
	LastIfaceID uint8
	PreferredIf uint8
}

// Table is the mutex-protected "stations heard" map, following the
// single-mutex-guards-a-map convention (mheard_mutex / mheard_db) rather
// than per-entry locks, since entries are small and updates are
// infrequent relative to routing-hot-path calls.
type Table struct {
	mu      sync.Mutex
	entries map[lladdr.Addr]*Entry
}

// NewTable builds an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[lladdr.Addr]*Entry)}
}

// Note records a reception from addr on ifaceID, mirroring
// mheard_save_rf's "bump count, stamp last-heard" behavior.
func (t *Table) Note(addr lladdr.Addr, ifaceID uint8, when time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		e = &Entry{Addr: addr}
		t.entries[addr] = e
	}
	e.Count++
	e.LastHeard = when
	e.LastIfaceID = ifaceID
}

// SetPreferred records which interface is currently preferred for addr,
// for display alongside last-heard data.
func (t *Table) SetPreferred(addr lladdr.Addr, ifaceID uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		e = &Entry{Addr: addr}
		t.entries[addr] = e
	}
	e.PreferredIf = ifaceID
}

// Snapshot returns every known neighbor, most recently heard first,
// mirroring mheard_dump's "sort most recent to the top" ordering.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastHeard.After(out[j].LastHeard) })
	return out
}

// Age renders the time since last-heard as a coarse "h:mm" string, the
// Go-idiomatic equivalent of mheard_age's hand-rolled hours/minutes
// arithmetic.
func Age(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%d:%02d", h, m)
}
