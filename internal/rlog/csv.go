package rlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/rplmesh/rplmesh/internal/lladdr"
)

// EventSink is a CSV record sink for offline analysis of routing
// events (DIO rank changes, parent switches, preferred-interface
// switches), generalizing a KISS TNC's log_init/log_write
// daily-file-with-header pattern from APRS packet fields to routing
// events, and its timestampPrefix pattern-string handling via
// github.com/lestrrat-go/strftime.
type EventSink struct {
	mu      sync.Mutex
	pattern string
	path    string
	f       *os.File
	w       *csv.Writer
}

// NewEventSink builds a sink whose file name is derived from pattern
// (a strftime pattern, e.g. "rplmesh-%Y-%m-%d.csv") evaluated every
// time a new file might be due. An empty pattern disables the sink.
func NewEventSink(pattern string) (*EventSink, error) {
	if pattern == "" {
		return &EventSink{}, nil
	}
	if _, err := strftime.Format(pattern, time.Now()); err != nil {
		return nil, fmt.Errorf("rlog: bad csv pattern %q: %w", pattern, err)
	}
	return &EventSink{pattern: pattern}, nil
}

func (s *EventSink) open() error {
	if s.pattern == "" {
		return nil
	}
	path, err := strftime.Format(s.pattern, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rlog: format csv pattern: %w", err)
	}
	if s.f != nil && path == s.path {
		return nil
	}
	if s.f != nil {
		s.w.Flush()
		s.f.Close()
	}
	alreadyThere := false
	if _, err := os.Stat(path); err == nil {
		alreadyThere = true
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("rlog: open %s: %w", path, err)
	}
	s.f = f
	s.path = path
	s.w = csv.NewWriter(f)
	if !alreadyThere {
		s.w.Write([]string{"utime", "isotime", "event", "instance_id", "neighbor", "iface_id", "rank", "detail"})
	}
	return nil
}

// Record appends one event row, rotating to a new file if the pattern
// now evaluates to a different path (e.g. a day boundary crossed).
func (s *EventSink) Record(event string, instanceID uint8, neighbor lladdr.Addr, ifaceID uint8, rank uint16, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pattern == "" {
		return
	}
	if err := s.open(); err != nil {
		Named(Engine).Error("csv sink open failed", "err", err)
		return
	}
	now := time.Now().UTC()
	s.w.Write([]string{
		fmt.Sprintf("%d", now.Unix()),
		now.Format(time.RFC3339),
		event,
		fmt.Sprintf("%d", instanceID),
		neighbor.String(),
		fmt.Sprintf("%d", ifaceID),
		fmt.Sprintf("%d", rank),
		detail,
	})
	s.w.Flush()
}

// Close flushes and closes the current file, if any.
func (s *EventSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	return s.f.Close()
}
