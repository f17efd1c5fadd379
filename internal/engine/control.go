package engine

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
)

// controlRequest/controlResponse are the rplmeshctl wire protocol: one
// JSON object per line over a unix socket, mirroring the
// accept-loop-per-connection shape of a KISS TNC's network server but
// with a JSON line instead of a raw KISS frame, since this is a status
// query channel rather than a framed data path.
type controlRequest struct {
	Command string `json:"command"`
}

type controlResponse struct {
	Error       string       `json:"error,omitempty"`
	Self        string       `json:"self,omitempty"`
	Root        bool         `json:"root,omitempty"`
	Preferred   string       `json:"preferred_parent,omitempty"`
	HasParent   bool         `json:"has_parent,omitempty"`
	AdvRank     int          `json:"advertised_rank,omitempty"`
	Neighbors   []neighborInfo `json:"neighbors,omitempty"`
}

type neighborInfo struct {
	Addr        string `json:"addr"`
	Count       int    `json:"count"`
	LastIfaceID uint8  `json:"last_iface_id"`
	PreferredIf uint8  `json:"preferred_if"`
}

// ServeControl accepts rplmeshctl connections on a unix socket until
// Accept fails, and returns that error. It blocks the calling goroutine;
// run it with `go`.
func (e *Engine) ServeControl(socketPath string) error {
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go e.handleControlConn(conn)
	}
}

func (e *Engine) handleControlConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		var req controlRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(controlResponse{Error: err.Error()})
			continue
		}
		enc.Encode(e.handleControlRequest(req))
	}
}

func (e *Engine) handleControlRequest(req controlRequest) controlResponse {
	switch req.Command {
	case "status":
		resp := controlResponse{Self: e.self.String(), Root: e.cfg.Node.Root}
		if parent, ok := e.PreferredParent(); ok {
			resp.HasParent = true
			resp.Preferred = parent.String()
		}
		if rank, ok := e.router.AdvertisedRank(e.cfg.Node.InstanceID); ok {
			resp.AdvRank = int(rank)
		}
		return resp
	case "neighbors":
		entries := e.Neighbors()
		out := make([]neighborInfo, 0, len(entries))
		for _, n := range entries {
			out = append(out, neighborInfo{
				Addr:        n.Addr.String(),
				Count:       n.Count,
				LastIfaceID: n.LastIfaceID,
				PreferredIf: n.PreferredIf,
			})
		}
		return controlResponse{Neighbors: out}
	default:
		return controlResponse{Error: "unknown command: " + req.Command}
	}
}
