// Command rplmeshctl queries a running rplmeshd over its control
// socket, generalizing a KISS TNC's aclients tcp-dial-and-print
// diagnostic pattern to a unix-socket JSON query.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/spf13/pflag"
)

type request struct {
	Command string `json:"command"`
}

type neighborInfo struct {
	Addr        string `json:"addr"`
	Count       int    `json:"count"`
	LastIfaceID uint8  `json:"last_iface_id"`
	PreferredIf uint8  `json:"preferred_if"`
}

type response struct {
	Error       string         `json:"error,omitempty"`
	Self        string         `json:"self,omitempty"`
	Root        bool           `json:"root,omitempty"`
	Preferred   string         `json:"preferred_parent,omitempty"`
	HasParent   bool           `json:"has_parent,omitempty"`
	AdvRank     int            `json:"advertised_rank,omitempty"`
	Neighbors   []neighborInfo `json:"neighbors,omitempty"`
}

func main() {
	var socketPath string
	fs := pflag.NewFlagSet("rplmeshctl", pflag.ExitOnError)
	fs.StringVarP(&socketPath, "control-socket", "s", "/run/rplmeshd.sock", "rplmeshd control socket path")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	args := fs.Args()
	if len(args) != 1 || (args[0] != "status" && args[0] != "neighbors") {
		fmt.Fprintln(os.Stderr, "usage: rplmeshctl [--control-socket path] status|neighbors")
		os.Exit(2)
	}

	resp, err := query(socketPath, args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "rplmeshctl:", err)
		os.Exit(1)
	}
	if resp.Error != "" {
		fmt.Fprintln(os.Stderr, "rplmeshd:", resp.Error)
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		fmt.Printf("self:             %s\n", resp.Self)
		fmt.Printf("root:             %v\n", resp.Root)
		if resp.HasParent {
			fmt.Printf("preferred parent: %s\n", resp.Preferred)
		} else {
			fmt.Println("preferred parent: (none)")
		}
		fmt.Printf("advertised rank:  %d\n", resp.AdvRank)
	case "neighbors":
		fmt.Printf("%-24s %6s %10s %12s\n", "ADDR", "COUNT", "LAST IFACE", "PREFERRED IF")
		for _, n := range resp.Neighbors {
			fmt.Printf("%-24s %6d %10d %12d\n", n.Addr, n.Count, n.LastIfaceID, n.PreferredIf)
		}
	}
}

func query(socketPath, command string) (response, error) {
	var resp response
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return resp, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(request{Command: command}); err != nil {
		return resp, err
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return resp, fmt.Errorf("no response from %s", socketPath)
	}
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return resp, err
	}
	return resp, nil
}
