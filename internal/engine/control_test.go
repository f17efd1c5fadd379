package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandleControlRequestStatusReportsSelfAndRank(t *testing.T) {
	e, _ := newTestEngine(t, "06:06:06:06:06:06:06:06", true)

	resp := e.handleControlRequest(controlRequest{Command: "status"})
	assert.Equal(t, e.self.String(), resp.Self)
	assert.True(t, resp.Root)
	assert.False(t, resp.HasParent)
	assert.Equal(t, int(e.cfg.Node.RootRank), resp.AdvRank)
}

func TestHandleControlRequestNeighborsReflectsHeardTable(t *testing.T) {
	e, _ := newTestEngine(t, "07:07:07:07:07:07:07:07", false)
	from := addrFromHex(t, "08:08:08:08:08:08:08:08")
	e.heard.Note(from, 1, time.Now())

	resp := e.handleControlRequest(controlRequest{Command: "neighbors"})
	if assert.Len(t, resp.Neighbors, 1) {
		assert.Equal(t, from.String(), resp.Neighbors[0].Addr)
		assert.Equal(t, 1, resp.Neighbors[0].Count)
		assert.Equal(t, uint8(1), resp.Neighbors[0].LastIfaceID)
	}
}

func TestHandleControlRequestUnknownCommandReportsError(t *testing.T) {
	e, _ := newTestEngine(t, "09:09:09:09:09:09:09:09", false)

	resp := e.handleControlRequest(controlRequest{Command: "bogus"})
	assert.Contains(t, resp.Error, "bogus")
}
