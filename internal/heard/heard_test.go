package heard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rplmesh/rplmesh/internal/lladdr"
)

func addr(b byte) lladdr.Addr {
	var a lladdr.Addr
	a[7] = b
	return a
}

func TestSnapshotOrdersMostRecentFirst(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	tbl.Note(addr(1), 0, now.Add(-time.Hour))
	tbl.Note(addr(2), 0, now)

	snap := tbl.Snapshot()
	if assert.Len(t, snap, 2) {
		assert.Equal(t, addr(2), snap[0].Addr)
		assert.Equal(t, addr(1), snap[1].Addr)
	}
}

func TestNoteIncrementsCount(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	tbl.Note(addr(1), 0, now)
	tbl.Note(addr(1), 1, now.Add(time.Second))

	snap := tbl.Snapshot()
	require := assert.New(t)
	require.Len(snap, 1)
	require.Equal(2, snap[0].Count)
	require.Equal(uint8(1), snap[0].LastIfaceID)
}

func TestAgeFormatsHoursMinutes(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "-", Age(now, time.Time{}))
	assert.Equal(t, "1:30", Age(now, now.Add(-90*time.Minute)))
}
