package stats

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func Test_RecordBlockAndAllow_countsMatchTotal(t *testing.T) {
	s := New(testLogger())
	now := time.Now()

	s.RecordBlock("ads.example.com", now)
	s.RecordBlock("ads.example.com", now)
	s.RecordAllow("example.com", now)

	assert.Equal(t, uint64(2), s.BlockedCount())
	assert.Equal(t, uint64(1), s.AllowedCount())

	dom := s.PerDomain()
	require.Contains(t, dom, "ads.example.com")
	assert.Equal(t, uint64(2), dom["ads.example.com"].Blocked)
	require.Contains(t, dom, "example.com")
	assert.Equal(t, uint64(1), dom["example.com"].Allowed)
}

func Test_DataSavedBytes_fixedPerBlock(t *testing.T) {
	s := New(testLogger(), WithDataSavedPerBlock(2048))
	s.RecordBlock("a.com", time.Now())
	s.RecordBlock("b.com", time.Now())
	assert.Equal(t, uint64(4096), s.DataSavedBytes())
}

func Test_Recent_ringWrapsInOrder(t *testing.T) {
	s := New(testLogger(), WithRecentCapacity(3))
	base := time.Now()
	for i, host := range []string{"a.com", "b.com", "c.com", "d.com"} {
		s.RecordBlock(host, base.Add(time.Duration(i)*time.Second))
	}
	recent := s.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "b.com", recent[0].Host)
	assert.Equal(t, "c.com", recent[1].Host)
	assert.Equal(t, "d.com", recent[2].Host)
}

func Test_Reset_clearsEverything(t *testing.T) {
	s := New(testLogger())
	s.RecordBlock("a.com", time.Now())
	s.RecordAllow("b.com", time.Now())

	s.Reset()

	assert.Equal(t, uint64(0), s.BlockedCount())
	assert.Equal(t, uint64(0), s.AllowedCount())
	assert.Equal(t, uint64(0), s.DataSavedBytes())
	assert.Empty(t, s.PerDomain())
	assert.Empty(t, s.Recent())
}

func Test_Snapshot_jsonShape(t *testing.T) {
	s := New(testLogger())
	s.RecordBlock("a.com", time.Now())
	s.RecordAllow("b.com", time.Now())

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.BlockedCount)
	assert.Equal(t, uint64(1), snap.AllowedCount)
	assert.InDelta(t, 0.5, snap.BlockRate, 0.001)
}
