package evoasync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolStats_AverageWaitTime(t *testing.T) {
	stats := &PoolStats{
		AcquireWaitCount:  3,
		AcquireWaitTimeNs: uint64((100 * time.Millisecond).Nanoseconds()),
	}

	avg := stats.AverageWaitTime()
	expected := 100 * time.Millisecond / 3

	diff := avg - expected
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, time.Nanosecond)
}

func TestPoolStats_AverageWaitTime_Zero(t *testing.T) {
	stats := &PoolStats{}
	assert.Equal(t, time.Duration(0), stats.AverageWaitTime())
}

func TestClientStats_HitRate(t *testing.T) {
	stats := &ClientStats{CacheHits: 75, CacheMisses: 25}
	assert.Equal(t, 0.75, stats.HitRate())
}

func TestClientStats_HitRate_Zero(t *testing.T) {
	stats := &ClientStats{}
	assert.Equal(t, 0.0, stats.HitRate())
}

func TestClientStatsCollector_Snapshot(t *testing.T) {
	c := newClientStatsCollector()
	c.recordGet(true)
	c.recordGet(false)
	c.recordSet()
	c.recordError()

	snap := c.snapshot()
	assert.EqualValues(t, 2, snap.Gets)
	assert.EqualValues(t, 1, snap.CacheHits)
	assert.EqualValues(t, 1, snap.CacheMisses)
	assert.EqualValues(t, 1, snap.Sets)
	assert.EqualValues(t, 1, snap.Errors)
}

func TestServerStatsCollector_Snapshot(t *testing.T) {
	c := &serverStatsCollector{}
	c.recordAccept(nil)
	c.recordAccept(nil)
	c.recordAccept(assertErr)
	c.recordRead()
	c.recordEventErr()
	c.recordDisconnect()

	snap := c.snapshot()
	assert.EqualValues(t, 1, snap.ActiveConnections)
	assert.EqualValues(t, 2, snap.AcceptOK)
	assert.EqualValues(t, 1, snap.AcceptErr)
	assert.EqualValues(t, 1, snap.EventErr)
	assert.EqualValues(t, 1, snap.Reads)
}

var assertErr = assertError{}

type assertError struct{}

func (assertError) Error() string { return "boom" }
