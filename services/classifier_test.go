package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/models"
)

func TestClassifier_CalibratingBelowBaselineFloor(t *testing.T) {
	c := NewClassifier()
	now := time.Now()

	assert.Equal(t, models.StateCalibrating, c.Observe("d1", 100, now))
	assert.Equal(t, models.StateCalibrating, c.Observe("d1", 120, now))
	assert.False(t, c.BaselineReady())
	assert.Equal(t, float64(0), c.PopulationMedian())
}

func TestClassifier_OnlineVersusStandby(t *testing.T) {
	c := NewClassifier()
	now := time.Now()

	// Build the population baseline [100, 120, 140]: median 120,
	// threshold 96.
	c.Observe("d1", 100, now)
	c.Observe("d1", 120, now)
	state := c.Observe("d1", 140, now)

	require.Equal(t, float64(120), c.PopulationMedian())
	require.Equal(t, float64(96), c.Threshold())
	// d1's own moving average is 120, above the threshold.
	assert.Equal(t, models.StateStandby, state)

	// A second device answering in 80ms sits below the adaptive threshold.
	state = c.Observe("d2", 80, now)
	assert.Equal(t, models.StateOnline, state)

	// A sluggish third device lands in standby.
	state = c.Observe("d3", 300, now)
	assert.Equal(t, models.StateStandby, state)
}

func TestClassifier_OutOfRangeSampleForcesOffline(t *testing.T) {
	c := NewClassifier()
	now := time.Now()

	state := c.Observe("d1", 6000, now)
	require.Equal(t, models.StateOffline, state)

	// The outlier is recorded as lastRTT only.
	snap, ok := c.DeviceSnapshot("d1")
	require.True(t, ok)
	assert.Equal(t, float64(6000), snap.LastRTT)
	assert.Equal(t, float64(0), snap.MovingAvg, "outliers must not enter the moving-average buffer")
	assert.Equal(t, 0, c.population.Len(), "outliers must not enter the population buffer")
}

func TestClassifier_OfflineRecoversOnInRangeSample(t *testing.T) {
	c := NewClassifier()
	now := time.Now()

	// Baseline from a healthy device.
	c.Observe("d1", 100, now)
	c.Observe("d1", 120, now)
	c.Observe("d1", 140, now)

	require.Equal(t, models.StateOffline, c.Observe("d2", 6000, now))

	// An in-range sample re-enters the normal path and reclassifies.
	state := c.Observe("d2", 300, now)
	assert.NotEqual(t, models.StateOffline, state)
	assert.Equal(t, models.StateStandby, state)

	snap, _ := c.DeviceSnapshot("d2")
	assert.Equal(t, float64(300), snap.LastRTT)
}

func TestClassifier_LastRTTAlwaysReflectsNewestSample(t *testing.T) {
	c := NewClassifier()
	now := time.Now()

	c.Observe("d1", 200, now)
	c.Observe("d1", 7000, now.Add(time.Second))

	snap, ok := c.DeviceSnapshot("d1")
	require.True(t, ok)
	assert.Equal(t, float64(7000), snap.LastRTT)
	assert.Equal(t, now.Add(time.Second), snap.LastUpdate)
}

func TestClassifier_SnapshotKeepsDiscoveryOrder(t *testing.T) {
	c := NewClassifier()
	now := time.Now()

	c.Observe("b", 100, now)
	c.Observe("a", 110, now)
	c.Observe("c", 120, now)

	snaps := c.Snapshot()
	require.Len(t, snaps, 3)
	assert.Equal(t, "b", snaps[0].DeviceID)
	assert.Equal(t, "a", snaps[1].DeviceID)
	assert.Equal(t, "c", snaps[2].DeviceID)
}
