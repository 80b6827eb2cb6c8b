package services

import (
	"time"

	"vigil/models"
	"vigil/stats"
)

const (
	// offlineCutoffMs marks a round trip as unreachable rather than slow.
	// Samples above it never enter the history or population buffers.
	offlineCutoffMs = 5000.0

	// thresholdFactor sits below the population median to separate the
	// active-use RTT distribution from the idle one.
	thresholdFactor = 0.8

	historyCapacity = 2000
	movingAvgWindow = 3

	// minBaselineSamples is the population floor below which devices stay
	// in the calibrating state.
	minBaselineSamples = 3
)

// deviceSession is the per-device classification state: bounded RTT history,
// the short moving-average window, and the last observed sample and state.
type deviceSession struct {
	history    *stats.Ring
	recent     *stats.Ring
	lastRTT    float64
	lastUpdate time.Time
	state      models.DeviceState
}

func newDeviceSession() *deviceSession {
	return &deviceSession{
		history: stats.NewRing(historyCapacity),
		recent:  stats.NewRing(movingAvgWindow),
		state:   models.StateCalibrating,
	}
}

// Classifier derives per-device activity states from correlated RTT samples,
// calibrating its threshold against a population baseline shared by all of a
// session's devices. It is not internally locked: the owning session
// serializes every call.
type Classifier struct {
	devices    map[string]*deviceSession
	order      []string
	population *stats.Ring
}

func NewClassifier() *Classifier {
	return &Classifier{
		devices:    make(map[string]*deviceSession),
		population: stats.NewRing(historyCapacity),
	}
}

func (c *Classifier) device(deviceID string) *deviceSession {
	d, ok := c.devices[deviceID]
	if !ok {
		d = newDeviceSession()
		c.devices[deviceID] = d
		c.order = append(c.order, deviceID)
	}
	return d
}

// Observe records one correlated RTT sample for a device and returns its
// recomputed state.
func (c *Classifier) Observe(deviceID string, rttMs float64, at time.Time) models.DeviceState {
	d := c.device(deviceID)

	// An out-of-range sample marks the device unreachable. It is recorded
	// as lastRTT only; letting it into the buffers would drag the
	// calibration baseline toward the outlier.
	if rttMs > offlineCutoffMs {
		d.lastRTT = rttMs
		d.lastUpdate = at
		d.state = models.StateOffline
		return d.state
	}

	d.recent.Push(rttMs)
	d.history.Push(rttMs)
	c.population.Push(rttMs)
	d.lastRTT = rttMs
	d.lastUpdate = at

	// Offline is sticky only while lastRTT stays above the cutoff; the
	// in-range sample just recorded falls through to reclassification.
	if d.state == models.StateOffline && d.lastRTT > offlineCutoffMs {
		return d.state
	}

	if c.population.Len() < minBaselineSamples {
		d.state = models.StateCalibrating
		return d.state
	}

	if d.recent.Mean() < c.Threshold() {
		d.state = models.StateOnline
	} else {
		d.state = models.StateStandby
	}
	return d.state
}

// PopulationMedian returns the median of all in-range samples across the
// session's devices, or 0 below the baseline floor.
func (c *Classifier) PopulationMedian() float64 {
	return c.population.Median()
}

// Threshold is the adaptive online/standby boundary.
func (c *Classifier) Threshold() float64 {
	return c.population.Median() * thresholdFactor
}

// BaselineReady reports whether the population buffer can support a
// classification.
func (c *Classifier) BaselineReady() bool {
	return c.population.Len() >= minBaselineSamples
}

// Snapshot returns the per-device views in discovery order.
func (c *Classifier) Snapshot() []models.DeviceSnapshot {
	out := make([]models.DeviceSnapshot, 0, len(c.order))
	for _, id := range c.order {
		d := c.devices[id]
		out = append(out, models.DeviceSnapshot{
			DeviceID:   id,
			State:      d.state,
			LastRTT:    d.lastRTT,
			MovingAvg:  d.recent.Mean(),
			LastUpdate: d.lastUpdate,
		})
	}
	return out
}

// DeviceSnapshot returns the view of one device, if it has state yet.
func (c *Classifier) DeviceSnapshot(deviceID string) (models.DeviceSnapshot, bool) {
	d, ok := c.devices[deviceID]
	if !ok {
		return models.DeviceSnapshot{}, false
	}
	return models.DeviceSnapshot{
		DeviceID:   deviceID,
		State:      d.state,
		LastRTT:    d.lastRTT,
		MovingAvg:  d.recent.Mean(),
		LastUpdate: d.lastUpdate,
	}, true
}

// Known reports whether a device has classification state yet.
func (c *Classifier) Known(deviceID string) bool {
	_, ok := c.devices[deviceID]
	return ok
}
