// Package services contains the inference core (correlator, scheduler,
// classifier, session, registry) and the snapshot consumers built on it.
package services

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultProbeTimeout bounds how long an unacknowledged probe stays pending.
// Generous compared to the 5000ms offline cutoff: a probe that takes longer
// than this will never contribute an RTT sample.
const DefaultProbeTimeout = 30 * time.Second

type pendingProbe struct {
	sentAt time.Time
	timer  *time.Timer
}

// Correlator maps outstanding probe ids to their send timestamps and
// resolves acknowledgment events to elapsed round-trip times. Every pending
// entry carries its own timeout timer so memory stays bounded when an
// acknowledgment never arrives.
type Correlator struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]*pendingProbe
	logger  *zap.Logger
}

func NewCorrelator(timeout time.Duration, logger *zap.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Correlator{
		timeout: timeout,
		pending: make(map[string]*pendingProbe),
		logger:  logger,
	}
}

// Register stores a pending probe. A duplicate id overwrites the previous
// entry; ids are random, so a collision is not worth surfacing.
func (c *Correlator) Register(probeID string, sentAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.pending[probeID]; ok {
		prev.timer.Stop()
	}

	c.pending[probeID] = &pendingProbe{
		sentAt: sentAt,
		timer:  time.AfterFunc(c.timeout, func() { c.evict(probeID) }),
	}
}

// Resolve looks up and removes a pending probe, returning the elapsed
// milliseconds between registration and ackAt. A miss is an expected
// outcome (already resolved, timed out, or sent by another run) and is
// reported through ok, never as an error.
func (c *Correlator) Resolve(probeID string, ackAt time.Time) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	probe, ok := c.pending[probeID]
	if !ok {
		return 0, false
	}

	probe.timer.Stop()
	delete(c.pending, probeID)

	return float64(ackAt.Sub(probe.sentAt)) / float64(time.Millisecond), true
}

// evict drops a probe whose timeout fired. Not an RTT sample and not an
// offline signal.
func (c *Correlator) evict(probeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[probeID]; !ok {
		return
	}
	delete(c.pending, probeID)
	c.logger.Debug("Evicted unacknowledged probe", zap.String("probe_id", probeID))
}

// Pending returns the number of outstanding probes.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Clear synchronously stops every timeout timer and drops all pending
// probes. Called on session stop so no timer fires against a torn-down
// session.
func (c *Correlator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, probe := range c.pending {
		probe.timer.Stop()
		delete(c.pending, id)
	}
}
