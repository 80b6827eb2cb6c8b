package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/models"
	"vigil/transport"
)

// SnapshotFunc receives every aggregated snapshot a session emits. Called
// from the session's own goroutines; implementations must not block for
// long.
type SnapshotFunc func(*models.SessionSnapshot)

// SessionConfig carries the per-session tunables.
type SessionConfig struct {
	MinDelay     time.Duration
	MaxDelay     time.Duration
	ProbeTimeout time.Duration
	Method       string
}

// TrackingSession orchestrates everything for one logical target: the probe
// scheduler, probe/ack correlation, multi-device discovery and the activity
// classifier. A single event loop consumes the transport's ack and presence
// channels, so all shared state mutates under one lock with no lock held
// across sends or sleeps.
type TrackingSession struct {
	target     string
	transport  transport.Transport
	correlator *Correlator
	scheduler  *Scheduler
	logger     *zap.Logger
	onSnapshot SnapshotFunc

	mu         sync.Mutex
	classifier *Classifier
	devices    map[string]struct{}
	order      []string
	presence   string
	enabled    bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   sync.Once
}

// NewTrackingSession subscribes to the target's event streams and starts the
// probe loop. The device set starts with the target identifier itself and
// only ever grows.
func NewTrackingSession(target string, tr transport.Transport, cfg SessionConfig, onSnapshot SnapshotFunc, logger *zap.Logger) (*TrackingSession, error) {
	correlator := NewCorrelator(cfg.ProbeTimeout, logger)

	scheduler, err := NewScheduler(target, cfg.Method, tr, correlator, cfg.MinDelay, cfg.MaxDelay, logger)
	if err != nil {
		return nil, err
	}

	sub, err := tr.Subscribe(target)
	if err != nil {
		return nil, err
	}

	s := &TrackingSession{
		target:     target,
		transport:  tr,
		correlator: correlator,
		scheduler:  scheduler,
		logger:     logger,
		onSnapshot: onSnapshot,
		classifier: NewClassifier(),
		devices:    map[string]struct{}{target: {}},
		order:      []string{target},
		enabled:    true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		scheduler.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.run(ctx, sub)
	}()

	logger.Info("Tracking session created", zap.String("target", target))
	s.emit(s.Snapshot())

	return s, nil
}

// run is the single consumer of the session's event streams.
func (s *TrackingSession) run(ctx context.Context, sub *transport.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack := <-sub.Acks:
			s.handleAck(ack)
		case pres := <-sub.Presence:
			s.handlePresence(pres)
		}
	}
}

// handleAck routes a delivery acknowledgment through the correlator and, on
// a match, feeds the elapsed RTT to the classifier. Correlation misses are
// expected (stale probe, foreign traffic) and dropped silently.
func (s *TrackingSession) handleAck(ack transport.Ack) {
	if ack.Status != transport.AckDelivered {
		return
	}

	elapsed, ok := s.correlator.Resolve(ack.ProbeID, ack.At)
	if !ok {
		return
	}

	deviceID := ack.DeviceID
	if deviceID == "" {
		deviceID = s.target
	}

	s.mu.Lock()
	s.addDeviceLocked(deviceID)
	state := s.classifier.Observe(deviceID, elapsed, ack.At)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("Classified RTT sample",
		zap.String("target", s.target),
		zap.String("device", deviceID),
		zap.Float64("rtt_ms", elapsed),
		zap.String("state", string(state)))

	s.emit(snap)
}

// handlePresence updates the coarse presence string and grows the device set
// when the event names a companion device. Re-adding a known device is a
// no-op.
func (s *TrackingSession) handlePresence(pres transport.PresenceUpdate) {
	s.mu.Lock()
	added := false
	if pres.DeviceID != "" {
		added = s.addDeviceLocked(pres.DeviceID)
	}
	changed := pres.Presence != "" && pres.Presence != s.presence
	if changed {
		s.presence = pres.Presence
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if added {
		s.logger.Info("Discovered companion device",
			zap.String("target", s.target),
			zap.String("device", pres.DeviceID))
	}
	if added || changed {
		s.emit(snap)
	}
}

// addDeviceLocked registers a device identity. The set is monotone: devices
// are never forgotten, only classified unreachable.
func (s *TrackingSession) addDeviceLocked(deviceID string) bool {
	if _, ok := s.devices[deviceID]; ok {
		return false
	}
	s.devices[deviceID] = struct{}{}
	s.order = append(s.order, deviceID)
	return true
}

func (s *TrackingSession) snapshotLocked() *models.SessionSnapshot {
	devices := make([]models.DeviceSnapshot, 0, len(s.order))
	for _, id := range s.order {
		if d, ok := s.classifier.DeviceSnapshot(id); ok {
			devices = append(devices, d)
		} else {
			// Discovered but no correlated sample yet.
			devices = append(devices, models.DeviceSnapshot{
				DeviceID: id,
				State:    models.StateCalibrating,
			})
		}
	}
	return &models.SessionSnapshot{
		Target:              s.target,
		Devices:             devices,
		DeviceCount:         len(devices),
		Presence:            s.presence,
		PopulationMedian:    s.classifier.PopulationMedian(),
		PopulationThreshold: s.classifier.Threshold(),
		Paused:              !s.enabled,
		Timestamp:           time.Now(),
	}
}

// Snapshot returns the current aggregated view.
func (s *TrackingSession) Snapshot() *models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *TrackingSession) emit(snap *models.SessionSnapshot) {
	if s.onSnapshot != nil {
		s.onSnapshot(snap)
	}
}

// Pause suppresses probing without discarding statistics or discovered
// devices.
func (s *TrackingSession) Pause() {
	s.mu.Lock()
	s.enabled = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.scheduler.Pause()
	s.logger.Info("Tracking paused", zap.String("target", s.target))
	s.emit(snap)
}

// Resume restarts the probe cadence; accumulated history stays intact.
func (s *TrackingSession) Resume() {
	s.mu.Lock()
	s.enabled = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.scheduler.Resume()
	s.logger.Info("Tracking resumed", zap.String("target", s.target))
	s.emit(snap)
}

// Paused reports whether probing is currently suppressed.
func (s *TrackingSession) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.enabled
}

// SetDelayRange forwards a cadence change to the scheduler.
func (s *TrackingSession) SetDelayRange(minDelay, maxDelay time.Duration) error {
	return s.scheduler.SetDelayRange(minDelay, maxDelay)
}

// Target returns the session's logical target identifier.
func (s *TrackingSession) Target() string {
	return s.target
}

// Stop cancels the probe loop and the event loop, clears every pending
// timeout timer, and releases the transport subscription. No timer fires
// after Stop returns.
func (s *TrackingSession) Stop() {
	s.stop.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.correlator.Clear()
		s.transport.Unsubscribe(s.target)
		s.logger.Info("Tracking session stopped", zap.String("target", s.target))
	})
}
