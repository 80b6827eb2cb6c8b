package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vigil/transport"
)

// SchedulerState is the lifecycle of a probe scheduler. Stopped is terminal:
// a stopped scheduler is never restarted, the session creates a new one.
type SchedulerState int32

const (
	SchedulerIdle SchedulerState = iota
	SchedulerRunning
	SchedulerStopped
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerRunning:
		return "running"
	case SchedulerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Scheduler continuously sends probes to one target at a randomized cadence
// and registers each send with the correlator. The randomized interval keeps
// the probe traffic from carrying a fixed-period signature.
type Scheduler struct {
	target     string
	method     string
	transport  transport.Transport
	correlator *Correlator
	logger     *zap.Logger

	delayMu  sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration

	paused atomic.Bool
	state  atomic.Int32
}

func NewScheduler(target, method string, tr transport.Transport, correlator *Correlator, minDelay, maxDelay time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if minDelay <= 0 || minDelay >= maxDelay {
		return nil, fmt.Errorf("invalid probe delay range [%v, %v): min must be positive and below max", minDelay, maxDelay)
	}
	return &Scheduler{
		target:     target,
		method:     method,
		transport:  tr,
		correlator: correlator,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		logger:     logger,
	}, nil
}

// Run drives the probe loop until the context is cancelled. The stop signal
// is checked at each iteration boundary, so cancellation is observed before
// the next send.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.state.CompareAndSwap(int32(SchedulerIdle), int32(SchedulerRunning)) {
		s.logger.Warn("Scheduler started twice, ignoring",
			zap.String("target", s.target),
			zap.String("state", s.State().String()))
		return
	}
	defer s.state.Store(int32(SchedulerStopped))

	s.logger.Info("Probe scheduler started",
		zap.String("target", s.target),
		zap.String("method", s.method))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Probe scheduler stopped", zap.String("target", s.target))
			return
		case <-timer.C:
		}

		if !s.paused.Load() {
			s.sendProbe(ctx)
		}

		timer.Reset(s.nextDelay())
	}
}

func (s *Scheduler) sendProbe(ctx context.Context) {
	probeID, err := s.transport.SendProbe(ctx, s.target, s.method)
	if err != nil {
		// Never fatal: the next cycle retries.
		s.logger.Warn("Probe send failed",
			zap.String("target", s.target),
			zap.Error(err))
		return
	}
	s.correlator.Register(probeID, time.Now())
}

// nextDelay draws an independent random interval from [minDelay, maxDelay).
func (s *Scheduler) nextDelay() time.Duration {
	s.delayMu.Lock()
	defer s.delayMu.Unlock()
	return s.minDelay + time.Duration(rand.Int63n(int64(s.maxDelay-s.minDelay)))
}

// SetDelayRange swaps the cadence window. An invalid range is rejected and
// the previous one stays active.
func (s *Scheduler) SetDelayRange(minDelay, maxDelay time.Duration) error {
	if minDelay <= 0 || minDelay >= maxDelay {
		return fmt.Errorf("invalid probe delay range [%v, %v): min must be positive and below max", minDelay, maxDelay)
	}
	s.delayMu.Lock()
	s.minDelay = minDelay
	s.maxDelay = maxDelay
	s.delayMu.Unlock()
	return nil
}

// Pause suppresses probe sends without stopping the loop.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
}

// Resume re-enables probe sends.
func (s *Scheduler) Resume() {
	s.paused.Store(false)
}

// Paused reports whether sends are currently suppressed.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// State returns the scheduler lifecycle state.
func (s *Scheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}
