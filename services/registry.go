package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/models"
	"vigil/transport"
)

// Registry owns the set of active tracking sessions. It is the only state
// shared across targets: a plain key-to-session map behind a mutex with no
// contended hot path.
type Registry struct {
	transport  transport.Transport
	onSnapshot SnapshotFunc
	logger     *zap.Logger

	mu       sync.Mutex
	cfg      SessionConfig
	sessions map[string]*TrackingSession
}

func NewRegistry(tr transport.Transport, cfg SessionConfig, onSnapshot SnapshotFunc, logger *zap.Logger) *Registry {
	return &Registry{
		transport:  tr,
		onSnapshot: onSnapshot,
		logger:     logger,
		cfg:        cfg,
		sessions:   make(map[string]*TrackingSession),
	}
}

// Add starts tracking a target. Adding an already-tracked target is a no-op.
func (r *Registry) Add(target string) error {
	if target == "" {
		return fmt.Errorf("target must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[target]; ok {
		return nil
	}

	session, err := NewTrackingSession(target, r.transport, r.cfg, r.onSnapshot, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create session for %s: %w", target, err)
	}
	r.sessions[target] = session

	r.logger.Info("Target added", zap.String("target", target), zap.Int("session_count", len(r.sessions)))
	return nil
}

// Remove stops and destroys a target's session.
func (r *Registry) Remove(target string) error {
	r.mu.Lock()
	session, ok := r.sessions[target]
	if ok {
		delete(r.sessions, target)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("target %s is not tracked", target)
	}

	session.Stop()
	r.logger.Info("Target removed", zap.String("target", target))
	return nil
}

// Pause suspends probing for a target without losing its statistics.
func (r *Registry) Pause(target string) error {
	session, err := r.get(target)
	if err != nil {
		return err
	}
	session.Pause()
	return nil
}

// Resume restarts probing for a paused target.
func (r *Registry) Resume(target string) error {
	session, err := r.get(target)
	if err != nil {
		return err
	}
	session.Resume()
	return nil
}

func (r *Registry) get(target string) (*TrackingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[target]
	if !ok {
		return nil, fmt.Errorf("target %s is not tracked", target)
	}
	return session, nil
}

// Apply dispatches a control command.
func (r *Registry) Apply(cmd models.TrackCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	switch cmd.Action {
	case models.ActionAdd:
		return r.Add(cmd.Target)
	case models.ActionRemove:
		return r.Remove(cmd.Target)
	case models.ActionPause:
		return r.Pause(cmd.Target)
	case models.ActionResume:
		return r.Resume(cmd.Target)
	}
	return nil
}

// Targets returns the tracked target identifiers, sorted.
func (r *Registry) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.sessions))
	for target := range r.sessions {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// Snapshots returns the current aggregated view of every session, ordered by
// target.
func (r *Registry) Snapshots() []*models.SessionSnapshot {
	r.mu.Lock()
	sessions := make([]*TrackingSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Target() < sessions[j].Target() })

	out := make([]*models.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// SetDelayRange validates and applies a new probe cadence window to every
// running session and to sessions created later. On a validation failure the
// prior range stays active everywhere.
func (r *Registry) SetDelayRange(minDelayMs, maxDelayMs int) error {
	if minDelayMs <= 0 || minDelayMs >= maxDelayMs {
		return fmt.Errorf("invalid probe delay range [%d, %d): min must be positive and below max", minDelayMs, maxDelayMs)
	}

	minDelay := time.Duration(minDelayMs) * time.Millisecond
	maxDelay := time.Duration(maxDelayMs) * time.Millisecond

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg.MinDelay = minDelay
	r.cfg.MaxDelay = maxDelay
	for _, session := range r.sessions {
		if err := session.SetDelayRange(minDelay, maxDelay); err != nil {
			return err
		}
	}

	r.logger.Info("Probe delay range updated",
		zap.Int("min_delay_ms", minDelayMs),
		zap.Int("max_delay_ms", maxDelayMs))
	return nil
}

// DelayRange returns the current cadence window in milliseconds.
func (r *Registry) DelayRange() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.cfg.MinDelay / time.Millisecond), int(r.cfg.MaxDelay / time.Millisecond)
}

// Close stops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*TrackingSession, 0, len(r.sessions))
	for target, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, target)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	r.logger.Info("Session registry closed")
}
