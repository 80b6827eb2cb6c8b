package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SentProbe records one SendProbe call on the mock.
type SentProbe struct {
	TargetID string
	ProbeID  string
	Method   string
	SentAt   time.Time
}

// MockTransport implements Transport in memory for tests and dev mode. Tests
// inject acknowledgment and presence events directly; every sent probe is
// recorded.
type MockTransport struct {
	mu        sync.Mutex
	sent      []SentProbe
	subs      map[string]*mqttSubscription
	SendError error // when set, SendProbe fails with this error
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		subs: make(map[string]*mqttSubscription),
	}
}

func (m *MockTransport) SendProbe(ctx context.Context, targetID, method string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendError != nil {
		return "", m.SendError
	}

	probe := SentProbe{
		TargetID: targetID,
		ProbeID:  uuid.NewString(),
		Method:   method,
		SentAt:   time.Now(),
	}
	m.sent = append(m.sent, probe)
	return probe.ProbeID, nil
}

func (m *MockTransport) Subscribe(targetID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[targetID]
	if !ok {
		sub = &mqttSubscription{
			acks:     make(chan Ack, eventQueueSize),
			presence: make(chan PresenceUpdate, eventQueueSize),
		}
		m.subs[targetID] = sub
	}
	return &Subscription{Acks: sub.acks, Presence: sub.presence}, nil
}

func (m *MockTransport) Unsubscribe(targetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, targetID)
}

func (m *MockTransport) Close() error {
	return nil
}

// SentProbes returns a copy of every probe sent so far.
func (m *MockTransport) SentProbes() []SentProbe {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentProbe, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns how many probes have been sent.
func (m *MockTransport) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// SetSendError makes subsequent SendProbe calls fail (nil clears it).
func (m *MockTransport) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendError = err
}

// InjectAck delivers an acknowledgment event to the target's subscriber.
func (m *MockTransport) InjectAck(ack Ack) error {
	m.mu.Lock()
	sub, ok := m.subs[ack.TargetID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no subscription for target %s", ack.TargetID)
	}
	if ack.At.IsZero() {
		ack.At = time.Now()
	}
	sub.acks <- ack
	return nil
}

// InjectPresence delivers a presence event to the target's subscriber.
func (m *MockTransport) InjectPresence(pres PresenceUpdate) error {
	m.mu.Lock()
	sub, ok := m.subs[pres.TargetID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no subscription for target %s", pres.TargetID)
	}
	if pres.At.IsZero() {
		pres.At = time.Now()
	}
	sub.presence <- pres
	return nil
}
