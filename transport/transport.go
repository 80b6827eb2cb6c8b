// Package transport defines the messaging-transport boundary the inference
// core probes through, plus the MQTT and in-memory implementations.
package transport

import (
	"context"
	"time"
)

// AckStatus is the delivery status reported by the remote side for one
// probe. Only AckDelivered is meaningful to the correlator; every other
// status is ignored by the core.
type AckStatus string

const (
	AckPending   AckStatus = "pending"
	AckDelivered AckStatus = "delivered"
	AckRead      AckStatus = "read"
	AckPlayed    AckStatus = "played"
	AckError     AckStatus = "error"
)

// Ack is a delivery-status event for an outbound probe.
type Ack struct {
	TargetID string    `json:"target_id"`
	DeviceID string    `json:"device_id"`
	ProbeID  string    `json:"probe_id"`
	Status   AckStatus `json:"status"`
	At       time.Time `json:"at"`
}

// PresenceUpdate is a coarse presence event; its device id may name a
// companion device not previously seen for the target.
type PresenceUpdate struct {
	TargetID string    `json:"target_id"`
	DeviceID string    `json:"device_id"`
	Presence string    `json:"presence"`
	At       time.Time `json:"at"`
}

// Subscription carries the per-target event channels a tracking session
// consumes. Both channels are buffered; the transport drops events rather
// than block when a consumer falls behind.
type Subscription struct {
	Acks     <-chan Ack
	Presence <-chan PresenceUpdate
}

// Transport is the collaborator contract for the messaging stack. A probe is
// whatever the transport can send that reliably produces a delivery
// acknowledgment; the method string is an opaque presentation tag.
type Transport interface {
	// SendProbe sends one probe to the target and returns the identifier
	// under which its acknowledgment will be reported. A send failure must
	// never crash the caller; the scheduler retries on its next cycle.
	SendProbe(ctx context.Context, targetID, method string) (string, error)

	// Subscribe opens the ack and presence event streams for one target.
	// Presence delivery is best effort.
	Subscribe(targetID string) (*Subscription, error)

	// Unsubscribe tears down the streams opened by Subscribe.
	Unsubscribe(targetID string)

	Close() error
}
