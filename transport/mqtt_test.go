package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTransport() (*MQTTTransport, *mqttSubscription) {
	t := &MQTTTransport{
		logger: zap.NewNop(),
		subs:   make(map[string]*mqttSubscription),
	}
	sub := &mqttSubscription{
		acks:     make(chan Ack, eventQueueSize),
		presence: make(chan PresenceUpdate, eventQueueSize),
	}
	return t, sub
}

func TestHandleAck_ParsesAndStampsTarget(t *testing.T) {
	tr, sub := newTestTransport()

	payload := []byte(`{"device_id":"alice:1","probe_id":"P1","status":"delivered"}`)
	tr.handleAck("alice", sub, payload)

	select {
	case ack := <-sub.acks:
		assert.Equal(t, "alice", ack.TargetID)
		assert.Equal(t, "alice:1", ack.DeviceID)
		assert.Equal(t, "P1", ack.ProbeID)
		assert.Equal(t, AckDelivered, ack.Status)
		assert.False(t, ack.At.IsZero(), "a missing timestamp defaults to receipt time")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ack event")
	}
}

func TestHandleAck_DiscardsMalformedPayload(t *testing.T) {
	tr, sub := newTestTransport()

	tr.handleAck("alice", sub, []byte(`{not json`))

	select {
	case <-sub.acks:
		t.Fatal("malformed payload must not produce an event")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHandleAck_DropsWhenQueueFull(t *testing.T) {
	tr, _ := newTestTransport()
	sub := &mqttSubscription{
		acks:     make(chan Ack, 1),
		presence: make(chan PresenceUpdate, 1),
	}

	payload := []byte(`{"probe_id":"P1","status":"delivered"}`)
	tr.handleAck("alice", sub, payload)
	tr.handleAck("alice", sub, payload) // queue full, dropped

	require.Len(t, sub.acks, 1)
}

func TestHandlePresence_Parses(t *testing.T) {
	tr, sub := newTestTransport()

	payload := []byte(`{"device_id":"alice:2","presence":"available"}`)
	tr.handlePresence("alice", sub, payload)

	select {
	case pres := <-sub.presence:
		assert.Equal(t, "alice", pres.TargetID)
		assert.Equal(t, "alice:2", pres.DeviceID)
		assert.Equal(t, "available", pres.Presence)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for presence event")
	}
}
