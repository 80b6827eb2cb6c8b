package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTransport_RecordsProbes(t *testing.T) {
	m := NewMockTransport()

	id1, err := m.SendProbe(context.Background(), "alice", "text")
	require.NoError(t, err)
	id2, err := m.SendProbe(context.Background(), "alice", "text")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2, "probe ids must be unique")
	assert.Equal(t, 2, m.SentCount())
	assert.Equal(t, "alice", m.SentProbes()[0].TargetID)
}

func TestMockTransport_SendError(t *testing.T) {
	m := NewMockTransport()
	m.SetSendError(errors.New("broker down"))

	_, err := m.SendProbe(context.Background(), "alice", "text")
	assert.Error(t, err)
	assert.Equal(t, 0, m.SentCount())

	m.SetSendError(nil)
	_, err = m.SendProbe(context.Background(), "alice", "text")
	assert.NoError(t, err)
}

func TestMockTransport_InjectRequiresSubscription(t *testing.T) {
	m := NewMockTransport()

	err := m.InjectAck(Ack{TargetID: "alice", ProbeID: "P1", Status: AckDelivered})
	assert.Error(t, err, "injecting without a subscriber must fail loudly in tests")

	sub, err := m.Subscribe("alice")
	require.NoError(t, err)

	require.NoError(t, m.InjectAck(Ack{TargetID: "alice", ProbeID: "P1", Status: AckDelivered}))
	ack := <-sub.Acks
	assert.Equal(t, "P1", ack.ProbeID)
	assert.False(t, ack.At.IsZero())
}
