package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	probeTopicPrefix    = "vigil/probe/"
	ackTopicPrefix      = "vigil/ack/"
	presenceTopicPrefix = "vigil/presence/"

	// QoS 1 guarantees the broker reports delivery, which is the whole
	// point of a probe.
	probeQoS byte = 1

	publishWait    = 10 * time.Second
	subscribeWait  = 5 * time.Second
	eventQueueSize = 64
)

// ProbeMessage is the wire payload of one probe. The method tag is chosen by
// the operator and interpreted by the responder, not by this service.
type ProbeMessage struct {
	ProbeID string    `json:"probe_id"`
	Method  string    `json:"method"`
	SentAt  time.Time `json:"sent_at"`
}

// MQTTTransport implements Transport over an MQTT broker. Probes are QoS-1
// publishes to vigil/probe/<target>; acknowledgment and presence events
// arrive as JSON on vigil/ack/<target> and vigil/presence/<target>.
type MQTTTransport struct {
	client mqtt.Client
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]*mqttSubscription
}

type mqttSubscription struct {
	acks     chan Ack
	presence chan PresenceUpdate
}

// NewMQTTTransport connects to the broker and returns a ready transport.
func NewMQTTTransport(broker, clientID, username, password string, logger *zap.Logger) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s", broker)).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, token.Error())
	}

	logger.Info("Connected to MQTT broker", zap.String("broker", broker))

	return &MQTTTransport{
		client: client,
		logger: logger,
		subs:   make(map[string]*mqttSubscription),
	}, nil
}

// SendProbe publishes one probe and returns its correlation id.
func (t *MQTTTransport) SendProbe(ctx context.Context, targetID, method string) (string, error) {
	probeID := uuid.NewString()

	payload, err := json.Marshal(ProbeMessage{
		ProbeID: probeID,
		Method:  method,
		SentAt:  time.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal probe: %w", err)
	}

	token := t.client.Publish(probeTopicPrefix+targetID, probeQoS, false, payload)
	if !token.WaitTimeout(publishWait) {
		return "", fmt.Errorf("probe publish timed out for target %s", targetID)
	}
	if err := token.Error(); err != nil {
		return "", fmt.Errorf("probe publish failed for target %s: %w", targetID, err)
	}

	return probeID, nil
}

// Subscribe opens the ack and presence streams for one target. Calling it
// again for the same target returns the existing streams.
func (t *MQTTTransport) Subscribe(targetID string) (*Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sub, ok := t.subs[targetID]; ok {
		return &Subscription{Acks: sub.acks, Presence: sub.presence}, nil
	}

	sub := &mqttSubscription{
		acks:     make(chan Ack, eventQueueSize),
		presence: make(chan PresenceUpdate, eventQueueSize),
	}

	ackToken := t.client.Subscribe(ackTopicPrefix+targetID, probeQoS, func(_ mqtt.Client, msg mqtt.Message) {
		t.handleAck(targetID, sub, msg.Payload())
	})
	if !ackToken.WaitTimeout(subscribeWait) || ackToken.Error() != nil {
		return nil, fmt.Errorf("failed to subscribe to acks for %s: %w", targetID, ackToken.Error())
	}

	// Presence subscription is best effort: a failure costs multi-device
	// discovery, not correlation.
	presToken := t.client.Subscribe(presenceTopicPrefix+targetID, 0, func(_ mqtt.Client, msg mqtt.Message) {
		t.handlePresence(targetID, sub, msg.Payload())
	})
	if !presToken.WaitTimeout(subscribeWait) || presToken.Error() != nil {
		t.logger.Warn("Failed to subscribe to presence events",
			zap.String("target", targetID),
			zap.Error(presToken.Error()))
	}

	t.subs[targetID] = sub
	return &Subscription{Acks: sub.acks, Presence: sub.presence}, nil
}

func (t *MQTTTransport) handleAck(targetID string, sub *mqttSubscription, payload []byte) {
	var ack Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		t.logger.Warn("Discarding malformed ack event",
			zap.String("target", targetID),
			zap.Error(err))
		return
	}
	if ack.At.IsZero() {
		ack.At = time.Now()
	}
	ack.TargetID = targetID

	select {
	case sub.acks <- ack:
	default:
		t.logger.Warn("Ack queue full, dropping event",
			zap.String("target", targetID),
			zap.String("probe_id", ack.ProbeID))
	}
}

func (t *MQTTTransport) handlePresence(targetID string, sub *mqttSubscription, payload []byte) {
	var pres PresenceUpdate
	if err := json.Unmarshal(payload, &pres); err != nil {
		t.logger.Warn("Discarding malformed presence event",
			zap.String("target", targetID),
			zap.Error(err))
		return
	}
	if pres.At.IsZero() {
		pres.At = time.Now()
	}
	pres.TargetID = targetID

	select {
	case sub.presence <- pres:
	default:
		t.logger.Warn("Presence queue full, dropping event",
			zap.String("target", targetID))
	}
}

// Unsubscribe tears down both streams for a target.
func (t *MQTTTransport) Unsubscribe(targetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[targetID]; !ok {
		return
	}

	t.client.Unsubscribe(ackTopicPrefix+targetID, presenceTopicPrefix+targetID)
	delete(t.subs, targetID)
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	for target := range t.subs {
		t.client.Unsubscribe(ackTopicPrefix+target, presenceTopicPrefix+target)
		delete(t.subs, target)
	}
	t.mu.Unlock()

	t.client.Disconnect(250)
	t.logger.Info("MQTT transport closed")
	return nil
}
