// ackgen simulates the remote side of the probe exchange for local testing:
// it listens for probes on the broker and answers with delivery
// acknowledgments after a randomized latency, occasionally announcing a
// companion device through a presence event.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"vigil/transport"
)

var (
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	target     = flag.String("target", "15551234567", "Target identifier to respond for")
	deviceID   = flag.String("device", "15551234567:1", "Primary device identifier")
	companion  = flag.String("companion", "15551234567:2", "Companion device announced via presence")
	active     = flag.Bool("active", false, "Simulate a device in active use (lower RTTs)")
	lossRate   = flag.Float64("loss", 0.05, "Probability of never acknowledging a probe (0.0-1.0)")
)

// AckResponder replies to probes with jittered delivery acknowledgments.
type AckResponder struct {
	client mqtt.Client
	logger *zap.Logger
}

// ackLatency draws a response delay: active devices answer noticeably
// faster than idle ones, which is exactly the separation the classifier
// keys on.
func ackLatency() time.Duration {
	if *active {
		return time.Duration(80+rand.Intn(120)) * time.Millisecond
	}
	return time.Duration(250+rand.Intn(400)) * time.Millisecond
}

func (r *AckResponder) handleProbe(_ mqtt.Client, msg mqtt.Message) {
	var probe transport.ProbeMessage
	if err := json.Unmarshal(msg.Payload(), &probe); err != nil {
		r.logger.Warn("Ignoring malformed probe", zap.Error(err))
		return
	}

	if rand.Float64() < *lossRate {
		r.logger.Info("Dropping probe (simulated loss)", zap.String("probe_id", probe.ProbeID))
		return
	}

	delay := ackLatency()
	r.logger.Info("Probe received",
		zap.String("probe_id", probe.ProbeID),
		zap.String("method", probe.Method),
		zap.Duration("ack_delay", delay))

	time.AfterFunc(delay, func() {
		ack := transport.Ack{
			TargetID: *target,
			DeviceID: *deviceID,
			ProbeID:  probe.ProbeID,
			Status:   transport.AckDelivered,
			At:       time.Now(),
		}
		payload, err := json.Marshal(ack)
		if err != nil {
			r.logger.Error("Failed to marshal ack", zap.Error(err))
			return
		}
		r.client.Publish("vigil/ack/"+*target, 1, false, payload)
	})
}

// announcePresence periodically publishes a presence event, sometimes naming
// the companion device so multi-device discovery has something to find.
func (r *AckResponder) announcePresence() {
	device := *deviceID
	presence := "unavailable"
	if rand.Float64() < 0.3 {
		device = *companion
	}
	if *active {
		presence = "available"
	}

	update := transport.PresenceUpdate{
		TargetID: *target,
		DeviceID: device,
		Presence: presence,
		At:       time.Now(),
	}
	payload, err := json.Marshal(update)
	if err != nil {
		r.logger.Error("Failed to marshal presence", zap.Error(err))
		return
	}

	r.client.Publish("vigil/presence/"+*target, 0, false, payload)
	r.logger.Info("Presence announced",
		zap.String("device", device),
		zap.String("presence", presence))
}

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker)).
		SetClientID(fmt.Sprintf("vigil-ackgen-%d", os.Getpid())).
		SetUsername(*mqttUser).
		SetPassword(*mqttPass).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer client.Disconnect(250)

	logger.Info("Connected to MQTT broker",
		zap.String("broker", *mqttBroker),
		zap.String("target", *target),
		zap.Bool("active", *active))

	responder := &AckResponder{client: client, logger: logger}

	if token := client.Subscribe("vigil/probe/"+*target, 1, responder.handleProbe); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to subscribe to probe topic", zap.Error(token.Error()))
	}

	presenceTicker := time.NewTicker(20 * time.Second)
	defer presenceTicker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-presenceTicker.C:
			responder.announcePresence()
		case <-sigChan:
			logger.Info("Shutting down responder")
			return
		}
	}
}
