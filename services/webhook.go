package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/models"
)

// WebhookAlertService POSTs state-transition notifications to an operator
// endpoint.
type WebhookAlertService struct {
	logger     *zap.Logger
	apiURL     string
	httpClient *http.Client

	mu         sync.Mutex
	lastStates map[string]models.DeviceState
}

// WebhookAlertPayload is the JSON body sent for each transition.
type WebhookAlertPayload struct {
	Target    string                `json:"target"`
	Device    models.DeviceSnapshot `json:"device"`
	Previous  models.DeviceState    `json:"previous_state"`
	Severity  string                `json:"severity"`
	AlertType string                `json:"alert_type"`
}

func NewWebhookAlertService(logger *zap.Logger, apiURL string) *WebhookAlertService {
	return &WebhookAlertService{
		logger: logger,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		lastStates: make(map[string]models.DeviceState),
	}
}

// HandleSnapshot sends one webhook per device state transition in the
// snapshot. Delivery failures are logged; tracking is unaffected.
func (h *WebhookAlertService) HandleSnapshot(snap *models.SessionSnapshot) {
	for _, device := range snap.Devices {
		key := snap.Target + "/" + device.DeviceID

		h.mu.Lock()
		prev, seen := h.lastStates[key]
		h.lastStates[key] = device.State
		h.mu.Unlock()

		if !seen || prev == device.State {
			continue
		}

		if err := h.sendAlert(snap.Target, device, prev); err != nil {
			h.logger.Error("Failed to send webhook alert",
				zap.String("target", snap.Target),
				zap.String("device", device.DeviceID),
				zap.Error(err))
		}
	}
}

func (h *WebhookAlertService) sendAlert(target string, device models.DeviceSnapshot, prev models.DeviceState) error {
	payload := WebhookAlertPayload{
		Target:    target,
		Device:    device,
		Previous:  prev,
		Severity:  h.determineSeverity(device.State),
		AlertType: "state_transition",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/presence-alert", h.apiURL)

	req, err := http.NewRequest("POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vigil-Presence-Service/1.0")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		h.logger.Info("Webhook alert sent",
			zap.String("target", target),
			zap.String("device", device.DeviceID),
			zap.String("state", string(device.State)),
			zap.Int("status_code", resp.StatusCode))
		return nil
	}

	return fmt.Errorf("webhook alert API error: %s", resp.Status)
}

func (h *WebhookAlertService) determineSeverity(state models.DeviceState) string {
	switch state {
	case models.StateOffline:
		return "high"
	case models.StateStandby:
		return "low"
	case models.StateOnline:
		return "info"
	default:
		return "info"
	}
}
