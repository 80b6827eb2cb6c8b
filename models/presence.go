package models

import (
	"time"
)

// DeviceState is the classified activity state of a single device.
type DeviceState string

const (
	// StateCalibrating means the population baseline has too few samples to
	// support a classification yet.
	StateCalibrating DeviceState = "calibrating"
	StateOnline      DeviceState = "online"
	StateStandby     DeviceState = "standby"
	StateOffline     DeviceState = "offline"
)

// DeviceSnapshot is the externally visible view of one tracked device.
type DeviceSnapshot struct {
	DeviceID   string      `json:"device_id"`
	State      DeviceState `json:"state"`
	LastRTT    float64     `json:"last_rtt_ms"`
	MovingAvg  float64     `json:"moving_avg_ms"`
	LastUpdate time.Time   `json:"last_update"`
}

// SessionSnapshot aggregates everything a session knows about its target.
// One is pushed to listeners after every classification and after each
// lifecycle change (created, device added, paused, resumed).
type SessionSnapshot struct {
	Target              string           `json:"target"`
	Devices             []DeviceSnapshot `json:"devices"`
	DeviceCount         int              `json:"device_count"`
	Presence            string           `json:"presence"`
	PopulationMedian    float64          `json:"population_median_ms"`
	PopulationThreshold float64          `json:"population_threshold_ms"`
	Paused              bool             `json:"paused"`
	Timestamp           time.Time        `json:"timestamp"`
}

// StateEmoji returns an indicator for dashboard and alert formatting.
func (d *DeviceSnapshot) StateEmoji() string {
	switch d.State {
	case StateOnline:
		return "🟢"
	case StateStandby:
		return "🟡"
	case StateOffline:
		return "🔴"
	default:
		return "⚪"
	}
}
