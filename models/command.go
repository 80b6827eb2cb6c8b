package models

import (
	"fmt"
)

// CommandAction enumerates the tracking operations accepted over the control
// queue and the HTTP API.
type CommandAction string

const (
	ActionAdd    CommandAction = "add"
	ActionRemove CommandAction = "remove"
	ActionPause  CommandAction = "pause"
	ActionResume CommandAction = "resume"
)

// TrackCommand is a control message for the session registry.
type TrackCommand struct {
	Action CommandAction `json:"action"`
	Target string        `json:"target"`
}

// Validate checks the command before it reaches the registry.
func (c *TrackCommand) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("invalid command: missing target")
	}
	switch c.Action {
	case ActionAdd, ActionRemove, ActionPause, ActionResume:
		return nil
	default:
		return fmt.Errorf("invalid command action: %q", c.Action)
	}
}
