package domain

import "time"

// ControllerStateUpdateEvent is published on the actor-system eventstream
// after every tick; the MQTT adapter mirrors it to retained state topics.
type ControllerStateUpdateEvent struct {
	State ControllerState
}

// ControlAction is the per-tick outcome record handed to the persistence
// collaborator.
type ControlAction struct {
	Timestamp         time.Time       `json:"timestamp"`
	Command           InverterCommand `json:"command"`
	OverriddenBy      string          `json:"overridden_by,omitempty"`
	DispatchSucceeded bool            `json:"dispatch_succeeded"`
	Attempts          int             `json:"attempts"`
}
