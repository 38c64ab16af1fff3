package domain

import (
	"sync/atomic"
	"time"
)

// Lifecycle is the control loop state machine position.
// Starting → Running ⇄ RetryingCommand → Failed, Failed → Running via an
// explicit retry, any state → Stopped on shutdown.
type Lifecycle string

const (
	LifecycleStarting        Lifecycle = "starting"
	LifecycleRunning         Lifecycle = "running"
	LifecycleRetryingCommand Lifecycle = "retrying_command"
	LifecycleFailed          Lifecycle = "failed"
	LifecycleStopped         Lifecycle = "stopped"
)

// ControllerState is the observable snapshot of the control loop. Owned and
// mutated only by the controller actor; external observers read copies
// through a StateHolder.
type ControllerState struct {
	Lifecycle        Lifecycle        `json:"lifecycle"`
	ScheduleDate     string           `json:"schedule_date,omitempty"`
	SegmentIndex     int              `json:"segment_index"`
	LastResolved     *InverterCommand `json:"last_resolved_command,omitempty"`
	LastApplied      *InverterCommand `json:"last_applied_command,omitempty"`
	ActiveProtection string           `json:"active_protection,omitempty"`
	RetryCount       int              `json:"retry_count"`
	LastError        string           `json:"last_error,omitempty"`
	LastTickAt       time.Time        `json:"last_tick_at"`
}

// StateHolder publishes ControllerState snapshots with a single pointer
// swap, so the HTTP layer reads a consistent state at any time without
// synchronizing with the control loop.
type StateHolder struct {
	ptr atomic.Pointer[ControllerState]
}

func NewStateHolder() *StateHolder {
	h := &StateHolder{}
	h.ptr.Store(&ControllerState{Lifecycle: LifecycleStarting, SegmentIndex: -1})
	return h
}

func (h *StateHolder) Store(state ControllerState) {
	h.ptr.Store(&state)
}

func (h *StateHolder) Load() ControllerState {
	return *h.ptr.Load()
}
