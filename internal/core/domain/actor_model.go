package domain

import (
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"
)

const (
	ACTOR_ID_MASTER     = "master"
	ACTOR_ID_MQTT       = "mqtt"
	ACTOR_ID_TELEMETRY  = "telemetry"
	ACTOR_ID_DISPATCHER = "dispatcher"
	ACTOR_ID_CONTROLLER = "controller"
)

// Telemetry

// TelemetryUpdate pushes a fresh snapshot into the telemetry cache. Sent by
// the MQTT adapter on every bridge message and by the modbus poll loop.
type TelemetryUpdate struct {
	Metric MetricInstance
}

type GetLatestTelemetryRequest struct {
	ActorRequestMixIn
}

// GetLatestTelemetryResponse carries nil Metric when no fresh snapshot is
// available; the controller treats that as a tick-skip condition, not an
// error.
type GetLatestTelemetryResponse struct {
	ActorResponseMixIn
	Metric *MetricInstance
}

// Command transport

type PublishCommandRequest struct {
	ActorRequestMixIn
	Seq     uint64
	Command InverterCommand
}

type PublishCommandResponse struct {
	ActorResponseMixIn
	Seq uint64
}

// Dispatch

// DispatchCommandRequest starts a dispatch cycle. A request with a newer
// Seq supersedes any cycle still retrying, so an older command is never
// delivered after a newer one.
type DispatchCommandRequest struct {
	Seq          uint64
	Command      InverterCommand
	OverriddenBy string
}

// DispatchStatus reports per-attempt progress back to the controller.
// Final means the cycle is over: either delivered or out of attempts.
type DispatchStatus struct {
	Seq          uint64
	Command      InverterCommand
	OverriddenBy string
	Attempts     int
	Success      bool
	Final        bool
	Err          error
}

// Controller

type LoadScheduleRequest struct {
	ActorRequestMixIn
	Schedule *solarplan.DaySchedule
}

type LoadScheduleResponse struct {
	ActorResponseMixIn
}

// ReloadScheduleRequest asks the master to fetch the stored schedule for a
// date and swap it into the controller. Sent by the midnight rollover job.
type ReloadScheduleRequest struct {
	Date string
}

type RetryCommandRequest struct {
	ActorRequestMixIn
}

type RetryCommandResponse struct {
	ActorResponseMixIn
	Retrying bool
}

// Health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
