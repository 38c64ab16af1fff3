package actor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/paulmorrishill/solarplan2mqtt/internal/adapter/actor"
	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/port"
	. "github.com/paulmorrishill/solarplan2mqtt/internal/util/actorutil"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type TelemetryActorProvider func() *TelemetryActor

// MasterOfPuppetsActor supervises the actor tree and routes messages
// between the HTTP layer, the MQTT adapter and the control loop.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	stateHolder        *domain.StateHolder
	recorder           port.ControlActionRecorder
	scheduleStore      port.ScheduleStore

	mqttActor       *actor.PID
	telemetryActor  *actor.PID
	dispatcherActor *actor.PID
	controllerActor *actor.PID

	mqttActorProvider      MQTTActorProvider
	telemetryActorProvider TelemetryActorProvider

	logger *zap.Logger
}

type healthCheckResult struct {
	mqttActorHealthy       bool
	telemetryActorHealthy  bool
	dispatcherActorHealthy bool
	controllerActorHealthy bool
	checksReceived         int
	respondTo              *actor.PID
}

type scheduleLoaded struct {
	date     string
	schedule *solarplan.DaySchedule
}

func NewMasterOfPuppetsActor(config config.Config, stateHolder *domain.StateHolder,
	recorder port.ControlActionRecorder, scheduleStore port.ScheduleStore,
	mqttActorProvider MQTTActorProvider, telemetryActorProvider TelemetryActorProvider,
	logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:                 config,
		behavior:               actor.NewBehavior(),
		stash:                  &Stash{},
		logger:                 ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:            &eventstream.EventStream{},
		stateHolder:            stateHolder,
		recorder:               recorder,
		scheduleStore:          scheduleStore,
		mqttActorProvider:      mqttActorProvider,
		telemetryActorProvider: telemetryActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		telemetryActorPID, err := state.startTelemetryActor(ctx)
		if err != nil {
			panic(err)
		}
		state.telemetryActor = telemetryActorPID

		dispatcherActorPID, err := state.startDispatcherActor(ctx)
		if err != nil {
			panic(err)
		}
		state.dispatcherActor = dispatcherActorPID

		controllerActorPID, err := state.startControllerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.controllerActor = controllerActorPID

		state.loadScheduleForDate(ctx, time.Now().Format(solarplan.DateLayout))

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()

		for id, pid := range map[string]*actor.PID{
			domain.ACTOR_ID_MQTT:       state.mqttActor,
			domain.ACTOR_ID_TELEMETRY:  state.telemetryActor,
			domain.ACTOR_ID_DISPATCHER: state.dispatcherActor,
			domain.ACTOR_ID_CONTROLLER: state.controllerActor,
		} {
			actorId := id
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      actorId,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.TelemetryUpdate:
		// from the MQTT adapter; feed the cache
		ctx.Send(state.telemetryActor, msg)
	case domain.LoadScheduleRequest:
		// from the HTTP layer after a schedule write; response routes back
		// to the original requester
		state.logger.Debug("master@default LoadScheduleRequest")
		ctx.RequestWithCustomSender(state.controllerActor, msg, ctx.Sender())
	case domain.ReloadScheduleRequest:
		state.logger.Info("master@default ReloadScheduleRequest", zap.String("date", msg.Date))
		state.loadScheduleForDate(ctx, msg.Date)
	case scheduleLoaded:
		if msg.schedule == nil {
			state.logger.Warn("master@default: no stored schedule for date", zap.String("date", msg.date))
			return
		}
		ctx.Request(state.controllerActor, domain.LoadScheduleRequest{Schedule: msg.schedule})
	case domain.LoadScheduleResponse:
		if msg.HasResponseError() {
			state.logger.Error("master@default: controller rejected schedule", zap.Error(msg.GetResponseError()))
		}
	case domain.RetryCommandRequest:
		state.logger.Debug("master@default RetryCommandRequest")
		ctx.RequestWithCustomSender(state.controllerActor, msg, ctx.Sender())
	case *actor.Terminated:
		// if the broker link dies on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_MQTT) {
			state.logger.Error("master@default mqtt error")
			panic(errors.New("mqtt terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// an unresponsive child counts as unhealthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_MQTT:
				state.currentHealthCheck.mqttActorHealthy = true
			case domain.ACTOR_ID_TELEMETRY:
				state.currentHealthCheck.telemetryActorHealthy = true
			case domain.ACTOR_ID_DISPATCHER:
				state.currentHealthCheck.dispatcherActorHealthy = true
			case domain.ACTOR_ID_CONTROLLER:
				state.currentHealthCheck.controllerActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) loadScheduleForDate(ctx actor.Context, date string) {
	if state.scheduleStore == nil {
		return
	}
	store := state.scheduleStore
	NewBackgroundTask(ctx, func() (*scheduleLoaded, error) {
		schedule, err := store.LoadSchedule(context.Background(), date)
		if err != nil {
			return nil, err
		}
		return &scheduleLoaded{date: date, schedule: schedule}, nil
	}).WithTimeout(10 * time.Second).OnError(func(err error) {
		state.logger.Error("master: could not load schedule", zap.String("date", date), zap.Error(err))
	}).PipeTo(ctx.Self())
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterOfPuppetsActor) startTelemetryActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	telemetryProps := actor.PropsFromProducer(func() actor.Actor {
		return state.telemetryActorProvider()
	}, actor.WithSupervisor(supervisor))
	telemetryActorPID, err := ctx.SpawnNamed(telemetryProps, domain.ACTOR_ID_TELEMETRY)
	if err != nil {
		return nil, err
	}

	return telemetryActorPID, nil
}

func (state *MasterOfPuppetsActor) startDispatcherActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	dispatcherProps := actor.PropsFromProducer(func() actor.Actor {
		return NewDispatcherActor(&state.config, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	dispatcherActorPID, err := ctx.SpawnNamed(dispatcherProps, domain.ACTOR_ID_DISPATCHER)
	if err != nil {
		return nil, err
	}

	return dispatcherActorPID, nil
}

func (state *MasterOfPuppetsActor) startControllerActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	controllerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewControllerActor(&state.config, state.dispatcherActor, state.telemetryActor,
			state.stateHolder, state.recorder, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	controllerActorPID, err := ctx.SpawnNamed(controllerProps, domain.ACTOR_ID_CONTROLLER)
	if err != nil {
		return nil, err
	}

	return controllerActorPID, nil
}

func (state *healthCheckResult) reset() {
	state.mqttActorHealthy = false
	state.telemetryActorHealthy = false
	state.dispatcherActorHealthy = false
	state.controllerActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 4
}

func (state *healthCheckResult) allHealthy() bool {
	return state.mqttActorHealthy && state.telemetryActorHealthy &&
		state.dispatcherActorHealthy && state.controllerActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
