package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/port"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/protection"
	"github.com/paulmorrishill/solarplan2mqtt/internal/metrics"
	. "github.com/paulmorrishill/solarplan2mqtt/internal/util/actorutil"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// ControllerActor runs the control loop: every tick it locates the current
// schedule segment, arbitrates the planned command against the protection
// chain, and hands the resolved command to the dispatcher when it differs
// from the last one sent. All lifecycle transitions happen here; observers
// see them through the state holder and the eventstream.
type ControllerActor struct {
	ActorWithStates
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	config          *config.Config
	dispatcherActor *actor.PID
	telemetryActor  *actor.PID
	stateHolder     *domain.StateHolder
	recorder        port.ControlActionRecorder
	eventStream     *eventstream.EventStream
	chain           *protection.Chain

	schedule *solarplan.DaySchedule
	st       domain.ControllerState
	seq      uint64
	clock    func() time.Time

	logger *zap.Logger
}

type controlTick struct {
}

func NewControllerActor(config *config.Config, dispatcherActor, telemetryActor *actor.PID,
	stateHolder *domain.StateHolder, recorder port.ControlActionRecorder,
	eventStream *eventstream.EventStream, logger *zap.Logger) *ControllerActor {
	act := &ControllerActor{
		config:          config,
		dispatcherActor: dispatcherActor,
		telemetryActor:  telemetryActor,
		stateHolder:     stateHolder,
		recorder:        recorder,
		eventStream:     eventStream,
		chain:           protection.NewDefaultChain(config.Protections, logger),
		stash:           &Stash{},
		clock:           time.Now,
		st:              domain.ControllerState{Lifecycle: domain.LifecycleStarting, SegmentIndex: -1},
		logger:          ActorLogger(domain.ACTOR_ID_CONTROLLER, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(CtrlStartingState{
		actor: act,
	})
	return act
}

func (state *ControllerActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type CtrlStartingState struct {
	ActorState
	actor *ControllerActor
}

func (state CtrlStartingState) Name() string {
	return "starting"
}

func (state CtrlStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("controller@starting started")

		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.scheduleNextTick(ctx)
		state.actor.publishState()

		state.actor.Become(CtrlRunningState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("controller@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Running state. Also covers the retrying_command lifecycle: the dispatcher
// keeps the retry timer, the controller keeps ticking.

type CtrlRunningState struct {
	ActorState
	actor *ControllerActor
}

func (state CtrlRunningState) Name() string {
	return "running"
}

func (state CtrlRunningState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("controller@running: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CONTROLLER,
			Healthy: true,
			State:   string(state.actor.st.Lifecycle),
		})
	case controlTick:
		state.actor.logger.Debug("controller@running tick")
		state.actor.scheduleNextTick(ctx)
		state.actor.BecomeStacked(CtrlAwaitTelemetryState{
			actor: state.actor,
		}.OnEnterAction(ctx))
	case domain.DispatchStatus:
		state.actor.handleDispatchStatus(ctx, msg)
	case domain.LoadScheduleRequest:
		state.actor.handleLoadSchedule(ctx, msg)
	case domain.RetryCommandRequest:
		// nothing to retry unless the loop has failed
		ForRequest(msg).Respond(ctx, domain.RetryCommandResponse{Retrying: false})
	case *actor.Stopping:
		state.actor.markStopped()
	default:
		state.actor.logger.Debug("controller@running: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Await telemetry state (stacked on running)

type CtrlAwaitTelemetryState struct {
	ActorState
	actor *ControllerActor
}

func (state CtrlAwaitTelemetryState) Name() string {
	return "awaitTelemetry"
}

func (state CtrlAwaitTelemetryState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetLatestTelemetryResponse:
		ctx.SetReceiveTimeout(0)
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
		if msg.HasResponseError() {
			state.actor.logger.Error("controller@awaitTelemetry: telemetry error", zap.Error(msg.GetResponseError()))
			state.actor.evaluateTick(ctx, nil)
		} else {
			state.actor.evaluateTick(ctx, msg.Metric)
		}
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		state.actor.logger.Warn("controller@awaitTelemetry: ReceiveTimeout")
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
		state.actor.evaluateTick(ctx, nil)
	default:
		state.actor.logger.Debug("controller@awaitTelemetry: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CtrlAwaitTelemetryState) OnEnterAction(ctx actor.Context) CtrlAwaitTelemetryState {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.telemetryActor,
		domain.GetLatestTelemetryRequest{}, 2*time.Second),
		func(err error) any {
			return domain.GetLatestTelemetryResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	ctx.SetReceiveTimeout(3 * time.Second)
	return state
}

// Failed state. The loop stops evaluating until an explicit retry; ticks
// keep rescheduling so the cadence survives recovery.

type CtrlFailedState struct {
	ActorState
	actor *ControllerActor
}

func (state CtrlFailedState) Name() string {
	return "failed"
}

func (state CtrlFailedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("controller@failed: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CONTROLLER,
			Healthy: false,
			State:   string(domain.LifecycleFailed),
		})
	case controlTick:
		state.actor.logger.Debug("controller@failed tick skipped")
		state.actor.scheduleNextTick(ctx)
	case domain.RetryCommandRequest:
		state.actor.retryLastCommand(ctx, msg)
	case domain.LoadScheduleRequest:
		state.actor.handleLoadSchedule(ctx, msg)
	case domain.DispatchStatus:
		state.actor.logger.Debug("controller@failed: ignoring dispatch status", zap.Uint64("seq", msg.Seq))
	case *actor.Stopping:
		state.actor.markStopped()
	default:
		state.actor.logger.Debug("controller@failed: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Tick evaluation

func (state *ControllerActor) scheduleNextTick(ctx actor.Context) {
	state.scheduler.RequestOnce(state.config.Control.TickInterval(), ctx.Self(), controlTick{})
}

func (state *ControllerActor) evaluateTick(ctx actor.Context, metric *domain.MetricInstance) {
	now := state.clock()
	metrics.TicksTotal.Inc()

	if state.st.Lifecycle == domain.LifecycleStarting {
		state.st.Lifecycle = domain.LifecycleRunning
		state.publishState()
	}

	if state.schedule == nil {
		state.logger.Warn("controller: tick skipped, no schedule loaded")
		metrics.TicksSkipped.WithLabelValues("no_schedule").Inc()
		return
	}
	if metric == nil {
		state.logger.Warn("controller: tick skipped, no fresh telemetry")
		metrics.TicksSkipped.WithLabelValues("no_telemetry").Inc()
		return
	}

	segment := state.schedule.SegmentAt(now)
	planned := domain.InverterCommand{
		Mode:       segment.PlannedMode,
		ChargeRate: segment.PlannedChargeRate,
	}

	resolved, overriddenBy := state.chain.Resolve(planned, *metric, segment, now)
	if overriddenBy != "" {
		metrics.ProtectionOverrides.WithLabelValues(overriddenBy).Inc()
	}

	state.st.SegmentIndex = segment.Index
	state.st.ActiveProtection = overriddenBy
	state.st.LastTickAt = now

	if state.shouldDispatch(resolved) {
		state.seq++
		state.logger.Info("controller: dispatching command",
			zap.Uint64("seq", state.seq),
			zap.String("command", resolved.String()),
			zap.String("overridden_by", overriddenBy))
		ctx.Request(state.dispatcherActor, domain.DispatchCommandRequest{
			Seq:          state.seq,
			Command:      resolved,
			OverriddenBy: overriddenBy,
		})
		cmd := resolved
		state.st.LastResolved = &cmd
	}

	state.publishState()
}

// shouldDispatch is the idempotence gate: an unchanged command is not
// re-sent. Compares against the last resolved command so a cycle still
// retrying is not restarted for the same value.
func (state *ControllerActor) shouldDispatch(resolved domain.InverterCommand) bool {
	last := state.st.LastResolved
	if last == nil {
		last = state.st.LastApplied
	}
	return last == nil || !resolved.Equal(*last)
}

// Dispatch outcomes

func (state *ControllerActor) handleDispatchStatus(ctx actor.Context, msg domain.DispatchStatus) {
	if msg.Seq != state.seq {
		state.logger.Debug("controller: ignoring stale dispatch status", zap.Uint64("seq", msg.Seq))
		return
	}

	switch {
	case msg.Success && msg.Final:
		state.logger.Info("controller: command applied",
			zap.Uint64("seq", msg.Seq), zap.Int("attempts", msg.Attempts))
		cmd := msg.Command
		state.st.LastApplied = &cmd
		state.st.RetryCount = 0
		state.st.LastError = ""
		state.st.Lifecycle = domain.LifecycleRunning
		state.recordAction(ctx, msg, true)
	case !msg.Final:
		state.logger.Warn("controller: dispatch failed, dispatcher retrying",
			zap.Uint64("seq", msg.Seq), zap.Int("attempt", msg.Attempts), zap.Error(msg.Err))
		state.st.Lifecycle = domain.LifecycleRetryingCommand
		state.st.RetryCount = msg.Attempts
		state.st.LastError = msg.Err.Error()
	default:
		state.logger.Error("controller: dispatch failed permanently",
			zap.Uint64("seq", msg.Seq), zap.Int("attempts", msg.Attempts), zap.Error(msg.Err))
		state.st.Lifecycle = domain.LifecycleFailed
		state.st.RetryCount = msg.Attempts
		state.st.LastError = msg.Err.Error()
		state.recordAction(ctx, msg, false)
		state.Become(CtrlFailedState{
			actor: state,
		})
	}

	state.publishState()
}

func (state *ControllerActor) retryLastCommand(ctx actor.Context, msg domain.RetryCommandRequest) {
	if state.st.LastResolved == nil {
		ForRequest(msg).Respond(ctx, domain.RetryCommandResponse{Retrying: false})
		return
	}
	state.seq++
	state.logger.Info("controller: manual retry", zap.Uint64("seq", state.seq),
		zap.String("command", state.st.LastResolved.String()))
	ctx.Request(state.dispatcherActor, domain.DispatchCommandRequest{
		Seq:          state.seq,
		Command:      *state.st.LastResolved,
		OverriddenBy: state.st.ActiveProtection,
	})
	state.st.Lifecycle = domain.LifecycleRunning
	state.st.LastError = ""
	state.Become(CtrlRunningState{
		actor: state,
	})
	state.publishState()
	ForRequest(msg).Respond(ctx, domain.RetryCommandResponse{Retrying: true})
}

// Schedule management

func (state *ControllerActor) handleLoadSchedule(ctx actor.Context, msg domain.LoadScheduleRequest) {
	if msg.Schedule == nil {
		ForRequest(msg).Respond(ctx, domain.LoadScheduleResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: errors.New("nil schedule"),
			},
		})
		return
	}
	state.logger.Info("controller: schedule loaded", zap.String("date", msg.Schedule.Date()))
	state.schedule = msg.Schedule
	state.st.ScheduleDate = msg.Schedule.Date()
	state.publishState()
	ForRequest(msg).Respond(ctx, domain.LoadScheduleResponse{})
}

// State publication and persistence

func (state *ControllerActor) publishState() {
	state.stateHolder.Store(state.st)
	metrics.SetLifecycle(string(state.st.Lifecycle))
	if state.eventStream != nil {
		state.eventStream.Publish(domain.ControllerStateUpdateEvent{State: state.st})
	}
}

func (state *ControllerActor) markStopped() {
	state.logger.Debug("controller: stopping")
	state.st.Lifecycle = domain.LifecycleStopped
	state.publishState()
}

func (state *ControllerActor) recordAction(ctx actor.Context, msg domain.DispatchStatus, succeeded bool) {
	if state.recorder == nil {
		return
	}
	action := domain.ControlAction{
		Timestamp:         state.clock(),
		Command:           msg.Command,
		OverriddenBy:      msg.OverriddenBy,
		DispatchSucceeded: succeeded,
		Attempts:          msg.Attempts,
	}
	logger := state.logger
	recorder := state.recorder
	NewBackgroundTaskErr(ctx, func() error {
		return recorder.RecordControlAction(context.Background(), action)
	}).WithTimeout(5 * time.Second).OnError(func(err error) {
		logger.Error("controller: could not record control action", zap.Error(err))
	}).Run()
}
