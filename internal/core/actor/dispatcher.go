package actor

import (
	"fmt"
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/internal/metrics"
	. "github.com/paulmorrishill/solarplan2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// DispatcherActor owns the delivery of inverter commands over MQTT,
// including the retry cycle. One cycle is in flight at a time; a request
// with a newer sequence number cancels whatever is still retrying, so a
// stale command can never reach the device after a newer one.
type DispatcherActor struct {
	behavior  actor.Behavior
	scheduler *scheduler.TimerScheduler

	mqttActor *actor.PID
	config    *config.Config

	current     *dispatchCycle
	lastSeq     uint64
	cancelRetry scheduler.CancelFunc

	logger *zap.Logger
}

type dispatchCycle struct {
	seq          uint64
	command      domain.InverterCommand
	overriddenBy string
	attempts     int
	replyTo      *actor.PID
}

type dispatchAttemptTick struct {
	seq uint64
}

func NewDispatcherActor(config *config.Config, mqttActor *actor.PID, logger *zap.Logger) *DispatcherActor {
	act := &DispatcherActor{
		config:    config,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		logger:    ActorLogger(domain.ACTOR_ID_DISPATCHER, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *DispatcherActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *DispatcherActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("dispatcher@default started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
	case domain.ActorHealthRequest:
		state.logger.Debug("dispatcher@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DISPATCHER,
			Healthy: true,
			State:   state.stateName(),
		})
	case domain.DispatchCommandRequest:
		// lastSeq survives completed cycles so an out-of-order request can
		// never resurrect an older command
		if msg.Seq <= state.lastSeq {
			state.logger.Warn("dispatcher@default: ignoring stale dispatch request",
				zap.Uint64("seq", msg.Seq), zap.Uint64("last", state.lastSeq))
			return
		}
		if state.current != nil {
			state.logger.Info("dispatcher@default: superseding dispatch cycle",
				zap.Uint64("old", state.current.seq), zap.Uint64("new", msg.Seq))
		}
		state.cancelPendingRetry()
		state.lastSeq = msg.Seq
		state.current = &dispatchCycle{
			seq:          msg.Seq,
			command:      msg.Command,
			overriddenBy: msg.OverriddenBy,
			replyTo:      ctx.Sender(),
		}
		state.attempt(ctx)
	case dispatchAttemptTick:
		if state.current == nil || msg.seq != state.current.seq {
			return
		}
		state.logger.Debug("dispatcher@default: retry tick", zap.Uint64("seq", msg.seq))
		state.attempt(ctx)
	case domain.PublishCommandResponse:
		state.handlePublishResult(ctx, msg)
	case *actor.Stopping:
		state.cancelPendingRetry()
	default:
		state.logger.Debug("dispatcher@default: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DispatcherActor) attempt(ctx actor.Context) {
	cycle := state.current
	cycle.attempts++
	metrics.DispatchAttempts.Inc()
	state.logger.Info("dispatcher: publishing command",
		zap.Uint64("seq", cycle.seq),
		zap.String("command", cycle.command.String()),
		zap.Int("attempt", cycle.attempts))

	seq := cycle.seq
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.PublishCommandRequest{
		Seq:     seq,
		Command: cycle.command,
	}, 5*time.Second), func(err error) any {
		return domain.PublishCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			Seq: seq,
		}
	})
}

func (state *DispatcherActor) handlePublishResult(ctx actor.Context, msg domain.PublishCommandResponse) {
	// late acks from a superseded cycle carry an old seq
	if state.current == nil || msg.Seq != state.current.seq {
		state.logger.Debug("dispatcher: discarding stale publish result", zap.Uint64("seq", msg.Seq))
		return
	}
	cycle := state.current

	if !msg.HasResponseError() {
		state.logger.Info("dispatcher: command delivered",
			zap.Uint64("seq", cycle.seq), zap.Int("attempts", cycle.attempts))
		metrics.DispatchesTotal.WithLabelValues("delivered").Inc()
		state.report(ctx, cycle, true, true, nil)
		state.current = nil
		return
	}

	err := msg.GetResponseError()
	if cycle.attempts >= state.config.Control.RetryAttempts {
		state.logger.Error("dispatcher: command delivery failed, out of attempts",
			zap.Uint64("seq", cycle.seq), zap.Int("attempts", cycle.attempts), zap.Error(err))
		metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		state.report(ctx, cycle, false, true, err)
		state.current = nil
		return
	}

	state.logger.Warn("dispatcher: command delivery failed, will retry",
		zap.Uint64("seq", cycle.seq), zap.Int("attempt", cycle.attempts), zap.Error(err))
	state.report(ctx, cycle, false, false, err)
	seq := cycle.seq
	state.cancelRetry = state.scheduler.RequestOnce(state.config.Control.RetryDelay(), ctx.Self(), dispatchAttemptTick{seq: seq})
}

func (state *DispatcherActor) report(ctx actor.Context, cycle *dispatchCycle, success, final bool, err error) {
	if cycle.replyTo == nil {
		return
	}
	ctx.Send(cycle.replyTo, domain.DispatchStatus{
		Seq:          cycle.seq,
		Command:      cycle.command,
		OverriddenBy: cycle.overriddenBy,
		Attempts:     cycle.attempts,
		Success:      success,
		Final:        final,
		Err:          err,
	})
}

func (state *DispatcherActor) cancelPendingRetry() {
	if state.cancelRetry != nil {
		state.cancelRetry()
		state.cancelRetry = nil
	}
}

func (state *DispatcherActor) stateName() string {
	if state.current == nil {
		return "idle"
	}
	if state.current.attempts > 0 {
		return "retrying"
	}
	return "dispatching"
}
