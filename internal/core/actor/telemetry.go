package actor

import (
	"fmt"
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/internal/metrics"
	. "github.com/paulmorrishill/solarplan2mqtt/internal/util/actorutil"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/luxpower"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// TelemetryActor caches the latest inverter snapshot. Updates arrive either
// from the MQTT adapter (pushed by the master) or from its own modbus poll
// loop when telemetry.source is "modbus". Readers get nil when the cache is
// empty or older than telemetry.max_age_seconds.
type TelemetryActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	config *config.Config
	reader luxpower.InverterModbusReader
	latest *domain.MetricInstance

	logger *zap.Logger
}

type telemetryPollTick struct {
}

func NewTelemetryActor(config *config.Config, reader luxpower.InverterModbusReader, logger *zap.Logger) *TelemetryActor {
	act := &TelemetryActor{
		config:   config,
		reader:   reader,
		behavior: actor.NewBehavior(),
		stash:    &Stash{},
		logger:   ActorLogger(domain.ACTOR_ID_TELEMETRY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *TelemetryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *TelemetryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("telemetry@starting started")

		if state.pollsModbus() {
			if err := state.reader.Open(); err != nil {
				state.logger.Error("telemetry@starting modbus open error", zap.Error(err))
				panic(err)
			}
			state.scheduler = scheduler.NewTimerScheduler(ctx)
			state.scheduler.RequestOnce(time.Duration(state.config.Telemetry.PollIntervalMillis)*time.Millisecond, ctx.Self(), telemetryPollTick{})
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("telemetry@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *TelemetryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("telemetry@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TELEMETRY,
			Healthy: true,
			State:   "idle",
		})
	case telemetryPollTick:
		state.logger.Debug("telemetry@default tick")
		reader := state.reader
		NewBackgroundTask(ctx, func() (*domain.TelemetryUpdate, error) {
			metrics, err := reader.GetBatteryMetrics()
			if err != nil {
				return nil, err
			}
			return &domain.TelemetryUpdate{Metric: metricsToInstance(metrics)}, nil
		}).WithTimeout(5 * time.Second).OnError(func(err error) {
			state.logger.Error("telemetry@default modbus read error", zap.Error(err))
		}).PipeTo(ctx.Self())

		state.scheduler.RequestOnce(time.Duration(state.config.Telemetry.PollIntervalMillis)*time.Millisecond, ctx.Self(), telemetryPollTick{})
	case domain.TelemetryUpdate:
		state.logger.Debug("telemetry@default: TelemetryUpdate", zap.Float64("battery_percent", msg.Metric.BatteryPercent))
		metric := msg.Metric
		state.latest = &metric
		metrics.BatteryPercent.Set(metric.BatteryPercent)
	case domain.GetLatestTelemetryRequest:
		ForRequest(msg).Respond(ctx, domain.GetLatestTelemetryResponse{
			Metric: state.freshMetric(),
		})
	case *actor.Restarting, *actor.Stopping:
		if state.pollsModbus() {
			_ = state.reader.Close()
		}
	default:
		state.logger.Debug("telemetry@default: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *TelemetryActor) pollsModbus() bool {
	return state.config.Telemetry.Source == "modbus" && state.reader != nil
}

// freshMetric returns nil when the cache is empty or stale.
func (state *TelemetryActor) freshMetric() *domain.MetricInstance {
	if state.latest == nil {
		return nil
	}
	maxAge := time.Duration(state.config.Telemetry.MaxAgeSeconds) * time.Second
	if maxAge > 0 && time.Since(state.latest.Timestamp) > maxAge {
		state.logger.Warn("telemetry: cached metric is stale", zap.Time("timestamp", state.latest.Timestamp))
		return nil
	}
	metric := *state.latest
	return &metric
}

func metricsToInstance(metrics *luxpower.BatteryMetrics) domain.MetricInstance {
	return domain.MetricInstance{
		Timestamp:         time.Now(),
		BatteryPercent:    metrics.StateOfChargePercent,
		BatteryCapacity:   solarplan.Kwh(metrics.BatteryCapacityKwh),
		LoadPowerWatt:     metrics.LoadPowerWatt,
		GridPowerWatt:     metrics.GridPowerWatt,
		BatteryPowerWatt:  metrics.BatteryPowerWatt,
		BatteryCurrentAmp: metrics.BatteryCurrentAmp,
		WorkModeLabel:     luxpower.WorkModeToString(metrics.WorkModeRaw),
	}
}
