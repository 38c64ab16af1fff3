package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/internal/util/actorutil"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedMQTTActor stands in for the broker adapter: it acks or rejects
// command publishes according to the fail flag and records what got through.
type scriptedMQTTActor struct {
	mu        sync.Mutex
	failing   bool
	published []domain.InverterCommand
}

func (s *scriptedMQTTActor) setFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *scriptedMQTTActor) publishedCommands() []domain.InverterCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.InverterCommand, len(s.published))
	copy(out, s.published)
	return out
}

func (s *scriptedMQTTActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PublishCommandRequest:
		s.mu.Lock()
		failing := s.failing
		if !failing {
			s.published = append(s.published, msg.Command)
		}
		s.mu.Unlock()
		resp := domain.PublishCommandResponse{Seq: msg.Seq}
		if failing {
			resp.ResponseError = errors.New("broker unavailable")
		}
		ctx.Respond(resp)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MQTT, Healthy: true, State: "idle"})
	}
}

// staticTelemetryActor serves a fixed metric, or nil when empty.
type staticTelemetryActor struct {
	mu     sync.Mutex
	metric *domain.MetricInstance
}

func (s *staticTelemetryActor) setMetric(metric *domain.MetricInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metric = metric
}

func (s *staticTelemetryActor) Receive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case domain.GetLatestTelemetryRequest:
		s.mu.Lock()
		metric := s.metric
		s.mu.Unlock()
		ctx.Respond(domain.GetLatestTelemetryResponse{Metric: metric})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_TELEMETRY, Healthy: true, State: "idle"})
	}
}

type memoryRecorder struct {
	mu      sync.Mutex
	actions []domain.ControlAction
}

func (r *memoryRecorder) RecordControlAction(_ context.Context, action domain.ControlAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

func (r *memoryRecorder) recorded() []domain.ControlAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ControlAction, len(r.actions))
	copy(out, r.actions)
	return out
}

func testControlConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Control.TickIntervalSeconds = 1
	cfg.Control.RetryAttempts = 2
	cfg.Control.RetryDelayMinutes = 0.001
	cfg.Protections.LowBattery = config.LowBatteryConfig{CriticalPercent: 2, RecoveryPercent: 3, MinChargeRate: 1}
	cfg.Protections.Overcharge = config.OverchargeConfig{ActivationMarginPercent: 10, DeactivationMarginPercent: 5}
	cfg.Protections.WastedSolar = config.WastedSolarConfig{SaturationPercent: 97, ReleasePercent: 95, WindowStartHour: 8, WindowEndHour: 18}
	return cfg
}

func testDaySchedule(t *testing.T, mode solarplan.WorkMode, chargeRate float64) *solarplan.DaySchedule {
	t.Helper()
	segments := make([]solarplan.TimeSegment, solarplan.SegmentsPerDay)
	for i := range segments {
		start, _ := solarplan.DayTimeForIndex(i)
		end := solarplan.DayTime{Hour: (i + 1) / 2 % 24, Minute: ((i + 1) % 2) * 30}
		segments[i] = solarplan.TimeSegment{
			Index:                 i,
			Start:                 start,
			End:                   end,
			StartBatteryChargeKwh: 4,
			EndBatteryChargeKwh:   6,
			GridPrice:             10,
			PlannedMode:           mode,
			PlannedChargeRate:     chargeRate,
		}
	}
	schedule, err := solarplan.NewDaySchedule(time.Now().Format(solarplan.DateLayout), segments)
	require.NoError(t, err)
	return schedule
}

func metric(batteryPercent float64) *domain.MetricInstance {
	return &domain.MetricInstance{
		Timestamp:       time.Now(),
		BatteryPercent:  batteryPercent,
		BatteryCapacity: 10,
	}
}

type controlLoopFixture struct {
	system     *actor.ActorSystem
	root       *actor.RootContext
	mqtt       *scriptedMQTTActor
	telemetry  *staticTelemetryActor
	recorder   *memoryRecorder
	holder     *domain.StateHolder
	controller *actor.PID
}

func newControlLoopFixture(t *testing.T, cfg *config.Config) *controlLoopFixture {
	t.Helper()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	mqttStub := &scriptedMQTTActor{}
	mqttPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return mqttStub }))

	telemetryStub := &staticTelemetryActor{}
	telemetryPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return telemetryStub }))

	dispatcherPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewDispatcherActor(cfg, mqttPID, logger)
	}))

	recorder := &memoryRecorder{}
	holder := domain.NewStateHolder()
	controllerPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewControllerActor(cfg, dispatcherPID, telemetryPID, holder, recorder, &eventstream.EventStream{}, logger)
	}))

	return &controlLoopFixture{
		system:     as,
		root:       root,
		mqtt:       mqttStub,
		telemetry:  telemetryStub,
		recorder:   recorder,
		holder:     holder,
		controller: controllerPID,
	}
}

func (f *controlLoopFixture) loadSchedule(t *testing.T, schedule *solarplan.DaySchedule) {
	t.Helper()
	resp, err := f.root.RequestFuture(f.controller, domain.LoadScheduleRequest{Schedule: schedule}, 2*time.Second).Result()
	require.NoError(t, err)
	loaded, ok := resp.(domain.LoadScheduleResponse)
	require.True(t, ok)
	require.NoError(t, loaded.GetResponseError())
}

func TestControlLoopDispatchesPlannedCommand(t *testing.T) {

	cfg := testControlConfig()
	f := newControlLoopFixture(t, cfg)
	defer f.system.Shutdown()

	f.telemetry.setMetric(metric(50))
	f.loadSchedule(t, testDaySchedule(t, solarplan.WorkModeBatteryFirst, 2))

	time.Sleep(1500 * time.Millisecond)

	st := f.holder.Load()
	assert.Equal(t, domain.LifecycleRunning, st.Lifecycle)
	require.NotNil(t, st.LastApplied)
	assert.Equal(t, domain.InverterCommand{Mode: solarplan.WorkModeBatteryFirst, ChargeRate: 2}, *st.LastApplied)
	assert.Empty(t, st.ActiveProtection)
	assert.Equal(t, 0, st.RetryCount)

	published := f.mqtt.publishedCommands()
	require.Len(t, published, 1)

	// unchanged command must not be re-sent on the next tick
	time.Sleep(1100 * time.Millisecond)
	assert.Len(t, f.mqtt.publishedCommands(), 1)

	actions := f.recorder.recorded()
	require.Len(t, actions, 1)
	assert.True(t, actions[0].DispatchSucceeded)
	assert.Equal(t, 1, actions[0].Attempts)
}

func TestControlLoopAppliesProtectionOverride(t *testing.T) {

	cfg := testControlConfig()
	f := newControlLoopFixture(t, cfg)
	defer f.system.Shutdown()

	f.telemetry.setMetric(metric(1))
	f.loadSchedule(t, testDaySchedule(t, solarplan.WorkModeLoadFirst, -2))

	time.Sleep(1500 * time.Millisecond)

	st := f.holder.Load()
	assert.Equal(t, domain.LifecycleRunning, st.Lifecycle)
	assert.Equal(t, "low_battery", st.ActiveProtection)
	require.NotNil(t, st.LastApplied)
	assert.Equal(t, domain.InverterCommand{Mode: solarplan.WorkModeBatteryFirst, ChargeRate: 1}, *st.LastApplied)

	actions := f.recorder.recorded()
	require.Len(t, actions, 1)
	assert.Equal(t, "low_battery", actions[0].OverriddenBy)
}

func TestControlLoopSkipsTickWithoutTelemetry(t *testing.T) {

	cfg := testControlConfig()
	f := newControlLoopFixture(t, cfg)
	defer f.system.Shutdown()

	f.loadSchedule(t, testDaySchedule(t, solarplan.WorkModeBatteryFirst, 2))

	time.Sleep(1500 * time.Millisecond)

	st := f.holder.Load()
	assert.Equal(t, domain.LifecycleRunning, st.Lifecycle)
	assert.Nil(t, st.LastApplied)
	assert.Empty(t, f.mqtt.publishedCommands())
}

func TestControlLoopFailsThenRecoversOnRetry(t *testing.T) {

	cfg := testControlConfig()
	f := newControlLoopFixture(t, cfg)
	defer f.system.Shutdown()

	f.mqtt.setFailing(true)
	f.telemetry.setMetric(metric(50))
	f.loadSchedule(t, testDaySchedule(t, solarplan.WorkModeBatteryFirst, 2))

	time.Sleep(1500 * time.Millisecond)

	st := f.holder.Load()
	assert.Equal(t, domain.LifecycleFailed, st.Lifecycle)
	assert.NotEmpty(t, st.LastError)
	require.NotNil(t, st.LastResolved)
	assert.Nil(t, st.LastApplied)

	actions := f.recorder.recorded()
	require.Len(t, actions, 1)
	assert.False(t, actions[0].DispatchSucceeded)
	assert.Equal(t, cfg.Control.RetryAttempts, actions[0].Attempts)

	// manual retry after the broker comes back
	f.mqtt.setFailing(false)
	resp, err := f.root.RequestFuture(f.controller, domain.RetryCommandRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	retry, ok := resp.(domain.RetryCommandResponse)
	require.True(t, ok)
	assert.True(t, retry.Retrying)

	time.Sleep(500 * time.Millisecond)

	st = f.holder.Load()
	assert.Equal(t, domain.LifecycleRunning, st.Lifecycle)
	require.NotNil(t, st.LastApplied)
	assert.Equal(t, *st.LastResolved, *st.LastApplied)
	assert.Empty(t, st.LastError)
}

func TestControlLoopRetryWithoutFailureIsNoop(t *testing.T) {

	cfg := testControlConfig()
	f := newControlLoopFixture(t, cfg)
	defer f.system.Shutdown()

	resp, err := f.root.RequestFuture(f.controller, domain.RetryCommandRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	retry, ok := resp.(domain.RetryCommandResponse)
	require.True(t, ok)
	assert.False(t, retry.Retrying)
}
