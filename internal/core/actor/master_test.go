package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	adactor "github.com/paulmorrishill/solarplan2mqtt/internal/adapter/actor"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/internal/util/actorutil"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeScheduleStore struct {
	schedule *solarplan.DaySchedule
}

func (s *fakeScheduleStore) LoadSchedule(_ context.Context, date string) (*solarplan.DaySchedule, error) {
	if s.schedule != nil && s.schedule.Date() == date {
		return s.schedule, nil
	}
	return nil, nil
}

func (s *fakeScheduleStore) ReplaceSchedule(_ context.Context, schedule *solarplan.DaySchedule) error {
	s.schedule = schedule
	return nil
}

func TestMasterBootAndControlFlow(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root
	defer as.Shutdown()

	cfg := testControlConfig()
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.BaseTopic = "solarplan"

	store := &fakeScheduleStore{schedule: testDaySchedule(t, solarplan.WorkModeBatteryFirst, 2)}
	recorder := &memoryRecorder{}
	holder := domain.NewStateHolder()

	masterProps := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(*cfg, holder, recorder, store,
			func(es *eventstream.EventStream) *adactor.MQTTActor {
				return adactor.NewTestMQTTActor(cfg, es, logger)
			},
			func() *TelemetryActor {
				return NewTelemetryActor(cfg, nil, logger)
			},
			logger)
	})
	masterPID := root.Spawn(masterProps)

	time.Sleep(500 * time.Millisecond)

	hcr, err := healthCheck(root, masterPID)
	require.NoError(t, err)
	assert.True(t, hcr.Healthy, "all children should report healthy")
	assert.Equal(t, domain.ACTOR_ID_MASTER, hcr.Id)

	// boot schedule reached the controller
	assert.Equal(t, store.schedule.Date(), holder.Load().ScheduleDate)

	// telemetry routed through the master feeds the control loop
	root.Send(masterPID, domain.TelemetryUpdate{Metric: *metric(50)})

	time.Sleep(1500 * time.Millisecond)

	st := holder.Load()
	assert.Equal(t, domain.LifecycleRunning, st.Lifecycle)
	require.NotNil(t, st.LastApplied)
	assert.Equal(t, domain.InverterCommand{Mode: solarplan.WorkModeBatteryFirst, ChargeRate: 2}, *st.LastApplied)

	actions := recorder.recorded()
	require.Len(t, actions, 1)
	assert.True(t, actions[0].DispatchSucceeded)
}

func TestMasterReloadSchedule(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root
	defer as.Shutdown()

	cfg := testControlConfig()
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.BaseTopic = "solarplan"

	store := &fakeScheduleStore{}
	holder := domain.NewStateHolder()

	masterProps := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(*cfg, holder, &memoryRecorder{}, store,
			func(es *eventstream.EventStream) *adactor.MQTTActor {
				return adactor.NewTestMQTTActor(cfg, es, logger)
			},
			func() *TelemetryActor {
				return NewTelemetryActor(cfg, nil, logger)
			},
			logger)
	})
	masterPID := root.Spawn(masterProps)

	time.Sleep(500 * time.Millisecond)

	// nothing stored yet, controller has no schedule
	assert.Empty(t, holder.Load().ScheduleDate)

	schedule := testDaySchedule(t, solarplan.WorkModeLoadFirst, 0)
	require.NoError(t, store.ReplaceSchedule(context.Background(), schedule))
	root.Send(masterPID, domain.ReloadScheduleRequest{Date: schedule.Date()})

	time.Sleep(500 * time.Millisecond)

	assert.Equal(t, schedule.Date(), holder.Load().ScheduleDate)
}

func healthCheck(ctx *actor.RootContext, pid *actor.PID) (*domain.ActorHealthResponse, error) {
	resp, err := ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	if err != nil {
		return nil, err
	}
	hcr, ok := resp.(domain.ActorHealthResponse)
	if !ok {
		return nil, errors.New("unexpected response type")
	}
	return &hcr, nil
}
