package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/internal/util/actorutil"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// statusCollector issues dispatch requests so it becomes the reply target,
// and accumulates the statuses that come back.
type statusCollector struct {
	mu       sync.Mutex
	dest     *actor.PID
	statuses []domain.DispatchStatus
}

func (c *statusCollector) received() []domain.DispatchStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.DispatchStatus, len(c.statuses))
	copy(out, c.statuses)
	return out
}

func (c *statusCollector) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DispatchCommandRequest:
		ctx.Request(c.dest, msg)
	case domain.DispatchStatus:
		c.mu.Lock()
		c.statuses = append(c.statuses, msg)
		c.mu.Unlock()
	}
}

func TestDispatcherRetriesUntilDelivered(t *testing.T) {

	cfg := testControlConfig()
	cfg.Control.RetryAttempts = 3

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root
	defer as.Shutdown()

	mqttStub := &scriptedMQTTActor{failing: true}
	mqttPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return mqttStub }))

	dispatcherPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewDispatcherActor(cfg, mqttPID, logger)
	}))

	collector := &statusCollector{dest: dispatcherPID}
	collectorPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return collector }))

	cmd := domain.InverterCommand{Mode: solarplan.WorkModeBatteryFirst, ChargeRate: 2}
	root.Send(collectorPID, domain.DispatchCommandRequest{Seq: 1, Command: cmd})

	// let attempt 1 fail, then succeed on the retry
	time.Sleep(30 * time.Millisecond)
	mqttStub.setFailing(false)
	time.Sleep(300 * time.Millisecond)

	statuses := collector.received()
	require.GreaterOrEqual(t, len(statuses), 2)

	first := statuses[0]
	assert.False(t, first.Success)
	assert.False(t, first.Final)
	assert.Equal(t, 1, first.Attempts)
	assert.Error(t, first.Err)

	last := statuses[len(statuses)-1]
	assert.True(t, last.Success)
	assert.True(t, last.Final)
	assert.Equal(t, uint64(1), last.Seq)

	published := mqttStub.publishedCommands()
	require.Len(t, published, 1)
	assert.Equal(t, cmd, published[0])
}

func TestDispatcherGivesUpAfterAttemptBudget(t *testing.T) {

	cfg := testControlConfig()
	cfg.Control.RetryAttempts = 2

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root
	defer as.Shutdown()

	mqttStub := &scriptedMQTTActor{failing: true}
	mqttPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return mqttStub }))

	dispatcherPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewDispatcherActor(cfg, mqttPID, logger)
	}))

	collector := &statusCollector{dest: dispatcherPID}
	collectorPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return collector }))

	cmd := domain.InverterCommand{Mode: solarplan.WorkModeLoadFirst, ChargeRate: 0}
	root.Send(collectorPID, domain.DispatchCommandRequest{Seq: 7, Command: cmd, OverriddenBy: "low_battery"})

	time.Sleep(400 * time.Millisecond)

	statuses := collector.received()
	require.Len(t, statuses, 2)

	last := statuses[1]
	assert.False(t, last.Success)
	assert.True(t, last.Final)
	assert.Equal(t, 2, last.Attempts)
	assert.Equal(t, "low_battery", last.OverriddenBy)
	assert.Empty(t, mqttStub.publishedCommands())
}

func TestDispatcherNewerCommandSupersedesRetryingOne(t *testing.T) {

	cfg := testControlConfig()
	cfg.Control.RetryAttempts = 5
	cfg.Control.RetryDelayMinutes = 0.01 // 600ms, long enough to supersede mid-cycle

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root
	defer as.Shutdown()

	mqttStub := &scriptedMQTTActor{failing: true}
	mqttPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return mqttStub }))

	dispatcherPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewDispatcherActor(cfg, mqttPID, logger)
	}))

	collector := &statusCollector{dest: dispatcherPID}
	collectorPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return collector }))

	older := domain.InverterCommand{Mode: solarplan.WorkModeBatteryFirst, ChargeRate: 3}
	newer := domain.InverterCommand{Mode: solarplan.WorkModeLoadFirst, ChargeRate: 0}

	root.Send(collectorPID, domain.DispatchCommandRequest{Seq: 1, Command: older})
	// wait for the first failed attempt so the cycle is parked on its retry timer
	time.Sleep(100 * time.Millisecond)

	mqttStub.setFailing(false)
	root.Send(collectorPID, domain.DispatchCommandRequest{Seq: 2, Command: newer})

	// wait past the old retry delay to prove the superseded cycle stays dead
	time.Sleep(900 * time.Millisecond)

	published := mqttStub.publishedCommands()
	require.Len(t, published, 1)
	assert.Equal(t, newer, published[0], "older command must never be delivered after a newer one")

	statuses := collector.received()
	require.NotEmpty(t, statuses)
	last := statuses[len(statuses)-1]
	assert.Equal(t, uint64(2), last.Seq)
	assert.True(t, last.Success)
	assert.True(t, last.Final)
}

func TestDispatcherIgnoresStaleSequence(t *testing.T) {

	cfg := testControlConfig()

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root
	defer as.Shutdown()

	mqttStub := &scriptedMQTTActor{}
	mqttPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return mqttStub }))

	dispatcherPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewDispatcherActor(cfg, mqttPID, logger)
	}))

	collector := &statusCollector{dest: dispatcherPID}
	collectorPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return collector }))

	newer := domain.InverterCommand{Mode: solarplan.WorkModeLoadFirst, ChargeRate: -1}
	root.Send(collectorPID, domain.DispatchCommandRequest{Seq: 5, Command: newer})
	time.Sleep(100 * time.Millisecond)

	// an out-of-order request with an older seq must be dropped
	older := domain.InverterCommand{Mode: solarplan.WorkModeBatteryFirst, ChargeRate: 2}
	root.Send(collectorPID, domain.DispatchCommandRequest{Seq: 4, Command: older})
	time.Sleep(200 * time.Millisecond)

	published := mqttStub.publishedCommands()
	require.Len(t, published, 1)
	assert.Equal(t, newer, published[0])
}
