package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/internal/mqtt"
	"github.com/paulmorrishill/solarplan2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTActor is the broker adapter: it feeds inbound telemetry to the
// master, publishes inverter commands for the dispatcher, and mirrors
// controller state updates to retained topics.
type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	logger         *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	ReplyTo *actor.PID
	Seq     uint64
	Error   error
}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.client.Publish(state.client.AvailabilityTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		// mirror controller state updates to retained topics
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			if ev, ok := value.(domain.ControllerStateUpdateEvent); ok {
				ctx.Send(ctx.Self(), ev)
			}
		})

		// telemetry intake from the vendor bridge
		state.client.SubscribeToTelemetryTopic(func(c pahomqtt.Client, m pahomqtt.Message) {
			metric, err := mqtt.ParseTelemetry(m.Payload())
			if err != nil {
				state.logger.Warn("mqtt: discarding unparseable telemetry", zap.Error(err))
				return
			}
			ctx.Send(ctx.Self(), domain.TelemetryUpdate{Metric: *metric})
		}, func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		state.logger.Debug("mqtt@starting subscribed")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case domain.TelemetryUpdate:
		// route telemetry to parent for distribution
		ctx.Send(ctx.Parent(), msg)
	case domain.PublishCommandRequest:
		state.logger.Debug("mqtt@default PublishCommandRequest", zap.Uint64("seq", msg.Seq))
		state.publishCommand(ctx, msg)
	case domain.ControllerStateUpdateEvent:
		state.publishControllerState(msg.State)
	case MQTTConnectionLost:
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) publishCommand(ctx actor.Context, msg domain.PublishCommandRequest) {
	payload, err := mqtt.EncodeCommand(msg.Command)
	if err != nil {
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			Seq: msg.Seq,
		})
		return
	}
	replyTo := actorutil.ForRequest(msg).ReplyTo(ctx)
	seq := msg.Seq
	state.client.Publish(state.client.CommandTopic(), payload, 1, false, func(err error) {
		ctx.Send(ctx.Self(), publishResult{ReplyTo: replyTo, Seq: seq, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.CommandPublishResultReceive)
}

func (state *MQTTActor) CommandPublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish command", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Error,
				},
				Seq: msg.Seq,
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) publishControllerState(cs domain.ControllerState) {
	statePayload, err := json.Marshal(cs)
	if err != nil {
		state.logger.Error("mqtt: could not encode controller state", zap.Error(err))
		return
	}
	state.client.Publish(state.client.ControllerStateTopic(), statePayload, 0, true, func(error) {}, 1*time.Second)
	state.client.Publish(state.client.ActiveProtectionTopic(), orNone(cs.ActiveProtection), 0, true, func(error) {}, 1*time.Second)
	if cs.LastApplied != nil {
		if cmdPayload, err := mqtt.EncodeCommand(*cs.LastApplied); err == nil {
			state.client.Publish(state.client.LastCommandTopic(), cmdPayload, 0, true, func(error) {}, 1*time.Second)
		}
	}
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client != nil {
		state.client.Publish(state.client.AvailabilityTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

func orNone(value string) string {
	if value == "" {
		return "none"
	}
	return value
}

// Dummy actor
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case domain.PublishCommandRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishCommandResponse{Seq: msg.Seq})
	case domain.TelemetryUpdate:
		ctx.Send(ctx.Parent(), msg)
	}
}
