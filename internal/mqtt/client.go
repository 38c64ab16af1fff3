package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
)

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("solarplan_%d", rand.IntN(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = availabilityTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client: mqtt.NewClient(opts),
		cfg:    cfg.MQTT,
	}
}

type MQTTClient struct {
	client mqtt.Client
	cfg    config.MQTTConfig
}

// CommandPayload is the wire form of an inverter command on the command topic.
type CommandPayload struct {
	Mode       string  `json:"mode"`
	ChargeRate float64 `json:"charge_rate"`
}

func EncodeCommand(cmd domain.InverterCommand) ([]byte, error) {
	return json.Marshal(CommandPayload{
		Mode:       string(cmd.Mode),
		ChargeRate: cmd.ChargeRate,
	})
}

// ParseTelemetry decodes an inverter telemetry message. Messages without a
// timestamp are stamped on arrival.
func ParseTelemetry(payload []byte) (*domain.MetricInstance, error) {
	var metric domain.MetricInstance
	if err := json.Unmarshal(payload, &metric); err != nil {
		return nil, err
	}
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}
	if metric.BatteryPercent < 0 || metric.BatteryPercent > 100 {
		return nil, fmt.Errorf("battery percent out of range: %f", metric.BatteryPercent)
	}
	return &metric, nil
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) AvailabilityTopic() string {
	return availabilityTopic(c.baseTopic())
}

func (c *MQTTClient) TelemetryTopic() string {
	return fmt.Sprintf("%s/inverter/telemetry", c.baseTopic())
}

func (c *MQTTClient) CommandTopic() string {
	return fmt.Sprintf("%s/inverter/command/set", c.baseTopic())
}

func (c *MQTTClient) ControllerStateTopic() string {
	return fmt.Sprintf("%s/controller/state", c.baseTopic())
}

func (c *MQTTClient) ActiveProtectionTopic() string {
	return fmt.Sprintf("%s/controller/active_protection/state", c.baseTopic())
}

func (c *MQTTClient) LastCommandTopic() string {
	return fmt.Sprintf("%s/controller/last_command/state", c.baseTopic())
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) SubscribeToTelemetryTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	c.Subscribe(c.TelemetryTopic(), 1, handler, continuation, timeout)
}

func (c *MQTTClient) Unsubscribe(topic string, continuation func(error), timeout time.Duration) {
	token := c.client.Unsubscribe(topic)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT unsubscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func availabilityTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
