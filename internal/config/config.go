package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level

	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Control     ControlConfig     `mapstructure:"control"`
	Protections ProtectionsConfig `mapstructure:"protections"`
	Storage     StorageConfig     `mapstructure:"storage"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	BaseTopic string `mapstructure:"base_topic"`
}

type TelemetryConfig struct {
	// Source is "mqtt" (vendor bridge topic) or "modbus" (direct register
	// polling via telemetry.modbus).
	Source             string       `mapstructure:"source"`
	MaxAgeSeconds      uint32       `mapstructure:"max_age_seconds"`
	Modbus             ModbusConfig `mapstructure:"modbus"`
	PollIntervalMillis uint32       `mapstructure:"poll_interval_millis"`
}

type ModbusConfig struct {
	Host   string
	Port   uint
	UnitId uint `mapstructure:"unit_id"`
}

type ControlConfig struct {
	TickIntervalSeconds uint32  `mapstructure:"tick_interval_seconds"`
	RetryAttempts       int     `mapstructure:"retry_attempts"`
	RetryDelayMinutes   float64 `mapstructure:"retry_delay_minutes"`
}

func (c ControlConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

func (c ControlConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMinutes * float64(time.Minute))
}

type ProtectionsConfig struct {
	LowBattery  LowBatteryConfig  `mapstructure:"low_battery"`
	Overcharge  OverchargeConfig  `mapstructure:"overcharge"`
	WastedSolar WastedSolarConfig `mapstructure:"wasted_solar"`
}

type LowBatteryConfig struct {
	CriticalPercent float64 `mapstructure:"critical_percent"`
	RecoveryPercent float64 `mapstructure:"recovery_percent"`
	MinChargeRate   float64 `mapstructure:"min_charge_rate"`
}

type OverchargeConfig struct {
	ActivationMarginPercent   float64 `mapstructure:"activation_margin_percent"`
	DeactivationMarginPercent float64 `mapstructure:"deactivation_margin_percent"`
}

type WastedSolarConfig struct {
	SaturationPercent float64 `mapstructure:"saturation_percent"`
	ReleasePercent    float64 `mapstructure:"release_percent"`
	WindowStartHour   int     `mapstructure:"window_start_hour"`
	WindowEndHour     int     `mapstructure:"window_end_hour"`
}

type StorageConfig struct {
	Path string
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
