package util

import (
	"github.com/paulmorrishill/solarplan2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "solarplan2mqtt",
		},
		Telemetry: config.TelemetryConfig{
			Source:             "mqtt",
			MaxAgeSeconds:      120,
			PollIntervalMillis: 5000,
			Modbus: config.ModbusConfig{
				Host:   "-.-.-.-",
				Port:   502,
				UnitId: 1,
			},
		},
		Control: config.ControlConfig{
			TickIntervalSeconds: 60,
			RetryAttempts:       3,
			RetryDelayMinutes:   5,
		},
		Protections: config.ProtectionsConfig{
			LowBattery: config.LowBatteryConfig{
				CriticalPercent: 2,
				RecoveryPercent: 3,
				MinChargeRate:   1,
			},
			Overcharge: config.OverchargeConfig{
				ActivationMarginPercent:   10,
				DeactivationMarginPercent: 5,
			},
			WastedSolar: config.WastedSolarConfig{
				SaturationPercent: 97,
				ReleasePercent:    95,
				WindowStartHour:   8,
				WindowEndHour:     18,
			},
		},
		Storage: config.StorageConfig{
			Path: "solarplan-test.db",
		},
		Port: 8080,
	}
}
