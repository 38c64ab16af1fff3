package domain

import (
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"
)

// MetricInstance is a live telemetry snapshot from the inverter, read-only
// input to the control loop. Sources: the vendor MQTT bridge or a direct
// modbus read.
type MetricInstance struct {
	Timestamp         time.Time     `json:"timestamp"`
	BatteryPercent    float64       `json:"battery_percent"`
	BatteryCapacity   solarplan.Kwh `json:"battery_capacity_kwh"`
	LoadPowerWatt     float64       `json:"load_power_watt"`
	GridPowerWatt     float64       `json:"grid_power_watt"`
	BatteryPowerWatt  float64       `json:"battery_power_watt"`
	BatteryCurrentAmp float64       `json:"battery_current_amp"`
	BatteryChargeRate float64       `json:"battery_charge_rate"`
	WorkModeLabel     string        `json:"work_mode"`
}
