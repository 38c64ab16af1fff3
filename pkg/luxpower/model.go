package luxpower

// BatteryMetrics is a raw register snapshot from the inverter. Values are in
// the device's native units, unscaled conversions already applied.
type BatteryMetrics struct {
	StateOfChargePercent float64
	BatteryCapacityKwh   float64
	BatteryPowerWatt     float64
	BatteryCurrentAmp    float64
	LoadPowerWatt        float64
	GridPowerWatt        float64
	WorkModeRaw          uint16
}

type InverterInfo struct {
	Model        string
	SerialNumber string
	Firmware     string
}

type InverterModbusReader interface {
	Open() error
	Close() error
	GetInfo() (*InverterInfo, error)
	GetBatteryMetrics() (*BatteryMetrics, error)
}

func WorkModeToString(mode uint16) string {
	switch mode {
	case 0:
		return "load_first"
	case 1:
		return "battery_first"
	case 2:
		return "grid_first"
	default:
		return "unknown"
	}
}
