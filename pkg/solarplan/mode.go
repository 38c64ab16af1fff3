package solarplan

import "fmt"

// WorkMode is the inverter operating mode. BatteryFirst routes available
// power into the battery before serving load, LoadFirst the opposite.
type WorkMode string

const (
	WorkModeBatteryFirst WorkMode = "battery_first"
	WorkModeLoadFirst    WorkMode = "load_first"
)

func (m WorkMode) Valid() bool {
	return m == WorkModeBatteryFirst || m == WorkModeLoadFirst
}

func ParseWorkMode(s string) (WorkMode, error) {
	m := WorkMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("solarplan: unknown work mode %q", s)
	}
	return m, nil
}
