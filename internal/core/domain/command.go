package domain

import (
	"fmt"

	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"
)

// InverterCommand is a resolved (mode, charge rate) setting for the device.
// ChargeRate is signed: positive charges the battery, negative or zero
// discharges or idles.
type InverterCommand struct {
	Mode       solarplan.WorkMode `json:"mode"`
	ChargeRate float64            `json:"charge_rate"`
}

func (c InverterCommand) Equal(other InverterCommand) bool {
	return c.Mode == other.Mode && c.ChargeRate == other.ChargeRate
}

func (c InverterCommand) String() string {
	return fmt.Sprintf("%s@%g", c.Mode, c.ChargeRate)
}
