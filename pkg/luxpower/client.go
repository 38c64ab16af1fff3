package luxpower

import (
	"fmt"
	"slices"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// input register map (function 0x04)
const (
	regStateOfCharge  = 0x0005
	regBatteryVoltage = 0x0065
	regBatteryCurrent = 0x0066
	regBatteryPower   = 0x0067
	regLoadPower      = 0x006A
	regGridPower      = 0x006C
	regWorkMode       = 0x0071
)

// holding register map (function 0x03)
const (
	regSerialNumber    = 0x0073
	regModelName       = 0x007B
	regFirmware        = 0x0083
	regBatteryCapacity = 0x0090
)

type LuxPowerModbusReader struct {
	client *modbus.ModbusClient
	logger *zap.Logger
	unitId uint8
}

func CreateLuxPowerModbusReader(ip string, port uint, unitId uint8, timeout time.Duration,
	logger *zap.Logger) (InverterModbusReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return &LuxPowerModbusReader{
		client: client,
		logger: logger.With(zap.String("target", "inverter"), zap.Uint8("unit", unitId)),
		unitId: unitId,
	}, nil
}

func (inv *LuxPowerModbusReader) Open() error {
	if err := inv.client.Open(); err != nil {
		return err
	}
	return inv.client.SetUnitId(inv.unitId)
}

func (inv *LuxPowerModbusReader) Close() error {
	return inv.client.Close()
}

func (inv *LuxPowerModbusReader) GetInfo() (*InverterInfo, error) {
	model, err := inv.readString(regModelName, 16)
	if err != nil {
		return nil, err
	}
	serial, err := inv.readString(regSerialNumber, 10)
	if err != nil {
		return nil, err
	}
	firmware, err := inv.readString(regFirmware, 8)
	if err != nil {
		return nil, err
	}
	return &InverterInfo{
		Model:        model,
		SerialNumber: serial,
		Firmware:     firmware,
	}, nil
}

func (inv *LuxPowerModbusReader) GetBatteryMetrics() (*BatteryMetrics, error) {
	start := time.Now()

	soc, err := inv.client.ReadRegister(regStateOfCharge, modbus.INPUT_REGISTER)
	if err != nil {
		return nil, err
	}
	current, err := inv.client.ReadRegister(regBatteryCurrent, modbus.INPUT_REGISTER)
	if err != nil {
		return nil, err
	}
	power, err := inv.client.ReadRegister(regBatteryPower, modbus.INPUT_REGISTER)
	if err != nil {
		return nil, err
	}
	load, err := inv.client.ReadRegister(regLoadPower, modbus.INPUT_REGISTER)
	if err != nil {
		return nil, err
	}
	grid, err := inv.client.ReadRegister(regGridPower, modbus.INPUT_REGISTER)
	if err != nil {
		return nil, err
	}
	mode, err := inv.client.ReadRegister(regWorkMode, modbus.INPUT_REGISTER)
	if err != nil {
		return nil, err
	}
	capacity, err := inv.client.ReadRegister(regBatteryCapacity, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}

	inv.logger.Debug("battery metrics read", zap.Int64("millis", time.Since(start).Milliseconds()))

	return &BatteryMetrics{
		StateOfChargePercent: float64(soc),
		// capacity register is in units of 0.1 kWh
		BatteryCapacityKwh: float64(capacity) / 10,
		BatteryPowerWatt:   float64(int16(power)),
		BatteryCurrentAmp:  float64(int16(current)) / 10,
		LoadPowerWatt:      float64(int16(load)),
		GridPowerWatt:      float64(int16(grid)),
		WorkModeRaw:        mode,
	}, nil
}

func (inv *LuxPowerModbusReader) readString(address uint16, size uint16) (string, error) {
	bytes, err := inv.client.ReadRawBytes(address, size, modbus.HOLDING_REGISTER)
	if err != nil {
		return "", err
	}
	f := slices.Index(bytes, 0x00)
	if f >= 0 {
		return string(bytes[:f]), nil
	}
	return string(bytes), nil
}
