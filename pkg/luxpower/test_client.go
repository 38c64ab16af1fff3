package luxpower

func CreateTestInverterModbusReader() (InverterModbusReader, error) {
	return TestInverterModbusReader{}, nil
}

type TestInverterModbusReader struct {
}

func (inv TestInverterModbusReader) Open() error {
	return nil
}

func (inv TestInverterModbusReader) Close() error {
	return nil
}

func (inv TestInverterModbusReader) GetInfo() (*InverterInfo, error) {
	return &InverterInfo{
		Model:        "LXP 3600 ACS",
		SerialNumber: "BA12345678",
		Firmware:     "FAAB-1212",
	}, nil
}

func (inv TestInverterModbusReader) GetBatteryMetrics() (*BatteryMetrics, error) {
	return &BatteryMetrics{
		StateOfChargePercent: 57,
		BatteryCapacityKwh:   9.6,
		BatteryPowerWatt:     1450,
		BatteryCurrentAmp:    28.3,
		LoadPowerWatt:        420,
		GridPowerWatt:        -1870,
		WorkModeRaw:          1,
	}, nil
}
