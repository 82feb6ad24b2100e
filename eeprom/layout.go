package eeprom

// Field addresses. The layout matches the device's original EEPROM map so
// a reflashed unit keeps its calibration.
const (
	AddrBatteryCapacity    uint16 = 20
	AddrVoltageOffset      uint16 = 30
	AddrCurrentOffset      uint16 = 40
	AddrMvPerAmp           uint16 = 50
	AddrZeroOffsetMv       uint16 = 60
	AddrBatteryType        uint16 = 70
	AddrMinVoltage         uint16 = 80
	AddrMaxVoltage         uint16 = 90
	AddrEnergyInWh         uint16 = 100
	AddrEnergyOutWh        uint16 = 110
	AddrCycleCount         uint16 = 120
	AddrLastDay            uint16 = 130
	AddrSOC                uint16 = 140
	AddrCoulombs           uint16 = 150
	AddrInitMarker         uint16 = 160
	AddrEventIndex         uint16 = 170
	AddrChargingThreshold  uint16 = 200
	AddrDischargeThreshold uint16 = 210
	AddrCurrentDeadzone    uint16 = 220

	// Event ring buffer: EventCapacity records of EventRecordSize bytes.
	AddrEventRing   uint16 = 300
	EventRecordSize        = 8
	EventCapacity          = 10
)

// InitMarker at AddrInitMarker means the SOC field has been written at
// least once. Anything else is uninitialized storage and the SOC starts
// at 100%.
const InitMarker uint32 = 0xB2A77E57
