package battery

import (
	"github.com/opensensing/battery-hat-monitor/eeprom"
)

// Threshold bounds. Values outside (0, maxThresholdAmps] read from
// storage are clamped back to the defaults rather than rejected: a unit
// with a scribbled EEPROM should come up with sane behavior, not refuse
// to run.
const maxThresholdAmps = 10.0

// Calibration holds the sensor calibration and the regime thresholds.
type Calibration struct {
	// ZeroOffsetMv is the raw sensor output at zero current in
	// millivolts (nominally Vcc/2 for a hall sensor).
	ZeroOffsetMv float32
	// CurrentOffset is a residual correction in amps applied after the
	// sensitivity conversion.
	CurrentOffset float32
	// VoltageOffset is added to the filtered bus voltage, in volts.
	VoltageOffset float32
	// MvPerAmp is the current sensor sensitivity.
	MvPerAmp float32
	// ChargeThreshold and DischargeThreshold bound the idle band, in
	// amps. Both are positive; discharge is compared against the
	// negated value.
	ChargeThreshold    float32
	DischargeThreshold float32
	// Deadzone clamps conditioned currents with a smaller magnitude to
	// exactly zero.
	Deadzone float32
}

func DefaultCalibration() Calibration {
	return Calibration{
		ZeroOffsetMv:       2500, // ACS712 midpoint at 5V supply
		CurrentOffset:      0,
		VoltageOffset:      0,
		MvPerAmp:           66, // ACS712-30A
		ChargeThreshold:    0.6,
		DischargeThreshold: 0.6,
		Deadzone:           0.2,
	}
}

// LoadCalibration reads the calibration from the store, clamping
// out-of-range values to the defaults.
func LoadCalibration(store eeprom.Store) (Calibration, error) {
	def := DefaultCalibration()
	cal := Calibration{}
	var err error
	if cal.ZeroOffsetMv, err = store.ReadFloat32(eeprom.AddrZeroOffsetMv); err != nil {
		return def, err
	}
	if cal.CurrentOffset, err = store.ReadFloat32(eeprom.AddrCurrentOffset); err != nil {
		return def, err
	}
	if cal.VoltageOffset, err = store.ReadFloat32(eeprom.AddrVoltageOffset); err != nil {
		return def, err
	}
	if cal.MvPerAmp, err = store.ReadFloat32(eeprom.AddrMvPerAmp); err != nil {
		return def, err
	}
	if cal.ChargeThreshold, err = store.ReadFloat32(eeprom.AddrChargingThreshold); err != nil {
		return def, err
	}
	if cal.DischargeThreshold, err = store.ReadFloat32(eeprom.AddrDischargeThreshold); err != nil {
		return def, err
	}
	if cal.Deadzone, err = store.ReadFloat32(eeprom.AddrCurrentDeadzone); err != nil {
		return def, err
	}
	cal.clamp(def)
	return cal, nil
}

func (c *Calibration) Save(store eeprom.Store) error {
	fields := []struct {
		addr  uint16
		value float32
	}{
		{eeprom.AddrZeroOffsetMv, c.ZeroOffsetMv},
		{eeprom.AddrCurrentOffset, c.CurrentOffset},
		{eeprom.AddrVoltageOffset, c.VoltageOffset},
		{eeprom.AddrMvPerAmp, c.MvPerAmp},
		{eeprom.AddrChargingThreshold, c.ChargeThreshold},
		{eeprom.AddrDischargeThreshold, c.DischargeThreshold},
		{eeprom.AddrCurrentDeadzone, c.Deadzone},
	}
	for _, f := range fields {
		if err := store.WriteFloat32(f.addr, f.value); err != nil {
			return err
		}
	}
	return nil
}

// clamp replaces NaN and out-of-range values with the defaults.
func (c *Calibration) clamp(def Calibration) {
	if !(c.MvPerAmp > 0) || c.MvPerAmp > 10000 {
		log.Warnf("Sensitivity %.2f mV/A out of range, using default %.2f", c.MvPerAmp, def.MvPerAmp)
		c.MvPerAmp = def.MvPerAmp
	}
	if !(c.ZeroOffsetMv >= 0) || c.ZeroOffsetMv > 10000 {
		c.ZeroOffsetMv = def.ZeroOffsetMv
	}
	if !(c.CurrentOffset > -maxThresholdAmps) || c.CurrentOffset > maxThresholdAmps {
		c.CurrentOffset = def.CurrentOffset
	}
	if !(c.VoltageOffset > -10) || c.VoltageOffset > 10 {
		c.VoltageOffset = def.VoltageOffset
	}
	if !(c.ChargeThreshold > 0) || c.ChargeThreshold > maxThresholdAmps {
		log.Warnf("Charge threshold %.2fA out of range, using default %.2fA", c.ChargeThreshold, def.ChargeThreshold)
		c.ChargeThreshold = def.ChargeThreshold
	}
	if !(c.DischargeThreshold > 0) || c.DischargeThreshold > maxThresholdAmps {
		log.Warnf("Discharge threshold %.2fA out of range, using default %.2fA", c.DischargeThreshold, def.DischargeThreshold)
		c.DischargeThreshold = def.DischargeThreshold
	}
	if !(c.Deadzone > 0) || c.Deadzone > maxThresholdAmps {
		c.Deadzone = def.Deadzone
	}
}
