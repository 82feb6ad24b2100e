package battery

import (
	"github.com/opensensing/battery-hat-monitor/eeprom"
)

// Upper bound on a plausible pack capacity. The lower bound is strictly
// positive; the capacity divides the coulomb accumulator into the SOC.
const maxCapacityAh = 10000

// Chemistry is the operator-selected battery type. It is persisted and
// shown on the telemetry surface but the estimator and the SOC curve do
// not consult it.
type Chemistry uint32

const (
	ChemistryLeadAcid Chemistry = iota
	ChemistryLiIon
	ChemistryLiPo
)

func (c Chemistry) String() string {
	switch c {
	case ChemistryLeadAcid:
		return "lead-acid"
	case ChemistryLiIon:
		return "li-ion"
	case ChemistryLiPo:
		return "li-po"
	default:
		return "unknown"
	}
}

// Profile is the operator-configured description of the attached pack.
type Profile struct {
	CapacityAh float32
	Chemistry  Chemistry
	// MinVoltage and MaxVoltage bound the healthy voltage range; ticks
	// outside it raise VOLTAGE_LOW / VOLTAGE_HIGH events.
	MinVoltage float32
	MaxVoltage float32
}

func DefaultProfile() Profile {
	return Profile{
		CapacityAh: 100,
		Chemistry:  ChemistryLeadAcid,
		MinVoltage: 10.5,
		MaxVoltage: 14.8,
	}
}

// CapacityAs is the rated capacity in amp-seconds, the ceiling of the
// coulomb accumulator.
func (p Profile) CapacityAs() float64 {
	return float64(p.CapacityAh) * 3600
}

func LoadProfile(store eeprom.Store) (Profile, error) {
	def := DefaultProfile()
	p := Profile{}
	var err error
	if p.CapacityAh, err = store.ReadFloat32(eeprom.AddrBatteryCapacity); err != nil {
		return def, err
	}
	chem, err := store.ReadUint32(eeprom.AddrBatteryType)
	if err != nil {
		return def, err
	}
	p.Chemistry = Chemistry(chem)
	if p.MinVoltage, err = store.ReadFloat32(eeprom.AddrMinVoltage); err != nil {
		return def, err
	}
	if p.MaxVoltage, err = store.ReadFloat32(eeprom.AddrMaxVoltage); err != nil {
		return def, err
	}

	if !(p.CapacityAh > 0) || p.CapacityAh > maxCapacityAh {
		log.Warnf("Capacity %.1fAh out of range, using default %.1fAh", p.CapacityAh, def.CapacityAh)
		p.CapacityAh = def.CapacityAh
	}
	if p.Chemistry > ChemistryLiPo {
		p.Chemistry = def.Chemistry
	}
	if !(p.MinVoltage > 0) || p.MinVoltage > 100 {
		p.MinVoltage = def.MinVoltage
	}
	if !(p.MaxVoltage > p.MinVoltage) || p.MaxVoltage > 100 {
		p.MaxVoltage = def.MaxVoltage
	}
	return p, nil
}

func (p *Profile) Save(store eeprom.Store) error {
	if err := store.WriteFloat32(eeprom.AddrBatteryCapacity, p.CapacityAh); err != nil {
		return err
	}
	if err := store.WriteUint32(eeprom.AddrBatteryType, uint32(p.Chemistry)); err != nil {
		return err
	}
	if err := store.WriteFloat32(eeprom.AddrMinVoltage, p.MinVoltage); err != nil {
		return err
	}
	return store.WriteFloat32(eeprom.AddrMaxVoltage, p.MaxVoltage)
}
