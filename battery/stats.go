package battery

import (
	"time"

	"github.com/opensensing/battery-hat-monitor/eeprom"
)

// Statistics tracks the daily energy totals and the cycle count.
//
// Cycles are counted by discharge throughput: every time the accumulated
// discharge reaches one full rated capacity the cycle count increments,
// regardless of how the discharge was split up.
type Statistics struct {
	store eeprom.Store

	EnergyInWh  float64
	EnergyOutWh float64
	CycleCount  uint32

	// lastDay is the calendar day the energy totals belong to, encoded
	// year*10000 + month*100 + day.
	lastDay uint32

	// Discharge throughput toward the next cycle, in amp seconds. Not
	// persisted; at worst a power cycle forgets a partial cycle.
	cycleProgress float64
}

func dayNumber(t time.Time) uint32 {
	y, m, d := t.Date()
	return uint32(y)*10000 + uint32(m)*100 + uint32(d)
}

// LoadStatistics reads the persisted totals. Erased storage comes back
// as NaN / 0xFFFFFFFF and is zeroed.
func LoadStatistics(store eeprom.Store, now time.Time) (*Statistics, error) {
	s := &Statistics{store: store}

	in, err := store.ReadFloat32(eeprom.AddrEnergyInWh)
	if err != nil {
		return nil, err
	}
	out, err := store.ReadFloat32(eeprom.AddrEnergyOutWh)
	if err != nil {
		return nil, err
	}
	cycles, err := store.ReadUint32(eeprom.AddrCycleCount)
	if err != nil {
		return nil, err
	}
	day, err := store.ReadUint32(eeprom.AddrLastDay)
	if err != nil {
		return nil, err
	}

	if in >= 0 && in < 1e9 {
		s.EnergyInWh = float64(in)
	}
	if out >= 0 && out < 1e9 {
		s.EnergyOutWh = float64(out)
	}
	if cycles != 0xFFFFFFFF {
		s.CycleCount = cycles
	}
	if day != 0xFFFFFFFF && day != 0 {
		s.lastDay = day
	} else {
		s.lastDay = dayNumber(now)
	}
	return s, nil
}

// Add accumulates one tick's energy deltas and discharge throughput.
func (s *Statistics) Add(res TickResult, capacityAs float64) {
	s.EnergyInWh += res.EnergyInWh
	s.EnergyOutWh += res.EnergyOutWh
	if capacityAs > 0 {
		s.cycleProgress += res.DischargedAs
		for s.cycleProgress >= capacityAs {
			s.cycleProgress -= capacityAs
			s.CycleCount++
			log.Infof("Completed discharge cycle %d", s.CycleCount)
		}
	}
}

// CheckRollover zeroes the energy totals when the calendar day changed.
// The cycle count is not reset. Call at low frequency, around once a
// minute.
func (s *Statistics) CheckRollover(now time.Time) (bool, error) {
	day := dayNumber(now)
	if day == s.lastDay {
		return false, nil
	}
	log.Infof("Daily statistics rollover (day %d -> %d)", s.lastDay, day)
	s.EnergyInWh = 0
	s.EnergyOutWh = 0
	s.lastDay = day
	return true, s.Persist()
}

// Reset zeroes the cycle count and both energy totals and persists the
// zeros immediately.
func (s *Statistics) Reset(now time.Time) error {
	s.EnergyInWh = 0
	s.EnergyOutWh = 0
	s.CycleCount = 0
	s.cycleProgress = 0
	s.lastDay = dayNumber(now)
	return s.Persist()
}

func (s *Statistics) Persist() error {
	if err := s.store.WriteFloat32(eeprom.AddrEnergyInWh, float32(s.EnergyInWh)); err != nil {
		return err
	}
	if err := s.store.WriteFloat32(eeprom.AddrEnergyOutWh, float32(s.EnergyOutWh)); err != nil {
		return err
	}
	if err := s.store.WriteUint32(eeprom.AddrCycleCount, s.CycleCount); err != nil {
		return err
	}
	return s.store.WriteUint32(eeprom.AddrLastDay, s.lastDay)
}
