package battery

import (
	"sync"
	"time"

	"github.com/opensensing/battery-hat-monitor/eeprom"
)

// Persistence cadence. Both are also flushed immediately on
// user-triggered changes.
const (
	socSaveInterval   = 5 * time.Minute
	statsSaveInterval = 10 * time.Minute
)

// Event hysteresis bands. A latched threshold event does not repeat
// until the value has moved back out of the band.
const (
	socFullThreshold  = 99.5
	socFullRearm      = 95.0
	socLowThreshold   = 10.0
	socLowRearm       = 15.0
	voltageRearmDelta = 0.2
)

// LiveData is the telemetry snapshot served over HTTP and D-Bus.
type LiveData struct {
	Voltage          float32 `json:"voltage"`
	Current          float32 `json:"current"`
	SOC              float32 `json:"soc"`
	Power            float32 `json:"power"`
	SmoothedPower    float32 `json:"power_smoothed"`
	Status           Status  `json:"status"`
	MinutesRemaining float32 `json:"minutes_remaining,omitempty"`
	MinutesToFull    float32 `json:"minutes_to_full,omitempty"`
	EnergyInWh       float64 `json:"energy_in_wh"`
	EnergyOutWh      float64 `json:"energy_out_wh"`
	CycleCount       uint32  `json:"cycle_count"`
}

// Settings is the read shape of the settings surface.
type Settings struct {
	CapacityAh         float32 `json:"capacity_ah"`
	VoltageOffset      float32 `json:"voltage_offset"`
	CurrentOffset      float32 `json:"current_offset"`
	MvPerAmp           float32 `json:"mv_per_amp"`
	ChargeThreshold    float32 `json:"charge_threshold"`
	DischargeThreshold float32 `json:"discharge_threshold"`
	SOC                float32 `json:"soc"`
	Deadzone           float32 `json:"current_deadzone"`
}

// SettingsUpdate is a partial settings write. Nil fields retain their
// previous values.
type SettingsUpdate struct {
	CapacityAh         *float32 `json:"capacity_ah"`
	VoltageOffset      *float32 `json:"voltage_offset"`
	CurrentOffset      *float32 `json:"current_offset"`
	MvPerAmp           *float32 `json:"mv_per_amp"`
	ChargeThreshold    *float32 `json:"charge_threshold"`
	DischargeThreshold *float32 `json:"discharge_threshold"`
	SOC                *float32 `json:"soc"`
	Deadzone           *float32 `json:"current_deadzone"`
}

// Monitor owns the whole estimation pipeline behind one mutex. All
// mutation goes through its methods; the HTTP and D-Bus surfaces only
// ever take snapshots or call mutators, so single-writer discipline
// holds even though handlers run on their own goroutines.
type Monitor struct {
	mu    sync.Mutex
	store eeprom.Store

	cal     Calibration
	profile Profile

	est     *Estimator
	sampler CurrentSampler
	events  *EventLog
	stats   *Statistics

	voltageFilter EMAFilter
	powerFilter   EMAFilter

	current float32
	voltage float32
	power   float32

	lastSOCSave   time.Time
	lastStatsSave time.Time

	socFullLatch bool
	socLowLatch  bool
	vHighLatch   bool
	vLowLatch    bool
}

// BootStep is one stage of the boot-time load sequence. The daemon
// walks the steps in order with an explicit cursor rather than relying
// on elapsed-time fallthrough.
type BootStep struct {
	Name string
	Run  func() error
}

func NewMonitor(store eeprom.Store, curve Curve) *Monitor {
	m := &Monitor{
		store:         store,
		cal:           DefaultCalibration(),
		profile:       DefaultProfile(),
		voltageFilter: EMAFilter{Alpha: voltageAlpha},
		powerFilter:   EMAFilter{Alpha: powerAlpha},
	}
	m.est = NewEstimator(&m.profile, &m.cal, curve, store)
	return m
}

// BootSteps returns the ordered load sequence. Each step is idempotent
// and a failed step leaves the defaults in place.
func (m *Monitor) BootSteps(now time.Time) []BootStep {
	return []BootStep{
		{Name: "calibration", Run: func() error {
			cal, err := LoadCalibration(m.store)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.cal = cal
			m.mu.Unlock()
			return nil
		}},
		{Name: "battery profile", Run: func() error {
			profile, err := LoadProfile(m.store)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.profile = profile
			m.mu.Unlock()
			return nil
		}},
		{Name: "estimator state", Run: func() error {
			marker, err := m.store.ReadUint32(eeprom.AddrInitMarker)
			if err != nil {
				return err
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			// Start the save timer from boot so the first tick does not
			// immediately rewrite what was just restored.
			m.lastSOCSave = now
			if marker != eeprom.InitMarker {
				// First ever boot, nothing trustworthy in storage.
				log.Info("Storage uninitialized, starting at 100% SOC")
				m.est.RestoreSOC(100)
				return m.est.PersistState()
			}
			soc, err := m.store.ReadFloat32(eeprom.AddrSOC)
			if err != nil {
				return err
			}
			m.est.RestoreSOC(soc)
			log.Infof("Restored SOC %.1f%%", soc)
			return nil
		}},
		{Name: "statistics", Run: func() error {
			stats, err := LoadStatistics(m.store, now)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.stats = stats
			m.lastStatsSave = now
			m.mu.Unlock()
			return nil
		}},
		{Name: "event log", Run: func() error {
			events, err := NewEventLog(m.store)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.events = events
			m.mu.Unlock()
			return nil
		}},
	}
}

// AcquireSample feeds one raw current sensor reading. Call on every
// scheduler pass; a new conditioned current appears once the sample
// quota fills.
func (m *Monitor) AcquireSample(rawMv float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sampler.Add(rawMv) {
		m.current = m.sampler.Compute(&m.cal)
	}
}

// IntervalTick runs one conditioning interval: smooth the voltage,
// recompute power, advance the estimator and react to what it produced.
func (m *Monitor) IntervalTick(busVoltage float32, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.voltage = m.voltageFilter.Update(busVoltage) + m.cal.VoltageOffset
	m.power = m.voltage * m.current
	m.powerFilter.Update(m.power)

	res := m.est.Tick(m.voltage, m.current, now)
	if m.stats != nil {
		m.stats.Add(res, m.profile.CapacityAs())
	}

	switch res.Transition {
	case StatusCharging:
		m.recordEvent(EventChargeStart, now)
	case StatusDischarging:
		m.recordEvent(EventDischargeStart, now)
	case StatusIdle:
		m.recordEvent(EventIdleStart, now)
	}
	if res.Correction != nil {
		m.recordEvent(EventSOCCorrected, now)
	}
	m.checkThresholds(now)
}

// checkThresholds raises the edge-triggered SOC and voltage events.
func (m *Monitor) checkThresholds(now time.Time) {
	soc := m.est.SOC()

	if soc >= socFullThreshold && !m.socFullLatch {
		m.socFullLatch = true
		m.recordEvent(EventSOCFull, now)
	} else if soc < socFullRearm {
		m.socFullLatch = false
	}

	if soc <= socLowThreshold && !m.socLowLatch {
		m.socLowLatch = true
		log.Warnf("Low battery: %.1f%%", soc)
		m.recordEvent(EventSOCLow, now)
	} else if soc > socLowRearm {
		m.socLowLatch = false
	}

	if m.voltage > m.profile.MaxVoltage && !m.vHighLatch {
		m.vHighLatch = true
		m.recordEvent(EventVoltageHigh, now)
	} else if m.voltage < m.profile.MaxVoltage-voltageRearmDelta {
		m.vHighLatch = false
	}

	if m.voltage < m.profile.MinVoltage && !m.vLowLatch {
		m.vLowLatch = true
		m.recordEvent(EventVoltageLow, now)
	} else if m.voltage > m.profile.MinVoltage+voltageRearmDelta {
		m.vLowLatch = false
	}
}

func (m *Monitor) recordEvent(kind EventKind, now time.Time) {
	if m.events == nil {
		return
	}
	log.Infof("Event: %s", kind)
	if err := m.events.Record(kind, now); err != nil {
		log.Errorf("Recording %s event: %v", kind, err)
	}
}

// MaybePersist flushes the SOC and the statistics on their timers.
func (m *Monitor) MaybePersist(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSOCSave) >= socSaveInterval {
		if err := m.est.PersistState(); err != nil {
			log.Errorf("Persisting estimator state: %v", err)
		}
		m.lastSOCSave = now
	}
	if m.stats != nil && now.Sub(m.lastStatsSave) >= statsSaveInterval {
		if err := m.stats.Persist(); err != nil {
			log.Errorf("Persisting statistics: %v", err)
		}
		m.lastStatsSave = now
	}
}

// PersistNow flushes everything immediately, regardless of the timers.
// Used on shutdown.
func (m *Monitor) PersistNow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.est.PersistState(); err != nil {
		log.Errorf("Persisting estimator state: %v", err)
	}
	if m.stats != nil {
		if err := m.stats.Persist(); err != nil {
			log.Errorf("Persisting statistics: %v", err)
		}
	}
}

// CheckRollover runs the daily statistics rollover, at most once per
// call. Call around once a minute.
func (m *Monitor) CheckRollover(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		return
	}
	if _, err := m.stats.CheckRollover(now); err != nil {
		log.Errorf("Statistics rollover: %v", err)
	}
}

// Snapshot returns the live telemetry view.
func (m *Monitor) Snapshot() LiveData {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := LiveData{
		Voltage:       m.voltage,
		Current:       m.current,
		SOC:           m.est.SOC(),
		Power:         m.power,
		SmoothedPower: m.powerFilter.Value(),
		Status:        m.est.StatusFor(m.current),
	}
	if m.stats != nil {
		data.EnergyInWh = m.stats.EnergyInWh
		data.EnergyOutWh = m.stats.EnergyOutWh
		data.CycleCount = m.stats.CycleCount
	}
	switch data.Status {
	case StatusDischarging:
		data.MinutesRemaining = m.est.MinutesRemaining(m.current)
	case StatusCharging:
		data.MinutesToFull = m.est.MinutesToFull(m.current)
	}
	return data
}

// Settings returns the current settings surface.
func (m *Monitor) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Settings{
		CapacityAh:         m.profile.CapacityAh,
		VoltageOffset:      m.cal.VoltageOffset,
		CurrentOffset:      m.cal.CurrentOffset,
		MvPerAmp:           m.cal.MvPerAmp,
		ChargeThreshold:    m.cal.ChargeThreshold,
		DischargeThreshold: m.cal.DischargeThreshold,
		SOC:                m.est.SOC(),
		Deadzone:           m.cal.Deadzone,
	}
}

// ApplySettings applies a partial settings write. Each supplied field is
// persisted as it is applied; a SOC write resynchronizes the coulomb
// accumulator and restarts the idle timer.
func (m *Monitor) ApplySettings(u SettingsUpdate, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.CapacityAh != nil {
		// A zero or negative capacity would divide the next tick's SOC
		// into NaN, so bad values are dropped rather than applied.
		if !(*u.CapacityAh > 0) || *u.CapacityAh > maxCapacityAh {
			log.Warnf("Capacity %.1fAh out of range, keeping %.1fAh", *u.CapacityAh, m.profile.CapacityAh)
		} else {
			m.profile.CapacityAh = *u.CapacityAh
			if err := m.store.WriteFloat32(eeprom.AddrBatteryCapacity, *u.CapacityAh); err != nil {
				return err
			}
		}
	}
	if u.VoltageOffset != nil {
		m.cal.VoltageOffset = *u.VoltageOffset
		if err := m.store.WriteFloat32(eeprom.AddrVoltageOffset, *u.VoltageOffset); err != nil {
			return err
		}
	}
	if u.CurrentOffset != nil {
		m.cal.CurrentOffset = *u.CurrentOffset
		if err := m.store.WriteFloat32(eeprom.AddrCurrentOffset, *u.CurrentOffset); err != nil {
			return err
		}
	}
	if u.MvPerAmp != nil {
		m.cal.MvPerAmp = *u.MvPerAmp
		if err := m.store.WriteFloat32(eeprom.AddrMvPerAmp, *u.MvPerAmp); err != nil {
			return err
		}
	}
	if u.ChargeThreshold != nil {
		m.cal.ChargeThreshold = *u.ChargeThreshold
		if err := m.store.WriteFloat32(eeprom.AddrChargingThreshold, *u.ChargeThreshold); err != nil {
			return err
		}
	}
	if u.DischargeThreshold != nil {
		m.cal.DischargeThreshold = *u.DischargeThreshold
		if err := m.store.WriteFloat32(eeprom.AddrDischargeThreshold, *u.DischargeThreshold); err != nil {
			return err
		}
	}
	if u.Deadzone != nil {
		m.cal.Deadzone = *u.Deadzone
		if err := m.store.WriteFloat32(eeprom.AddrCurrentDeadzone, *u.Deadzone); err != nil {
			return err
		}
	}
	if u.SOC != nil {
		log.Infof("SOC set to %.1f%% via settings", *u.SOC)
		if err := m.est.SetSOC(*u.SOC, now); err != nil {
			return err
		}
	}
	m.cal.clamp(DefaultCalibration())
	return nil
}

// SetSOC is the manual SOC reset used by the D-Bus surface.
func (m *Monitor) SetSOC(soc float32, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.est.SetSOC(soc, now)
}

// History returns the persisted events newest first.
func (m *Monitor) History() ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		return nil, nil
	}
	return m.events.History()
}

// ResetStatistics zeroes the counters and persists immediately.
func (m *Monitor) ResetStatistics(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		return nil
	}
	return m.stats.Reset(now)
}
