package battery

import (
	"math"
	"time"

	"github.com/opensensing/battery-hat-monitor/eeprom"
)

const (
	// Sustained idle required before the voltage-based SOC correction
	// may fire.
	idleCorrectionDelay = 30 * time.Minute

	// Floor for the current used in runtime estimates, to keep the
	// division sane near zero.
	minEstimateCurrent = 0.05

	// Cap on the runtime estimates in minutes.
	maxEstimateMinutes = 99999
)

// Correction records a voltage-based SOC resynchronization.
type Correction struct {
	OldSOC  float32
	NewSOC  float32
	Voltage float32
}

// TickResult is what one estimator tick produced. Energy values are
// deltas for this tick only; the caller owns the running totals.
type TickResult struct {
	// Transition is the new regime when this tick changed it, "" when
	// the regime held.
	Transition  Status
	Correction  *Correction
	EnergyInWh  float64
	EnergyOutWh float64
	// DischargedAs is the coulomb throughput of a discharging tick,
	// used for equivalent-cycle counting.
	DischargedAs float64
}

// Estimator fuses the conditioned current, the filtered voltage and the
// coulomb accumulator into a single SOC figure.
//
// Until the first idle period after boot the estimator is bootstrapping:
// no integration happens, so power-on transients can not corrupt the
// persisted SOC. The first idle-band sample ends bootstrap and
// resynchronizes the coulomb accumulator from the persisted SOC.
//
// Invariant: coulombs == soc/100 * capacity * 3600 after every direct
// SOC assignment, and the pair is kept consistent incrementally
// otherwise.
type Estimator struct {
	profile *Profile
	cal     *Calibration
	curve   Curve
	store   eeprom.Store

	soc      float64 // percent, 0..100
	coulombs float64 // amp seconds, 0..capacity*3600

	bootstrapped  bool
	idleCorrected bool
	lastStatus    Status
	lastActive    time.Time
	lastTick      time.Time
}

func NewEstimator(profile *Profile, cal *Calibration, curve Curve, store eeprom.Store) *Estimator {
	if !curve.Valid() {
		log.Warn("Invalid SOC curve supplied, using default lead-acid table")
		curve = DefaultLeadAcid12V()
	}
	return &Estimator{
		profile: profile,
		cal:     cal,
		curve:   curve,
		store:   store,
		soc:     100,
	}
}

func (e *Estimator) SOC() float32       { return float32(e.soc) }
func (e *Estimator) Coulombs() float64  { return e.coulombs }
func (e *Estimator) Bootstrapped() bool { return e.bootstrapped }

// StatusFor derives the regime from a conditioned current.
func (e *Estimator) StatusFor(current float32) Status {
	switch {
	case current > e.cal.ChargeThreshold:
		return StatusCharging
	case current < -e.cal.DischargeThreshold:
		return StatusDischarging
	default:
		return StatusIdle
	}
}

// RestoreSOC seeds the estimator from a persisted SOC without ending
// bootstrap. Used once at boot.
func (e *Estimator) RestoreSOC(soc float32) {
	e.soc = clampF(float64(soc), 0, 100)
	e.coulombs = e.soc / 100 * e.profile.CapacityAs()
}

// SetSOC applies a direct SOC assignment (manual reset or settings
// write): clamp, resynchronize coulombs, restart the idle timer so a
// voltage correction can not immediately override the new value, and
// persist.
func (e *Estimator) SetSOC(soc float32, now time.Time) error {
	e.soc = clampF(float64(soc), 0, 100)
	e.coulombs = e.soc / 100 * e.profile.CapacityAs()
	e.lastActive = now
	e.idleCorrected = false
	return e.PersistState()
}

// Tick advances the estimator by one conditioning interval.
func (e *Estimator) Tick(voltage, current float32, now time.Time) TickResult {
	res := TickResult{}

	var dt float64
	if !e.lastTick.IsZero() {
		dt = now.Sub(e.lastTick).Seconds()
	}
	e.lastTick = now
	if dt < 0 {
		dt = 0 // clock stepped backwards
	}

	status := e.StatusFor(current)
	if status != e.lastStatus {
		res.Transition = status
		e.lastStatus = status
	}

	if !e.bootstrapped {
		if status == StatusIdle {
			// First idle since boot: trust the persisted SOC and start
			// integrating from here.
			e.bootstrapped = true
			e.coulombs = e.soc / 100 * e.profile.CapacityAs()
			e.lastActive = now
		}
		return res
	}

	capAs := e.profile.CapacityAs()
	switch status {
	case StatusCharging:
		res.EnergyInWh = float64(voltage) * float64(current) * dt / 3600
		e.coulombs = clampF(e.coulombs+float64(current)*dt, 0, capAs)
		e.soc = e.coulombs / capAs * 100
		e.lastActive = now
		e.idleCorrected = false

	case StatusDischarging:
		res.EnergyOutWh = float64(voltage) * math.Abs(float64(current)) * dt / 3600
		res.DischargedAs = math.Abs(float64(current)) * dt
		e.coulombs = clampF(e.coulombs+float64(current)*dt, 0, capAs)
		e.soc = e.coulombs / capAs * 100
		e.lastActive = now
		e.idleCorrected = false

	case StatusIdle:
		if !e.idleCorrected && now.Sub(e.lastActive) >= idleCorrectionDelay {
			old := float32(e.soc)
			corrected := clampF(float64(e.curve.SOCFromVoltage(voltage)), 0, 100)
			e.soc = corrected
			e.coulombs = e.soc / 100 * capAs
			e.idleCorrected = true
			if err := e.PersistState(); err != nil {
				log.Errorf("Persisting corrected SOC: %v", err)
			}
			res.Correction = &Correction{OldSOC: old, NewSOC: float32(e.soc), Voltage: voltage}
			log.Infof("Idle SOC correction: %.1f%% -> %.1f%% at %.2fV", old, e.soc, voltage)
		}
	}
	return res
}

// MinutesRemaining estimates runtime at the given discharge current.
// Informational only, never fed back into the SOC.
func (e *Estimator) MinutesRemaining(current float32) float32 {
	amps := math.Abs(float64(current))
	if amps < minEstimateCurrent {
		amps = minEstimateCurrent
	}
	minutes := e.coulombs / 3600 / amps * 60
	return float32(clampF(minutes, 0, maxEstimateMinutes))
}

// MinutesToFull estimates time to full charge at the given charge
// current.
func (e *Estimator) MinutesToFull(current float32) float32 {
	amps := float64(current)
	if amps < minEstimateCurrent {
		amps = minEstimateCurrent
	}
	minutes := (e.profile.CapacityAs() - e.coulombs) / amps / 60
	return float32(clampF(minutes, 0, maxEstimateMinutes))
}

// PersistState writes the SOC, the coulomb accumulator and the
// initialization marker.
func (e *Estimator) PersistState() error {
	if err := e.store.WriteFloat32(eeprom.AddrSOC, float32(e.soc)); err != nil {
		return err
	}
	if err := e.store.WriteFloat32(eeprom.AddrCoulombs, float32(e.coulombs)); err != nil {
		return err
	}
	return e.store.WriteUint32(eeprom.AddrInitMarker, eeprom.InitMarker)
}

func clampF(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
