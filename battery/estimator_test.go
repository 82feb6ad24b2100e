package battery

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensing/battery-hat-monitor/eeprom"
)

func newTestEstimator() (*Estimator, *eeprom.MemStore) {
	profile := DefaultProfile() // 100Ah
	cal := DefaultCalibration()
	store := eeprom.NewMemStore()
	return NewEstimator(&profile, &cal, DefaultLeadAcid12V(), store), store
}

func TestBootstrapGatesIntegration(t *testing.T) {
	e, _ := newTestEstimator()
	e.RestoreSOC(50)
	start := time.Now()

	// While charging current flows before the first idle period, nothing
	// integrates.
	e.Tick(13.5, 10, start)
	e.Tick(13.5, 10, start.Add(time.Minute))
	assert.False(t, e.Bootstrapped())
	assert.InDelta(t, 50, e.SOC(), 0.001)

	// The first idle sample ends bootstrap and resyncs coulombs.
	e.Tick(12.9, 0, start.Add(2*time.Minute))
	assert.True(t, e.Bootstrapped())
	assert.InDelta(t, 180000, e.Coulombs(), 0.5)
}

func TestChargeIntegration(t *testing.T) {
	e, _ := newTestEstimator()
	e.RestoreSOC(50)
	start := time.Now()

	e.Tick(13.0, 0, start) // ends bootstrap at 180000 As
	res := e.Tick(13.0, 10, start.Add(360*time.Second))

	// 10A for 360s adds 3600 As: 183600 As on a 100Ah pack is 51.0%.
	assert.InDelta(t, 183600, e.Coulombs(), 0.5)
	assert.InDelta(t, 51.0, e.SOC(), 0.01)
	assert.Equal(t, StatusCharging, res.Transition)
	assert.InDelta(t, 13.0, res.EnergyInWh, 0.01) // 13.0V * 10A * 0.1h
	assert.Zero(t, res.EnergyOutWh)
}

func TestDischargeIntegration(t *testing.T) {
	e, _ := newTestEstimator()
	e.RestoreSOC(50)
	start := time.Now()

	e.Tick(12.4, 0, start)
	res := e.Tick(12.4, -5, start.Add(time.Hour))

	// 5A for an hour removes 18000 As.
	assert.InDelta(t, 162000, e.Coulombs(), 0.5)
	assert.InDelta(t, 45.0, e.SOC(), 0.01)
	assert.InDelta(t, 62.0, res.EnergyOutWh, 0.1)
	assert.InDelta(t, 18000, res.DischargedAs, 0.5)
}

func TestCoulombsStayInRange(t *testing.T) {
	e, _ := newTestEstimator()
	e.RestoreSOC(99)
	start := time.Now()

	e.Tick(13.8, 0, start)
	e.Tick(13.8, 50, start.Add(2*time.Hour))
	assert.InDelta(t, 100, e.SOC(), 0.001)
	assert.InDelta(t, 360000, e.Coulombs(), 0.5)

	e.Tick(11.0, -50, start.Add(12*time.Hour))
	assert.InDelta(t, 0, e.SOC(), 0.001)
	assert.InDelta(t, 0, e.Coulombs(), 0.5)
}

func TestSetSOC(t *testing.T) {
	e, store := newTestEstimator()

	require.NoError(t, e.SetSOC(75, time.Now()))
	assert.InDelta(t, 75, e.SOC(), 0.001)
	assert.InDelta(t, 270000, e.Coulombs(), 0.5)

	// Out-of-range assignments clamp.
	require.NoError(t, e.SetSOC(150, time.Now()))
	assert.InDelta(t, 100, e.SOC(), 0.001)
	require.NoError(t, e.SetSOC(-10, time.Now()))
	assert.InDelta(t, 0, e.SOC(), 0.001)

	// The assignment persisted along with the init marker.
	soc, err := store.ReadFloat32(eeprom.AddrSOC)
	require.NoError(t, err)
	assert.InDelta(t, 0, soc, 0.001)
	marker, err := store.ReadUint32(eeprom.AddrInitMarker)
	require.NoError(t, err)
	assert.Equal(t, eeprom.InitMarker, marker)
}

func TestSetSOCNaNClampsToZero(t *testing.T) {
	e, _ := newTestEstimator()

	// NaN compares false against both bounds, so the clamp has to catch
	// it explicitly rather than pass it through.
	require.NoError(t, e.SetSOC(float32(math.NaN()), time.Now()))
	assert.InDelta(t, 0, e.SOC(), 0.001)
	assert.InDelta(t, 0, e.Coulombs(), 0.001)

	e.RestoreSOC(float32(math.NaN()))
	assert.InDelta(t, 0, e.SOC(), 0.001)
}

func TestIdleCorrection(t *testing.T) {
	e, store := newTestEstimator()
	e.RestoreSOC(65)
	start := time.Now()

	e.Tick(12.2, 0, start)

	// Not yet: only 29 minutes idle.
	res := e.Tick(12.2, 0, start.Add(29*time.Minute))
	assert.Nil(t, res.Correction)
	assert.InDelta(t, 65, e.SOC(), 0.001)

	// At 30 minutes the resting voltage wins: 12.2V is 60%.
	res = e.Tick(12.2, 0, start.Add(30*time.Minute))
	require.NotNil(t, res.Correction)
	assert.InDelta(t, 65, res.Correction.OldSOC, 0.001)
	assert.InDelta(t, 60, res.Correction.NewSOC, 0.001)
	assert.InDelta(t, 60, e.SOC(), 0.001)
	assert.InDelta(t, 216000, e.Coulombs(), 0.5)

	// Corrected SOC is persisted immediately.
	soc, err := store.ReadFloat32(eeprom.AddrSOC)
	require.NoError(t, err)
	assert.InDelta(t, 60, soc, 0.001)

	// Once per idle period, even if the voltage keeps drifting.
	res = e.Tick(12.15, 0, start.Add(31*time.Minute))
	assert.Nil(t, res.Correction)
	assert.InDelta(t, 60, e.SOC(), 0.001)
}

func TestIdleCorrectionRearmsAfterActivity(t *testing.T) {
	e, _ := newTestEstimator()
	e.RestoreSOC(65)
	start := time.Now()

	e.Tick(12.2, 0, start)
	res := e.Tick(12.2, 0, start.Add(30*time.Minute))
	require.NotNil(t, res.Correction)

	// A discharge burst restarts the idle timer and rearms the
	// correction.
	e.Tick(12.1, -5, start.Add(31*time.Minute))
	res = e.Tick(12.1, 0, start.Add(32*time.Minute))
	assert.Nil(t, res.Correction)
	res = e.Tick(12.1, 0, start.Add(62*time.Minute))
	require.NotNil(t, res.Correction)
	assert.InDelta(t, 50, res.Correction.NewSOC, 0.001)
}

func TestSetSOCRestartsIdleTimer(t *testing.T) {
	e, _ := newTestEstimator()
	e.RestoreSOC(65)
	start := time.Now()

	e.Tick(12.2, 0, start)
	require.NoError(t, e.SetSOC(90, start.Add(29*time.Minute)))

	// 30 minutes after boot but only 1 minute after the manual reset, so
	// the voltage correction must not override the operator.
	res := e.Tick(12.2, 0, start.Add(30*time.Minute))
	assert.Nil(t, res.Correction)
	assert.InDelta(t, 90, e.SOC(), 0.001)
}

func TestTransitions(t *testing.T) {
	e, _ := newTestEstimator()
	e.RestoreSOC(50)
	start := time.Now()

	res := e.Tick(12.4, 0, start)
	assert.Equal(t, StatusIdle, res.Transition)

	res = e.Tick(12.4, 0, start.Add(time.Second))
	assert.Equal(t, Status(""), res.Transition)

	res = e.Tick(12.2, -3, start.Add(2*time.Second))
	assert.Equal(t, StatusDischarging, res.Transition)

	res = e.Tick(13.5, 8, start.Add(3*time.Second))
	assert.Equal(t, StatusCharging, res.Transition)
}

func TestStatusThresholds(t *testing.T) {
	e, _ := newTestEstimator()

	// Default thresholds are 0.6A either way.
	assert.Equal(t, StatusIdle, e.StatusFor(0))
	assert.Equal(t, StatusIdle, e.StatusFor(0.6))
	assert.Equal(t, StatusIdle, e.StatusFor(-0.6))
	assert.Equal(t, StatusCharging, e.StatusFor(0.61))
	assert.Equal(t, StatusDischarging, e.StatusFor(-0.61))
}

func TestClockStepBackwards(t *testing.T) {
	e, _ := newTestEstimator()
	e.RestoreSOC(50)
	start := time.Now()

	e.Tick(12.4, 0, start)
	// A backwards RTC step must not integrate a negative interval.
	e.Tick(13.0, 10, start.Add(-time.Hour))
	assert.InDelta(t, 50, e.SOC(), 0.001)
}

func TestRuntimeEstimates(t *testing.T) {
	e, _ := newTestEstimator()
	e.RestoreSOC(50)

	// 50Ah remaining at 5A is 10 hours.
	assert.InDelta(t, 600, e.MinutesRemaining(-5), 0.5)
	// 50Ah to full at 10A is 5 hours.
	assert.InDelta(t, 300, e.MinutesToFull(10), 0.5)

	// Near-zero currents clamp to the cap instead of dividing away.
	assert.InDelta(t, maxEstimateMinutes, e.MinutesRemaining(0), 0.5)
	assert.InDelta(t, maxEstimateMinutes, e.MinutesToFull(0), 0.5)
}

func TestInvalidCurveFallsBack(t *testing.T) {
	profile := DefaultProfile()
	cal := DefaultCalibration()
	e := NewEstimator(&profile, &cal, Curve{}, eeprom.NewMemStore())
	e.RestoreSOC(65)
	start := time.Now()

	e.Tick(12.2, 0, start)
	res := e.Tick(12.2, 0, start.Add(30*time.Minute))
	require.NotNil(t, res.Correction)
	assert.InDelta(t, 60, res.Correction.NewSOC, 0.001)
}
