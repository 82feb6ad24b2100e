package battery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fillSampler(s *CurrentSampler, rawMv float32) bool {
	full := false
	for i := 0; i < sampleQuota; i++ {
		full = s.Add(rawMv)
	}
	return full
}

func TestSamplerQuota(t *testing.T) {
	s := &CurrentSampler{}
	for i := 0; i < sampleQuota-1; i++ {
		assert.False(t, s.Add(2500))
	}
	assert.True(t, s.Add(2500))
}

func TestSamplerConversion(t *testing.T) {
	cal := DefaultCalibration()
	s := &CurrentSampler{}

	// 2566mV raw, 2500mV zero offset, 66mV/A -> 1A.
	assert.True(t, fillSampler(s, 2566))
	assert.InDelta(t, 1.0, s.Compute(&cal), 0.001)

	// Compute resets the block, so a second full block stands alone.
	assert.True(t, fillSampler(s, 2368))
	assert.InDelta(t, -2.0, s.Compute(&cal), 0.001)
}

func TestSamplerDeadzone(t *testing.T) {
	cal := DefaultCalibration()
	cal.Deadzone = 0.2
	s := &CurrentSampler{}

	// 0.1A of sensor bias reads as exactly zero, not almost zero.
	fillSampler(s, 2500+6.6)
	assert.Equal(t, float32(0), s.Compute(&cal))

	fillSampler(s, 2500-6.6)
	assert.Equal(t, float32(0), s.Compute(&cal))

	// Outside the dead zone the value passes through.
	fillSampler(s, 2500+33)
	assert.InDelta(t, 0.5, s.Compute(&cal), 0.001)
}

func TestSamplerCurrentOffset(t *testing.T) {
	cal := DefaultCalibration()
	cal.CurrentOffset = 0.5
	s := &CurrentSampler{}
	fillSampler(s, 2566)
	assert.InDelta(t, 1.5, s.Compute(&cal), 0.001)
}

func TestEMAFilterPriming(t *testing.T) {
	f := EMAFilter{Alpha: 0.3}

	// First sample primes the filter rather than ramping from zero.
	assert.InDelta(t, 12.8, f.Update(12.8), 0.001)

	// Then it smooths: 0.3*12.0 + 0.7*12.8.
	assert.InDelta(t, 12.56, f.Update(12.0), 0.001)
	assert.InDelta(t, 12.56, f.Value(), 0.001)
}
