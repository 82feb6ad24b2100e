package battery

// Signal conditioning: block averaging of the raw current sensor output
// and exponential smoothing of the bus voltage. Sampling is decoupled
// from the estimator cadence; the sampler is fed on every scheduler pass
// and only produces a value once its quota is full.

const (
	// Raw readings averaged per conditioned current value.
	sampleQuota = 100

	voltageAlpha = 0.3
	powerAlpha   = 0.25
)

// CurrentSampler block-averages raw sensor readings. Add is cheap and
// non-blocking; once it reports the quota reached, Compute converts the
// average into a conditioned current and resets the block.
type CurrentSampler struct {
	sum   float64
	count int
}

// Add accumulates one raw reading (sensor output in millivolts) and
// reports whether the sample quota has been reached.
func (s *CurrentSampler) Add(rawMv float32) bool {
	s.sum += float64(rawMv)
	s.count++
	return s.count >= sampleQuota
}

// Compute turns the accumulated block into a current in amps and resets
// the accumulator. Currents inside the dead zone report exactly zero so
// sensor bias can not register as phantom charge or discharge.
func (s *CurrentSampler) Compute(cal *Calibration) float32 {
	if s.count == 0 {
		return 0
	}
	rawAverage := s.sum / float64(s.count)
	s.sum = 0
	s.count = 0

	deltaMv := float32(rawAverage) - cal.ZeroOffsetMv
	current := deltaMv/cal.MvPerAmp + cal.CurrentOffset
	if current < cal.Deadzone && current > -cal.Deadzone {
		return 0
	}
	return current
}

// EMAFilter is a first-order exponential smoother. The first sample
// primes the filter directly so startup does not ramp from zero.
type EMAFilter struct {
	Alpha  float32
	value  float32
	primed bool
}

func (f *EMAFilter) Update(sample float32) float32 {
	if !f.primed {
		f.value = sample
		f.primed = true
		return f.value
	}
	f.value = f.Alpha*sample + (1-f.Alpha)*f.value
	return f.value
}

func (f *EMAFilter) Value() float32 {
	return f.value
}
