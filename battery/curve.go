package battery

// Curve maps resting terminal voltage to state of charge. Breakpoints
// are ordered by descending voltage. Voltages above the first breakpoint
// clamp to its percentage, below the last clamp to its percentage, and
// values in between are linearly interpolated.
//
// The curve is chemistry-agnostic: the persisted battery type selects
// nothing here, it is advisory only.
type Curve struct {
	Voltages []float32
	Percents []float32
}

// DefaultLeadAcid12V is the resting-voltage curve for a 6-cell flooded
// lead-acid pack, the battery these boards usually hang off.
func DefaultLeadAcid12V() Curve {
	return Curve{
		Voltages: []float32{12.7, 12.5, 12.4, 12.3, 12.2, 12.1, 12.0, 11.9, 11.8, 11.6, 11.4},
		Percents: []float32{100, 90, 80, 70, 60, 50, 40, 30, 20, 10, 0},
	}
}

// Valid reports whether the curve has matching lengths, at least two
// breakpoints and strictly descending voltages.
func (c Curve) Valid() bool {
	if len(c.Voltages) != len(c.Percents) || len(c.Voltages) < 2 {
		return false
	}
	for i := 1; i < len(c.Voltages); i++ {
		if c.Voltages[i] >= c.Voltages[i-1] {
			return false
		}
	}
	return true
}

// SOCFromVoltage looks up the state of charge for a resting voltage.
func (c Curve) SOCFromVoltage(voltage float32) float32 {
	if voltage >= c.Voltages[0] {
		return c.Percents[0]
	}
	last := len(c.Voltages) - 1
	if voltage <= c.Voltages[last] {
		return c.Percents[last]
	}
	for i := 1; i <= last; i++ {
		if voltage >= c.Voltages[i] {
			span := c.Voltages[i-1] - c.Voltages[i]
			frac := (voltage - c.Voltages[i]) / span
			return c.Percents[i] + frac*(c.Percents[i-1]-c.Percents[i])
		}
	}
	return c.Percents[last]
}
