// Package battery implements the SOC estimation and energy accounting
// core: signal conditioning for the current and voltage sensors, a
// coulomb-counting estimator with voltage-based idle correction, the
// persistent event log and the daily energy statistics.
package battery

import "github.com/sirupsen/logrus"

var log = logrus.New()

// Status is the battery regime derived from the filtered current. It is
// recomputed on demand, never stored.
type Status string

const (
	StatusCharging    Status = "Charging"
	StatusDischarging Status = "Discharging"
	StatusIdle        Status = "Idle"
)
