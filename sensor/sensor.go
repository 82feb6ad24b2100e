// Package sensor provides the raw measurement sources for the battery
// monitor: an ADS1115 ADC carrying the hall-effect current sensor and the
// battery voltage divider, an optional UART-attached sensor board, and
// the DS3231 RTC used for event timestamps.
package sensor

import "github.com/sirupsen/logrus"

var log = logrus.New()

// Source yields one instantaneous reading pair. Implementations must be
// cheap enough to call at the sampling rate (hundreds of Hz) without
// blocking for longer than a transaction.
type Source interface {
	// ReadRawCurrentMillivolts returns the raw sensor output voltage in
	// millivolts, before zero-offset and sensitivity scaling.
	ReadRawCurrentMillivolts() (float32, error)

	// ReadBusVoltage returns the battery bus voltage in volts, already
	// corrected for the on-board divider but not for calibration offset.
	ReadBusVoltage() (float32, error)
}
