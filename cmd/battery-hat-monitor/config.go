package main

import (
	"errors"

	"github.com/spf13/viper"

	"github.com/opensensing/battery-hat-monitor/battery"
	"github.com/opensensing/battery-hat-monitor/sensor"
)

const defaultConfigDir = "/etc/battery-monitor"

// Config is the station-level setup: which buses and devices to talk to
// and where to serve. Battery calibration does not live here, it is on
// the EEPROM so it follows the hardware, not the SD card.
type Config struct {
	I2CBus       string  `mapstructure:"i2c-bus"`
	SerialDevice string  `mapstructure:"serial-device"`
	SerialBaud   int     `mapstructure:"serial-baud"`
	DividerRatio float32 `mapstructure:"divider-ratio"`
	ListenAddr   string  `mapstructure:"listen-addr"`
	ReadingsLog  string  `mapstructure:"readings-log"`

	// Optional SOC curve override, both lists in matching order with
	// voltages descending. Left empty the built-in lead-acid table is
	// used.
	CurveVoltages []float32 `mapstructure:"curve-voltages"`
	CurvePercents []float32 `mapstructure:"curve-percents"`
}

// ParseConfig loads config.yaml from the given directory. A missing file
// is fine, everything has a default.
func ParseConfig(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault("i2c-bus", "")
	v.SetDefault("serial-device", "")
	v.SetDefault("serial-baud", sensor.DefaultSerialBaud)
	v.SetDefault("divider-ratio", sensor.DefaultDividerRatio)
	v.SetDefault("listen-addr", ":8080")
	v.SetDefault("readings-log", "/var/log/battery-readings.csv")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("No config file found, using defaults")
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Curve returns the configured SOC curve, falling back to the default
// table when the override is absent or malformed.
func (c *Config) Curve() battery.Curve {
	if len(c.CurveVoltages) == 0 {
		return battery.DefaultLeadAcid12V()
	}
	curve := battery.Curve{Voltages: c.CurveVoltages, Percents: c.CurvePercents}
	if !curve.Valid() {
		log.Warn("Configured SOC curve is invalid, using default table")
		return battery.DefaultLeadAcid12V()
	}
	return curve
}
