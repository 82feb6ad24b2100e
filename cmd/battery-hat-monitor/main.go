/*
battery-hat-monitor - Battery state of charge monitoring HAT daemon.
Copyright (C) 2026, The Open Sensing Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"

	"github.com/opensensing/battery-hat-monitor/battery"
	"github.com/opensensing/battery-hat-monitor/eeprom"
	"github.com/opensensing/battery-hat-monitor/i2cbus"
	"github.com/opensensing/battery-hat-monitor/sensor"
)

const (
	// The sampler runs flat out between conditioning intervals; one
	// ADS1115 single-shot conversion takes around a millisecond anyway.
	sampleInterval       = time.Millisecond
	conditioningInterval = 100 * time.Millisecond
	rolloverInterval     = time.Minute

	maxReadingLines = 2000
)

var version = "No version provided"

var log = logrus.New()

type argSpec struct {
	ConfigDir      string `arg:"-c,--config" help:"Path to the configuration directory"`
	LogRateMinutes int    `arg:"--log-rate" help:"Readings log rate in minutes"`
	LogLevel       string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

func (argSpec) Version() string {
	return version
}

func procArgs() argSpec {
	args := argSpec{
		ConfigDir:      defaultConfigDir,
		LogRateMinutes: 5,
	}
	arg.MustParse(&args)
	return args
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err.Error())
	}
}

func runMain() error {
	log.SetFormatter(new(customFormatter))
	logRing := &ringHook{}
	log.AddHook(logRing)

	args := procArgs()
	setLogLevel(args.LogLevel)
	log.Info("Running version: ", version)

	config, err := ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}

	bus := openBus(config)
	store := openStore(bus)
	source := openSource(bus, config)
	if source == nil {
		log.Error("No measurement source found, running without sensor readings")
	}
	rtc := openRTC(bus)

	monitor := battery.NewMonitor(store, config.Curve())
	steps := monitor.BootSteps(wallClock(rtc))
	for i, step := range steps {
		log.Infof("Boot step %d/%d: %s", i+1, len(steps), step.Name)
		if err := step.Run(); err != nil {
			log.Errorf("Boot step %s failed, continuing with defaults: %v", step.Name, err)
		}
	}

	if err := startService(monitor, source != nil, time.Now); err != nil {
		log.Warnf("Starting dbus service: %v", err)
	}

	apiServer := newAPI(monitor, logRing, time.Now)
	go func() {
		log.Info("Serving HTTP on ", config.ListenAddr)
		if err := http.ListenAndServe(config.ListenAddr, apiServer.routes()); err != nil {
			log.Errorf("HTTP server: %v", err)
		}
	}()

	// Flush state before systemd takes us down.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	if source != nil {
		go sampleLoop(monitor, source)
	}
	return monitorLoop(monitor, source, rtc, config, args, sigs)
}

// openBus opens the I2C bus manager. All on-bus peripherals are
// optional, so a missing bus only degrades the daemon.
func openBus(config *Config) *i2cbus.Manager {
	bus, err := i2cbus.Open(config.I2CBus)
	if err != nil {
		log.Warnf("Opening I2C bus: %v", err)
		return nil
	}
	return bus
}

// openStore finds the EEPROM, falling back to a memory store that will
// not survive a restart.
func openStore(bus *i2cbus.Manager) eeprom.Store {
	if bus != nil {
		store, err := eeprom.NewAT24C32(bus, eeprom.DefaultAddress)
		if err == nil {
			log.Infof("Using EEPROM at 0x%x", eeprom.DefaultAddress)
			return store
		}
		log.Warnf("No EEPROM found: %v", err)
	}
	log.Warn("Using in-memory store, state will not survive restarts")
	return eeprom.NewMemStore()
}

// openSource picks the measurement source: the on-board ADC when fitted,
// otherwise the serial sensor board. A nil source means no sensors were
// found; the daemon still runs, it just stops ticking the estimator.
func openSource(bus *i2cbus.Manager, config *Config) sensor.Source {
	if bus != nil {
		adc, err := sensor.NewADS1115(bus, config.DividerRatio)
		if err == nil {
			log.Info("Reading from on-board ADS1115")
			return adc
		}
		log.Warnf("No ADS1115 found: %v", err)
	}
	if config.SerialDevice != "" {
		serial, err := sensor.OpenSerialSource(config.SerialDevice, config.SerialBaud)
		if err != nil {
			log.Warnf("Opening serial sensor: %v", err)
			return nil
		}
		log.Info("Reading from serial sensor on ", config.SerialDevice)
		return serial
	}
	return nil
}

func openRTC(bus *i2cbus.Manager) *sensor.DS3231 {
	if bus == nil {
		return nil
	}
	rtc, err := sensor.NewDS3231(bus)
	if err != nil {
		log.Warnf("No RTC found, using system clock: %v", err)
		return nil
	}
	if valid, err := rtc.TimeIsValid(); err != nil || !valid {
		log.Warn("RTC time is not valid, using system clock")
		return nil
	}
	return rtc
}

// wallClock returns the RTC time when a trusted RTC is fitted, otherwise
// the system clock. Only used for calendar decisions; tick timing always
// uses the system clock.
func wallClock(rtc *sensor.DS3231) time.Time {
	if rtc != nil {
		if t, err := rtc.GetTime(); err == nil {
			return t
		}
	}
	return time.Now()
}

// sampleLoop feeds raw current readings to the monitor as fast as the
// source produces them.
func sampleLoop(monitor *battery.Monitor, source sensor.Source) {
	for {
		mv, err := source.ReadRawCurrentMillivolts()
		if err != nil {
			log.Debugf("Reading current sensor: %v", err)
			time.Sleep(conditioningInterval)
			continue
		}
		monitor.AcquireSample(mv)
		time.Sleep(sampleInterval)
	}
}

func monitorLoop(monitor *battery.Monitor, source sensor.Source, rtc *sensor.DS3231,
	config *Config, args argSpec, sigs chan os.Signal) error {

	if err := keepLastLines(config.ReadingsLog, maxReadingLines); err != nil {
		log.Warnf("Trimming readings log: %v", err)
	}
	trimLogTime := time.Now()

	intervalTicker := time.NewTicker(conditioningInterval)
	rolloverTicker := time.NewTicker(rolloverInterval)
	logTicker := time.NewTicker(time.Duration(args.LogRateMinutes) * time.Minute)

	for {
		select {
		case <-intervalTicker.C:
			if source == nil {
				continue
			}
			voltage, err := source.ReadBusVoltage()
			if err != nil {
				log.Debugf("Reading bus voltage: %v", err)
				continue
			}
			monitor.IntervalTick(voltage, time.Now())
			monitor.MaybePersist(time.Now())

		case <-rolloverTicker.C:
			monitor.CheckRollover(wallClock(rtc))

		case <-logTicker.C:
			data := monitor.Snapshot()
			log.Infof("Voltage: %.2fV, current: %.2fA, SOC: %.1f%%", data.Voltage, data.Current, data.SOC)
			if err := appendReading(config.ReadingsLog, data); err != nil {
				log.Warnf("Writing readings log: %v", err)
			}
			if time.Since(trimLogTime) > 24*time.Hour {
				if err := keepLastLines(config.ReadingsLog, maxReadingLines); err != nil {
					log.Warnf("Trimming readings log: %v", err)
				}
				trimLogTime = time.Now()
			}

		case sig := <-sigs:
			log.Infof("Received %s, persisting state", sig)
			monitor.PersistNow()
			return nil
		}
	}
}

func appendReading(filePath string, data battery.LiveData) error {
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s, %.2f, %.2f, %.1f, %s", time.Now().Format("2006-01-02 15:04:05"),
		data.Voltage, data.Current, data.SOC, data.Status)
	_, err = file.WriteString(line + "\n")
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// keepLastLines keeps the last `maxLines` lines of the specified file.
func keepLastLines(filePath string, maxLines int) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}
	tmpFile := filepath.Join(os.TempDir(), filepath.Base(filePath)+".tmp")
	err := os.Remove(tmpFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	commands := []string{"sh", "-c", fmt.Sprintf("tail -n %d %s > %s", maxLines, filePath, tmpFile)}
	cmd := exec.Command(commands[0], commands[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("err running '%s', %v, %v", strings.Join(commands, " "), string(out), err)
	}
	return os.Rename(tmpFile, filePath)
}
