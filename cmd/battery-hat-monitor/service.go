package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/opensensing/battery-hat-monitor/battery"
)

const (
	dbusName = "org.opensensing.BatteryMonitor"
	dbusPath = "/org/opensensing/BatteryMonitor"
)

type service struct {
	monitor *battery.Monitor
	present bool
	now     func() time.Time
}

func startService(monitor *battery.Monitor, present bool, now func() time.Time) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{
		monitor: monitor,
		present: present,
		now:     now,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// IsPresent returns whether a measurement source was detected at boot.
func (s service) IsPresent() (bool, *dbus.Error) {
	return s.present, nil
}

// LiveData returns the current telemetry snapshot as JSON.
func (s service) LiveData() (string, *dbus.Error) {
	data, err := json.Marshal(s.monitor.Snapshot())
	if err != nil {
		return "", makeDbusError(".LiveData", err)
	}
	return string(data), nil
}

// SetStateOfCharge resets the SOC to the given percentage.
func (s service) SetStateOfCharge(soc float64) *dbus.Error {
	log.Infof("SOC set to %.1f%% over dbus", soc)
	if err := s.monitor.SetSOC(float32(soc), s.now()); err != nil {
		return makeDbusError(".SetStateOfCharge", err)
	}
	return nil
}

// ResetStatistics zeroes the cycle count and energy totals.
func (s service) ResetStatistics() *dbus.Error {
	log.Info("Statistics reset over dbus")
	if err := s.monitor.ResetStatistics(s.now()); err != nil {
		return makeDbusError(".ResetStatistics", err)
	}
	return nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}
