// Package eeprom persists calibration and estimator state in the AT24C32
// EEPROM that shares the DS3231 RTC module's I2C bus. Fields live at fixed
// byte addresses; the store does no range checking, so overlapping fields
// are a caller bug.
package eeprom

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/opensensing/battery-hat-monitor/i2cbus"
)

const (
	// AT24C32 I2C address when stacked on a DS3231 module.
	DefaultAddress = 0x57

	// The chip needs time to finish its internal write cycle before it
	// will ack the next transfer.
	writeCycleDelay = 5 * time.Millisecond
)

// Store is the byte-addressable field store consumed by the estimator,
// the event log and the calibration code.
type Store interface {
	WriteFloat32(addr uint16, value float32) error
	ReadFloat32(addr uint16) (float32, error)
	WriteUint32(addr uint16, value uint32) error
	ReadUint32(addr uint16) (uint32, error)
	WriteString(addr uint16, value string, maxLen int) error
	ReadString(addr uint16, maxLen int) (string, error)
}

// AT24C32 accesses the EEPROM chip through the shared bus manager.
type AT24C32 struct {
	bus     *i2cbus.Manager
	address uint16
}

func NewAT24C32(bus *i2cbus.Manager, address uint16) (*AT24C32, error) {
	if err := bus.CheckAddress(address); err != nil {
		return nil, fmt.Errorf("no EEPROM found at 0x%x: %w", address, err)
	}
	return &AT24C32{bus: bus, address: address}, nil
}

func (e *AT24C32) writeBytes(addr uint16, data []byte) error {
	// One byte per transaction. Page writes would be faster but can not
	// cross 32 byte page boundaries, and writes here are rare.
	for i, b := range data {
		a := addr + uint16(i)
		_, err := e.bus.Tx(e.address, []byte{byte(a >> 8), byte(a & 0xFF), b}, 0)
		if err != nil {
			return err
		}
		time.Sleep(writeCycleDelay)
	}
	return nil
}

func (e *AT24C32) readBytes(addr uint16, n int) ([]byte, error) {
	return e.bus.Tx(e.address, []byte{byte(addr >> 8), byte(addr & 0xFF)}, n)
}

func (e *AT24C32) WriteFloat32(addr uint16, value float32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(value))
	return e.writeBytes(addr, buf)
}

func (e *AT24C32) ReadFloat32(addr uint16) (float32, error) {
	data, err := e.readBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
}

func (e *AT24C32) WriteUint32(addr uint16, value uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	return e.writeBytes(addr, buf)
}

func (e *AT24C32) ReadUint32(addr uint16) (uint32, error) {
	data, err := e.readBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// WriteString stores a NUL-terminated string in a field of maxLen bytes.
// Longer strings are truncated to leave room for the terminator.
func (e *AT24C32) WriteString(addr uint16, value string, maxLen int) error {
	if len(value) > maxLen-1 {
		value = value[:maxLen-1]
	}
	return e.writeBytes(addr, append([]byte(value), 0x00))
}

func (e *AT24C32) ReadString(addr uint16, maxLen int) (string, error) {
	data, err := e.readBytes(addr, maxLen)
	if err != nil {
		return "", err
	}
	for i, b := range data {
		if b == 0x00 {
			return string(data[:i]), nil
		}
	}
	return string(data), nil
}
