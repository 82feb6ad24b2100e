package sensor

import (
	"errors"
	"fmt"
	"time"

	"github.com/opensensing/battery-hat-monitor/i2cbus"
)

const (
	ADS1115Address uint16 = 0x48

	// DefaultDividerRatio matches the 100k/10k divider fitted to the
	// HAT's voltage sense input.
	DefaultDividerRatio = 11.0

	adsConversionReg = 0x00
	adsConfigReg     = 0x01

	// Config register fields for a single-shot conversion at 860 SPS
	// with the comparator disabled.
	adsOSSingle    = 0x8000
	adsModeSingle  = 0x0100
	adsRate860SPS  = 0x00E0
	adsCompDisable = 0x0003

	// MUX values for single-ended channels.
	adsMuxAIN0 = 0x4000
	adsMuxAIN1 = 0x5000

	// PGA full-scale ranges.
	adsPGA4096 = 0x0200 // +-4.096V, current sensor output
	adsPGA2048 = 0x0400 // +-2.048V, divided battery voltage

	conversionPollInterval = time.Millisecond
	conversionTimeout      = 20 * time.Millisecond
)

// Channel assignment on the HAT.
const (
	currentChannel = 0
	voltageChannel = 1
)

var errConversionTimeout = errors.New("ads1115 conversion timed out")

// ADS1115 reads the analog sensors through the shared bus manager.
type ADS1115 struct {
	bus *i2cbus.Manager
	// DividerRatio converts the divided voltage at AIN1 back to the bus
	// voltage, (R1+R2)/R2 for the on-board divider.
	DividerRatio float32
}

func NewADS1115(bus *i2cbus.Manager, dividerRatio float32) (*ADS1115, error) {
	if err := bus.CheckAddress(ADS1115Address); err != nil {
		return nil, fmt.Errorf("no ADS1115 found at 0x%x: %w", ADS1115Address, err)
	}
	return &ADS1115{bus: bus, DividerRatio: dividerRatio}, nil
}

// readChannel triggers a single-shot conversion and returns the input
// voltage in millivolts.
func (a *ADS1115) readChannel(channel int) (float32, error) {
	var mux, pga uint16
	var fsrMillivolts float32
	switch channel {
	case currentChannel:
		mux, pga, fsrMillivolts = adsMuxAIN0, adsPGA4096, 4096
	case voltageChannel:
		mux, pga, fsrMillivolts = adsMuxAIN1, adsPGA2048, 2048
	default:
		return 0, fmt.Errorf("no such channel: %d", channel)
	}

	config := uint16(adsOSSingle | adsModeSingle | adsRate860SPS | adsCompDisable)
	config |= mux | pga
	_, err := a.bus.Tx(ADS1115Address, []byte{adsConfigReg, byte(config >> 8), byte(config & 0xFF)}, 0)
	if err != nil {
		return 0, err
	}

	// Wait for the OS bit to signal conversion complete.
	deadline := time.Now().Add(conversionTimeout)
	for {
		status, err := a.bus.Tx(ADS1115Address, []byte{adsConfigReg}, 2)
		if err != nil {
			return 0, err
		}
		if status[0]&0x80 != 0 {
			break
		}
		if time.Now().After(deadline) {
			return 0, errConversionTimeout
		}
		time.Sleep(conversionPollInterval)
	}

	raw, err := a.bus.Tx(ADS1115Address, []byte{adsConversionReg}, 2)
	if err != nil {
		return 0, err
	}
	counts := int16(uint16(raw[0])<<8 | uint16(raw[1]))
	return float32(counts) / 32768.0 * fsrMillivolts, nil
}

func (a *ADS1115) ReadRawCurrentMillivolts() (float32, error) {
	return a.readChannel(currentChannel)
}

func (a *ADS1115) ReadBusVoltage() (float32, error) {
	mv, err := a.readChannel(voltageChannel)
	if err != nil {
		return 0, err
	}
	return mv / 1000.0 * a.DividerRatio, nil
}
