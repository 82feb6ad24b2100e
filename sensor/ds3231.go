package sensor

import (
	"fmt"
	"time"

	"github.com/opensensing/battery-hat-monitor/i2cbus"
)

const (
	DS3231Address uint16 = 0x68

	ds3231TimeReg    = 0x00
	ds3231ControlReg = 0x0E
	ds3231StatusReg  = 0x0F
	ds3231TempMSBReg = 0x11

	// Oscillator-stop flag in the status register. Set when the RTC has
	// lost power, meaning the time can not be trusted.
	ds3231OSF = 0x80
)

// DS3231 is the battery-backed RTC on the HAT. Event timestamps and the
// daily statistics rollover come from it so they survive without NTP.
type DS3231 struct {
	bus *i2cbus.Manager
}

func NewDS3231(bus *i2cbus.Manager) (*DS3231, error) {
	if err := bus.CheckAddress(DS3231Address); err != nil {
		return nil, fmt.Errorf("no DS3231 found at 0x%x: %w", DS3231Address, err)
	}
	return &DS3231{bus: bus}, nil
}

func fromBCD(b byte) int {
	return int(b&0x0F) + int(b>>4)*10
}

func toBCD(n int) byte {
	return byte(n)/10<<4 + byte(n)%10
}

func (rtc *DS3231) GetTime() (time.Time, error) {
	data, err := rtc.bus.Tx(DS3231Address, []byte{ds3231TimeReg}, 7)
	if err != nil {
		return time.Time{}, err
	}
	second := fromBCD(data[0] & 0x7F)
	minute := fromBCD(data[1] & 0x7F)
	hour := fromBCD(data[2] & 0x3F) // 24 hour mode
	day := fromBCD(data[4] & 0x3F)
	month := time.Month(fromBCD(data[5] & 0x1F))
	year := 2000 + fromBCD(data[6])
	if data[5]&0x80 != 0 {
		year += 100
	}
	return time.Date(year, month, day, hour, minute, second, 0, time.UTC), nil
}

func (rtc *DS3231) SetTime(t time.Time) error {
	t = t.UTC()
	_, err := rtc.bus.Tx(DS3231Address, []byte{
		ds3231TimeReg,
		toBCD(t.Second()),
		toBCD(t.Minute()),
		toBCD(t.Hour()),
		toBCD(int(t.Weekday()) + 1),
		toBCD(t.Day()),
		toBCD(int(t.Month())),
		toBCD(t.Year() % 100)}, 0)
	if err != nil {
		return err
	}
	// Clear the oscillator-stop flag now that the time is known good.
	status, err := rtc.bus.Tx(DS3231Address, []byte{ds3231StatusReg}, 1)
	if err != nil {
		return err
	}
	_, err = rtc.bus.Tx(DS3231Address, []byte{ds3231StatusReg, status[0] &^ ds3231OSF}, 0)
	return err
}

// TimeIsValid reports whether the RTC has kept time since it was last
// set.
func (rtc *DS3231) TimeIsValid() (bool, error) {
	status, err := rtc.bus.Tx(DS3231Address, []byte{ds3231StatusReg}, 1)
	if err != nil {
		return false, err
	}
	return status[0]&ds3231OSF == 0, nil
}

// Temperature returns the die temperature in degrees Celsius, resolution
// 0.25. Useful for spotting a HAT cooking in an enclosure.
func (rtc *DS3231) Temperature() (float32, error) {
	data, err := rtc.bus.Tx(DS3231Address, []byte{ds3231TempMSBReg}, 2)
	if err != nil {
		return 0, err
	}
	return float32(int8(data[0])) + float32(data[1]>>6)*0.25, nil
}
