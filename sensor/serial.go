package sensor

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sigurn/crc8"
	"github.com/tarm/serial"
)

// Frame format from the UART sensor board:
//
//	byte 0   frame start marker 0x5A
//	byte 1-2 raw current sensor output, big endian, tenths of a millivolt
//	byte 3-4 bus voltage, big endian, millivolts
//	byte 5   CRC-8 over bytes 0-4
const (
	DefaultSerialBaud = 9600

	frameMarker = 0x5A
	frameLen    = 6
)

var errBadCRC = errors.New("bad crc")
var errBadFrame = errors.New("bad frame")

// Same CRC-8 parameters as the AHT20 family of sensor chips.
var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

// SerialSource reads measurement frames from a UART-attached sensor
// board. It is the fallback for HATs without the on-board ADC.
type SerialSource struct {
	port     *serial.Port
	lockFile *os.File

	// The sampler goroutine refreshes the cache while the tick loop
	// reads the voltage from its own goroutine.
	mu            sync.Mutex
	lastCurrentMv float32
	lastBusV      float32
	lastFrame     time.Time
}

// OpenSerialSource locks the serial device and opens the port. Release
// with Close.
func OpenSerialSource(device string, baud int) (*SerialSource, error) {
	// Hold a separate flock on the device so two daemons can't fight
	// over the port.
	lockFile, err := os.OpenFile(device, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		if errno, ok := err.(syscall.Errno); ok && errno == syscall.EWOULDBLOCK {
			return nil, fmt.Errorf("serial port %s is locked by another process", device)
		}
		return nil, err
	}

	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud, ReadTimeout: time.Second})
	if err != nil {
		syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		lockFile.Close()
		return nil, err
	}
	return &SerialSource{port: port, lockFile: lockFile}, nil
}

func (s *SerialSource) Close() error {
	if s.port != nil {
		s.port.Close()
	}
	if s.lockFile != nil {
		syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
		return s.lockFile.Close()
	}
	return nil
}

// parseFrame decodes one sensor frame.
func parseFrame(data []byte) (currentMv float32, busV float32, err error) {
	if len(data) != frameLen || data[0] != frameMarker {
		return 0, 0, errBadFrame
	}
	if crc8.Checksum(data[:frameLen-1], crcTable) != data[frameLen-1] {
		return 0, 0, errBadCRC
	}
	rawCurrent := uint16(data[1])<<8 | uint16(data[2])
	rawVoltage := uint16(data[3])<<8 | uint16(data[4])
	return float32(rawCurrent) / 10.0, float32(rawVoltage) / 1000.0, nil
}

// poll reads bytes until it finds a valid frame or the port read times
// out. On success the cached readings are refreshed.
func (s *SerialSource) poll() error {
	buf := make([]byte, 1)
	frame := make([]byte, 0, frameLen)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return errBadFrame
		}
		if len(frame) == 0 && buf[0] != frameMarker {
			continue
		}
		frame = append(frame, buf[0])
		if len(frame) < frameLen {
			continue
		}
		currentMv, busV, err := parseFrame(frame)
		if err != nil {
			log.Debugf("Dropping frame: %v", err)
			frame = frame[:0]
			continue
		}
		s.storeFrame(currentMv, busV)
		return nil
	}
}

func (s *SerialSource) storeFrame(currentMv, busV float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCurrentMv = currentMv
	s.lastBusV = busV
	s.lastFrame = time.Now()
}

func (s *SerialSource) ReadRawCurrentMillivolts() (float32, error) {
	err := s.poll()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && time.Since(s.lastFrame) > 5*time.Second {
		return s.lastCurrentMv, err
	}
	return s.lastCurrentMv, nil
}

func (s *SerialSource) ReadBusVoltage() (float32, error) {
	// Frames carry both values; ReadRawCurrentMillivolts already
	// refreshed the cache on this pass.
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBusV, nil
}
