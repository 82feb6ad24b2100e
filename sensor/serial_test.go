package sensor

import (
	"testing"

	"github.com/sigurn/crc8"
	"github.com/stretchr/testify/assert"
)

func makeFrame(currentTenthMv, voltageMv uint16) []byte {
	frame := []byte{
		frameMarker,
		byte(currentTenthMv >> 8), byte(currentTenthMv & 0xFF),
		byte(voltageMv >> 8), byte(voltageMv & 0xFF),
	}
	return append(frame, crc8.Checksum(frame, crcTable))
}

func TestParseFrame(t *testing.T) {
	// 2512.3mV from the current sensor, 12.68V on the bus.
	frame := makeFrame(25123, 12680)

	currentMv, busV, err := parseFrame(frame)
	assert.NoError(t, err)
	assert.InDelta(t, 2512.3, currentMv, 0.01)
	assert.InDelta(t, 12.68, busV, 0.001)
}

func TestParseFrameBadCRC(t *testing.T) {
	frame := makeFrame(25000, 12000)
	frame[2] ^= 0x01 // corrupt a payload byte

	_, _, err := parseFrame(frame)
	assert.Equal(t, errBadCRC, err)
}

func TestParseFrameBadMarker(t *testing.T) {
	frame := makeFrame(25000, 12000)
	frame[0] = 0xA5

	_, _, err := parseFrame(frame)
	assert.Equal(t, errBadFrame, err)
}

func TestParseFrameShort(t *testing.T) {
	_, _, err := parseFrame([]byte{frameMarker, 0x01})
	assert.Equal(t, errBadFrame, err)
}

func TestSerialCacheConcurrentAccess(t *testing.T) {
	// The sampler goroutine writes the cache while the tick loop reads
	// it; run both under the race detector.
	s := &SerialSource{}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.storeFrame(2500, 12.8)
		}
		close(done)
	}()
	for i := 0; i < 1000; i++ {
		v, err := s.ReadBusVoltage()
		assert.NoError(t, err)
		assert.True(t, v == 0 || v == 12.8)
	}
	<-done

	v, err := s.ReadBusVoltage()
	assert.NoError(t, err)
	assert.Equal(t, float32(12.8), v)
}

func TestBCDConversion(t *testing.T) {
	for n := 0; n < 100; n++ {
		assert.Equal(t, n, fromBCD(toBCD(n)))
	}
	assert.Equal(t, byte(0x59), toBCD(59))
	assert.Equal(t, 59, fromBCD(0x59))
}
