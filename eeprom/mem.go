package eeprom

import (
	"encoding/binary"
	"math"
	"sync"
)

// MemStore is an in-memory Store for tests and for running the daemon on
// hardware without an EEPROM fitted. Unwritten bytes read back as 0xFF,
// matching an erased chip.
type MemStore struct {
	mu   sync.Mutex
	data map[uint16]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[uint16]byte)}
}

func (m *MemStore) writeBytes(addr uint16, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range data {
		m.data[addr+uint16(i)] = b
	}
}

func (m *MemStore) readBytes(addr uint16, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := make([]byte, n)
	for i := range data {
		b, ok := m.data[addr+uint16(i)]
		if !ok {
			b = 0xFF
		}
		data[i] = b
	}
	return data
}

func (m *MemStore) WriteFloat32(addr uint16, value float32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(value))
	m.writeBytes(addr, buf)
	return nil
}

func (m *MemStore) ReadFloat32(addr uint16) (float32, error) {
	return math.Float32frombits(binary.LittleEndian.Uint32(m.readBytes(addr, 4))), nil
}

func (m *MemStore) WriteUint32(addr uint16, value uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	m.writeBytes(addr, buf)
	return nil
}

func (m *MemStore) ReadUint32(addr uint16) (uint32, error) {
	return binary.LittleEndian.Uint32(m.readBytes(addr, 4)), nil
}

func (m *MemStore) WriteString(addr uint16, value string, maxLen int) error {
	if len(value) > maxLen-1 {
		value = value[:maxLen-1]
	}
	m.writeBytes(addr, append([]byte(value), 0x00))
	return nil
}

func (m *MemStore) ReadString(addr uint16, maxLen int) (string, error) {
	data := m.readBytes(addr, maxLen)
	for i, b := range data {
		if b == 0x00 {
			return string(data[:i]), nil
		}
	}
	return string(data), nil
}
