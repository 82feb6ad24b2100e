package i2cbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Parameters for transaction retries.
const (
	maxTxAttempts   = 3
	txRetryInterval = 20 * time.Millisecond
)

var log = logrus.New()

// Manager serializes access to a single I2C bus. The EEPROM, the ADC and
// the RTC all sit on the same bus, so every transaction goes through one
// queue and devices never interleave transfers.
type Manager struct {
	bus      i2c.Bus
	requests chan request
	count    int
	mu       sync.Mutex
}

type request struct {
	requestTime time.Time
	requestID   int
	address     uint16
	write       []byte
	readLen     int
	response    chan response
}

type response struct {
	data []byte
	err  error
}

// Open initializes the periph host drivers and opens the default I2C bus.
func Open(name string) (*Manager, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, err
	}
	return NewManager(bus), nil
}

// NewManager wraps an already opened bus. Used directly in tests.
func NewManager(bus i2c.Bus) *Manager {
	m := &Manager{
		bus:      bus,
		requests: make(chan request, 20),
	}
	go func() {
		for req := range m.requests {
			req.response <- m.processTransaction(req)
		}
	}()
	return m
}

// Tx performs a write followed by a read as a single transaction,
// retrying on bus errors.
func (m *Manager) Tx(address uint16, write []byte, readLen int) ([]byte, error) {
	m.mu.Lock()
	requestID := m.count
	m.count++
	m.mu.Unlock()

	responseChan := make(chan response, 1)
	m.requests <- request{
		requestTime: time.Now(),
		requestID:   requestID,
		address:     address,
		write:       write,
		readLen:     readLen,
		response:    responseChan,
	}
	res := <-responseChan
	return res.data, res.err
}

// CheckAddress probes for a device by attempting a one byte read.
func (m *Manager) CheckAddress(address uint16) error {
	_, err := m.Tx(address, []byte{0x00}, 1)
	return err
}

func (m *Manager) processTransaction(req request) response {
	startTime := time.Now()
	log.Debugf("Waited %s for request '%d' to be processed", startTime.Sub(req.requestTime), req.requestID)

	read := make([]byte, req.readLen)
	var err error
	for i := 0; i < maxTxAttempts; i++ {
		txStartTime := time.Now()
		err = m.bus.Tx(req.address, req.write, read)
		if err == nil {
			log.Debugf("I2C Tx succeeded after %d retries, took %s", i, time.Since(txStartTime))
			return response{data: read}
		}
		if i < maxTxAttempts-1 {
			log.Debugf("I2C Tx failed, retrying %d more times: %s", maxTxAttempts-1-i, err)
			time.Sleep(txRetryInterval)
		}
	}
	log.Errorf("I2C Tx failed. Address 0x%x, Write %v, ReadLen %d", req.address, req.write, req.readLen)
	return response{err: fmt.Errorf("i2c tx to 0x%x failed: %w", req.address, err)}
}
