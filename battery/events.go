package battery

import (
	"time"

	"github.com/opensensing/battery-hat-monitor/eeprom"
)

// EventKind identifies a discrete battery transition.
type EventKind uint32

const (
	EventSOCFull EventKind = iota
	EventSOCLow
	EventVoltageHigh
	EventVoltageLow
	EventChargeStart
	EventDischargeStart
	EventIdleStart
	EventSOCCorrected
)

func (k EventKind) String() string {
	switch k {
	case EventSOCFull:
		return "SOC_FULL"
	case EventSOCLow:
		return "SOC_LOW"
	case EventVoltageHigh:
		return "VOLTAGE_HIGH"
	case EventVoltageLow:
		return "VOLTAGE_LOW"
	case EventChargeStart:
		return "CHARGE_START"
	case EventDischargeStart:
		return "DISCHARGE_START"
	case EventIdleStart:
		return "IDLE_START"
	case EventSOCCorrected:
		return "SOC_CORRECTED"
	default:
		return "UNKNOWN"
	}
}

// Event is one entry in the persistent history.
type Event struct {
	Time time.Time
	Kind EventKind
}

// EventLog is a fixed-capacity ring of events in the EEPROM. The write
// index only ever advances; once the ring is full the oldest record is
// overwritten. There is no separate "full" signal.
type EventLog struct {
	store eeprom.Store
	index uint32
}

// NewEventLog loads the ring index from the store. An erased index field
// starts the ring from slot zero.
func NewEventLog(store eeprom.Store) (*EventLog, error) {
	index, err := store.ReadUint32(eeprom.AddrEventIndex)
	if err != nil {
		return nil, err
	}
	if index == 0xFFFFFFFF {
		index = 0
	}
	return &EventLog{store: store, index: index}, nil
}

func recordAddr(slot uint32) uint16 {
	return eeprom.AddrEventRing + uint16(slot)*eeprom.EventRecordSize
}

// Record stamps the event and writes it into the next ring slot.
func (l *EventLog) Record(kind EventKind, now time.Time) error {
	addr := recordAddr(l.index % eeprom.EventCapacity)
	if err := l.store.WriteUint32(addr, uint32(now.Unix())); err != nil {
		return err
	}
	if err := l.store.WriteUint32(addr+4, uint32(kind)); err != nil {
		return err
	}
	l.index++
	return l.store.WriteUint32(eeprom.AddrEventIndex, l.index)
}

// History returns the stored events newest first. Slots never written
// read back as erased bytes and are skipped.
func (l *EventLog) History() ([]Event, error) {
	count := l.index
	if count > eeprom.EventCapacity {
		count = eeprom.EventCapacity
	}
	events := make([]Event, 0, count)
	for i := uint32(1); i <= count; i++ {
		slot := (l.index - i) % eeprom.EventCapacity
		addr := recordAddr(slot)
		ts, err := l.store.ReadUint32(addr)
		if err != nil {
			return nil, err
		}
		kind, err := l.store.ReadUint32(addr + 4)
		if err != nil {
			return nil, err
		}
		if ts == 0xFFFFFFFF {
			continue
		}
		events = append(events, Event{
			Time: time.Unix(int64(ts), 0),
			Kind: EventKind(kind),
		})
	}
	return events, nil
}
