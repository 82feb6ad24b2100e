package battery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensing/battery-hat-monitor/eeprom"
)

func TestEventLogRecordAndHistory(t *testing.T) {
	store := eeprom.NewMemStore()
	l, err := NewEventLog(store)
	require.NoError(t, err)

	base := time.Unix(1756000000, 0)
	require.NoError(t, l.Record(EventChargeStart, base))
	require.NoError(t, l.Record(EventSOCFull, base.Add(time.Minute)))
	require.NoError(t, l.Record(EventIdleStart, base.Add(2*time.Minute)))

	events, err := l.History()
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, EventIdleStart, events[0].Kind)
	assert.Equal(t, EventSOCFull, events[1].Kind)
	assert.Equal(t, EventChargeStart, events[2].Kind)
	assert.Equal(t, base.Add(2*time.Minute).Unix(), events[0].Time.Unix())
}

func TestEventLogWraparound(t *testing.T) {
	store := eeprom.NewMemStore()
	l, err := NewEventLog(store)
	require.NoError(t, err)

	base := time.Unix(1756000000, 0)
	for i := 0; i < eeprom.EventCapacity+3; i++ {
		kind := EventChargeStart
		if i%2 == 0 {
			kind = EventDischargeStart
		}
		require.NoError(t, l.Record(kind, base.Add(time.Duration(i)*time.Minute)))
	}

	events, err := l.History()
	require.NoError(t, err)
	require.Len(t, events, eeprom.EventCapacity)

	// The newest entry is the last one recorded; the oldest three were
	// overwritten.
	assert.Equal(t, base.Add(12*time.Minute).Unix(), events[0].Time.Unix())
	assert.Equal(t, base.Add(3*time.Minute).Unix(), events[eeprom.EventCapacity-1].Time.Unix())
}

func TestEventLogIndexSurvivesReload(t *testing.T) {
	store := eeprom.NewMemStore()
	l, err := NewEventLog(store)
	require.NoError(t, err)

	base := time.Unix(1756000000, 0)
	require.NoError(t, l.Record(EventSOCLow, base))
	require.NoError(t, l.Record(EventChargeStart, base.Add(time.Minute)))

	// Reopening the log picks up where the index left off.
	l2, err := NewEventLog(store)
	require.NoError(t, err)
	require.NoError(t, l2.Record(EventSOCFull, base.Add(2*time.Minute)))

	events, err := l2.History()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventSOCFull, events[0].Kind)
	assert.Equal(t, EventSOCLow, events[2].Kind)
}

func TestEventLogSkipsErasedSlots(t *testing.T) {
	store := eeprom.NewMemStore()
	// Index claims five records but the slots were never written.
	require.NoError(t, store.WriteUint32(eeprom.AddrEventIndex, 5))

	l, err := NewEventLog(store)
	require.NoError(t, err)
	events, err := l.History()
	require.NoError(t, err)
	assert.Empty(t, events)
}
