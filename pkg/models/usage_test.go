package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotMap(t *testing.T) {
	var s Snapshot
	m := s.Map()
	assert.Len(t, m, len(SnapshotKeys))
	for _, key := range SnapshotKeys {
		_, ok := m[key]
		assert.True(t, ok, "missing key %s", key)
	}
	assert.Nil(t, m[KeyLastReadingTime])

	ts := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	s.LastReadingTime = &ts
	s.CostToday = 0.6
	m = s.Map()
	assert.Equal(t, ts, m[KeyLastReadingTime])
	assert.Equal(t, 0.6, m[KeyCostToday])
}

func TestSensors(t *testing.T) {
	seen := map[string]bool{}
	for _, sensor := range Sensors {
		assert.False(t, seen[sensor.Key], "duplicate sensor %s", sensor.Key)
		seen[sensor.Key] = true
		assert.Equal(t, Unit(sensor.Key), sensor.Unit, sensor.Key)
	}
	assert.Equal(t, "", Unit(KeyLastReadingTime))
	assert.Equal(t, "EUR/kWh", Unit(KeyPricePerKWh))
}
