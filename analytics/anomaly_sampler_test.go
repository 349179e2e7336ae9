package analytics

import (
	"testing"
	"time"

	"rssi-haptics/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func reading(strength int, offset time.Duration) models.SignalReading {
	return models.SignalReading{Strength: strength, ObservedAt: t0.Add(offset)}
}

func TestAnomalySamplerDebounce(t *testing.T) {
	s := NewAnomalySampler(DefaultIntensityMappingConfig())

	assert.True(t, s.Evaluate(reading(-70, 0)).Admitted)
	assert.False(t, s.Evaluate(reading(-71, 150*time.Millisecond)).Admitted)
	assert.Equal(t, 1, s.Size())

	// the window is measured from the last admission, not the last observation
	assert.True(t, s.Evaluate(reading(-72, 200*time.Millisecond)).Admitted)
	assert.Equal(t, 2, s.Size())

	assert.False(t, s.Evaluate(reading(-73, 399*time.Millisecond)).Admitted)
	assert.True(t, s.Evaluate(reading(-74, 450*time.Millisecond)).Admitted)
	assert.Equal(t, 3, s.Size())
}

func TestAnomalySamplerWarmingUp(t *testing.T) {
	s := NewAnomalySampler(DefaultIntensityMappingConfig())

	ev := s.Evaluate(reading(-90, 0))
	assert.Equal(t, ModeWarmingUp, ev.Mode)
	assert.Equal(t, models.None(), ev.Command)

	// still a single admitted sample; a very strong raw reading is ignored
	assert.Equal(t, models.None(), s.Observe(reading(-10, 50*time.Millisecond)))
	assert.Equal(t, 1, s.Size())
}

func TestAnomalySamplerFlat(t *testing.T) {
	s := NewAnomalySampler(DefaultIntensityMappingConfig())
	for i := 0; i < 4; i++ {
		s.Observe(reading(-60, time.Duration(i)*200*time.Millisecond))
	}
	require.Equal(t, 4, s.Size())

	ev := s.Evaluate(reading(-60, 800*time.Millisecond))
	assert.True(t, ev.Admitted)
	assert.Equal(t, ModeFlat, ev.Mode)
	assert.Equal(t, 0.0, ev.StdDev)
	assert.Equal(t, models.None(), ev.Command)

	// flat baseline gives nothing to compare against, even for a spike
	assert.Equal(t, models.None(), s.Observe(reading(-30, 850*time.Millisecond)))
}

func TestAnomalySamplerMapping(t *testing.T) {
	s := NewAnomalySampler(DefaultIntensityMappingConfig())
	s.Observe(reading(-75, 0))
	s.Observe(reading(-65, 200*time.Millisecond))

	// the remaining readings fall inside the debounce window, so the
	// baseline stays at mean -70, stddev 5
	ev := s.Evaluate(reading(-69, 250*time.Millisecond))
	require.False(t, ev.Admitted)
	assert.Equal(t, ModeScoring, ev.Mode)
	assert.Equal(t, -70.0, ev.Mean)
	assert.Equal(t, 5.0, ev.StdDev)
	assert.InDelta(t, 0.2, ev.ZScore, 1e-12)
	assert.Equal(t, models.None(), ev.Command)

	assert.Equal(t, models.Pulse(255), s.Observe(reading(-61, 260*time.Millisecond)))
	assert.Equal(t, models.Pulse(66), s.Observe(reading(-67, 270*time.Millisecond)))
	assert.Equal(t, models.None(), s.Observe(reading(-70, 280*time.Millisecond)))
	assert.Equal(t, models.None(), s.Observe(reading(-90, 290*time.Millisecond)))
	assert.Equal(t, 2, s.Size())
}

func TestAnomalySamplerScoreIsPure(t *testing.T) {
	s := NewAnomalySampler(DefaultIntensityMappingConfig())
	for i, v := range []int{-80, -72, -77, -69, -74} {
		s.Observe(reading(v, time.Duration(i)*time.Second))
	}
	before := s.window.Values()

	first := s.Score(-66)
	second := s.Score(-66)
	assert.Equal(t, first, second)
	assert.True(t, first.Command.IsPulse())
	assert.Equal(t, before, s.window.Values())
}

func TestAnomalySamplerReset(t *testing.T) {
	s := NewAnomalySampler(DefaultIntensityMappingConfig())
	s.Observe(reading(-75, 0))
	s.Observe(reading(-65, 200*time.Millisecond))
	require.Equal(t, 2, s.Size())

	s.Reset()
	assert.Equal(t, 0, s.Size())

	// a reading inside the old debounce window is admitted after a reset
	assert.True(t, s.Evaluate(reading(-60, 250*time.Millisecond)).Admitted)
	assert.Equal(t, 1, s.Size())
}

func TestAnomalySamplerCapacity(t *testing.T) {
	s := NewAnomalySampler(DefaultIntensityMappingConfig())
	for i := 0; i < MaxSamples+25; i++ {
		s.Observe(reading(-60-i%7, time.Duration(i)*200*time.Millisecond))
	}
	assert.Equal(t, MaxSamples, s.Size())
}
