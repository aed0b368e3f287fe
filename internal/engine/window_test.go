package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRollingWindowEvictsOldPoints(t *testing.T) {
	w := NewRollingWindow(30 * time.Minute)
	t0 := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

	w.Push(t0, 510)
	w.Push(t0.Add(10*time.Minute), 500)
	w.Push(t0.Add(20*time.Minute), 505)
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 510.0, w.High())
	assert.Equal(t, 500.0, w.Low())

	w.Push(t0.Add(31*time.Minute), 503)
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 505.0, w.High())
	assert.Equal(t, 500.0, w.Low())
	assert.False(t, w.Oldest().Before(t0.Add(time.Minute)))

	w.Push(t0.Add(41*time.Minute), 504)
	assert.Equal(t, 505.0, w.High())
	assert.Equal(t, 503.0, w.Low())
	assert.InDelta(t, (505.0+503.0+504.0)/3, w.Mean(), 1e-9)
}

func TestRollingWindowNeverHoldsPointsOlderThanSpan(t *testing.T) {
	span := 5 * time.Minute
	w := NewRollingWindow(span)
	t0 := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 600; i++ {
		now := t0.Add(time.Duration(i) * 7 * time.Second)
		w.Push(now, 500+float64(i%13))
		assert.False(t, w.Oldest().Before(now.Add(-span)), "step %d", i)
	}
}

func TestRollingWindowReferences(t *testing.T) {
	w := NewRollingWindow(time.Hour)
	t0 := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	w.Push(t0, 500)
	w.Push(t0.Add(time.Minute), 502)
	w.Push(t0.Add(2*time.Minute), 501)

	assert.Equal(t, 500.0, w.First())
	assert.Equal(t, 502.0, w.Previous())
	assert.InDelta(t, 501.0, w.Mean(), 1e-9)
}
