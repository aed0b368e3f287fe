package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout_bot/internal/models"
)

var breakoutParams = models.BreakoutParams{
	PctThreshold:     0.4,
	MinPoints:        3.0,
	MaxPoints:        20.0,
	TargetMultiplier: 2.0,
	AskMin:           0.5,
	AskMax:           5,
}

func windowOf(prices ...float64) (*RollingWindow, models.MarketSnapshot) {
	w := NewRollingWindow(30 * time.Minute)
	t0 := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	var snap models.MarketSnapshot
	for i, p := range prices {
		at := t0.Add(time.Duration(i) * time.Minute)
		w.Push(at, p)
		snap = models.MarketSnapshot{Symbol: "SPY", Timestamp: at, Price: p}
	}
	return w, snap
}

func TestBreakoutThresholdScenario(t *testing.T) {
	assert.Equal(t, 3.0, breakoutParams.Threshold(500))

	w, snap := windowOf(500, 503.5)
	sig, ok := detectBreakout(w, snap, models.ReferenceWindowHighLow, breakoutParams)
	require.True(t, ok)
	assert.Equal(t, models.DirectionUp, sig.Direction)
	assert.Equal(t, 500.0, sig.Reference)
	assert.InDelta(t, 3.5, sig.MovePoints, 1e-9)
	assert.Equal(t, 3.0, sig.Threshold)

	w, snap = windowOf(500, 502.9)
	_, ok = detectBreakout(w, snap, models.ReferenceWindowHighLow, breakoutParams)
	assert.False(t, ok)
}

func TestBreakoutPercentThresholdDominates(t *testing.T) {
	// 0.4% от 1000 = 4 пункта > min 3
	w, snap := windowOf(1000, 1003.5)
	_, ok := detectBreakout(w, snap, models.ReferenceWindowHighLow, breakoutParams)
	assert.False(t, ok)

	w, snap = windowOf(1000, 1004.5)
	_, ok = detectBreakout(w, snap, models.ReferenceWindowHighLow, breakoutParams)
	assert.True(t, ok)
}

func TestBreakoutDownAndCeiling(t *testing.T) {
	w, snap := windowOf(500, 498, 496.5)
	sig, ok := detectBreakout(w, snap, models.ReferenceWindowHighLow, breakoutParams)
	require.True(t, ok)
	assert.Equal(t, models.DirectionDown, sig.Direction)
	assert.Equal(t, 500.0, sig.Reference)
	assert.Equal(t, models.OptionPut, sig.Direction.OptionSide())

	w, snap = windowOf(500, 521)
	_, ok = detectBreakout(w, snap, models.ReferenceWindowHighLow, breakoutParams)
	assert.False(t, ok, "move above max points is a gap, not a breakout")
}

func TestBreakoutNeedsTwoPoints(t *testing.T) {
	w, snap := windowOf(500)
	_, ok := detectBreakout(w, snap, models.ReferenceWindowHighLow, breakoutParams)
	assert.False(t, ok)
}

func TestBreakoutReferenceTypes(t *testing.T) {
	w, snap := windowOf(500, 499, 501, 504)

	sig, ok := detectBreakout(w, snap, models.ReferenceOpen, breakoutParams)
	require.True(t, ok)
	assert.Equal(t, 500.0, sig.Reference)

	_, ok = detectBreakout(w, snap, models.ReferencePrevClose, breakoutParams)
	assert.False(t, ok, "504 vs previous 501 is exactly 3 points")

	_, ok = detectBreakout(w, snap, models.ReferenceVWAP, breakoutParams)
	assert.False(t, ok, "mean 501 leaves a 3 point move")
}

func TestRegimeParams(t *testing.T) {
	cfg := models.DefaultStrategy()
	at := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

	_, _, err := regimeParams(cfg, models.MarketSnapshot{Timestamp: at, Price: 500})
	assert.ErrorIs(t, err, errVIXUnavailable, "missing vix")

	_, _, err = regimeParams(cfg, models.MarketSnapshot{Timestamp: at, Price: 500, VIX: 30, VIXAt: at.Add(-time.Hour)})
	assert.ErrorIs(t, err, errVIXUnavailable, "stale vix")

	p, regime, err := regimeParams(cfg, models.MarketSnapshot{Timestamp: at, Price: 500, VIX: 30, VIXAt: at})
	require.NoError(t, err)
	assert.Equal(t, models.RegimeHigh, regime)
	assert.Equal(t, cfg.VIX.High, p)

	p, regime, err = regimeParams(cfg, models.MarketSnapshot{Timestamp: at, Price: 500, VIX: 18, VIXAt: at})
	require.NoError(t, err)
	assert.Equal(t, models.RegimeLow, regime)
	assert.Equal(t, cfg.VIX.Low, p)

	cfg.VIX.Enabled = false
	p, regime, err = regimeParams(cfg, models.MarketSnapshot{Timestamp: at, Price: 500})
	require.NoError(t, err)
	assert.Equal(t, models.RegimeBase, regime)
	assert.Equal(t, cfg.Breakout, p)
}
