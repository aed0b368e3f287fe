package engine

import (
	"math"

	"breakout_bot/internal/models"
)

// regimeParams пороги под текущий VIX. Пересчитывается на каждом снапшоте.
func regimeParams(cfg models.StrategyConfig, snap models.MarketSnapshot) (models.BreakoutParams, models.Regime, error) {
	if !cfg.VIX.Enabled {
		return cfg.Breakout, models.RegimeBase, nil
	}
	if !snap.VIXFresh(cfg.VIX.MaxAge) {
		return models.BreakoutParams{}, "", errVIXUnavailable
	}
	if snap.VIX > cfg.VIX.Level {
		return cfg.VIX.High, models.RegimeHigh, nil
	}
	return cfg.VIX.Low, models.RegimeLow, nil
}

// detectBreakout окно уже содержит текущую цену.
func detectBreakout(
	w *RollingWindow,
	snap models.MarketSnapshot,
	refType models.ReferencePriceType,
	p models.BreakoutParams,
) (models.Signal, bool) {
	if w.Len() < 2 {
		return models.Signal{}, false
	}

	price := snap.Price
	var (
		dir  models.Direction
		ref  float64
		move float64
	)

	switch refType {
	case models.ReferenceOpen, models.ReferencePrevClose, models.ReferenceVWAP:
		switch refType {
		case models.ReferenceOpen:
			ref = w.First()
		case models.ReferencePrevClose:
			ref = w.Previous()
		default:
			ref = w.Mean()
		}
		move = math.Abs(price - ref)
		dir = models.DirectionUp
		if price < ref {
			dir = models.DirectionDown
		}
	default:
		up := price - w.Low()
		down := w.High() - price
		if up >= down {
			dir, ref, move = models.DirectionUp, w.Low(), up
		} else {
			dir, ref, move = models.DirectionDown, w.High(), down
		}
	}

	if ref <= 0 || move <= 0 {
		return models.Signal{}, false
	}
	threshold := p.Threshold(ref)
	if move <= threshold {
		return models.Signal{}, false
	}
	// слишком большое движение считаем гэпом/шумом
	if p.MaxPoints > 0 && move > p.MaxPoints {
		return models.Signal{}, false
	}

	return models.Signal{
		Symbol:     snap.Symbol,
		Direction:  dir,
		Price:      price,
		Reference:  ref,
		MovePoints: move,
		MovePct:    move / ref * 100,
		Threshold:  threshold,
		VIX:        snap.VIX,
		DetectedAt: snap.Timestamp,
	}, true
}
