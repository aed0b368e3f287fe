package engine

import (
	"math"
	"sort"
	"time"

	"breakout_bot/internal/models"
)

type selectionRules struct {
	side     models.OptionType
	askMin   float64
	askMax   float64
	minRatio float64
	asOfDay  string
	dayOf    func(time.Time) string
}

func (r selectionRules) admissible(c models.OptionContract) bool {
	if c.Symbol == "" || c.Type != r.side {
		return false
	}
	if c.Ask < r.askMin || c.Ask > r.askMax || c.Ask <= 0 {
		return false
	}
	if c.BidAskRatio() < r.minRatio {
		return false
	}
	if !c.Expiration.IsZero() && r.dayOf(c.Expiration) < r.asOfDay {
		return false
	}
	return true
}

// selectOption ближайшая экспирация, затем ликвидность (bid/ask, объём, OI).
func selectOption(chain []models.OptionContract, r selectionRules) (models.OptionContract, bool) {
	candidates := make([]models.OptionContract, 0, len(chain))
	for _, c := range chain {
		if r.admissible(c) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return models.OptionContract{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if da, db := r.dayOf(a.Expiration), r.dayOf(b.Expiration); da != db {
			return da < db
		}
		if ra, rb := a.BidAskRatio(), b.BidAskRatio(); ra != rb {
			return ra > rb
		}
		if a.Volume != b.Volume {
			return a.Volume > b.Volume
		}
		if a.OpenInterest != b.OpenInterest {
			return a.OpenInterest > b.OpenInterest
		}
		return a.Symbol < b.Symbol
	})
	return candidates[0], true
}

// contractsForRisk floor(risk / (ask*100)), минимум 1.
func contractsForRisk(riskPerSide, ask float64) int64 {
	if ask <= 0 {
		return 0
	}
	n := int64(math.Floor(riskPerSide / (ask * models.ContractMultiplier)))
	if n < 1 {
		n = 1
	}
	return n
}

func findContract(chain []models.OptionContract, symbol string) (models.OptionContract, bool) {
	for _, c := range chain {
		if c.Symbol == symbol {
			return c, true
		}
	}
	return models.OptionContract{}, false
}
