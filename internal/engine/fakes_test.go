package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"breakout_bot/internal/models"
)

type fakeChain struct {
	mu        sync.Mutex
	contracts []models.OptionContract
	err       error
	calls     int
}

func (f *fakeChain) FetchChain(_ context.Context, _ string, _ time.Time) ([]models.OptionContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.OptionContract, len(f.contracts))
	copy(out, f.contracts)
	return out, nil
}

func (f *fakeChain) setBid(symbol string, bid float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.contracts {
		if f.contracts[i].Symbol == symbol {
			f.contracts[i].Bid = bid
		}
	}
}

type orderCall struct {
	symbol string
	side   models.OptionType
	qty    int64
}

type fakeExecutor struct {
	mu       sync.Mutex
	opens    []orderCall
	closes   []orderCall
	openErr  error
	closeErr error
}

func (f *fakeExecutor) Open(_ context.Context, symbol string, side models.OptionType, qty int64) (models.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return models.Fill{}, f.openErr
	}
	f.opens = append(f.opens, orderCall{symbol: symbol, side: side, qty: qty})
	return models.Fill{OrderID: "o-open", Symbol: symbol, Quantity: qty}, nil
}

func (f *fakeExecutor) Close(_ context.Context, symbol string, qty int64) (models.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return models.Fill{}, f.closeErr
	}
	f.closes = append(f.closes, orderCall{symbol: symbol, qty: qty})
	return models.Fill{OrderID: "o-close", Symbol: symbol, Quantity: qty}, nil
}

var errBroker = errors.New("broker unavailable")
