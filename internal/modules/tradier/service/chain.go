package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"breakout_bot/internal/models"
)

type chainOption struct {
	Symbol         string  `json:"symbol"`
	Underlying     string  `json:"underlying"`
	OptionType     string  `json:"option_type"`
	Strike         float64 `json:"strike"`
	ExpirationDate string  `json:"expiration_date"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Volume         int64   `json:"volume"`
	OpenInterest   int64   `json:"open_interest"`
}

type chainResponse struct {
	Options *struct {
		Option oneOrMany[chainOption] `json:"option"`
	} `json:"options"`
}

const dateLayout = "2006-01-02"

// FetchChain цепочка с экспирацией в день asOf (0DTE) по времени биржи.
func (c *Client) FetchChain(ctx context.Context, underlying string, asOf time.Time) ([]models.OptionContract, error) {
	exp := asOf.In(c.loc).Format(dateLayout)
	q := url.Values{
		"symbol":     {strings.ToUpper(underlying)},
		"expiration": {exp},
		"greeks":     {"false"},
	}

	var resp chainResponse
	if err := c.get(ctx, "/v1/markets/options/chains", q, &resp); err != nil {
		return nil, errors.Wrapf(err, "option chain %s %s", underlying, exp)
	}
	if resp.Options == nil {
		return nil, nil
	}

	out := make([]models.OptionContract, 0, len(resp.Options.Option))
	for _, o := range resp.Options.Option {
		var typ models.OptionType
		switch strings.ToLower(o.OptionType) {
		case "call":
			typ = models.OptionCall
		case "put":
			typ = models.OptionPut
		default:
			continue
		}
		expiration, err := time.ParseInLocation(dateLayout, o.ExpirationDate, c.loc)
		if err != nil {
			continue
		}
		under := o.Underlying
		if under == "" {
			under = strings.ToUpper(underlying)
		}
		out = append(out, models.OptionContract{
			Symbol:       o.Symbol,
			Underlying:   under,
			Type:         typ,
			Strike:       o.Strike,
			Expiration:   expiration,
			Bid:          o.Bid,
			Ask:          o.Ask,
			Volume:       o.Volume,
			OpenInterest: o.OpenInterest,
		})
	}
	return out, nil
}
