// Package rates is the currency-rate collaborator. The engine never fails a
// request because a rate lookup failed: callers fall back to the unconverted
// amount.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Martin-Hayot/bidding-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

// Converter converts an amount between currency codes.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// Static is a table-backed Converter seeded with fixed rates against a base
// currency. Used in tests and in deployments that refresh the table out of
// band.
type Static struct {
	base  string
	rates map[string]decimal.Decimal // units of base per one unit of currency
}

func NewStatic(base string, table map[string]decimal.Decimal) *Static {
	rates := make(map[string]decimal.Decimal, len(table)+1)
	for code, rate := range table {
		rates[code] = rate
	}
	rates[base] = decimal.NewFromInt(1)
	return &Static{base: base, rates: rates}
}

func (s *Static) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	fromRate, ok := s.rates[from]
	if !ok {
		return decimal.Decimal{}, errors.New(errors.ErrInternalServer, fmt.Sprintf("no rate for currency %q", from))
	}
	toRate, ok := s.rates[to]
	if !ok {
		return decimal.Decimal{}, errors.New(errors.ErrInternalServer, fmt.Sprintf("no rate for currency %q", to))
	}
	return amount.Mul(fromRate).DivRound(toRate, 2), nil
}

// Client queries an external rate service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	endpoint := fmt.Sprintf("%s/convert?%s", c.baseURL, url.Values{
		"amount": {amount.String()},
		"from":   {from},
		"to":     {to},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "error building rate request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "error calling rate service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, errors.New(errors.ErrInternalServer, fmt.Sprintf("rate service returned %d", resp.StatusCode))
	}

	var payload struct {
		Result decimal.Decimal `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "error decoding rate response")
	}
	return payload.Result, nil
}
