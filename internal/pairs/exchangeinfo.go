package pairs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const exchangeInfoURL = "https://api.binance.com/api/v3/exchangeInfo"

// Universe fetches the set of symbols currently tradable on the exchange.
// Only symbols with status TRADING are returned; halted and delisted
// symbols never make it into the selection.
func Universe(ctx context.Context, client *http.Client) ([]string, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exchangeInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange info request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange info fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange info fetch: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"symbols"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("exchange info decode: %w", err)
	}

	syms := make([]string, 0, len(body.Symbols))
	for _, s := range body.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		syms = append(syms, s.Symbol)
	}

	log.Printf("[pairs] exchange universe: %d tradable symbols", len(syms))
	return syms, nil
}
