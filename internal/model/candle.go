package model

import (
	"encoding/json"
	"time"
)

// Candle represents one OHLCV bar for a (pair, interval, open time) triple.
// Candles are created only when the exchange marks the bar closed and are
// never mutated afterwards.
type Candle struct {
	Pair     string    `json:"pair"`      // exchange symbol, e.g. "BTCUSDC"
	Interval string    `json:"interval"`  // "1m", "5m", "15m", "1h", "4h", "1d"
	OpenTime time.Time `json:"open_time"` // bar open time (UTC, minute-aligned for 1m)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Key returns a unique key for this candle: "pair:interval:unixts".
func (c *Candle) Key() string {
	return c.Pair + ":" + c.Interval + ":" + c.OpenTime.UTC().Format(time.RFC3339)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Timeframes enumerates the supported candle intervals.
var Timeframes = []string{"1m", "5m", "15m", "1h", "4h", "1d"}

// ValidTimeframe reports whether tf is one of the supported intervals.
func ValidTimeframe(tf string) bool {
	for _, t := range Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}
