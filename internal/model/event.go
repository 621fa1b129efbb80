package model

import "time"

// EventKind tags a decoded stream frame. The set is closed: frames are
// decoded exactly once at the transport boundary and everything that is
// not a kline update is ignored there.
type EventKind int

const (
	// EventIgnored covers non-JSON payloads, transport control text and
	// recognized-but-unhandled event types.
	EventIgnored EventKind = iota
	EventKlinePartial
	EventKlineClosed
)

// StreamEvent is the decoded form of one inbound frame.
type StreamEvent struct {
	Kind EventKind
	// Type is the raw exchange event tag ("kline", "24hrTicker", ...);
	// empty when the payload was not recognizable JSON.
	Type  string
	Kline KlineEvent // valid only for EventKlinePartial / EventKlineClosed
}

// KlineEvent carries the fields of one kline update relied upon by the
// tick-processing pipeline.
type KlineEvent struct {
	Symbol   string // exchange symbol, e.g. "BTCUSDC"
	Interval string
	Closed   bool
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	OpenTime time.Time
}

// Candle converts a closed kline event into its persistent form.
func (e KlineEvent) Candle() Candle {
	return Candle{
		Pair:     e.Symbol,
		Interval: e.Interval,
		OpenTime: e.OpenTime.UTC(),
		Open:     e.Open,
		High:     e.High,
		Low:      e.Low,
		Close:    e.Close,
		Volume:   e.Volume,
	}
}

// PriceTick is the realtime broadcast shape: emitted for every kline
// update, closed or not, before any persistence work.
type PriceTick struct {
	Pair     string    `json:"pair"`
	Price    float64   `json:"price"`
	TS       time.Time `json:"ts"`
	Realtime bool      `json:"realtime"`
}

// ClosedCandleUpdate is the closed-candle broadcast shape, carrying any
// indicator values freshly computed for this bar.
type ClosedCandleUpdate struct {
	Pair         string             `json:"pair"`
	Price        float64            `json:"price"`
	TS           time.Time          `json:"ts"`
	CandleClosed bool               `json:"candle_closed"`
	Indicators   map[string]float64 `json:"indicators,omitempty"`
}
