package model

import "time"

// IndicatorKind tags a computed indicator sample.
type IndicatorKind string

const (
	KindRSI           IndicatorKind = "rsi"
	KindROC           IndicatorKind = "roc"
	KindROCDerivative IndicatorKind = "roc_derivative"
)

// IndicatorValue is one computed indicator sample. Values are never
// mutated; a re-calculation for an already-covered timestamp is skipped
// by the store's idempotent insert.
type IndicatorValue struct {
	Pair         string        `json:"pair"`
	Timeframe    string        `json:"timeframe"`
	Period       int           `json:"period"`
	Kind         IndicatorKind `json:"kind"`
	Value        float64       `json:"value"`
	CalculatedAt time.Time     `json:"calculated_at"`
}
