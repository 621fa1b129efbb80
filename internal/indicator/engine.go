package indicator

import (
	"context"
	"fmt"
	"log"
	"time"

	"crypto-streamv1/internal/model"
)

// Engine recomputes indicators whenever a candle closes and persists
// each fresh value. One Engine instance serves all pairs; it holds no
// per-pair state because every computation re-reads the candle history,
// which keeps results correct across restarts without snapshots.
type Engine struct {
	candles model.CandleStore
	values  model.IndicatorStore

	// rocPeriod is the static lookback for ROC and its derivative.
	rocPeriod int

	// OnCompute is an optional metrics hook, called once per closed
	// candle with the number of values produced.
	OnCompute func(n int)

	// OnValue is an optional hook invoked for every persisted value,
	// used to mirror fresh values into Redis.
	OnValue func(v model.IndicatorValue)
}

// NewEngine creates an Engine reading candle history from candles and
// persisting values to values.
func NewEngine(candles model.CandleStore, values model.IndicatorStore, rocPeriod int) *Engine {
	if rocPeriod < 1 {
		rocPeriod = 14
	}
	return &Engine{candles: candles, values: values, rocPeriod: rocPeriod}
}

// ComputeOnClose recomputes RSI, ROC and ROC-derivative for (pair,
// timeframe) after a candle closed at openTime, persists each produced
// value, and returns them keyed by indicator kind.
//
// Indicators whose history is still too short are silently absent from
// the result. A history read failure is the only error path; individual
// persistence failures are logged and the value is still returned so
// the broadcast does not lose it.
func (e *Engine) ComputeOnClose(ctx context.Context, pair, timeframe string, rsiPeriod int, openTime time.Time) (map[string]float64, error) {
	need := rsiPeriod
	if e.rocPeriod > need {
		need = e.rocPeriod
	}
	// +2 covers the ROC-derivative lookback, the deepest of the three.
	candles, err := e.candles.Recent(ctx, pair, timeframe, need+2)
	if err != nil {
		return nil, fmt.Errorf("indicator history %s %s: %w", pair, timeframe, err)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	out := make(map[string]float64, 3)
	if v, ok := RSI(closes, rsiPeriod); ok {
		out[string(model.KindRSI)] = v
		e.persist(ctx, pair, timeframe, rsiPeriod, model.KindRSI, v, openTime)
	}
	if v, ok := ROC(closes, e.rocPeriod); ok {
		out[string(model.KindROC)] = v
		e.persist(ctx, pair, timeframe, e.rocPeriod, model.KindROC, v, openTime)
	}
	if v, ok := ROCDerivative(closes, e.rocPeriod); ok {
		out[string(model.KindROCDerivative)] = v
		e.persist(ctx, pair, timeframe, e.rocPeriod, model.KindROCDerivative, v, openTime)
	}

	if e.OnCompute != nil {
		e.OnCompute(len(out))
	}
	return out, nil
}

func (e *Engine) persist(ctx context.Context, pair, timeframe string, period int, kind model.IndicatorKind, value float64, openTime time.Time) {
	v := model.IndicatorValue{
		Pair:         pair,
		Timeframe:    timeframe,
		Period:       period,
		Kind:         kind,
		Value:        value,
		CalculatedAt: openTime,
	}
	if err := e.values.InsertIndicatorIfAbsent(ctx, v); err != nil {
		log.Printf("[indicator] persist %s %s %s: %v", kind, pair, timeframe, err)
	}
	if e.OnValue != nil {
		e.OnValue(v)
	}
}
