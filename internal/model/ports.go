package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the pipeline from concrete storage. Inserts
// are keyed by natural uniqueness and idempotent, so concurrent inserts
// for different pairs never conflict and duplicate inserts are safe no-ops.

// CandleStore persists closed candles.
type CandleStore interface {
	// InsertIfAbsent stores the candle unless its (pair, interval,
	// open_time) triple already exists, in which case the stored record
	// is returned unchanged. Never an error for the duplicate case.
	InsertIfAbsent(ctx context.Context, c Candle) (Candle, error)

	// Recent returns up to limit candles for (pair, interval), ordered
	// oldest to newest.
	Recent(ctx context.Context, pair, interval string, limit int) ([]Candle, error)
}

// IndicatorStore persists computed indicator samples.
type IndicatorStore interface {
	// InsertIndicatorIfAbsent stores the value unless the same (pair,
	// timeframe, period, kind, calculated_at) sample already exists.
	InsertIndicatorIfAbsent(ctx context.Context, v IndicatorValue) error

	// Latest returns the most recent sample for the key, or nil when
	// none exists. No freshness cutoff is applied: readers get the
	// nearest available value even when it is stale.
	Latest(ctx context.Context, pair, timeframe string, period int, kind IndicatorKind) (*IndicatorValue, error)

	// History returns up to limit samples ordered oldest to newest.
	History(ctx context.Context, pair, timeframe string, period int, kind IndicatorKind, limit int) ([]IndicatorValue, error)
}

// Publisher is the fire-and-forget broadcast contract. Publish must never
// block the caller or propagate a failure back into the ingestion path.
type Publisher interface {
	Publish(topic string, event any)
}
