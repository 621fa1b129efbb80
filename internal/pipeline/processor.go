// Package pipeline turns decoded kline events into persisted candles,
// fresh indicator values and broadcasts. One Processor instance serves
// all pairs; the stream client invokes Handle for every kline update.
package pipeline

import (
	"context"
	"log"
	"log/slog"
	"time"

	"crypto-streamv1/internal/indicator"
	"crypto-streamv1/internal/logger"
	"crypto-streamv1/internal/model"
	"crypto-streamv1/internal/settings"
)

// Broadcast topics.
const (
	TopicPrice   = "price_update"
	TopicCandles = "candles_update"
)

// Mirror is the optional Redis hot-state leg for candles. Indicator
// values are mirrored by the indicator engine's own hook.
type Mirror interface {
	WriteCandle(ctx context.Context, c model.Candle)
}

// Processor handles one kline update end to end: realtime broadcast,
// then for closed bars idempotent persistence, indicator recomputation
// and the closed-candle broadcast.
type Processor struct {
	admitted map[string]bool
	candles  model.CandleStore
	engine   *indicator.Engine
	bus      model.Publisher
	settings *settings.Store
	mirror   Mirror

	// loggedUnknown dedups the unknown-pair warning per symbol. Handle
	// runs on the single reader goroutine, so no lock.
	loggedUnknown map[string]bool

	// Optional metrics hooks.
	OnTick        func()
	OnCandle      func()
	OnPersist     func(d time.Duration)
	OnUnknownPair func(symbol string)
}

// New creates a Processor for the given admitted pairs. mirror may be
// nil.
func New(pairs []model.Pair, candles model.CandleStore, engine *indicator.Engine, b model.Publisher, st *settings.Store, mirror Mirror) *Processor {
	admitted := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		admitted[p.Symbol] = true
	}
	return &Processor{
		admitted:      admitted,
		candles:       candles,
		engine:        engine,
		bus:           b,
		settings:      st,
		mirror:        mirror,
		loggedUnknown: make(map[string]bool),
	}
}

// Handle processes one kline update. Persistence failures are logged
// and abort the rest of that update; the next event starts clean. No
// error escapes to the read loop.
func (p *Processor) Handle(ctx context.Context, ev model.KlineEvent) {
	// The subscription is whitelist-only, but a stale connection can
	// still deliver symbols that left the selection.
	if !p.admitted[ev.Symbol] {
		if !p.loggedUnknown[ev.Symbol] {
			p.loggedUnknown[ev.Symbol] = true
			log.Printf("[pipeline] dropping updates for unselected pair %s", ev.Symbol)
		}
		if p.OnUnknownPair != nil {
			p.OnUnknownPair(ev.Symbol)
		}
		return
	}

	if p.OnTick != nil {
		p.OnTick()
	}

	// Realtime leg: every update, closed or not, before any I/O.
	p.bus.Publish(TopicPrice, model.PriceTick{
		Pair:     ev.Symbol,
		Price:    ev.Close,
		TS:       ev.OpenTime,
		Realtime: true,
	})

	if !ev.Closed {
		return
	}

	// One trace ID per closed bar, carried through persistence, the
	// indicator recompute and the mirror.
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(ev.Symbol, ev.OpenTime))

	start := time.Now()
	stored, err := p.candles.InsertIfAbsent(ctx, ev.Candle())
	if err != nil {
		slog.Error("candle persist failed",
			append(logger.LogWithTrace(ctx),
				slog.String("pair", ev.Symbol),
				slog.String("interval", ev.Interval),
				slog.String("err", err.Error()))...)
		return
	}
	if p.OnPersist != nil {
		p.OnPersist(time.Since(start))
	}
	if p.OnCandle != nil {
		p.OnCandle()
	}
	if p.mirror != nil {
		p.mirror.WriteCandle(ctx, stored)
	}

	snap := p.settings.Current()
	values, err := p.engine.ComputeOnClose(ctx, stored.Pair, snap.Timeframe, snap.RSIPeriod, stored.OpenTime)
	if err != nil {
		slog.Error("indicator recompute failed",
			append(logger.LogWithTrace(ctx),
				slog.String("pair", stored.Pair),
				slog.String("err", err.Error()))...)
		values = nil
	}

	p.bus.Publish(TopicCandles, model.ClosedCandleUpdate{
		Pair:         stored.Pair,
		Price:        stored.Close,
		TS:           stored.OpenTime,
		CandleClosed: true,
		Indicators:   values,
	})
}
