package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"crypto-streamv1/internal/bus"
	"crypto-streamv1/internal/indicator"
	"crypto-streamv1/internal/logger"
	"crypto-streamv1/internal/model"
	"crypto-streamv1/internal/settings"
	"crypto-streamv1/internal/store/sqlite"
)

type fixture struct {
	store *sqlite.Store
	bus   *bus.Bus
	proc  *Processor
	msgs  <-chan bus.Message
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(sqlite.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	b := bus.New(256, nil)
	t.Cleanup(b.Close)
	_, msgs := b.Subscribe()

	eng := indicator.NewEngine(store, store, 14)
	st := settings.New(nil)
	proc := New([]model.Pair{{Symbol: "BTCUSDC"}}, store, eng, b, st, nil)

	return &fixture{store: store, bus: b, proc: proc, msgs: msgs}
}

func klineAt(min int, close float64, closed bool) model.KlineEvent {
	return model.KlineEvent{
		Symbol:   "BTCUSDC",
		Interval: "1m",
		Closed:   closed,
		Open:     close,
		High:     close,
		Low:      close,
		Close:    close,
		Volume:   1,
		OpenTime: time.Date(2026, 3, 1, 10, min, 0, 0, time.UTC),
	}
}

func (f *fixture) drain(t *testing.T, n int) []bus.Message {
	t.Helper()
	out := make([]bus.Message, 0, n)
	for len(out) < n {
		select {
		case m := <-f.msgs:
			out = append(out, m)
		case <-time.After(time.Second):
			t.Fatalf("received %d messages, want %d", len(out), n)
		}
	}
	return out
}

func TestHandle_FifteenBarScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	closes := []float64{100, 101, 99, 102, 103, 101, 104, 105, 103, 106, 107, 105, 108, 109, 107}
	for i, c := range closes {
		f.proc.Handle(ctx, klineAt(i, c, true))
	}

	// Every closed bar produces a price tick plus a closed update.
	msgs := f.drain(t, 30)

	recent, err := f.store.Recent(ctx, "BTCUSDC", "1m", 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 15 {
		t.Fatalf("stored %d candles, want 15", len(recent))
	}

	// The final closed update carries RSI and ROC but not the ROC
	// derivative, which needs one more bar at period 14.
	last := msgs[len(msgs)-1]
	if last.Topic != TopicCandles {
		t.Fatalf("last topic = %s, want %s", last.Topic, TopicCandles)
	}
	var upd model.ClosedCandleUpdate
	if err := json.Unmarshal(last.Data, &upd); err != nil {
		t.Fatal(err)
	}
	if !upd.CandleClosed || upd.Pair != "BTCUSDC" || upd.Price != 107 {
		t.Errorf("closed update = %+v", upd)
	}

	wantRSI := 100 - 100/(1+1.7)
	if got, ok := upd.Indicators["rsi"]; !ok || math.Abs(got-wantRSI) > 1e-9 {
		t.Errorf("rsi = %v (ok=%v), want %v", got, ok, wantRSI)
	}
	if got, ok := upd.Indicators["roc"]; !ok || math.Abs(got-7) > 1e-9 {
		t.Errorf("roc = %v (ok=%v), want 7", got, ok)
	}
	if _, ok := upd.Indicators["roc_derivative"]; ok {
		t.Error("roc_derivative should need a 16th bar")
	}

	// Both values landed in the store keyed by the trigger bar.
	lastOpen := time.Date(2026, 3, 1, 10, 14, 0, 0, time.UTC)
	rsi, err := f.store.Latest(ctx, "BTCUSDC", "1m", 14, model.KindRSI)
	if err != nil {
		t.Fatal(err)
	}
	if rsi == nil || !rsi.CalculatedAt.Equal(lastOpen) {
		t.Errorf("stored rsi = %+v, want calculated_at %v", rsi, lastOpen)
	}
}

func TestHandle_PartialUpdateOnlyBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.proc.Handle(ctx, klineAt(0, 100.5, false))

	msgs := f.drain(t, 1)
	if msgs[0].Topic != TopicPrice {
		t.Errorf("topic = %s, want %s", msgs[0].Topic, TopicPrice)
	}
	var tick model.PriceTick
	if err := json.Unmarshal(msgs[0].Data, &tick); err != nil {
		t.Fatal(err)
	}
	if !tick.Realtime || tick.Price != 100.5 {
		t.Errorf("tick = %+v", tick)
	}

	recent, err := f.store.Recent(ctx, "BTCUSDC", "1m", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 0 {
		t.Errorf("partial update persisted %d candles", len(recent))
	}
}

func TestHandle_DuplicateClosedBarIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := klineAt(0, 100, true)
	f.proc.Handle(ctx, ev)
	// Re-delivery after a reconnect, same bar with a different close.
	dup := ev
	dup.Close = 999
	f.proc.Handle(ctx, dup)

	recent, err := f.store.Recent(ctx, "BTCUSDC", "1m", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Fatalf("stored %d candles, want 1", len(recent))
	}
	if recent[0].Close != 100 {
		t.Errorf("stored close = %v, want first-written 100", recent[0].Close)
	}

	// The closed update for the duplicate reports the stored bar.
	msgs := f.drain(t, 4)
	var upd model.ClosedCandleUpdate
	if err := json.Unmarshal(msgs[3].Data, &upd); err != nil {
		t.Fatal(err)
	}
	if upd.Price != 100 {
		t.Errorf("duplicate closed update price = %v, want 100", upd.Price)
	}
}

func TestHandle_UnselectedPairDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var unknown []string
	f.proc.OnUnknownPair = func(sym string) { unknown = append(unknown, sym) }

	ev := klineAt(0, 100, true)
	ev.Symbol = "DOGEUSDC"
	f.proc.Handle(ctx, ev)

	if len(unknown) != 1 || unknown[0] != "DOGEUSDC" {
		t.Errorf("unknown pairs = %v", unknown)
	}
	recent, err := f.store.Recent(ctx, "DOGEUSDC", "1m", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 0 {
		t.Errorf("unselected pair persisted %d candles", len(recent))
	}
}

func TestHandle_SettingsTimeframeGatesIndicators(t *testing.T) {
	store, err := sqlite.New(sqlite.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	b := bus.New(256, nil)
	defer b.Close()
	_, msgs := b.Subscribe()

	st := settings.New(nil)
	if err := st.Update(settings.Snapshot{Timeframe: "5m", RSIPeriod: 14}); err != nil {
		t.Fatal(err)
	}
	eng := indicator.NewEngine(store, store, 14)
	proc := New([]model.Pair{{Symbol: "BTCUSDC"}}, store, eng, b, st, nil)

	ctx := context.Background()
	closes := []float64{100, 101, 99, 102, 103, 101, 104, 105, 103, 106, 107, 105, 108, 109, 107}
	for i, c := range closes {
		proc.Handle(ctx, klineAt(i, c, true))
	}

	// Only 1m candles exist, so the 5m history is empty and no
	// indicators appear in any closed update.
	for i := 0; i < 30; i++ {
		select {
		case m := <-msgs:
			if m.Topic != TopicCandles {
				continue
			}
			var upd model.ClosedCandleUpdate
			if err := json.Unmarshal(m.Data, &upd); err != nil {
				t.Fatal(err)
			}
			if len(upd.Indicators) != 0 {
				t.Fatalf("got indicators %v on 5m timeframe with only 1m bars", upd.Indicators)
			}
		case <-time.After(time.Second):
			t.Fatal("missing broadcast messages")
		}
	}
}

// traceMirror records the context each closed candle is written with.
type traceMirror struct {
	traceIDs []string
}

func (m *traceMirror) WriteCandle(ctx context.Context, _ model.Candle) {
	m.traceIDs = append(m.traceIDs, logger.TraceID(ctx))
}

func TestHandle_StampsTraceIDPerClosedBar(t *testing.T) {
	store, err := sqlite.New(sqlite.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	b := bus.New(16, nil)
	t.Cleanup(b.Close)

	mirror := &traceMirror{}
	eng := indicator.NewEngine(store, store, 14)
	proc := New([]model.Pair{{Symbol: "BTCUSDC"}}, store, eng, b, settings.New(nil), mirror)

	ctx := context.Background()
	proc.Handle(ctx, klineAt(0, 100, true))
	proc.Handle(ctx, klineAt(1, 101, true))

	if len(mirror.traceIDs) != 2 {
		t.Fatalf("mirror saw %d closed bars, want 2", len(mirror.traceIDs))
	}
	want := logger.GenerateTraceID("BTCUSDC", klineAt(0, 100, true).OpenTime)
	if mirror.traceIDs[0] != want {
		t.Errorf("trace id = %q, want %q", mirror.traceIDs[0], want)
	}
	if mirror.traceIDs[0] == mirror.traceIDs[1] {
		t.Errorf("consecutive bars share trace id %q", mirror.traceIDs[0])
	}
}
