package sqlite

import (
	"context"
	"testing"
	"time"

	"crypto-streamv1/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func candleAt(min int, close float64) model.Candle {
	return model.Candle{
		Pair:     "BTCUSDC",
		Interval: "1m",
		OpenTime: time.Date(2026, 3, 1, 10, min, 0, 0, time.UTC),
		Open:     close - 1,
		High:     close + 1,
		Low:      close - 2,
		Close:    close,
		Volume:   10,
	}
}

func TestInsertIfAbsent_DuplicateKeepsFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := candleAt(0, 100)
	stored, err := s.InsertIfAbsent(ctx, first)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if stored.Close != 100 {
		t.Errorf("stored close = %v, want 100", stored.Close)
	}

	// Same bar re-delivered with different prices: first write wins.
	dup := first
	dup.Close = 999
	stored, err = s.InsertIfAbsent(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if stored.Close != 100 {
		t.Errorf("after duplicate, stored close = %v, want 100", stored.Close)
	}

	recent, err := s.Recent(ctx, "BTCUSDC", "1m", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("row count = %d, want 1", len(recent))
	}
}

func TestRecent_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.InsertIfAbsent(ctx, candleAt(i, float64(100+i))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	recent, err := s.Recent(ctx, "BTCUSDC", "1m", 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	// Newest 3 bars, oldest first.
	for i, want := range []float64{102, 103, 104} {
		if recent[i].Close != want {
			t.Errorf("recent[%d].Close = %v, want %v", i, recent[i].Close, want)
		}
	}
	if !recent[0].OpenTime.Before(recent[2].OpenTime) {
		t.Error("expected ascending open_time order")
	}
}

func TestRecent_FiltersByPairAndInterval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	btc := candleAt(0, 100)
	eth := candleAt(0, 200)
	eth.Pair = "ETHUSDC"
	fiveMin := candleAt(0, 300)
	fiveMin.Interval = "5m"

	for _, c := range []model.Candle{btc, eth, fiveMin} {
		if _, err := s.InsertIfAbsent(ctx, c); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	recent, err := s.Recent(ctx, "BTCUSDC", "1m", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Close != 100 {
		t.Errorf("expected only the BTCUSDC 1m bar, got %+v", recent)
	}
}

func TestIndicatorLatestAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		v := model.IndicatorValue{
			Pair:         "BTCUSDC",
			Timeframe:    "1m",
			Period:       14,
			Kind:         model.KindRSI,
			Value:        float64(60 + i),
			CalculatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertIndicatorIfAbsent(ctx, v); err != nil {
			t.Fatalf("insert indicator %d: %v", i, err)
		}
	}

	latest, err := s.Latest(ctx, "BTCUSDC", "1m", 14, model.KindRSI)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.Value != 62 {
		t.Errorf("latest = %+v, want value 62", latest)
	}

	hist, err := s.History(ctx, "BTCUSDC", "1m", 14, model.KindRSI, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].Value != 61 || hist[1].Value != 62 {
		t.Errorf("history = %+v, want values [61 62]", hist)
	}
}

func TestIndicatorLatest_MissingIsNil(t *testing.T) {
	s := newTestStore(t)
	latest, err := s.Latest(context.Background(), "BTCUSDC", "1m", 14, model.KindROC)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil for missing key, got %+v", latest)
	}
}

func TestIndicatorInsert_DuplicateSampleIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := model.IndicatorValue{
		Pair: "BTCUSDC", Timeframe: "1m", Period: 14, Kind: model.KindRSI,
		Value: 55, CalculatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := s.InsertIndicatorIfAbsent(ctx, v); err != nil {
		t.Fatal(err)
	}
	v.Value = 99
	if err := s.InsertIndicatorIfAbsent(ctx, v); err != nil {
		t.Fatal(err)
	}

	latest, err := s.Latest(ctx, "BTCUSDC", "1m", 14, model.KindRSI)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Value != 55 {
		t.Errorf("latest = %+v, want first-written value 55", latest)
	}
}
