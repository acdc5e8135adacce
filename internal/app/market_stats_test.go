package app

import (
	"math"
	"testing"
	"time"
	"whalewatch/model"
)

func statsTrade(market string, amount float64, ts time.Time) model.Trade {
	return model.Trade{
		MarketID:  market,
		Size:      amount * 2,
		Price:     0.5,
		AmountUSD: amount,
		Timestamp: ts,
	}
}

func TestMarketStats_MeanStd(t *testing.T) {
	store := NewMarketStatsStore(nil)
	now := time.Now()

	for _, amount := range []float64{100, 200, 300} {
		store.Record(statsTrade("m1", amount, now))
	}

	mean, std, n := store.MarketStats("m1")
	if n != 3 {
		t.Fatalf("expected n=3, got %d", n)
	}
	if mean != 200 {
		t.Errorf("expected mean 200, got %f", mean)
	}
	if math.Abs(std-100) > 1e-9 {
		t.Errorf("expected sample std 100, got %f", std)
	}
}

func TestMarketStats_SingleSample(t *testing.T) {
	store := NewMarketStatsStore(nil)

	store.Record(statsTrade("m1", 500, time.Now()))

	mean, std, n := store.MarketStats("m1")
	if n != 1 || mean != 500 {
		t.Errorf("unexpected stats: mean=%f n=%d", mean, n)
	}
	if std != 0 {
		t.Errorf("sample std needs n>=2, got %f", std)
	}
}

func TestMarketStats_UnknownMarket(t *testing.T) {
	store := NewMarketStatsStore(nil)

	if _, _, n := store.MarketStats("nope"); n != 0 {
		t.Errorf("expected zero samples, got %d", n)
	}
}

func TestMarketStats_RingCapped(t *testing.T) {
	store := NewMarketStatsStore(nil)
	now := time.Now()

	// 1100 baseline trades of 100, then 100 of 900: only the most recent
	// 1000 samples should remain.
	for i := 0; i < 1100; i++ {
		store.Record(statsTrade("m1", 100, now))
	}
	for i := 0; i < 100; i++ {
		store.Record(statsTrade("m1", 900, now))
	}

	mean, _, n := store.MarketStats("m1")
	if n != statsRingCap {
		t.Fatalf("expected ring capped at %d, got %d", statsRingCap, n)
	}
	// 900 old + 100 new in window: mean = (900*100 + 100*900) / 1000
	if mean != 180 {
		t.Errorf("expected mean 180 over capped ring, got %f", mean)
	}
}

func TestGlobalZScore(t *testing.T) {
	store := NewMarketStatsStore(nil)
	now := time.Now()

	// Spread across markets; the global ring sees them all
	for i := 0; i < 50; i++ {
		store.Record(statsTrade("m1", 100, now))
		store.Record(statsTrade("m2", 102, now))
	}

	z, n, ok := store.GlobalZScore(5000)
	if !ok {
		t.Fatal("expected z-score available")
	}
	if n != 100 {
		t.Errorf("expected 100 global samples, got %d", n)
	}
	if z < 3 {
		t.Errorf("expected large z for outlier, got %f", z)
	}
}

func TestGlobalZScore_ZeroVariance(t *testing.T) {
	store := NewMarketStatsStore(nil)
	now := time.Now()

	for i := 0; i < 10; i++ {
		store.Record(statsTrade("m1", 100, now))
	}

	if _, _, ok := store.GlobalZScore(5000); ok {
		t.Error("expected no z-score with zero variance")
	}
}

func TestHourlyVolume_Prunes(t *testing.T) {
	store := NewMarketStatsStore(nil)
	now := time.Now()

	store.Record(statsTrade("m1", 1000, now.Add(-2*time.Hour)))
	store.Record(statsTrade("m1", 300, now.Add(-30*time.Minute)))
	store.Record(statsTrade("m1", 200, now))

	if got := store.HourlyVolume("m1", now); got != 500 {
		t.Errorf("expected 500 within the hour, got %f", got)
	}
}

func TestImpactRatio(t *testing.T) {
	store := NewMarketStatsStore(nil)
	now := time.Now()

	store.Record(statsTrade("m1", 750, now.Add(-10*time.Minute)))

	trade := statsTrade("m1", 250, now)
	store.Record(trade)

	// 250 of 1000 hourly volume
	if got := store.ImpactRatio(trade); got != 0.25 {
		t.Errorf("expected 0.25, got %f", got)
	}
}

func TestImpactRatio_UnknownMarket(t *testing.T) {
	store := NewMarketStatsStore(nil)

	trade := statsTrade("mystery", 500, time.Now())
	if got := store.ImpactRatio(trade); got != 1.0 {
		t.Errorf("unknown volume is maximum impact, got %f", got)
	}
}
