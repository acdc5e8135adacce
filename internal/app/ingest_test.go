package app

import (
	"fmt"
	"sync"
	"testing"
	"time"
	"whalewatch/clients/polymarketapi"
	"whalewatch/clients/polymarketstream"
	"whalewatch/config"
	"whalewatch/model"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (s *captureSink) Emit(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

func (s *captureSink) all() []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Alert(nil), s.alerts...)
}

type ingestFixture struct {
	cfg      *config.Config
	catalog  *MarketCatalog
	wallets  *WalletStore
	stats    *MarketStatsStore
	sink     *captureSink
	log      *AlertLog
	ingestor *Ingestor
}

func newIngestFixture() *ingestFixture {
	cfg := config.Defaults()
	wallets := NewWalletStore(nil, cfg)
	stats := NewMarketStatsStore(nil)
	catalog := NewMarketCatalog(nil)
	entities := NewEntityEngine(nil, cfg, stats)
	battery := NewDetectorBattery(nil, cfg, wallets, stats, catalog, entities)
	consolidator := NewConsolidator(nil, cfg)
	sink := &captureSink{}
	log := NewAlertLog()

	return &ingestFixture{
		cfg:     cfg,
		catalog: catalog,
		wallets: wallets,
		stats:   stats,
		sink:    sink,
		log:     log,
		ingestor: NewIngestor(nil, cfg, IngestDeps{
			Wallets:      wallets,
			Stats:        stats,
			Catalog:      catalog,
			Entities:     entities,
			Battery:      battery,
			Consolidator: consolidator,
			Sink:         sink,
			Store:        log,
		}),
	}
}

func TestProcessTrade_Dedup(t *testing.T) {
	f := newIngestFixture()
	trade := mkTrade("0xa", "m1", model.SideBuy, 1000, 0.5, time.Now())

	f.ingestor.ProcessTrade(trade)
	f.ingestor.ProcessTrade(trade)

	if got := f.ingestor.Stats().TradesProcessed; got != 1 {
		t.Errorf("expected duplicate trade skipped, processed %d", got)
	}
}

func TestProcessTrade_CrossSourceDedup(t *testing.T) {
	f := newIngestFixture()

	// One venue event delivered twice: once by the poller, once by the
	// stream. Only the first copy may reach the pipeline.
	polled, err := (&polymarketapi.Trade{
		ProxyWallet:     "0xdual",
		ConditionID:     "m1",
		Side:            "BUY",
		Size:            200,
		Price:           0.5,
		Timestamp:       1700000000,
		TransactionHash: "0xdeadbeefdeadbeef1234",
		Outcome:         "Yes",
	}).ToTrade()
	if err != nil {
		t.Fatalf("unexpected poll error: %v", err)
	}
	streamed, err := (&polymarketstream.TradePayload{
		ProxyWallet:     "0xdual",
		ConditionID:     "m1",
		Side:            "buy",
		Size:            200,
		Price:           0.5,
		Timestamp:       1700000000,
		TransactionHash: "0xdeadbeefdeadbeef1234",
		Outcome:         "Yes",
	}).ToTrade()
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	f.ingestor.ProcessTrade(polled)
	f.ingestor.ProcessTrade(streamed)

	if got := f.ingestor.Stats().TradesProcessed; got != 1 {
		t.Errorf("same venue event processed %d times, want 1", got)
	}
	profile := f.wallets.Get("0xdual")
	if profile == nil || profile.TotalVolumeUSD != 100 {
		t.Errorf("wallet volume double-counted: %+v", profile)
	}
}

func TestProcessTrade_WhaleNewWalletAlert(t *testing.T) {
	f := newIngestFixture()
	now := time.Now()
	f.catalog.Upsert([]model.Market{{ID: "m1", Question: "Will Trump win the election?"}})

	// First-ever trade from a wallet at $25k
	f.ingestor.ProcessTrade(mkTrade("0xfresh", "m1", model.SideBuy, 50000, 0.5, now))

	alerts := f.sink.all()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if !alert.HasType(model.AlertWhaleTrade) || !alert.HasType(model.AlertNewWallet) {
		t.Errorf("expected whale + new wallet triggers, got %v", alert.AlertTypes)
	}
	if alert.Severity != model.SeverityHigh || alert.SeverityScore < 8 {
		t.Errorf("expected HIGH severity >= 8, got %s (%d)", alert.Severity, alert.SeverityScore)
	}
	if alert.PositionAction != model.PositionOpening {
		t.Errorf("first trade opens a position, got %s", alert.PositionAction)
	}
	if alert.MarketQuestion != "Will Trump win the election?" {
		t.Errorf("alert must carry the market question, got %q", alert.MarketQuestion)
	}
	if f.log.Total() != 1 {
		t.Errorf("alert must be persisted to the store, got %d", f.log.Total())
	}
}

func TestProcessTrade_SportsShortCircuit(t *testing.T) {
	f := newIngestFixture()
	now := time.Now()
	f.catalog.Upsert([]model.Market{{ID: "sb", Question: "Super Bowl LXI winner"}})

	f.ingestor.ProcessTrade(mkTrade("0xfan", "sb", model.SideBuy, 100000, 0.5, now))

	if len(f.sink.all()) != 0 {
		t.Error("sports trades must never alert")
	}
	// The profile still absorbs the trade
	profile := f.wallets.Get("0xfan")
	if profile == nil || profile.TotalVolumeUSD != 50000 {
		t.Errorf("sports trade must still update the profile: %+v", profile)
	}
	if profile.NonSportsVolumeUSD != 0 {
		t.Errorf("sports volume must not count as non-sports, got %f", profile.NonSportsVolumeUSD)
	}
}

func TestProcessTrade_HighFrequencyShortCircuit(t *testing.T) {
	f := newIngestFixture()
	now := time.Now()
	f.catalog.Upsert([]model.Market{{ID: "hf", Question: "Bitcoin Up or Down - 3PM ET"}})

	f.ingestor.ProcessTrade(mkTrade("0xbot", "hf", model.SideBuy, 100000, 0.5, now))

	if len(f.sink.all()) != 0 {
		t.Error("high-frequency markets must never alert")
	}
	if f.ingestor.Stats().Suppressed != 1 {
		t.Errorf("expected suppression counted, got %d", f.ingestor.Stats().Suppressed)
	}
}

func TestProcessTrade_UnknownMarketQueued(t *testing.T) {
	f := newIngestFixture()

	f.ingestor.ProcessTrade(mkTrade("0xa", "mystery", model.SideBuy, 1000, 0.5, time.Now()))

	f.ingestor.pendingMu.Lock()
	_, queued := f.ingestor.pendingMarkets["mystery"]
	f.ingestor.pendingMu.Unlock()
	if !queued {
		t.Error("unknown market must be queued for refresh")
	}
}

func TestProcessTrade_DetectorPanicContained(t *testing.T) {
	f := newIngestFixture()
	f.ingestor.battery = nil
	trade := mkTrade("0xa", "m1", model.SideBuy, 50000, 0.5, time.Now())

	// Must not panic out of the pipeline
	f.ingestor.ProcessTrade(trade)

	stats := f.ingestor.Stats()
	if stats.DetectorPanics != 1 {
		t.Errorf("expected contained panic counted, got %d", stats.DetectorPanics)
	}
	if stats.TradesProcessed != 1 {
		t.Error("failed trade must still count as processed")
	}

	// And the trade stays deduplicated
	f.ingestor.ProcessTrade(trade)
	if f.ingestor.Stats().DetectorPanics != 1 {
		t.Error("reprocessing a failed trade id must be blocked by dedup")
	}
}

func TestProcessTrade_ConcurrentSameWallet_SingleOpening(t *testing.T) {
	f := newIngestFixture()
	now := time.Now()
	f.catalog.Upsert([]model.Market{{ID: "m1", Question: "Will Trump win the election?"}})

	// Concurrent deliveries for one wallet must serialize: exactly one
	// trade may observe the empty position and stamp OPENING.
	const n = 32
	trades := make([]model.Trade, n)
	for i := range trades {
		trades[i] = mkTrade("0xrace", "m1", model.SideBuy, 50000, 0.5, now.Add(time.Duration(i)*time.Millisecond))
	}

	var wg sync.WaitGroup
	for i := range trades {
		wg.Add(1)
		go func(trade model.Trade) {
			defer wg.Done()
			f.ingestor.ProcessTrade(trade)
		}(trades[i])
	}
	wg.Wait()

	alerts := f.sink.all()
	if len(alerts) != n {
		t.Fatalf("expected %d alerts, got %d", n, len(alerts))
	}
	opening := 0
	for _, a := range alerts {
		if a.PositionAction == model.PositionOpening {
			opening++
		}
	}
	if opening != 1 {
		t.Errorf("expected exactly 1 OPENING across concurrent buys, got %d", opening)
	}
}

func TestReconnectDelay_ExponentialWithCap(t *testing.T) {
	tests := []struct {
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{5 * time.Second, 1, 5 * time.Second},
		{5 * time.Second, 2, 10 * time.Second},
		{5 * time.Second, 3, 20 * time.Second},
		{5 * time.Second, 10, maxReconnectDelay},
		{0, 1, time.Second},
	}

	for _, tt := range tests {
		if got := reconnectDelay(tt.base, tt.attempt); got != tt.expected {
			t.Errorf("reconnectDelay(%v, %d) = %v, want %v", tt.base, tt.attempt, got, tt.expected)
		}
	}
}

func TestMarkSeen_TrimsAtCap(t *testing.T) {
	f := newIngestFixture()

	for i := 0; i <= seenTradesCap; i++ {
		f.ingestor.markSeen(fmt.Sprintf("t%d", i))
	}

	if got := f.ingestor.Stats().SeenTrades; got != seenTradesKeep {
		t.Fatalf("expected trim to %d, got %d", seenTradesKeep, got)
	}
	if !f.ingestor.markSeen("t0") {
		t.Error("evicted ids must be accepted again")
	}
	if f.ingestor.markSeen(fmt.Sprintf("t%d", seenTradesCap)) {
		t.Error("recent ids must stay deduplicated")
	}
}

func TestAlertLog_RingAndCounts(t *testing.T) {
	log := NewAlertLog()
	now := time.Now()

	for i := 0; i < alertLogCap+10; i++ {
		log.Save(model.Alert{ID: fmt.Sprintf("a%d", i), Timestamp: now})
	}

	if log.Total() != int64(alertLogCap+10) {
		t.Errorf("unexpected total: %d", log.Total())
	}
	recent := log.Recent(5)
	if len(recent) != 5 {
		t.Fatalf("expected 5 recent alerts, got %d", len(recent))
	}
	if recent[0].ID != fmt.Sprintf("a%d", alertLogCap+9) {
		t.Errorf("newest first, got %s", recent[0].ID)
	}

	hour, day, week := log.CountsInPeriods(now.Add(time.Minute))
	if hour != alertLogCap || day != alertLogCap || week != alertLogCap {
		t.Errorf("unexpected period counts: %d/%d/%d", hour, day, week)
	}
}
