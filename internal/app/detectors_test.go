package app

import (
	"testing"
	"time"
	"whalewatch/config"
	"whalewatch/model"
)

type batteryFixture struct {
	cfg      *config.Config
	wallets  *WalletStore
	stats    *MarketStatsStore
	catalog  *MarketCatalog
	entities *EntityEngine
	battery  *DetectorBattery
}

func newBatteryFixture() *batteryFixture {
	cfg := config.Defaults()
	wallets := NewWalletStore(nil, cfg)
	stats := NewMarketStatsStore(nil)
	catalog := NewMarketCatalog(nil)
	entities := NewEntityEngine(nil, cfg, stats)
	return &batteryFixture{
		cfg:      cfg,
		wallets:  wallets,
		stats:    stats,
		catalog:  catalog,
		entities: entities,
		battery:  NewDetectorBattery(nil, cfg, wallets, stats, catalog, entities),
	}
}

// feed observes and records the trade before evaluation, matching the
// pipeline's ordering.
func (f *batteryFixture) feed(trade model.Trade) DetectionResult {
	f.wallets.Observe(trade, false)
	f.stats.Record(trade)
	return f.battery.Evaluate(trade)
}

func hasTrigger(triggers []model.Trigger, alertType model.AlertType) bool {
	for _, trg := range triggers {
		if trg.Type == alertType {
			return true
		}
	}
	return false
}

func triggerScore(triggers []model.Trigger, alertType model.AlertType) int {
	for _, trg := range triggers {
		if trg.Type == alertType {
			return trg.Score
		}
	}
	return 0
}

// seedStats fills the global distribution with small baseline trades on a
// side market so impact and z-score detectors behave predictably.
func (f *batteryFixture) seedStats(n int, amount float64, now time.Time) {
	for i := 0; i < n; i++ {
		f.stats.Record(mkTrade("0xseed", "m_baseline", model.SideBuy, amount*2, 0.5, now))
	}
}

func TestDetect_WhaleTrade_NewWallet(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()
	f.seedStats(200, 100, now)

	// First trade from an unseen wallet at $25k
	result := f.feed(mkTrade("0xfresh", "m1", model.SideBuy, 50000, 0.5, now))

	if !hasTrigger(result.Triggers, model.AlertWhaleTrade) {
		t.Error("expected WHALE_TRADE at $25k")
	}
	if !hasTrigger(result.Triggers, model.AlertNewWallet) {
		t.Error("expected NEW_WALLET for first-time trader")
	}
	// Whale trigger: base 5 + $25k bump 2 + new wallet 2
	if got := triggerScore(result.Triggers, model.AlertWhaleTrade); got != 9 {
		t.Errorf("expected whale score 9, got %d", got)
	}
	// New wallet trigger additionally gets the per-type bump
	if got := triggerScore(result.Triggers, model.AlertNewWallet); got != 10 {
		t.Errorf("expected new wallet score 10, got %d", got)
	}
}

func TestDetect_UnusualSize(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()
	f.seedStats(200, 100, now)

	// Below the whale threshold but far outside the distribution
	result := f.feed(mkTrade("0xbig", "m1", model.SideBuy, 16000, 0.5, now))

	if !hasTrigger(result.Triggers, model.AlertUnusualSize) {
		t.Error("expected UNUSUAL_SIZE")
	}
	if hasTrigger(result.Triggers, model.AlertWhaleTrade) {
		t.Error("UNUSUAL_SIZE must not overlap the whale threshold")
	}
	if !result.HasZScore || result.ZScore < 3 {
		t.Errorf("expected z-score >= 3, got %f (has=%v)", result.ZScore, result.HasZScore)
	}
}

func TestDetect_UnusualSize_NeedsSamples(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()
	f.seedStats(50, 100, now)

	result := f.feed(mkTrade("0xbig", "m1", model.SideBuy, 16000, 0.5, now))

	if hasTrigger(result.Triggers, model.AlertUnusualSize) {
		t.Error("UNUSUAL_SIZE needs the minimum global sample count")
	}
}

func TestDetect_AnonymousGating(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()
	f.seedStats(200, 100, now)

	trade := mkTrade("", "m1", model.SideBuy, 50000, 0.5, now)
	trade.SupportsTraderIdentity = false
	result := f.feed(trade)

	if !hasTrigger(result.Triggers, model.AlertWhaleTrade) {
		t.Error("trade-only detectors still fire for anonymous trades")
	}
	for _, trg := range result.Triggers {
		switch trg.Type {
		case model.AlertNewWallet, model.AlertSmartMoney, model.AlertVIPWallet,
			model.AlertRepeatActor, model.AlertHeavyActor, model.AlertClusterActivity,
			model.AlertEntityActivity, model.AlertFocusedWallet:
			t.Errorf("wallet detector %s fired for anonymous trade", trg.Type)
		}
	}
}

func TestDetect_SmartMoney(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()

	// Build a 60k-volume wallet with 8 wins, 2 losses
	for i := 0; i < 12; i++ {
		f.feed(mkTrade("0xsmart", "m1", model.SideBuy, 10000, 0.5, now.Add(-time.Duration(30-i)*24*time.Hour)))
	}
	for i := 0; i < 8; i++ {
		f.wallets.SetResolved("0xsmart", true)
	}
	f.wallets.SetResolved("0xsmart", false)
	f.wallets.SetResolved("0xsmart", false)

	result := f.feed(mkTrade("0xsmart", "m2", model.SideBuy, 1200, 0.5, now))
	if !hasTrigger(result.Triggers, model.AlertSmartMoney) {
		t.Error("expected SMART_MONEY")
	}
}

func TestDetect_VIPWallet_NoMinimumAmount(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()

	f.wallets.SetVIP("0xvip", true)
	result := f.feed(mkTrade("0xvip", "m1", model.SideBuy, 100, 0.5, now))

	if !hasTrigger(result.Triggers, model.AlertVIPWallet) {
		t.Error("VIP fires regardless of trade size")
	}
}

func TestDetect_RepeatAndHeavyActor(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()

	for i := 0; i < 10; i++ {
		f.feed(mkTrade("0xbusy", "m1", model.SideBuy, 400, 0.5, now.Add(time.Duration(i)*time.Minute)))
	}
	result := f.feed(mkTrade("0xbusy", "m1", model.SideBuy, 3000, 0.5, now.Add(11*time.Minute)))

	if !hasTrigger(result.Triggers, model.AlertRepeatActor) {
		t.Error("expected REPEAT_ACTOR after 3+ trades in an hour")
	}
	if !hasTrigger(result.Triggers, model.AlertHeavyActor) {
		t.Error("expected HEAVY_ACTOR after 10+ trades in 24h")
	}
}

func TestDetect_WhaleExit_Flagged(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()

	f.feed(mkTrade("0xwhale", "m1", model.SideBuy, 30000, 0.5, now.Add(-time.Hour)))

	sell := mkTrade("0xwhale", "m1", model.SideSell, 12000, 0.5, now)
	if result := f.feed(sell); hasTrigger(result.Triggers, model.AlertWhaleExit) {
		t.Error("WHALE_EXIT is off by default")
	}

	f.cfg.Detector.EnableWhaleExit = true
	f.battery.UpdateConfig(f.cfg)

	result := f.feed(mkTrade("0xwhale", "m1", model.SideSell, 12000, 0.5, now.Add(time.Minute)))
	if !hasTrigger(result.Triggers, model.AlertWhaleExit) {
		t.Error("expected WHALE_EXIT once enabled")
	}
}

func TestDetect_Contrarian_PriceFallback(t *testing.T) {
	f := newBatteryFixture()
	f.cfg.Detector.EnableContrarian = true
	f.battery.UpdateConfig(f.cfg)
	now := time.Now()

	// No cached market: the trade's own price is the reference
	result := f.feed(mkTrade("0xdip", "m1", model.SideBuy, 40000, 0.10, now))
	if !hasTrigger(result.Triggers, model.AlertContrarian) {
		t.Error("expected CONTRARIAN on low-probability buy")
	}

	// Cached reference price overrides the execution price
	f.catalog.Upsert([]model.Market{{
		ID:            "m2",
		Question:      "q",
		OutcomePrices: map[string]float64{"Yes": 0.50},
	}})
	result = f.feed(mkTrade("0xdip", "m2", model.SideBuy, 40000, 0.10, now))
	if hasTrigger(result.Triggers, model.AlertContrarian) {
		t.Error("cached reference price should suppress CONTRARIAN")
	}
}

func TestDetect_ExtremeConfidence(t *testing.T) {
	f := newBatteryFixture()
	f.cfg.Detector.EnableExtremeConfidence = true
	f.battery.UpdateConfig(f.cfg)
	now := time.Now()

	result := f.feed(mkTrade("0xsure", "m1", model.SideBuy, 3000, 0.96, now))
	if !hasTrigger(result.Triggers, model.AlertExtremeConfidence) {
		t.Error("expected EXTREME_CONFIDENCE at 0.96")
	}

	// Low-side extreme additionally bumps the score
	low := f.feed(mkTrade("0xsure", "m2", model.SideBuy, 60000, 0.04, now))
	if !hasTrigger(low.Triggers, model.AlertExtremeConfidence) {
		t.Fatal("expected EXTREME_CONFIDENCE at 0.04")
	}
	highScore := triggerScore(result.Triggers, model.AlertExtremeConfidence)
	lowScore := triggerScore(low.Triggers, model.AlertExtremeConfidence)
	if lowScore != highScore+2 {
		t.Errorf("expected low-probability bump of 2: high=%d low=%d", highScore, lowScore)
	}
}

func TestDetect_ClusterActivity(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()

	first := f.feed(mkTrade("0xw1", "m1", model.SideBuy, 6000, 0.5, now))
	if hasTrigger(first.Triggers, model.AlertClusterActivity) {
		t.Error("first trade has no peers")
	}
	second := f.feed(mkTrade("0xw2", "m1", model.SideBuy, 6400, 0.5, now.Add(time.Minute)))
	if hasTrigger(second.Triggers, model.AlertClusterActivity) {
		t.Error("one peer is below the cluster floor")
	}
	third := f.feed(mkTrade("0xw3", "m1", model.SideBuy, 5600, 0.5, now.Add(2*time.Minute)))
	if !hasTrigger(third.Triggers, model.AlertClusterActivity) {
		t.Error("expected CLUSTER_ACTIVITY on the third comparable trade")
	}
}

func TestDetect_ClusterActivity_SizeBand(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()

	f.feed(mkTrade("0xw1", "m1", model.SideBuy, 400, 0.5, now))
	f.feed(mkTrade("0xw2", "m1", model.SideBuy, 100000, 0.5, now.Add(time.Minute)))
	third := f.feed(mkTrade("0xw3", "m1", model.SideBuy, 6000, 0.5, now.Add(2*time.Minute)))

	if hasTrigger(third.Triggers, model.AlertClusterActivity) {
		t.Error("peers outside the 0.5x-2x band must not count")
	}
}

func TestDetect_HighImpact(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()

	f.stats.Record(mkTrade("0xother", "m1", model.SideBuy, 6000, 0.5, now.Add(-10*time.Minute)))
	result := f.feed(mkTrade("0ximpact", "m1", model.SideBuy, 2000, 0.5, now))

	// 1000 of 4000 hourly volume
	if !hasTrigger(result.Triggers, model.AlertHighImpact) {
		t.Error("expected HIGH_IMPACT at 25% of hourly volume")
	}
}

func TestDetect_EntityActivity(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()

	f.entities.SetWalletFunder("0xa1", "0xfunder")
	f.entities.SetWalletFunder("0xa2", "0xfunder")
	f.entities.Rebuild(now)

	result := f.feed(mkTrade("0xa1", "m1", model.SideBuy, 3000, 0.5, now))
	if !hasTrigger(result.Triggers, model.AlertEntityActivity) {
		t.Error("expected ENTITY_ACTIVITY for linked wallet")
	}

	solo := f.feed(mkTrade("0xsolo", "m1", model.SideBuy, 3000, 0.5, now))
	if hasTrigger(solo.Triggers, model.AlertEntityActivity) {
		t.Error("unlinked wallet must not trigger ENTITY_ACTIVITY")
	}
}

func TestDetect_FocusedWallet_Flagged(t *testing.T) {
	f := newBatteryFixture()
	now := time.Now()

	for i := 0; i < 6; i++ {
		f.feed(mkTrade("0xfocus", "m1", model.SideBuy, 2000, 0.5, now.Add(-time.Duration(6-i)*time.Hour)))
	}

	if result := f.feed(mkTrade("0xfocus", "m1", model.SideBuy, 12000, 0.5, now)); hasTrigger(result.Triggers, model.AlertFocusedWallet) {
		t.Error("FOCUSED_WALLET is off by default")
	}

	f.cfg.Detector.EnableFocusedWallet = true
	f.battery.UpdateConfig(f.cfg)

	result := f.feed(mkTrade("0xfocus", "m1", model.SideBuy, 12000, 0.5, now.Add(time.Minute)))
	if !hasTrigger(result.Triggers, model.AlertFocusedWallet) {
		t.Error("expected FOCUSED_WALLET once enabled")
	}
}

func TestSeverityScore_Clamped(t *testing.T) {
	snapshot := model.WalletSnapshot{IsNew: true, IsSmartMoney: true, IsFocused: true, IsHeavyActor: true, IsRepeatActor: true}
	if got := severityScore(model.AlertClusterActivity, 150000, 0.5, snapshot); got != 10 {
		t.Errorf("expected clamp at 10, got %d", got)
	}
	if got := severityScore(model.AlertWhaleTrade, 10000, 0.5, model.WalletSnapshot{}); got != 6 {
		t.Errorf("expected base 5 + $10k bump, got %d", got)
	}
}
