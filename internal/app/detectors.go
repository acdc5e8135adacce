package app

import (
	"fmt"
	"sync"
	"time"
	"whalewatch/config"
	"whalewatch/model"

	"go.uber.org/zap"
)

// Per-detector minimum trade amounts that are not operator-tunable.
const (
	smartMoneyMinTradeUSD = 500
	repeatMinTradeUSD     = 1000
	heavyMinTradeUSD      = 500
	extremeMinTradeUSD    = 2000
	clusterMinTradeUSD    = 2000
	impactMinTradeUSD     = 1000
	entityMinTradeUSD     = 1000

	impactMinRatio = 0.25

	// Cluster trades must be within this band of the current trade's size
	clusterAmountLow  = 0.5
	clusterAmountHigh = 2.0
	clusterMinPeers   = 2
)

// DetectionResult is the battery's output for one trade.
type DetectionResult struct {
	Triggers  []model.Trigger
	Snapshot  model.WalletSnapshot
	ZScore    float64
	HasZScore bool
}

type clusterVisit struct {
	wallet string
	amount float64
	ts     time.Time
}

// DetectorBattery runs every detector against each trade in a fixed order.
// Detectors read shared state but never mutate profiles or stats.
type DetectorBattery struct {
	logger   *zap.Logger
	wallets  *WalletStore
	stats    *MarketStatsStore
	catalog  *MarketCatalog
	entities *EntityEngine

	mu     sync.Mutex
	cfg    config.DetectorConfig
	recent map[string][]clusterVisit
}

func NewDetectorBattery(logger *zap.Logger, cfg *config.Config, wallets *WalletStore, stats *MarketStatsStore, catalog *MarketCatalog, entities *EntityEngine) *DetectorBattery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetectorBattery{
		logger:   logger,
		wallets:  wallets,
		stats:    stats,
		catalog:  catalog,
		entities: entities,
		cfg:      cfg.Detector,
		recent:   make(map[string][]clusterVisit),
	}
}

// UpdateConfig swaps detector thresholds at runtime.
func (d *DetectorBattery) UpdateConfig(cfg *config.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg.Detector
}

// Evaluate runs the full battery against one trade. The trade is assumed
// to already be observed into the wallet store and stats.
func (d *DetectorBattery) Evaluate(trade model.Trade) DetectionResult {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	snapshot := d.wallets.Snapshot(trade.TraderID, trade.Timestamp)
	anonymous := trade.Anonymous()
	price := d.tradePrice(trade)

	result := DetectionResult{Snapshot: snapshot}

	add := func(alertType model.AlertType, message string) {
		result.Triggers = append(result.Triggers, model.Trigger{
			Type:    alertType,
			Message: message,
			Score:   severityScore(alertType, trade.AmountUSD, price, snapshot),
		})
	}

	// 1. Whale trade
	if trade.AmountUSD >= cfg.WhaleThresholdUSD {
		add(model.AlertWhaleTrade, fmt.Sprintf("Large trade: $%.0f %s", trade.AmountUSD, trade.Side))
	}

	// 2. Unusual size vs the global distribution
	if z, n, ok := d.stats.GlobalZScore(trade.AmountUSD); ok {
		result.ZScore = z
		result.HasZScore = true
		if n >= cfg.MinTradesForStats && z >= cfg.StdMultiplier && trade.AmountUSD < cfg.WhaleThresholdUSD {
			add(model.AlertUnusualSize, fmt.Sprintf("Unusually large trade: %.1f std devs above typical size", z))
		}
	}

	// 3. New wallet
	if !anonymous && snapshot.IsNew && trade.AmountUSD >= cfg.NewWalletThresholdUSD {
		add(model.AlertNewWallet, fmt.Sprintf("New wallet making a $%.0f trade", trade.AmountUSD))
	}

	// 4. Smart money
	if !anonymous && snapshot.IsSmartMoney && trade.AmountUSD >= smartMoneyMinTradeUSD {
		add(model.AlertSmartMoney, fmt.Sprintf("Smart money wallet (%.0f%% win rate over %d resolved) trading $%.0f",
			snapshot.WinRate*100, snapshot.ResolvedBets, trade.AmountUSD))
	}

	// 5. VIP wallet
	if !anonymous && snapshot.IsVIP {
		add(model.AlertVIPWallet, fmt.Sprintf("VIP wallet active: $%.0f %s", trade.AmountUSD, trade.Side))
	}

	// 6. Repeat actor
	if !anonymous && snapshot.IsRepeatActor && trade.AmountUSD >= repeatMinTradeUSD {
		add(model.AlertRepeatActor, "Repeat actor: 3+ trades in the past hour")
	}

	// 7. Heavy actor
	if !anonymous && snapshot.IsHeavyActor && trade.AmountUSD >= heavyMinTradeUSD {
		add(model.AlertHeavyActor, "Heavy actor: 10+ trades in the past 24 hours")
	}

	// 8. Whale exit (flagged)
	if cfg.EnableWhaleExit && !anonymous && trade.Side == model.SideSell && trade.AmountUSD >= cfg.ExitThresholdUSD {
		if buys := d.wallets.CumulativeBuysUSD(trade.TraderID, trade.MarketID); buys >= cfg.WhaleThresholdUSD {
			add(model.AlertWhaleExit, fmt.Sprintf("Whale exiting: $%.0f sell after $%.0f cumulative buys", trade.AmountUSD, buys))
		}
	}

	// 9. Contrarian (flagged)
	if cfg.EnableContrarian && trade.Side == model.SideBuy && price <= cfg.ContrarianThreshold && trade.AmountUSD >= cfg.ContrarianMinUSD {
		add(model.AlertContrarian, fmt.Sprintf("Contrarian buy at %.0f%% probability", price*100))
	}

	// 10. Extreme confidence (flagged)
	if cfg.EnableExtremeConfidence && (price >= cfg.ExtremeConfidenceHigh || price <= cfg.ExtremeConfidenceLow) && trade.AmountUSD >= extremeMinTradeUSD {
		add(model.AlertExtremeConfidence, fmt.Sprintf("High-conviction trade at %.0f%% probability", price*100))
	}

	// 11. Cluster activity
	if !anonymous && trade.AmountUSD >= clusterMinTradeUSD {
		if peers := d.clusterPeers(trade); peers >= clusterMinPeers {
			add(model.AlertClusterActivity, fmt.Sprintf("Coordinated burst: %d wallets with similar-size trades in the same market", peers+1))
		}
	}
	d.recordCluster(trade)

	// 12. High impact
	if trade.AmountUSD >= impactMinTradeUSD {
		if ratio := d.stats.ImpactRatio(trade); ratio >= impactMinRatio {
			add(model.AlertHighImpact, fmt.Sprintf("Trade is %.0f%% of the market's hourly volume", ratio*100))
		}
	}

	// 13. Entity activity
	if !anonymous && trade.AmountUSD >= entityMinTradeUSD && d.entities != nil {
		if ent := d.entities.EntityFor(trade.TraderID); ent != nil && len(ent.Wallets) >= 2 {
			add(model.AlertEntityActivity, fmt.Sprintf("Wallet belongs to a linked group of %d wallets", len(ent.Wallets)))
		}
	}

	// 14. Focused wallet (flagged)
	if cfg.EnableFocusedWallet && !anonymous && snapshot.IsFocused && trade.AmountUSD >= cfg.FocusedWalletThresholdUSD {
		add(model.AlertFocusedWallet, fmt.Sprintf("Focused wallet (%d markets) trading $%.0f", snapshot.MarketsTraded, trade.AmountUSD))
	}

	return result
}

// tradePrice returns the cached reference price for the trade's outcome,
// falling back to the trade's own execution price.
func (d *DetectorBattery) tradePrice(trade model.Trade) float64 {
	if d.catalog != nil {
		if price, ok := d.catalog.ReferencePrice(trade.MarketID, trade.Outcome); ok {
			return price
		}
	}
	return trade.Price
}

// clusterPeers counts distinct other wallets that traded the same market
// within the cluster window at a comparable size.
func (d *DetectorBattery) clusterPeers(trade model.Trade) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := trade.Timestamp.Add(-d.cfg.ClusterTimeWindow)
	seen := make(map[string]struct{})
	for _, v := range d.recent[trade.MarketID] {
		if v.ts.Before(cutoff) || v.wallet == trade.TraderID {
			continue
		}
		if v.amount < trade.AmountUSD*clusterAmountLow || v.amount > trade.AmountUSD*clusterAmountHigh {
			continue
		}
		seen[v.wallet] = struct{}{}
	}
	return len(seen)
}

func (d *DetectorBattery) recordCluster(trade model.Trade) {
	if trade.Anonymous() || trade.MarketID == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := trade.Timestamp.Add(-d.cfg.ClusterTimeWindow)
	visits := d.recent[trade.MarketID]
	keep := visits[:0]
	for _, v := range visits {
		if !v.ts.Before(cutoff) {
			keep = append(keep, v)
		}
	}
	d.recent[trade.MarketID] = append(keep, clusterVisit{
		wallet: trade.TraderID,
		amount: trade.AmountUSD,
		ts:     trade.Timestamp,
	})
}

// severityScore computes a trigger's 1-10 score from the trade amount, the
// wallet's standing, and the trigger type.
func severityScore(alertType model.AlertType, amountUSD, price float64, snapshot model.WalletSnapshot) int {
	score := 5

	switch {
	case amountUSD >= 100_000:
		score += 4
	case amountUSD >= 50_000:
		score += 3
	case amountUSD >= 25_000:
		score += 2
	case amountUSD >= 10_000:
		score += 1
	}

	if snapshot.IsNew {
		score += 2
	}
	if snapshot.IsSmartMoney {
		score += 2
	}
	if snapshot.IsFocused {
		score++
	}
	if snapshot.IsHeavyActor {
		score++
	}
	if snapshot.IsRepeatActor {
		score++
	}

	switch alertType {
	case model.AlertSmartMoney, model.AlertNewWallet:
		score++
	case model.AlertContrarian, model.AlertClusterActivity:
		score += 2
	case model.AlertExtremeConfidence:
		if price <= 0.10 {
			score += 2
		}
	}

	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score
}
