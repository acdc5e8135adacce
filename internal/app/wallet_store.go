package app

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
	"whalewatch/config"
	"whalewatch/model"

	"go.uber.org/zap"
)

// timestampRingCap bounds the per-wallet trade timestamp history used for
// velocity checks.
const timestampRingCap = 100

// whaleWalletVolumeUSD is the lifetime volume at which a wallet itself
// counts as a whale.
const whaleWalletVolumeUSD = 100_000

// Position holds the monotonic per-(market,outcome) aggregates. Net shares
// may go negative; the stored fields only grow.
type Position struct {
	BuyShares  float64 `json:"buy_shares"`
	BuyUSD     float64 `json:"buy_usd"`
	SellShares float64 `json:"sell_shares"`
	SellUSD    float64 `json:"sell_usd"`
}

// NetShares is buy shares minus sell shares.
func (p Position) NetShares() float64 {
	return p.BuyShares - p.SellShares
}

// WalletProfile is the rolling per-wallet state. All mutation goes through
// the store; callers outside the store only see copies or snapshots.
type WalletProfile struct {
	Address string `json:"address"`

	TotalTrades        int     `json:"total_trades"`
	TotalVolumeUSD     float64 `json:"total_volume_usd"`
	NonSportsVolumeUSD float64 `json:"non_sports_volume_usd"`
	BuyVolumeUSD       float64 `json:"buy_volume_usd"`
	SellVolumeUSD      float64 `json:"sell_volume_usd"`
	TotalBuys          int     `json:"total_buys"`
	TotalSells         int     `json:"total_sells"`
	LargeTradesCount   int     `json:"large_trades_count"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// Last 100 trade timestamps, oldest first.
	TradeTimestamps []time.Time `json:"trade_timestamps"`

	MarketsTraded map[string]struct{} `json:"-"`

	// Positions: market_id -> outcome -> aggregates.
	Positions map[string]map[string]*Position `json:"positions"`

	// Serialized form of MarketsTraded. Maps with struct{} values do not
	// round-trip through JSON.
	MarketList []string `json:"markets_traded"`
}

// WinRate over resolved bets; 0 when nothing has resolved.
func (p *WalletProfile) WinRate() float64 {
	resolved := p.WinningTrades + p.LosingTrades
	if resolved == 0 {
		return 0
	}
	return float64(p.WinningTrades) / float64(resolved)
}

// ResolvedBets is the count of resolved positions contributing to WinRate.
func (p *WalletProfile) ResolvedBets() int {
	return p.WinningTrades + p.LosingTrades
}

// TradesWithin counts trade timestamps at or after now-window.
func (p *WalletProfile) TradesWithin(window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	n := 0
	for _, ts := range p.TradeTimestamps {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// WalletStore owns all wallet profiles.
type WalletStore struct {
	logger *zap.Logger

	mu       sync.RWMutex
	profiles map[string]*WalletProfile

	smartMoneyMinWinRate   float64
	smartMoneyMinVolumeUSD float64
	smartMoneyMinResolved  int
	vipMinVolumeUSD        float64
	vipMinWinRate          float64
	vipMinLargeTrades      int
	vipLargeTradeUSD       float64

	// Explicit VIP designations survive threshold changes.
	vipOverrides map[string]struct{}
}

func NewWalletStore(logger *zap.Logger, cfg *config.Config) *WalletStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	ws := &WalletStore{
		logger:       logger,
		profiles:     make(map[string]*WalletProfile),
		vipOverrides: make(map[string]struct{}),
	}
	ws.applyConfig(cfg)
	return ws
}

// UpdateConfig refreshes derived-flag thresholds from a new config.
func (ws *WalletStore) UpdateConfig(cfg *config.Config) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.applyConfig(cfg)
}

func (ws *WalletStore) applyConfig(cfg *config.Config) {
	ws.smartMoneyMinWinRate = cfg.Detector.SmartMoneyMinWinRate
	ws.smartMoneyMinVolumeUSD = cfg.Detector.SmartMoneyMinVolumeUSD
	ws.smartMoneyMinResolved = cfg.Detector.SmartMoneyMinResolved
	ws.vipMinVolumeUSD = cfg.Detector.VIPMinVolumeUSD
	ws.vipMinWinRate = cfg.Detector.VIPMinWinRate
	ws.vipMinLargeTrades = cfg.Detector.VIPMinLargeTrades
	ws.vipLargeTradeUSD = cfg.Detector.VIPLargeTradeThresholdUSD
}

// PositionAction classifies the trade's effect on the standing position
// from the state BEFORE the trade is observed. Call before Observe.
func (ws *WalletStore) PositionAction(address, marketID, outcome string, side model.Side) model.PositionAction {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	var net float64
	if profile, ok := ws.profiles[address]; ok {
		if byOutcome, ok := profile.Positions[marketID]; ok {
			if pos, ok := byOutcome[outcome]; ok {
				net = pos.NetShares()
			}
		}
	}

	switch {
	case net == 0:
		return model.PositionOpening
	case side == model.SideBuy && net > 0:
		return model.PositionAdding
	case side == model.SideBuy:
		return model.PositionReversing
	case net > 0:
		return model.PositionClosing
	default:
		return model.PositionAdding
	}
}

// Observe folds a trade into the wallet's profile, creating it on first
// sight. Anonymous trades are ignored; a venue sentinel is not a wallet.
func (ws *WalletStore) Observe(trade model.Trade, isSports bool) *WalletProfile {
	if trade.Anonymous() {
		return nil
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	profile, ok := ws.profiles[trade.TraderID]
	if !ok {
		profile = &WalletProfile{
			Address:       trade.TraderID,
			FirstSeen:     trade.Timestamp,
			MarketsTraded: make(map[string]struct{}),
			Positions:     make(map[string]map[string]*Position),
		}
		ws.profiles[trade.TraderID] = profile
	}

	profile.TotalTrades++
	profile.TotalVolumeUSD += trade.AmountUSD
	if !isSports {
		profile.NonSportsVolumeUSD += trade.AmountUSD
	}
	if trade.AmountUSD >= ws.vipLargeTradeUSD {
		profile.LargeTradesCount++
	}

	if trade.Timestamp.Before(profile.FirstSeen) {
		profile.FirstSeen = trade.Timestamp
	}
	// Timestamps are not monotonic across sources; last_seen is the max.
	if trade.Timestamp.After(profile.LastSeen) {
		profile.LastSeen = trade.Timestamp
	}

	profile.TradeTimestamps = append(profile.TradeTimestamps, trade.Timestamp)
	if len(profile.TradeTimestamps) > timestampRingCap {
		profile.TradeTimestamps = profile.TradeTimestamps[len(profile.TradeTimestamps)-timestampRingCap:]
	}

	if trade.MarketID != "" {
		profile.MarketsTraded[trade.MarketID] = struct{}{}
	}

	byOutcome, ok := profile.Positions[trade.MarketID]
	if !ok {
		byOutcome = make(map[string]*Position)
		profile.Positions[trade.MarketID] = byOutcome
	}
	pos, ok := byOutcome[trade.Outcome]
	if !ok {
		pos = &Position{}
		byOutcome[trade.Outcome] = pos
	}

	if trade.Side == model.SideBuy {
		profile.TotalBuys++
		profile.BuyVolumeUSD += trade.AmountUSD
		pos.BuyShares += trade.Size
		pos.BuyUSD += trade.AmountUSD
	} else {
		profile.TotalSells++
		profile.SellVolumeUSD += trade.AmountUSD
		pos.SellShares += trade.Size
		pos.SellUSD += trade.AmountUSD
	}

	return profile
}

// Get returns a deep-ish copy of the profile, or nil if unknown.
func (ws *WalletStore) Get(address string) *WalletProfile {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	profile, ok := ws.profiles[address]
	if !ok {
		return nil
	}
	return copyProfile(profile)
}

// CumulativeBuysUSD sums buy USD for the wallet across all outcomes of one
// market.
func (ws *WalletStore) CumulativeBuysUSD(address, marketID string) float64 {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	profile, ok := ws.profiles[address]
	if !ok {
		return 0
	}
	total := 0.0
	for _, pos := range profile.Positions[marketID] {
		total += pos.BuyUSD
	}
	return total
}

// SetResolved records the outcome of one resolved position for the wallet.
func (ws *WalletStore) SetResolved(address string, won bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	profile, ok := ws.profiles[address]
	if !ok {
		return
	}
	if won {
		profile.WinningTrades++
	} else {
		profile.LosingTrades++
	}
}

// SetVIP marks or unmarks an explicit VIP wallet.
func (ws *WalletStore) SetVIP(address string, vip bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if vip {
		ws.vipOverrides[address] = struct{}{}
	} else {
		delete(ws.vipOverrides, address)
	}
}

// Snapshot computes the derived-flag view of a wallet at now. A zero
// snapshot with only the address set is returned for unknown wallets.
func (ws *WalletStore) Snapshot(address string, now time.Time) model.WalletSnapshot {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	profile, ok := ws.profiles[address]
	if !ok {
		return model.WalletSnapshot{Address: address}
	}

	winRate := profile.WinRate()
	resolved := profile.ResolvedBets()

	_, vipOverride := ws.vipOverrides[address]
	isVIP := vipOverride ||
		profile.TotalVolumeUSD >= ws.vipMinVolumeUSD ||
		(resolved > 0 && winRate >= ws.vipMinWinRate) ||
		profile.LargeTradesCount >= ws.vipMinLargeTrades

	return model.WalletSnapshot{
		Address:        profile.Address,
		TotalTrades:    profile.TotalTrades,
		TotalVolumeUSD: profile.TotalVolumeUSD,
		BuyVolumeUSD:   profile.BuyVolumeUSD,
		SellVolumeUSD:  profile.SellVolumeUSD,
		MarketsTraded:  len(profile.MarketsTraded),
		WinRate:        winRate,
		ResolvedBets:   resolved,
		IsNew:          profile.TotalTrades < 5,
		IsWhale:        profile.TotalVolumeUSD >= whaleWalletVolumeUSD,
		IsFocused:      len(profile.MarketsTraded) <= 3 && profile.TotalTrades >= 5,
		IsRepeatActor:  profile.TradesWithin(time.Hour, now) >= 3,
		IsHeavyActor:   profile.TradesWithin(24*time.Hour, now) >= 10,
		IsSmartMoney: winRate >= ws.smartMoneyMinWinRate &&
			profile.TotalVolumeUSD >= ws.smartMoneyMinVolumeUSD &&
			resolved >= ws.smartMoneyMinResolved,
		IsVIP: isVIP,
	}
}

// TopByVolume returns the n highest-volume wallets, optionally ranked by
// non-sports volume.
func (ws *WalletStore) TopByVolume(n int, nonSportsOnly bool) []*WalletProfile {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	out := make([]*WalletProfile, 0, len(ws.profiles))
	for _, p := range ws.profiles {
		out = append(out, copyProfile(p))
	}

	sort.Slice(out, func(i, j int) bool {
		if nonSportsOnly {
			return out[i].NonSportsVolumeUSD > out[j].NonSportsVolumeUSD
		}
		return out[i].TotalVolumeUSD > out[j].TotalVolumeUSD
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Count returns the number of tracked wallets.
func (ws *WalletStore) Count() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.profiles)
}

// Cleanup evicts wallets inactive for more than maxInactiveDays, but only
// once the store holds more than minWallets profiles.
func (ws *WalletStore) Cleanup(maxInactiveDays, minWallets int, now time.Time) int {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if len(ws.profiles) <= minWallets {
		return 0
	}

	cutoff := now.AddDate(0, 0, -maxInactiveDays)
	removed := 0
	for address, profile := range ws.profiles {
		if profile.LastSeen.Before(cutoff) {
			delete(ws.profiles, address)
			removed++
		}
	}

	if removed > 0 {
		ws.logger.Info("cleaned up inactive wallets",
			zap.Int("removed", removed),
			zap.Int("remaining", len(ws.profiles)),
		)
	}
	return removed
}

// ProfileSnapshot is the serializable form of the store.
type ProfileSnapshot struct {
	Version   int                       `json:"version"`
	Timestamp time.Time                 `json:"timestamp"`
	Wallets   map[string]*WalletProfile `json:"wallets"`
	VIPs      []string                  `json:"vips,omitempty"`
}

// ExportJSON serializes all profiles for cache persistence.
func (ws *WalletStore) ExportJSON() ([]byte, error) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	wallets := make(map[string]*WalletProfile, len(ws.profiles))
	for addr, p := range ws.profiles {
		cp := copyProfile(p)
		cp.MarketList = make([]string, 0, len(cp.MarketsTraded))
		for m := range cp.MarketsTraded {
			cp.MarketList = append(cp.MarketList, m)
		}
		sort.Strings(cp.MarketList)
		wallets[addr] = cp
	}

	vips := make([]string, 0, len(ws.vipOverrides))
	for v := range ws.vipOverrides {
		vips = append(vips, v)
	}
	sort.Strings(vips)

	return json.Marshal(&ProfileSnapshot{
		Version:   1,
		Timestamp: time.Now(),
		Wallets:   wallets,
		VIPs:      vips,
	})
}

// ImportJSON merges a persisted snapshot into the store. Profiles already
// present win when their LastSeen is newer.
func (ws *WalletStore) ImportJSON(data []byte) (int, error) {
	var snapshot ProfileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return 0, err
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	imported := 0
	for addr, p := range snapshot.Wallets {
		existing, exists := ws.profiles[addr]
		if exists && !p.LastSeen.After(existing.LastSeen) {
			continue
		}
		p.MarketsTraded = make(map[string]struct{}, len(p.MarketList))
		for _, m := range p.MarketList {
			p.MarketsTraded[m] = struct{}{}
		}
		if p.Positions == nil {
			p.Positions = make(map[string]map[string]*Position)
		}
		ws.profiles[addr] = p
		imported++
	}

	for _, v := range snapshot.VIPs {
		ws.vipOverrides[v] = struct{}{}
	}

	ws.logger.Info("imported wallet profiles",
		zap.Int("imported", imported),
		zap.Int("totalTracked", len(ws.profiles)),
		zap.Time("snapshotTime", snapshot.Timestamp),
	)
	return imported, nil
}

// TrimToMaxSize evicts least-recently-seen wallets until the exported JSON
// fits under maxBytes. Returns the number evicted.
func (ws *WalletStore) TrimToMaxSize(maxBytes int64) int {
	if maxBytes <= 0 {
		return 0
	}

	data, err := ws.ExportJSON()
	if err != nil || int64(len(data)) <= maxBytes {
		return 0
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	type entry struct {
		address  string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(ws.profiles))
	for addr, p := range ws.profiles {
		entries = append(entries, entry{address: addr, lastSeen: p.LastSeen})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.Before(entries[j].lastSeen)
	})

	// Evict in chunks; re-marshaling after every single eviction is
	// quadratic on large stores.
	chunk := len(entries)/10 + 1
	removed := 0
	for removed < len(entries) {
		for i := 0; i < chunk && removed < len(entries); i++ {
			delete(ws.profiles, entries[removed].address)
			removed++
		}
		data, err := json.Marshal(ws.profiles)
		if err != nil || int64(len(data)) <= maxBytes {
			break
		}
	}

	ws.logger.Info("trimmed wallet store to max size",
		zap.Int("removed", removed),
		zap.Int("remaining", len(ws.profiles)),
	)
	return removed
}

func copyProfile(p *WalletProfile) *WalletProfile {
	cp := *p
	cp.TradeTimestamps = append([]time.Time(nil), p.TradeTimestamps...)
	cp.MarketsTraded = make(map[string]struct{}, len(p.MarketsTraded))
	for m := range p.MarketsTraded {
		cp.MarketsTraded[m] = struct{}{}
	}
	cp.Positions = make(map[string]map[string]*Position, len(p.Positions))
	for market, byOutcome := range p.Positions {
		inner := make(map[string]*Position, len(byOutcome))
		for outcome, pos := range byOutcome {
			posCopy := *pos
			inner[outcome] = &posCopy
		}
		cp.Positions[market] = inner
	}
	return &cp
}
