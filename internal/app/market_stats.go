package app

import (
	"math"
	"sync"
	"time"
	"whalewatch/model"

	"go.uber.org/zap"
)

// statsRingCap bounds the per-market and global trade-amount buffers.
const statsRingCap = 1000

// hourlyWindow is the span of the per-market volume window.
const hourlyWindow = time.Hour

type volumeSample struct {
	ts     time.Time
	amount float64
}

type marketWindow struct {
	amounts []float64
	volume  []volumeSample
}

// MarketStatsStore keeps rolling per-market trade-size distributions plus a
// global cross-market buffer for size anomaly scoring.
type MarketStatsStore struct {
	logger *zap.Logger

	mu      sync.RWMutex
	markets map[string]*marketWindow
	global  []float64
}

func NewMarketStatsStore(logger *zap.Logger) *MarketStatsStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketStatsStore{
		logger:  logger,
		markets: make(map[string]*marketWindow),
	}
}

// Record appends the trade to its market's ring and volume window and to
// the global ring.
func (ms *MarketStatsStore) Record(trade model.Trade) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	w, ok := ms.markets[trade.MarketID]
	if !ok {
		w = &marketWindow{}
		ms.markets[trade.MarketID] = w
	}

	w.amounts = append(w.amounts, trade.AmountUSD)
	if len(w.amounts) > statsRingCap {
		w.amounts = w.amounts[len(w.amounts)-statsRingCap:]
	}

	w.volume = append(w.volume, volumeSample{ts: trade.Timestamp, amount: trade.AmountUSD})
	pruneWindow(w, trade.Timestamp)

	ms.global = append(ms.global, trade.AmountUSD)
	if len(ms.global) > statsRingCap {
		ms.global = ms.global[len(ms.global)-statsRingCap:]
	}
}

func pruneWindow(w *marketWindow, now time.Time) {
	cutoff := now.Add(-hourlyWindow)
	i := 0
	for i < len(w.volume) && w.volume[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.volume = w.volume[i:]
	}
}

// MarketStats returns (mean, sample std, n) over the market's ring. Std is
// zero until n >= 2.
func (ms *MarketStatsStore) MarketStats(marketID string) (mean, std float64, n int) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	w, ok := ms.markets[marketID]
	if !ok {
		return 0, 0, 0
	}
	return meanStd(w.amounts)
}

// GlobalStats returns (mean, sample std, n) over the cross-market ring.
func (ms *MarketStatsStore) GlobalStats() (mean, std float64, n int) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return meanStd(ms.global)
}

// GlobalZScore scores a trade amount against the cross-market distribution.
// Returns ok=false when there are fewer than two samples or zero variance.
func (ms *MarketStatsStore) GlobalZScore(amountUSD float64) (z float64, n int, ok bool) {
	mean, std, n := ms.GlobalStats()
	if n < 2 || std == 0 {
		return 0, n, false
	}
	return (amountUSD - mean) / std, n, true
}

// HourlyVolume sums the market's volume window as of now.
func (ms *MarketStatsStore) HourlyVolume(marketID string, now time.Time) float64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	w, ok := ms.markets[marketID]
	if !ok {
		return 0
	}
	pruneWindow(w, now)

	total := 0.0
	for _, s := range w.volume {
		total += s.amount
	}
	return total
}

// ImpactRatio is the trade's share of the last hour's volume on its market.
// Unknown or zero volume is treated as maximum impact.
func (ms *MarketStatsStore) ImpactRatio(trade model.Trade) float64 {
	volume := ms.HourlyVolume(trade.MarketID, trade.Timestamp)
	if volume <= 0 {
		return 1.0
	}
	return trade.AmountUSD / volume
}

// MarketCount returns the number of markets with recorded trades.
func (ms *MarketStatsStore) MarketCount() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.markets)
}

func meanStd(samples []float64) (mean, std float64, n int) {
	n = len(samples)
	if n == 0 {
		return 0, 0, 0
	}

	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	mean = sum / float64(n)

	if n < 2 {
		return mean, 0, n
	}

	var ss float64
	for _, v := range samples {
		d := v - mean
		ss += d * d
	}
	std = math.Sqrt(ss / float64(n-1))
	return mean, std, n
}
