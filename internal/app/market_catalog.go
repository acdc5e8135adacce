package app

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"whalewatch/model"

	"go.uber.org/zap"
)

// categoryKeywords maps question keywords to a category. Order matters;
// the first matching bucket wins.
var categoryKeywords = []struct {
	category model.Category
	words    []string
}{
	{model.CategoryPolitics, []string{
		"election", "president", "presidential", "senate", "congress", "governor",
		"trump", "biden", "harris", "democrat", "republican", "primary", "impeach",
		"cabinet", "supreme court", "nominee", "vote", "ballot", "parliament",
	}},
	{model.CategoryCrypto, []string{
		"bitcoin", "btc", "ethereum", "eth", "solana", "crypto", "dogecoin",
		"xrp", "blockchain", "stablecoin", "airdrop", "binance", "coinbase",
	}},
	{model.CategoryFinance, []string{
		"fed ", "federal reserve", "interest rate", "inflation", "cpi", "gdp",
		"recession", "s&p", "nasdaq", "stock", "ipo", "earnings", "treasury",
		"tariff", "unemployment",
	}},
	{model.CategorySports, []string{
		"super bowl", "nba", "nfl", "mlb", "nhl", "ufc", "premier league",
		"world cup", "champions league", "playoff", "finals", "heisman",
		"grand slam", "wimbledon", "olympics", "f1", "grand prix", "march madness",
	}},
	{model.CategoryScience, []string{
		"temperature", "hurricane", "earthquake", "climate", "vaccine", "nasa",
		"spacex", "launch", "asteroid", "rainfall", "snow", "ai model", "openai",
	}},
	{model.CategoryEntertainment, []string{
		"oscar", "academy award", "grammy", "emmy", "box office", "album",
		"movie", "netflix", "taylor swift", "celebrity", "bachelor",
	}},
	{model.CategoryWorld, []string{
		"ukraine", "russia", "china", "israel", "gaza", "iran", "nato", "war",
		"ceasefire", "north korea", "taiwan", "united nations",
	}},
}

// tickerPrefixes maps venue ticker prefixes to categories for markets whose
// question text is not classifiable.
var tickerPrefixes = []struct {
	prefix   string
	category model.Category
}{
	{"KXNBA", model.CategorySports},
	{"KXNFL", model.CategorySports},
	{"KXMLB", model.CategorySports},
	{"KXNHL", model.CategorySports},
	{"KXUFC", model.CategorySports},
	{"KXNCAA", model.CategorySports},
	{"KXBTC", model.CategoryCrypto},
	{"KXETH", model.CategoryCrypto},
	{"KXSOL", model.CategoryCrypto},
	{"KXFED", model.CategoryFinance},
	{"KXCPI", model.CategoryFinance},
	{"KXPRES", model.CategoryPolitics},
}

// timeOfDayPattern matches intraday clock references used by
// high-frequency up/down markets.
var timeOfDayPattern = regexp.MustCompile(`(?i)\b\d{1,2}(:\d{2})?\s?(am|pm)\b`)

// InferCategory classifies a market from its question text with a
// ticker-prefix fallback.
func InferCategory(question, marketID string) model.Category {
	lower := strings.ToLower(question)
	for _, bucket := range categoryKeywords {
		for _, w := range bucket.words {
			if strings.Contains(lower, w) {
				return bucket.category
			}
		}
	}

	upper := strings.ToUpper(marketID)
	for _, tp := range tickerPrefixes {
		if strings.HasPrefix(upper, tp.prefix) {
			return tp.category
		}
	}

	return model.CategoryOther
}

// isHighFrequencyQuestion reports whether a question looks like a
// short-interval repeating market (15-minute BTC up/down and the like).
func isHighFrequencyQuestion(question string) bool {
	lower := strings.ToLower(question)
	if strings.Contains(lower, "up or down") {
		return true
	}
	hasAsset := strings.Contains(lower, "bitcoin") || strings.Contains(lower, "btc") ||
		strings.Contains(lower, "ethereum") || strings.Contains(lower, "eth ")
	if hasAsset && timeOfDayPattern.MatchString(question) {
		return true
	}
	return false
}

type catalogEntry struct {
	market   model.Market
	category model.Category
	isSports bool
	isHF     bool
}

// MarketCatalog memoizes market metadata keyed by market id. Category
// inference is sticky: once a market id has a category, later refreshes
// never change it.
type MarketCatalog struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*catalogEntry
}

func NewMarketCatalog(logger *zap.Logger) *MarketCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketCatalog{
		logger:  logger,
		entries: make(map[string]*catalogEntry),
	}
}

// Upsert merges refreshed markets into the catalog, inferring categories
// for markets the adapter left unclassified.
func (mc *MarketCatalog) Upsert(markets []model.Market) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for i := range markets {
		m := markets[i]
		if m.ID == "" {
			continue
		}

		entry, ok := mc.entries[m.ID]
		if !ok {
			category := m.Category
			if category == "" {
				category = InferCategory(m.Question, m.ID)
			}
			entry = &catalogEntry{
				category: category,
				isSports: category == model.CategorySports,
				isHF:     isHighFrequencyQuestion(m.Question),
			}
			mc.entries[m.ID] = entry
		}

		m.Category = entry.category
		m.UpdatedAt = time.Now()
		entry.market = m
	}
}

// Get returns the cached market, if known.
func (mc *MarketCatalog) Get(marketID string) (model.Market, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	entry, ok := mc.entries[marketID]
	if !ok {
		return model.Market{}, false
	}
	return entry.market, true
}

// Category returns the sticky category for a market; Other when unknown.
func (mc *MarketCatalog) Category(marketID string) model.Category {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if entry, ok := mc.entries[marketID]; ok {
		return entry.category
	}
	return model.CategoryOther
}

// Question returns the cached question text, empty when unknown.
func (mc *MarketCatalog) Question(marketID string) string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if entry, ok := mc.entries[marketID]; ok {
		return entry.market.Question
	}
	return ""
}

// ReferencePrice returns the cached probability for an outcome.
func (mc *MarketCatalog) ReferencePrice(marketID, outcome string) (float64, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	entry, ok := mc.entries[marketID]
	if !ok {
		return 0, false
	}
	price, ok := entry.market.OutcomePrices[outcome]
	return price, ok
}

// Volume returns the cached venue-reported volume, used as a liquidity
// hint when the hourly window is empty.
func (mc *MarketCatalog) Volume(marketID string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if entry, ok := mc.entries[marketID]; ok {
		return entry.market.Volume
	}
	return 0
}

// IsSports reports the sticky sports flag for a market.
func (mc *MarketCatalog) IsSports(marketID string) bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if entry, ok := mc.entries[marketID]; ok {
		return entry.isSports
	}
	return false
}

// IsHighFrequency reports whether the market matches short-interval
// repeating patterns.
func (mc *MarketCatalog) IsHighFrequency(marketID string) bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if entry, ok := mc.entries[marketID]; ok {
		return entry.isHF
	}
	return false
}

// Count returns the number of cached markets.
func (mc *MarketCatalog) Count() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.entries)
}

// UnknownIDs filters the given market ids down to those not in the catalog.
func (mc *MarketCatalog) UnknownIDs(ids []string) []string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var unknown []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := mc.entries[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	return unknown
}
