package polymarketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"whalewatch/config"
	"whalewatch/model"

	"go.uber.org/zap"
)

// getAttempts bounds transient-error retries per GET.
const getAttempts = 3

type PolymarketApiClient struct {
	logger       *zap.Logger
	httpClient   *http.Client
	gammaBaseURL string
	dataBaseURL  string
	retryDelay   time.Duration
}

func NewPolymarketApiClient(logger *zap.Logger, cfg *config.Config) *PolymarketApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Ingest.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &PolymarketApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		gammaBaseURL: cfg.Polymarket.GammaAPIURL,
		dataBaseURL:  cfg.Polymarket.DataAPIURL,
		retryDelay:   500 * time.Millisecond,
	}
}

// IsConfigured reports whether the client has usable endpoints.
func (c *PolymarketApiClient) IsConfigured() bool {
	return c.gammaBaseURL != "" && c.dataBaseURL != ""
}

// ---- Gamma API types ----

type GammaMarket struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Question    string `json:"question"`
	ConditionID string `json:"conditionId"`

	// These may be encoded as JSON arrays or as strings containing JSON arrays.
	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`

	// Volume metrics
	Volume24hr float64 `json:"volume24hr"`
	VolumeNum  float64 `json:"volumeNum"`

	// Status
	Active  bool   `json:"active"`
	Closed  bool   `json:"closed"`
	EndDate string `json:"endDate,omitempty"`
}

// GetOutcomes parses the Outcomes field and returns the outcome names.
func (m *GammaMarket) GetOutcomes() []string {
	if len(m.Outcomes) == 0 {
		return nil
	}

	// Try parsing as direct array
	var outcomes []string
	if err := json.Unmarshal(m.Outcomes, &outcomes); err == nil {
		return outcomes
	}

	// Try parsing as JSON string containing an array (e.g., "[\"Yes\", \"No\"]")
	var jsonStr string
	if err := json.Unmarshal(m.Outcomes, &jsonStr); err == nil {
		if err := json.Unmarshal([]byte(jsonStr), &outcomes); err == nil {
			return outcomes
		}
	}

	return nil
}

// GetOutcomePrices parses the OutcomePrices field and returns prices.
func (m *GammaMarket) GetOutcomePrices() []float64 {
	if len(m.OutcomePrices) == 0 {
		return nil
	}

	parseStrings := func(strs []string) []float64 {
		prices := make([]float64, len(strs))
		for i, s := range strs {
			fmt.Sscanf(s, "%f", &prices[i])
		}
		return prices
	}

	// Try parsing as array of floats
	var prices []float64
	if err := json.Unmarshal(m.OutcomePrices, &prices); err == nil {
		return prices
	}

	// Try parsing as array of strings (prices often arrive as strings)
	var strs []string
	if err := json.Unmarshal(m.OutcomePrices, &strs); err == nil {
		return parseStrings(strs)
	}

	// Try parsing as JSON string containing an array
	var jsonStr string
	if err := json.Unmarshal(m.OutcomePrices, &jsonStr); err == nil {
		if err := json.Unmarshal([]byte(jsonStr), &strs); err == nil {
			return parseStrings(strs)
		}
		if err := json.Unmarshal([]byte(jsonStr), &prices); err == nil {
			return prices
		}
	}

	return nil
}

// ToMarket normalizes a gamma market into the canonical form. Category is
// left for the metadata cache to infer.
func (m *GammaMarket) ToMarket() model.Market {
	id := m.ConditionID
	if id == "" {
		id = m.ID
	}

	prices := make(map[string]float64)
	outcomes := m.GetOutcomes()
	values := m.GetOutcomePrices()
	for i, o := range outcomes {
		if i < len(values) {
			prices[o] = values[i]
		}
	}

	var endTime time.Time
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			endTime = t
		}
	}

	volume := m.Volume24hr
	if volume == 0 {
		volume = m.VolumeNum
	}

	return model.Market{
		ID:            id,
		Venue:         model.VenuePolymarket,
		Question:      m.Question,
		Slug:          m.Slug,
		OutcomePrices: prices,
		Volume:        volume,
		EndTime:       endTime,
		Active:        m.Active && !m.Closed,
		URL:           "https://polymarket.com/event/" + m.Slug,
		UpdatedAt:     time.Now(),
	}
}

// GetTopMarketsByVolume fetches the top markets sorted by 24-hour trading volume.
func (c *PolymarketApiClient) GetTopMarketsByVolume(
	ctx context.Context,
	limit int,
) ([]GammaMarket, error) {
	if limit <= 0 {
		limit = 100
	}

	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gammaBaseURL: %w", err)
	}
	u.Path = "/markets"

	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	q.Set("active", "true")
	q.Set("closed", "false")
	u.RawQuery = q.Encode()

	var markets []GammaMarket
	if err := c.doGet(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("get top markets: %w", err)
	}
	return markets, nil
}

// ListActiveMarkets fetches and normalizes the top active markets.
func (c *PolymarketApiClient) ListActiveMarkets(ctx context.Context, limit int) ([]model.Market, error) {
	raw, err := c.GetTopMarketsByVolume(ctx, limit)
	if err != nil {
		return nil, err
	}

	markets := make([]model.Market, 0, len(raw))
	for i := range raw {
		m := raw[i].ToMarket()
		if m.ID == "" {
			c.logger.Warn("skipping gamma market without id", zap.String("slug", raw[i].Slug))
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// ---- Data API types ----

// Trade represents a trade from the data API.
type Trade struct {
	ID              string  `json:"id"`
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"` // BUY or SELL
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Asset           string  `json:"asset"`
	TransactionHash string  `json:"transactionHash"`

	// Market metadata
	Title        string `json:"title"`
	Slug         string `json:"slug"`
	Outcome      string `json:"outcome"`
	OutcomeIndex int    `json:"outcomeIndex"`
}

// TradeID derives a deterministic id from stable trade fields so the same
// event hashes to the same id whether it arrived via stream or poll.
func TradeID(txHash string, size float64) string {
	h := txHash
	if len(h) > 16 {
		h = h[:16]
	}
	return fmt.Sprintf("%s_%v", h, size)
}

// ToTrade normalizes a data-API trade into the canonical form. Returns an
// error for rows missing the fields the pipeline depends on.
func (t *Trade) ToTrade() (model.Trade, error) {
	if t.TransactionHash == "" && t.ID == "" {
		return model.Trade{}, fmt.Errorf("trade has no transaction hash or id")
	}
	if t.Size <= 0 || t.Price < 0 || t.Price > 1 {
		return model.Trade{}, fmt.Errorf("trade has invalid size/price: size=%f price=%f", t.Size, t.Price)
	}

	id := TradeID(t.TransactionHash, t.Size)
	if t.TransactionHash == "" {
		id = TradeID(t.ID, t.Size)
	}

	side := model.SideBuy
	if strings.EqualFold(t.Side, "SELL") {
		side = model.SideSell
	}

	outcome := t.Outcome
	if outcome == "" {
		if t.OutcomeIndex == 1 {
			outcome = "No"
		} else {
			outcome = "Yes"
		}
	}

	return model.Trade{
		ID:                     id,
		Venue:                  model.VenuePolymarket,
		MarketID:               t.ConditionID,
		TraderID:               strings.ToLower(t.ProxyWallet),
		Outcome:                outcome,
		Side:                   side,
		Size:                   t.Size,
		Price:                  t.Price,
		AmountUSD:              t.Size * t.Price,
		Timestamp:              time.Unix(t.Timestamp, 0).UTC(),
		TxHash:                 t.TransactionHash,
		SupportsTraderIdentity: true,
	}, nil
}

// GetTrades fetches recent taker trades above the given cash amount.
// Pass minAmountUSD <= 0 to skip the amount filter.
func (c *PolymarketApiClient) GetTrades(
	ctx context.Context,
	minAmountUSD float64,
	limit int,
) ([]Trade, error) {
	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/trades"

	q := u.Query()
	q.Set("takerOnly", "true")
	if minAmountUSD > 0 {
		q.Set("filterType", "CASH")
		q.Set("filterAmount", fmt.Sprintf("%.0f", minAmountUSD))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	var trades []Trade
	if err := c.doGet(ctx, u.String(), &trades); err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}

	return trades, nil
}

// RecentTrades fetches and normalizes recent trades, dropping rows newer
// adapters cannot make sense of. Trades older than since are filtered out.
func (c *PolymarketApiClient) RecentTrades(
	ctx context.Context,
	since time.Time,
	minAmountUSD float64,
	limit int,
) ([]model.Trade, error) {
	raw, err := c.GetTrades(ctx, minAmountUSD, limit)
	if err != nil {
		return nil, err
	}

	trades := make([]model.Trade, 0, len(raw))
	for i := range raw {
		trade, err := raw[i].ToTrade()
		if err != nil {
			c.logger.Warn("skipping malformed polymarket trade", zap.Error(err))
			continue
		}
		if !since.IsZero() && trade.Timestamp.Before(since) {
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// doGet fetches url into dest, retrying transient failures (network errors,
// 5xx) with exponential backoff. 4xx and decode errors are not retried.
func (c *PolymarketApiClient) doGet(ctx context.Context, url string, dest any) error {
	var lastErr error
	for attempt := 0; attempt < getAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay << (attempt - 1)):
			}
			c.logger.Warn("retrying request",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
		}

		retryable, err := c.getOnce(ctx, url, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func (c *PolymarketApiClient) getOnce(ctx context.Context, url string, dest any) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 == 5 {
		return true, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}
	if resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return false, fmt.Errorf("decode json: %w", err)
	}

	return false, nil
}
