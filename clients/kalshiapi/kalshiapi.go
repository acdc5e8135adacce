// Package kalshiapi talks to the Kalshi elections API. Market data is
// public; the trades endpoint requires RSA-PSS request signing. Kalshi never
// exposes trader identity, so every trade carries the KALSHI_ANON sentinel.
package kalshiapi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
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

// AnonTrader is the sentinel trader id for all Kalshi trades.
const AnonTrader = "KALSHI_ANON"

// categoryKeywords maps categories to title keywords, checked in order.
var categoryKeywords = []struct {
	category model.Category
	words    []string
}{
	{model.CategoryPolitics, []string{"trump", "biden", "election", "president", "congress", "senate", "vote",
		"democrat", "republican", "governor", "mayor", "party", "nominee"}},
	{model.CategoryCrypto, []string{"bitcoin", "btc", "ethereum", "eth", "crypto", "token", "blockchain"}},
	{model.CategoryFinance, []string{"stock", "s&p", "nasdaq", "fed", "interest rate", "inflation", "gdp",
		"recession", "market", "dow", "treasury", "unemployment"}},
	{model.CategoryScience, []string{"ai ", "openai", "climate", "fda", "vaccine", "space", "nasa", "weather",
		"hurricane", "earthquake", "temperature"}},
	{model.CategoryEntertainment, []string{"oscar", "grammy", "emmy", "movie", "album", "celebrity", "twitter",
		"tweet", "elon", "streaming"}},
	{model.CategoryWorld, []string{"war", "ukraine", "russia", "china", "iran", "israel", "military", "invasion",
		"ceasefire", "nato"}},
	{model.CategorySports, []string{"nfl", "nba", "mlb", "super bowl", "world series", "championship", "playoff"}},
}

// CategoryFromTitle infers a category from a market title.
func CategoryFromTitle(title string) model.Category {
	lower := strings.ToLower(title)
	for _, entry := range categoryKeywords {
		for _, w := range entry.words {
			if strings.Contains(lower, w) {
				return entry.category
			}
		}
	}
	return model.CategoryOther
}

// getAttempts bounds transient-error retries per GET.
const getAttempts = 3

type KalshiApiClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	enabled    bool
	apiKeyID   string
	privateKey *rsa.PrivateKey
	retryDelay time.Duration
}

func NewKalshiApiClient(logger *zap.Logger, cfg *config.Config) *KalshiApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Ingest.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &KalshiApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:    strings.TrimRight(cfg.Kalshi.BaseURL, "/"),
		enabled:    cfg.Kalshi.Enabled,
		apiKeyID:   cfg.Kalshi.APIKeyID,
		retryDelay: 500 * time.Millisecond,
	}

	if cfg.Kalshi.PrivateKeyPEM != "" {
		key, err := parsePrivateKey(cfg.Kalshi.PrivateKeyPEM)
		if err != nil {
			logger.Warn("failed to parse kalshi private key, trade fetching disabled", zap.Error(err))
		} else {
			c.privateKey = key
		}
	}

	return c
}

// parsePrivateKey accepts a PEM-encoded RSA key, or base64 of the PEM.
func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	if !strings.Contains(raw, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("decode base64 key: %w", err)
		}
		raw = string(decoded)
	}

	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// IsConfigured reports whether the client should be polled at all.
func (c *KalshiApiClient) IsConfigured() bool {
	return c.enabled && c.baseURL != ""
}

// IsAuthenticated reports whether signed endpoints (trades) are usable.
func (c *KalshiApiClient) IsAuthenticated() bool {
	return c.apiKeyID != "" && c.privateKey != nil
}

// SupportsTraderIdentity is false: Kalshi never exposes who traded.
func (c *KalshiApiClient) SupportsTraderIdentity() bool {
	return false
}

// signRequest builds Kalshi auth headers. The signed message is
// timestamp_ms + method + path (query string excluded).
func (c *KalshiApiClient) signRequest(method, path string) (map[string]string, error) {
	if !c.IsAuthenticated() {
		return nil, nil
	}

	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())

	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/trade-api") {
		path = "/trade-api/v2" + path
	}
	message := timestamp + method + path

	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       c.apiKeyID,
		"KALSHI-ACCESS-TIMESTAMP": timestamp,
		"KALSHI-ACCESS-SIGNATURE": base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// ---- API types ----

type kalshiMarket struct {
	Ticker       string  `json:"ticker"`
	Title        string  `json:"title"`
	YesBid       float64 `json:"yes_bid"`
	YesAsk       float64 `json:"yes_ask"`
	NoBid        float64 `json:"no_bid"`
	NoAsk        float64 `json:"no_ask"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
	CloseTime    string  `json:"close_time"`
	Status       string  `json:"status"`
}

type kalshiTrade struct {
	TradeID     string  `json:"trade_id"`
	Ticker      string  `json:"ticker"`
	Count       float64 `json:"count"`
	YesPrice    float64 `json:"yes_price"` // cents
	NoPrice     float64 `json:"no_price"`  // cents
	TakerSide   string  `json:"taker_side"`
	CreatedTime string  `json:"created_time"`
}

type marketsResponse struct {
	Markets []kalshiMarket `json:"markets"`
	Cursor  string         `json:"cursor"`
}

type tradesResponse struct {
	Trades []kalshiTrade `json:"trades"`
	Cursor string        `json:"cursor"`
}

func (m *kalshiMarket) toMarket() (model.Market, error) {
	if m.Ticker == "" {
		return model.Market{}, fmt.Errorf("market has no ticker")
	}

	yesPrice := m.YesBid
	if yesPrice == 0 {
		yesPrice = m.YesAsk
	}
	noPrice := m.NoBid
	if noPrice == 0 {
		noPrice = m.NoAsk
	}

	// Cents to probability
	yes := yesPrice / 100.0
	no := noPrice / 100.0
	if yes == 0 && no == 0 {
		yes, no = 0.5, 0.5
	}

	// Normalize so yes+no sums to 1.0
	if total := yes + no; total > 0 {
		yes /= total
		no /= total
	}

	var endTime time.Time
	if m.CloseTime != "" {
		if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
			endTime = t
		}
	}

	status := strings.ToLower(m.Status)
	active := status == "open" || status == "active" || status == ""

	return model.Market{
		ID:       m.Ticker,
		Venue:    model.VenueKalshi,
		Question: m.Title,
		Slug:     m.Ticker,
		Category: CategoryFromTitle(m.Title),
		OutcomePrices: map[string]float64{
			"Yes": yes,
			"No":  no,
		},
		Volume:    m.Volume,
		EndTime:   endTime,
		Active:    active,
		URL:       "https://kalshi.com/markets/" + strings.ToLower(m.Ticker),
		UpdatedAt: time.Now(),
	}, nil
}

func (t *kalshiTrade) toTrade() (model.Trade, error) {
	if t.TradeID == "" {
		return model.Trade{}, fmt.Errorf("trade has no id")
	}
	if t.Count <= 0 {
		return model.Trade{}, fmt.Errorf("trade has non-positive count: %f", t.Count)
	}

	timestamp := time.Now().UTC()
	if t.CreatedTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.CreatedTime); err == nil {
			timestamp = parsed.UTC()
		}
	}

	// Prices arrive in cents
	price := t.YesPrice / 100.0

	outcome := "Yes"
	if strings.EqualFold(t.TakerSide, "no") {
		outcome = "No"
	}

	id := "kalshi_" + t.TradeID

	return model.Trade{
		ID:                     id,
		Venue:                  model.VenueKalshi,
		MarketID:               t.Ticker,
		TraderID:               AnonTrader,
		Outcome:                outcome,
		Side:                   model.SideBuy,
		Size:                   t.Count,
		Price:                  price,
		AmountUSD:              t.Count * price,
		Timestamp:              timestamp,
		TxHash:                 id,
		SupportsTraderIdentity: false,
	}, nil
}

// ListActiveMarkets fetches open markets, normalized.
func (c *KalshiApiClient) ListActiveMarkets(ctx context.Context, limit int) ([]model.Market, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("status", "open")

	var resp marketsResponse
	if err := c.doGet(ctx, "/markets", q, &resp); err != nil {
		return nil, fmt.Errorf("get kalshi markets: %w", err)
	}

	markets := make([]model.Market, 0, len(resp.Markets))
	for i := range resp.Markets {
		market, err := resp.Markets[i].toMarket()
		if err != nil {
			c.logger.Warn("skipping malformed kalshi market", zap.Error(err))
			continue
		}
		markets = append(markets, market)
	}
	return markets, nil
}

// RecentTrades fetches recent trades across all markets. Requires
// authentication; returns an empty batch when no key is configured.
func (c *KalshiApiClient) RecentTrades(ctx context.Context, since time.Time, limit int) ([]model.Trade, error) {
	if !c.IsAuthenticated() {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if !since.IsZero() {
		q.Set("min_ts", fmt.Sprintf("%d", since.Unix()))
	}

	var resp tradesResponse
	if err := c.doGet(ctx, "/markets/trades", q, &resp); err != nil {
		return nil, fmt.Errorf("get kalshi trades: %w", err)
	}

	trades := make([]model.Trade, 0, len(resp.Trades))
	for i := range resp.Trades {
		trade, err := resp.Trades[i].toTrade()
		if err != nil {
			c.logger.Warn("skipping malformed kalshi trade", zap.Error(err))
			continue
		}
		if !since.IsZero() && trade.Timestamp.Before(since) {
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// doGet fetches a signed GET into dest, retrying transient failures
// (network errors, 5xx) with exponential backoff. Auth failures, other 4xx
// and decode errors are not retried.
func (c *KalshiApiClient) doGet(ctx context.Context, path string, query url.Values, dest any) error {
	var lastErr error
	for attempt := 0; attempt < getAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay << (attempt - 1)):
			}
			c.logger.Warn("retrying request",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
		}

		retryable, err := c.getOnce(ctx, path, query, dest)
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

func (c *KalshiApiClient) getOnce(ctx context.Context, path string, query url.Values, dest any) (retryable bool, err error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	headers, err := c.signRequest(http.MethodGet, path)
	if err != nil {
		return false, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return false, fmt.Errorf("kalshi auth failed: check API key and private key")
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
