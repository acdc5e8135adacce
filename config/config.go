package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Venue endpoints
	Polymarket PolymarketConfig `json:"polymarket"`
	Kalshi     KalshiConfig     `json:"kalshi"`

	// Trade ingestion
	Ingest IngestConfig `json:"ingest"`

	// Market metadata refresh
	Markets MarketsConfig `json:"markets"`

	// Detector thresholds
	Detector DetectorConfig `json:"detector"`

	// Alert consolidation gates
	Alerts AlertsConfig `json:"alerts"`

	// Wallet profile store
	Wallets WalletsConfig `json:"wallets"`

	// Cluster / entity engine
	Entity EntityConfig `json:"entity"`

	// Digest reports
	Digest DigestConfig `json:"digest"`

	// GitHub Gist - excluded from settings (env var only)
	Gist GistConfig `json:"-"`

	// Cache persistence
	Cache CacheConfig `json:"cache"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken  string `json:"-"` // Excluded - env var only
	ChannelID string `json:"channel_id"`

	// Per-category thread routing. Empty values fall back to ChannelID.
	ThreadPolitics      string `json:"thread_politics"`
	ThreadCrypto        string `json:"thread_crypto"`
	ThreadSports        string `json:"thread_sports"`
	ThreadFinance       string `json:"thread_finance"`
	ThreadEntertainment string `json:"thread_entertainment"`
	ThreadScience       string `json:"thread_science"`
	ThreadWorld         string `json:"thread_world"`
	ThreadOther         string `json:"thread_other"`

	// VIP alerts override category routing when set.
	VIPThreadID string `json:"vip_thread_id"`

	// Digest reports go here; also the fallback for unmapped categories.
	DigestThreadID string `json:"digest_thread_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken string `json:"-"` // Excluded - env var only
	ChatID   string `json:"chat_id"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaAPIURL string `json:"gamma_api_url"`
	DataAPIURL  string `json:"data_api_url"`
	StreamURL   string `json:"stream_url"`
}

// KalshiConfig holds Kalshi API configuration.
type KalshiConfig struct {
	BaseURL       string `json:"base_url"`
	Enabled       bool   `json:"enabled"`
	APIKeyID      string `json:"-"` // Excluded - env var only
	PrivateKeyPEM string `json:"-"` // Excluded - env var only
}

// IngestConfig holds hybrid streaming+polling ingestion configuration.
type IngestConfig struct {
	PollInterval  time.Duration `json:"poll_interval"`
	UseWebSocket  bool          `json:"use_websocket"`
	SinceOverlap  time.Duration `json:"since_overlap"`  // poll cursor overlap to avoid boundary loss
	HTTPTimeout   time.Duration `json:"http_timeout"`   // per outbound HTTP call
	TradeFetchMax int           `json:"trade_fetch_max"` // max trades per poll fetch

	// WebSocket reconnect policy
	WSReconnectDelay time.Duration `json:"ws_reconnect_delay"`
	WSMaxReconnects  int           `json:"ws_max_reconnects"`
	WSPingInterval   time.Duration `json:"ws_ping_interval"`
	WSPongTimeout    time.Duration `json:"ws_pong_timeout"`
}

// MarketsConfig holds market metadata refresh configuration.
type MarketsConfig struct {
	RefreshInterval time.Duration `json:"refresh_interval"`
	RefreshLimit    int           `json:"refresh_limit"` // markets per venue per refresh
}

// DetectorConfig holds detector battery thresholds.
type DetectorConfig struct {
	WhaleThresholdUSD         float64 `json:"whale_threshold_usd"`
	NewWalletThresholdUSD     float64 `json:"new_wallet_threshold_usd"`
	FocusedWalletThresholdUSD float64 `json:"focused_wallet_threshold_usd"`
	ExitThresholdUSD          float64 `json:"exit_threshold_usd"`

	// Statistical anomaly detection
	StdMultiplier     float64 `json:"std_multiplier"`
	MinTradesForStats int     `json:"min_trades_for_stats"`

	// Price-based detectors
	ContrarianThreshold   float64 `json:"contrarian_threshold"`     // buy at or below this probability
	ContrarianMinUSD      float64 `json:"contrarian_min_usd"`
	ExtremeConfidenceHigh float64 `json:"extreme_confidence_high"`
	ExtremeConfidenceLow  float64 `json:"extreme_confidence_low"`

	// Cluster detection (short window)
	ClusterTimeWindow time.Duration `json:"cluster_time_window"`

	// Smart money
	SmartMoneyMinWinRate   float64 `json:"smart_money_min_win_rate"`
	SmartMoneyMinVolumeUSD float64 `json:"smart_money_min_volume_usd"`
	SmartMoneyMinResolved  int     `json:"smart_money_min_resolved"`

	// VIP wallets
	VIPMinVolumeUSD           float64 `json:"vip_min_volume_usd"`
	VIPMinWinRate             float64 `json:"vip_min_win_rate"`
	VIPMinLargeTrades         int     `json:"vip_min_large_trades"`
	VIPLargeTradeThresholdUSD float64 `json:"vip_large_trade_threshold_usd"`

	// Feature flags for detectors disabled by default
	EnableWhaleExit         bool `json:"enable_whale_exit"`
	EnableContrarian        bool `json:"enable_contrarian"`
	EnableExtremeConfidence bool `json:"enable_extreme_confidence"`
	EnableFocusedWallet     bool `json:"enable_focused_wallet"`
}

// AlertsConfig holds consolidation gate configuration.
type AlertsConfig struct {
	MinAlertThresholdUSD float64 `json:"min_alert_threshold_usd"`
	CryptoMinThresholdUSD float64 `json:"crypto_min_threshold_usd"`
	MinTriggersRequired  int     `json:"min_triggers_required"`
	ExcludeSports        bool    `json:"exclude_sports"`
}

// WalletsConfig holds wallet profile store maintenance configuration.
type WalletsConfig struct {
	MaxInactiveDays         int           `json:"max_inactive_days"`
	MinWalletsBeforeCleanup int           `json:"min_wallets_before_cleanup"`
	CleanupInterval         time.Duration `json:"cleanup_interval"`
}

// EntityConfig holds cluster/entity engine configuration.
type EntityConfig struct {
	EdgeThreshold           float64       `json:"edge_threshold"`
	EdgeHalflife            time.Duration `json:"edge_halflife"`
	CoordWindow             time.Duration `json:"coord_window"`
	RebuildInterval         time.Duration `json:"rebuild_interval"`
	OverlapMinCommonMarkets int           `json:"overlap_min_common_markets"`
	OverlapLookback         time.Duration `json:"overlap_lookback"`
	OverlapJaccardThreshold float64       `json:"overlap_jaccard_threshold"`
	SaturationK             float64       `json:"saturation_k"`
	MarketVolumeBaseline    float64       `json:"market_volume_baseline"`
}

// DigestConfig holds digest report scheduling configuration.
type DigestConfig struct {
	Enabled    bool   `json:"enabled"`
	DailyCron  string `json:"daily_cron"`
	WeeklyCron string `json:"weekly_cron"`
	TopN       int    `json:"top_n"`
}

// GistConfig holds GitHub Gist configuration for cache persistence.
type GistConfig struct {
	Token          string
	CacheGistID    string
	SettingsGistID string
}

// CacheConfig holds cache persistence configuration.
type CacheConfig struct {
	SaveInterval      time.Duration `json:"save_interval"`
	ProfilesFileName  string        `json:"profiles_file_name"`
	EntitiesFileName  string        `json:"entities_file_name"`
	MaxSizeBytes      int64         `json:"max_size_bytes"`
}

// HealthServerConfig holds health/stats endpoint configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd:   false,
		Discord:  DiscordConfig{},
		Telegram: TelegramConfig{},
		Polymarket: PolymarketConfig{
			GammaAPIURL: "https://gamma-api.polymarket.com",
			DataAPIURL:  "https://data-api.polymarket.com",
			StreamURL:   "wss://ws-live-data.polymarket.com",
		},
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			Enabled: true,
		},
		Ingest: IngestConfig{
			PollInterval:     30 * time.Second,
			UseWebSocket:     true,
			SinceOverlap:     5 * time.Second,
			HTTPTimeout:      30 * time.Second,
			TradeFetchMax:    500,
			WSReconnectDelay: 5 * time.Second,
			WSMaxReconnects:  10,
			WSPingInterval:   30 * time.Second,
			WSPongTimeout:    10 * time.Second,
		},
		Markets: MarketsConfig{
			RefreshInterval: 5 * time.Minute,
			RefreshLimit:    200,
		},
		Detector: DetectorConfig{
			WhaleThresholdUSD:         10000.0,
			NewWalletThresholdUSD:     1000.0,
			FocusedWalletThresholdUSD: 5000.0,
			ExitThresholdUSD:          5000.0,
			StdMultiplier:             3.0,
			MinTradesForStats:         100,
			ContrarianThreshold:       0.15,
			ContrarianMinUSD:          3000.0,
			ExtremeConfidenceHigh:     0.95,
			ExtremeConfidenceLow:      0.05,
			ClusterTimeWindow:         5 * time.Minute,
			SmartMoneyMinWinRate:      0.65,
			SmartMoneyMinVolumeUSD:    50000.0,
			SmartMoneyMinResolved:     10,
			VIPMinVolumeUSD:           250000.0,
			VIPMinWinRate:             0.70,
			VIPMinLargeTrades:         10,
			VIPLargeTradeThresholdUSD: 10000.0,
		},
		Alerts: AlertsConfig{
			MinAlertThresholdUSD:  2000.0,
			CryptoMinThresholdUSD: 974.0,
			MinTriggersRequired:   2,
			ExcludeSports:         true,
		},
		Wallets: WalletsConfig{
			MaxInactiveDays:         30,
			MinWalletsBeforeCleanup: 10000,
			CleanupInterval:         1 * time.Hour,
		},
		Entity: EntityConfig{
			EdgeThreshold:           0.75,
			EdgeHalflife:            24 * time.Hour,
			CoordWindow:             5 * time.Minute,
			RebuildInterval:         1 * time.Minute,
			OverlapMinCommonMarkets: 3,
			OverlapLookback:         24 * time.Hour,
			OverlapJaccardThreshold: 0.35,
			SaturationK:             0.55,
			MarketVolumeBaseline:    50000.0,
		},
		Digest: DigestConfig{
			Enabled:    true,
			DailyCron:  "0 14 * * *",
			WeeklyCron: "0 15 * * 1",
			TopN:       10,
		},
		Cache: CacheConfig{
			SaveInterval:     10 * time.Minute,
			ProfilesFileName: "wallet_profiles.json",
			EntitiesFileName: "entities.json",
			MaxSizeBytes:     50 * 1024 * 1024,
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Discord: DiscordConfig{
			BotToken:            envString("DISCORD_BOT_TOKEN", ""),
			ChannelID:           envString("DISCORD_CHANNEL_ID", ""),
			ThreadPolitics:      envString("DISCORD_THREAD_POLITICS", ""),
			ThreadCrypto:        envString("DISCORD_THREAD_CRYPTO", ""),
			ThreadSports:        envString("DISCORD_THREAD_SPORTS", ""),
			ThreadFinance:       envString("DISCORD_THREAD_FINANCE", ""),
			ThreadEntertainment: envString("DISCORD_THREAD_ENTERTAINMENT", ""),
			ThreadScience:       envString("DISCORD_THREAD_SCIENCE", ""),
			ThreadWorld:         envString("DISCORD_THREAD_WORLD", ""),
			ThreadOther:         envString("DISCORD_THREAD_OTHER", ""),
			VIPThreadID:         envString("DISCORD_THREAD_VIP", ""),
			DigestThreadID:      envString("DISCORD_THREAD_DIGEST", ""),
		},

		Telegram: TelegramConfig{
			BotToken: envString("TELEGRAM_BOT_KEY", ""),
			ChatID:   envString("TELEGRAM_CHAT_ID", ""),
		},

		Polymarket: PolymarketConfig{
			GammaAPIURL: envString("POLYMARKET_GAMMA_API_URL", "https://gamma-api.polymarket.com"),
			DataAPIURL:  envString("POLYMARKET_DATA_API_URL", "https://data-api.polymarket.com"),
			StreamURL:   envString("POLYMARKET_STREAM_URL", "wss://ws-live-data.polymarket.com"),
		},

		Kalshi: KalshiConfig{
			BaseURL:       envString("KALSHI_API_URL", "https://api.elections.kalshi.com/trade-api/v2"),
			Enabled:       envBoolDefault("KALSHI_ENABLED", true),
			APIKeyID:      envString("KALSHI_API_KEY_ID", ""),
			PrivateKeyPEM: envString("KALSHI_PRIVATE_KEY", ""),
		},

		Ingest: IngestConfig{
			PollInterval:     envDuration("POLL_INTERVAL", 30*time.Second),
			UseWebSocket:     envBoolDefault("USE_WEBSOCKET", true),
			SinceOverlap:     envDuration("POLL_SINCE_OVERLAP", 5*time.Second),
			HTTPTimeout:      envDuration("HTTP_TIMEOUT", 30*time.Second),
			TradeFetchMax:    envInt("TRADE_FETCH_MAX", 500),
			WSReconnectDelay: envDuration("WS_RECONNECT_DELAY", 5*time.Second),
			WSMaxReconnects:  envInt("WS_MAX_RECONNECTS", 10),
			WSPingInterval:   envDuration("WS_PING_INTERVAL", 30*time.Second),
			WSPongTimeout:    envDuration("WS_PONG_TIMEOUT", 10*time.Second),
		},

		Markets: MarketsConfig{
			RefreshInterval: envDuration("MARKET_REFRESH_INTERVAL", 5*time.Minute),
			RefreshLimit:    envInt("MARKET_REFRESH_LIMIT", 200),
		},

		Detector: DetectorConfig{
			WhaleThresholdUSD:         envFloat("WHALE_THRESHOLD_USDC", 10000.0),
			NewWalletThresholdUSD:     envFloat("NEW_WALLET_THRESHOLD_USDC", 1000.0),
			FocusedWalletThresholdUSD: envFloat("FOCUSED_WALLET_THRESHOLD_USDC", 5000.0),
			ExitThresholdUSD:          envFloat("EXIT_THRESHOLD_USDC", 5000.0),
			StdMultiplier:             envFloat("STD_MULTIPLIER", 3.0),
			MinTradesForStats:         envInt("MIN_TRADES_FOR_STATS", 100),
			ContrarianThreshold:       envFloat("CONTRARIAN_THRESHOLD", 0.15),
			ContrarianMinUSD:          envFloat("CONTRARIAN_MIN_USDC", 3000.0),
			ExtremeConfidenceHigh:     envFloat("EXTREME_CONFIDENCE_HIGH", 0.95),
			ExtremeConfidenceLow:      envFloat("EXTREME_CONFIDENCE_LOW", 0.05),
			ClusterTimeWindow:         envDuration("CLUSTER_TIME_WINDOW", 5*time.Minute),
			SmartMoneyMinWinRate:      envFloat("SMART_MONEY_MIN_WIN_RATE", 0.65),
			SmartMoneyMinVolumeUSD:    envFloat("SMART_MONEY_MIN_VOLUME", 50000.0),
			SmartMoneyMinResolved:     envInt("SMART_MONEY_MIN_RESOLVED", 10),
			VIPMinVolumeUSD:           envFloat("VIP_MIN_VOLUME", 250000.0),
			VIPMinWinRate:             envFloat("VIP_MIN_WIN_RATE", 0.70),
			VIPMinLargeTrades:         envInt("VIP_MIN_LARGE_TRADES", 10),
			VIPLargeTradeThresholdUSD: envFloat("VIP_LARGE_TRADE_THRESHOLD", 10000.0),
			EnableWhaleExit:           envBoolDefault("ENABLE_WHALE_EXIT", false),
			EnableContrarian:          envBoolDefault("ENABLE_CONTRARIAN", false),
			EnableExtremeConfidence:   envBoolDefault("ENABLE_EXTREME_CONFIDENCE", false),
			EnableFocusedWallet:       envBoolDefault("ENABLE_FOCUSED_WALLET", false),
		},

		Alerts: AlertsConfig{
			MinAlertThresholdUSD:  envFloat("MIN_ALERT_THRESHOLD_USD", 2000.0),
			CryptoMinThresholdUSD: envFloat("CRYPTO_MIN_THRESHOLD_USD", 974.0),
			MinTriggersRequired:   envInt("MIN_TRIGGERS_REQUIRED", 2),
			ExcludeSports:         envBoolDefault("EXCLUDE_SPORTS", true),
		},

		Wallets: WalletsConfig{
			MaxInactiveDays:         envInt("WALLET_MAX_INACTIVE_DAYS", 30),
			MinWalletsBeforeCleanup: envInt("WALLET_MIN_BEFORE_CLEANUP", 10000),
			CleanupInterval:         envDuration("WALLET_CLEANUP_INTERVAL", 1*time.Hour),
		},

		Entity: EntityConfig{
			EdgeThreshold:           envFloat("ENTITY_EDGE_THRESHOLD", 0.75),
			EdgeHalflife:            envDuration("EDGE_HALFLIFE", 24*time.Hour),
			CoordWindow:             envDuration("ENTITY_COORD_WINDOW", 5*time.Minute),
			RebuildInterval:         envDuration("ENTITY_REBUILD_INTERVAL", 1*time.Minute),
			OverlapMinCommonMarkets: envInt("ENTITY_OVERLAP_MIN_COMMON", 3),
			OverlapLookback:         envDuration("ENTITY_OVERLAP_LOOKBACK", 24*time.Hour),
			OverlapJaccardThreshold: envFloat("ENTITY_OVERLAP_JACCARD", 0.35),
			SaturationK:             envFloat("ENTITY_SATURATION_K", 0.55),
			MarketVolumeBaseline:    envFloat("ENTITY_VOLUME_BASELINE", 50000.0),
		},

		Digest: DigestConfig{
			Enabled:    envBoolDefault("DIGEST_ENABLED", true),
			DailyCron:  envString("DIGEST_DAILY_CRON", "0 14 * * *"),
			WeeklyCron: envString("DIGEST_WEEKLY_CRON", "0 15 * * 1"),
			TopN:       envInt("DIGEST_TOP_N", 10),
		},

		Gist: GistConfig{
			Token:          envString("GIST_TOKEN", ""),
			CacheGistID:    envString("CACHE_GIST_ID", ""),
			SettingsGistID: envString("SETTINGS_GIST_ID", ""),
		},

		Cache: CacheConfig{
			SaveInterval:     envDuration("CACHE_SAVE_INTERVAL", 10*time.Minute),
			ProfilesFileName: envString("CACHE_PROFILES_FILE", "wallet_profiles.json"),
			EntitiesFileName: envString("CACHE_ENTITIES_FILE", "entities.json"),
			MaxSizeBytes:     envInt64("CACHE_MAX_SIZE_BYTES", 50*1024*1024),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:    envInt("HEALTH_SERVER_PORT", 8080),
		},
	}
}

func envString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(os.Getenv(key), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
