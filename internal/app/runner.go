package app

import (
	"context"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
	clts "whalewatch/clients"
	"whalewatch/config"

	"go.uber.org/zap"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner wires the whole pipeline together and owns its lifecycle.
type Runner struct {
	clients         *clts.Clients
	liveConfig      *config.LiveConfig
	settingsManager *config.SettingsManager

	wallets      *WalletStore
	marketStats  *MarketStatsStore
	catalog      *MarketCatalog
	entities     *EntityEngine
	battery      *DetectorBattery
	consolidator *Consolidator
	alertLog     *AlertLog
	ingestor     *Ingestor
	digest       *DigestScheduler
	persister    *CachePersister
	healthServer *http.Server
	startTime    time.Time
}

// RecentAlertInfo is the compact alert view served to the dashboard.
type RecentAlertInfo struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Wallet         string    `json:"wallet"`
	MarketID       string    `json:"market_id"`
	MarketQuestion string    `json:"market_question,omitempty"`
	Side           string    `json:"side"`
	AmountUSD      float64   `json:"amount_usd"`
	Severity       string    `json:"severity"`
	SeverityScore  int       `json:"severity_score"`
	Types          []string  `json:"types"`
	PositionAction string    `json:"position_action,omitempty"`
}

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	// Ingestion pipeline stats
	Ingest struct {
		StreamEnabled   bool   `json:"stream_enabled"`
		StreamConnected bool   `json:"stream_connected"`
		MessageCount    uint64 `json:"message_count"`
		LastMessageAgo  string `json:"last_message_ago,omitempty"`
		StreamTrades    int64  `json:"stream_trades"`
		PolledTrades    int64  `json:"polled_trades"`
		TradesProcessed int64  `json:"trades_processed"`
		Suppressed      int64  `json:"suppressed"`
		DetectorPanics  int64  `json:"detector_panics"`
		SeenTrades      int    `json:"seen_trades"`
		LastCheckAt     string `json:"last_check_at,omitempty"`
	} `json:"ingest"`

	// Market catalog stats
	Markets struct {
		Count        int `json:"count"`
		TrackedStats int `json:"tracked_stats"`
	} `json:"markets"`

	// Wallet profile stats
	Wallets struct {
		Count int `json:"count"`
	} `json:"wallets"`

	// Entity engine stats
	Entities struct {
		Count int `json:"count"`
		Edges int `json:"edges"`
	} `json:"entities"`

	// Alert stats
	Alerts struct {
		Total       int64   `json:"total"`
		RatePerHour float64 `json:"rate_per_hour"`
		LastHour    int     `json:"last_hour"`
		Last24h     int     `json:"last_24h"`
		Last7d      int     `json:"last_7d"`
	} `json:"alerts"`

	// Recent alerts feed
	RecentAlerts []RecentAlertInfo `json:"recent_alerts"`

	// Notification status
	Notifications struct {
		DiscordEnabled  bool `json:"discord_enabled"`
		TelegramEnabled bool `json:"telegram_enabled"`
	} `json:"notifications"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`
		HeapSys    uint64 `json:"heap_sys"`
		HeapInuse  uint64 `json:"heap_inuse"`
		StackInuse uint64 `json:"stack_inuse"`
		NumGC      uint32 `json:"num_gc"`
		LastGC     string `json:"last_gc,omitempty"`
		GoVersion  string `json:"go_version"`
		NumCPU     int    `json:"num_cpu"`
		GOOS       string `json:"goos"`
		GOARCH     string `json:"goarch"`
	} `json:"runtime"`
}

func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig, settingsManager *config.SettingsManager) *Runner {
	return &Runner{
		clients:         clients,
		liveConfig:      liveConfig,
		settingsManager: settingsManager,
	}
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.clients.Logger.Info("config update received, propagating to components")

	if r.wallets != nil {
		r.wallets.UpdateConfig(cfg)
	}
	if r.entities != nil {
		r.entities.UpdateConfig(cfg)
	}
	if r.battery != nil {
		r.battery.UpdateConfig(cfg)
	}
	if r.consolidator != nil {
		r.consolidator.UpdateConfig(cfg)
	}
	if r.ingestor != nil {
		r.ingestor.UpdateConfig(cfg)
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)

	logger.Info("starting whale activity pipeline",
		zap.Duration("pollInterval", cfg.Ingest.PollInterval),
		zap.Bool("useWebSocket", cfg.Ingest.UseWebSocket),
		zap.Bool("kalshiEnabled", r.clients.Kalshi != nil),
		zap.Duration("cacheSaveInterval", cfg.Cache.SaveInterval),
	)

	// Core pipeline state
	r.wallets = NewWalletStore(logger, cfg)
	r.marketStats = NewMarketStatsStore(logger)
	r.catalog = NewMarketCatalog(logger)
	r.entities = NewEntityEngine(logger, cfg, r.marketStats)
	r.battery = NewDetectorBattery(logger, cfg, r.wallets, r.marketStats, r.catalog, r.entities)
	r.consolidator = NewConsolidator(logger, cfg)
	r.alertLog = NewAlertLog()

	// Restore persisted state before any trades flow
	r.persister = NewCachePersister(logger, cfg, r.clients.Gist, r.wallets, r.entities)
	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	if wallets, entities, err := r.persister.Load(loadCtx); err != nil {
		logger.Warn("failed to restore cache from gist", zap.Error(err))
	} else if wallets > 0 || entities > 0 {
		logger.Info("restored state from gist",
			zap.Int("wallets", wallets),
			zap.Int("entities", entities),
		)
	}
	loadCancel()

	deps := IngestDeps{
		Polymarket:   r.clients.Polymarket,
		Stream:       r.clients.Stream,
		Wallets:      r.wallets,
		Stats:        r.marketStats,
		Catalog:      r.catalog,
		Entities:     r.entities,
		Battery:      r.battery,
		Consolidator: r.consolidator,
		Sink:         NewNotifierSink(logger, r.clients.Notifier),
		Store:        r.alertLog,
	}
	if r.clients.Kalshi != nil {
		deps.Kalshi = r.clients.Kalshi
	}
	r.ingestor = NewIngestor(logger, cfg, deps)

	// Warm the catalog so the first trades have market context
	refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
	r.ingestor.RefreshMarkets(refreshCtx)
	refreshCancel()
	logger.Info("market catalog warmed", zap.Int("markets", r.catalog.Count()))

	// Digest reports
	r.digest = NewDigestScheduler(logger, cfg, r.wallets, r.alertLog, r.ingestor, r.clients.Notifier)
	if err := r.digest.Start(); err != nil {
		logger.Warn("failed to start digest scheduler", zap.Error(err))
	}

	// Start health check server if enabled
	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
		logger.Info("health server started", zap.Int("port", cfg.HealthServer.Port))
	}

	go r.ingestor.Run(ctx)
	go r.persister.Run(ctx)

	<-ctx.Done()
	logger.Info("runner shutting down")

	// Stop the digest scheduler, waiting for a running job
	if r.digest != nil {
		r.digest.Stop()
	}

	// Shutdown health server
	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return nil
}

// recentAlertInfos maps the alert log into the dashboard feed shape.
func (r *Runner) recentAlertInfos(n int) []RecentAlertInfo {
	if r.alertLog == nil {
		return nil
	}

	recent := r.alertLog.Recent(n)
	out := make([]RecentAlertInfo, 0, len(recent))
	for _, a := range recent {
		types := make([]string, 0, len(a.AlertTypes))
		for _, t := range a.AlertTypes {
			types = append(types, string(t))
		}
		out = append(out, RecentAlertInfo{
			ID:             a.ID,
			Timestamp:      a.Timestamp,
			Wallet:         a.Trade.TraderID,
			MarketID:       a.Trade.MarketID,
			MarketQuestion: a.MarketQuestion,
			Side:           string(a.Trade.Side),
			AmountUSD:      a.Trade.AmountUSD,
			Severity:       string(a.Severity),
			SeverityScore:  a.SeverityScore,
			Types:          types,
			PositionAction: string(a.PositionAction),
		})
	}
	return out
}

// GetStats returns comprehensive service statistics.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	// Service info
	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := time.Since(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	// Ingestion stats
	stats.Ingest.StreamEnabled = r.clients.Stream != nil
	if r.clients.Stream != nil {
		streamStats := r.clients.Stream.Stats()
		stats.Ingest.MessageCount = streamStats.MessageCount
		if !streamStats.LastMessageAt.IsZero() {
			stats.Ingest.LastMessageAgo = time.Since(streamStats.LastMessageAt).Round(time.Second).String()
		}
	}
	var alertsSent int64
	if r.ingestor != nil {
		is := r.ingestor.Stats()
		stats.Ingest.StreamConnected = is.StreamConnected
		stats.Ingest.StreamTrades = is.WSTrades
		stats.Ingest.PolledTrades = is.PolledTrades
		stats.Ingest.TradesProcessed = is.TradesProcessed
		stats.Ingest.Suppressed = is.Suppressed
		stats.Ingest.DetectorPanics = is.DetectorPanics
		stats.Ingest.SeenTrades = is.SeenTrades
		if !is.LastCheckTime.IsZero() {
			stats.Ingest.LastCheckAt = is.LastCheckTime.UTC().Format(time.RFC3339)
		}
		alertsSent = is.AlertsSent
	}

	// Pipeline state
	if r.catalog != nil {
		stats.Markets.Count = r.catalog.Count()
	}
	if r.marketStats != nil {
		stats.Markets.TrackedStats = r.marketStats.MarketCount()
	}
	if r.wallets != nil {
		stats.Wallets.Count = r.wallets.Count()
	}
	if r.entities != nil {
		stats.Entities.Count = len(r.entities.Entities())
		stats.Entities.Edges = r.entities.EdgeCount()
	}

	// Alert stats
	if r.alertLog != nil {
		stats.Alerts.Total = r.alertLog.Total()
		stats.Alerts.LastHour, stats.Alerts.Last24h, stats.Alerts.Last7d = r.alertLog.CountsInPeriods(time.Now())
		if uptime.Hours() > 0 {
			stats.Alerts.RatePerHour = float64(alertsSent) / uptime.Hours()
		}
		stats.RecentAlerts = r.recentAlertInfos(20)
	}

	// Notification status
	cfg := r.liveConfig.Get()
	stats.Notifications.DiscordEnabled = cfg.Discord.BotToken != ""
	stats.Notifications.TelegramEnabled = cfg.Telegram.BotToken != ""

	// Runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapSys = memStats.HeapSys
	stats.Runtime.HeapInuse = memStats.HeapInuse
	stats.Runtime.StackInuse = memStats.StackInuse
	stats.Runtime.NumGC = memStats.NumGC
	if memStats.LastGC > 0 {
		stats.Runtime.LastGC = time.Unix(0, int64(memStats.LastGC)).UTC().Format(time.RFC3339)
	}
	stats.Runtime.GoVersion = runtime.Version()
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
