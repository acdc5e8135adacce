package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"whalewatch/clients/polymarketapi"
	"whalewatch/clients/polymarketstream"
	"whalewatch/config"
	"whalewatch/model"

	"go.uber.org/zap"
)

// Dedup set bounds. When the set hits the cap, only the most recently
// inserted half survives.
const (
	seenTradesCap  = 100_000
	seenTradesKeep = 50_000
)

// maxReconnectDelay caps the exponential stream reconnect backoff.
const maxReconnectDelay = 2 * time.Minute

// reconnectDelay doubles the base delay for every consecutive failed
// attempt, up to the cap.
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxReconnectDelay {
			return maxReconnectDelay
		}
	}
	return d
}

// AlertSink delivers alerts to notification channels. Emit must not block
// the ingestion path.
type AlertSink interface {
	Emit(alert model.Alert)
}

// AlertStore records alerts for later inspection.
type AlertStore interface {
	Save(alert model.Alert)
}

// KalshiSource fetches normalized Kalshi trades.
type KalshiSource interface {
	RecentTrades(ctx context.Context, since time.Time, limit int) ([]model.Trade, error)
	ListActiveMarkets(ctx context.Context, limit int) ([]model.Market, error)
	IsConfigured() bool
}

// Ingestor runs the hybrid stream+poll trade pipeline: dedup, profile
// update, detection, consolidation, and delivery.
type Ingestor struct {
	logger       *zap.Logger
	polymarket   *polymarketapi.PolymarketApiClient
	kalshi       KalshiSource
	stream       *polymarketstream.StreamClient
	wallets      *WalletStore
	stats        *MarketStatsStore
	catalog      *MarketCatalog
	entities     *EntityEngine
	battery      *DetectorBattery
	consolidator *Consolidator
	sink         AlertSink
	store        AlertStore

	cfgMu sync.RWMutex
	cfg   *config.Config

	// pipeMu serializes per-trade pipeline work so detector state is
	// sequentially consistent per trade.
	pipeMu sync.Mutex

	seenMu    sync.Mutex
	seen      map[string]struct{}
	seenOrder []string

	// Market ids observed in trades but missing from the catalog, picked
	// up by the next refresh.
	pendingMu      sync.Mutex
	pendingMarkets map[string]struct{}

	lastCheckMu sync.RWMutex
	lastCheck   time.Time

	streamConnected atomic.Bool

	wsTrades        atomic.Int64
	polledTrades    atomic.Int64
	tradesProcessed atomic.Int64
	alertsSent      atomic.Int64
	suppressed      atomic.Int64
	detectorPanics  atomic.Int64
}

// IngestDeps bundles the pipeline components the ingestor drives.
type IngestDeps struct {
	Polymarket   *polymarketapi.PolymarketApiClient
	Kalshi       KalshiSource
	Stream       *polymarketstream.StreamClient
	Wallets      *WalletStore
	Stats        *MarketStatsStore
	Catalog      *MarketCatalog
	Entities     *EntityEngine
	Battery      *DetectorBattery
	Consolidator *Consolidator
	Sink         AlertSink
	Store        AlertStore
}

func NewIngestor(logger *zap.Logger, cfg *config.Config, deps IngestDeps) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		logger:         logger,
		polymarket:     deps.Polymarket,
		kalshi:         deps.Kalshi,
		stream:         deps.Stream,
		wallets:        deps.Wallets,
		stats:          deps.Stats,
		catalog:        deps.Catalog,
		entities:       deps.Entities,
		battery:        deps.Battery,
		consolidator:   deps.Consolidator,
		sink:           deps.Sink,
		store:          deps.Store,
		cfg:            cfg,
		seen:           make(map[string]struct{}),
		pendingMarkets: make(map[string]struct{}),
	}
}

// UpdateConfig swaps ingestion tunables at runtime.
func (in *Ingestor) UpdateConfig(cfg *config.Config) {
	in.cfgMu.Lock()
	defer in.cfgMu.Unlock()
	in.cfg = cfg
}

func (in *Ingestor) getConfig() *config.Config {
	in.cfgMu.RLock()
	defer in.cfgMu.RUnlock()
	return in.cfg
}

// Run starts the ingestion loops and blocks until ctx is cancelled.
func (in *Ingestor) Run(ctx context.Context) {
	cfg := in.getConfig()
	in.logger.Info("ingestor started",
		zap.Duration("pollInterval", cfg.Ingest.PollInterval),
		zap.Bool("useWebSocket", cfg.Ingest.UseWebSocket && in.stream != nil),
	)

	var wg sync.WaitGroup

	if cfg.Ingest.UseWebSocket && in.stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in.runStream(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		in.runPolling(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		in.runMarketRefresh(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		in.runMaintenance(ctx)
	}()

	wg.Wait()
	in.logger.Info("ingestor stopped")
}

// runStream consumes the trade stream, reconnecting with bounded retries.
// Reconnect exhaustion only kills the stream; polling keeps the pipeline
// alive.
func (in *Ingestor) runStream(ctx context.Context) {
	cfg := in.getConfig()
	reconnects := 0

	for {
		if ctx.Err() != nil {
			return
		}

		if err := in.stream.Connect(ctx); err != nil {
			reconnects++
			if reconnects > cfg.Ingest.WSMaxReconnects {
				in.logger.Error("stream reconnects exhausted, falling back to polling only",
					zap.Int("attempts", reconnects),
				)
				return
			}
			delay := reconnectDelay(cfg.Ingest.WSReconnectDelay, reconnects)
			in.logger.Warn("stream connect failed, retrying",
				zap.Error(err),
				zap.Int("attempt", reconnects),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		in.streamConnected.Store(true)
		in.logger.Info("stream connected")
		reconnects = 0

		in.consumeStream(ctx)
		in.streamConnected.Store(false)
		_ = in.stream.Close()

		if ctx.Err() != nil {
			return
		}

		reconnects++
		if reconnects > cfg.Ingest.WSMaxReconnects {
			in.logger.Error("stream reconnects exhausted, falling back to polling only",
				zap.Int("attempts", reconnects),
			)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay(cfg.Ingest.WSReconnectDelay, reconnects)):
		}
	}
}

// consumeStream drains stream messages until the connection drops or ctx
// is cancelled.
func (in *Ingestor) consumeStream(ctx context.Context) {
	msgCh := in.stream.Messages()
	errCh := in.stream.Errors()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-msgCh:
			payload := polymarketstream.ParseTradeMessage(msg)
			if payload == nil {
				continue
			}
			trade, err := payload.ToTrade()
			if err != nil {
				in.logger.Debug("skipping malformed stream trade", zap.Error(err))
				continue
			}
			in.wsTrades.Add(1)
			in.ProcessTrade(trade)

		case err := <-errCh:
			in.logger.Warn("stream error", zap.Error(err))
			return
		}
	}
}

// runPolling polls the REST APIs on a fixed interval. Polling always runs;
// with the stream up it acts as a gap-filler behind the dedup set.
func (in *Ingestor) runPolling(ctx context.Context) {
	cfg := in.getConfig()
	ticker := time.NewTicker(cfg.Ingest.PollInterval)
	defer ticker.Stop()

	in.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.poll(ctx)
		}
	}
}

func (in *Ingestor) poll(ctx context.Context) {
	cfg := in.getConfig()

	in.lastCheckMu.RLock()
	last := in.lastCheck
	in.lastCheckMu.RUnlock()

	var since time.Time
	if !last.IsZero() {
		since = last.Add(-cfg.Ingest.SinceOverlap)
	}
	pollStart := time.Now()

	if in.polymarket != nil && in.polymarket.IsConfigured() {
		trades, err := in.polymarket.RecentTrades(ctx, since, 0, cfg.Ingest.TradeFetchMax)
		if err != nil {
			in.logger.Warn("polymarket poll failed", zap.Error(err))
		} else {
			in.ingestBatch(trades)
		}

		// Secondary whale-only fetch so big trades survive even when the
		// primary fetch window overflows.
		whales, err := in.polymarket.RecentTrades(ctx, since, cfg.Detector.WhaleThresholdUSD, cfg.Ingest.TradeFetchMax)
		if err != nil {
			in.logger.Warn("polymarket whale poll failed", zap.Error(err))
		} else {
			in.ingestBatch(whales)
		}
	}

	if in.kalshi != nil && in.kalshi.IsConfigured() {
		trades, err := in.kalshi.RecentTrades(ctx, since, cfg.Ingest.TradeFetchMax)
		if err != nil {
			in.logger.Warn("kalshi poll failed", zap.Error(err))
		} else {
			in.ingestBatch(trades)
		}
	}

	in.lastCheckMu.Lock()
	in.lastCheck = pollStart
	in.lastCheckMu.Unlock()
}

func (in *Ingestor) ingestBatch(trades []model.Trade) {
	for _, trade := range trades {
		in.polledTrades.Add(1)
		in.ProcessTrade(trade)
	}
}

// ProcessTrade runs one trade through the full pipeline. Detector failures
// are contained; the trade stays marked as processed either way.
func (in *Ingestor) ProcessTrade(trade model.Trade) {
	if trade.ID == "" || trade.MarketID == "" {
		return
	}
	if !in.markSeen(trade.ID) {
		return
	}
	in.tradesProcessed.Add(1)

	// One trade at a time through the stateful pipeline: the position
	// action read and the store updates must not interleave between
	// concurrent stream and poll deliveries.
	in.pipeMu.Lock()
	defer in.pipeMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			in.detectorPanics.Add(1)
			in.logger.Error("detector failure contained",
				zap.Any("panic", r),
				zap.String("tradeId", trade.ID),
			)
		}
	}()

	cfg := in.getConfig()

	market, known := in.catalog.Get(trade.MarketID)
	if !known {
		in.pendingMu.Lock()
		in.pendingMarkets[trade.MarketID] = struct{}{}
		in.pendingMu.Unlock()
	}
	isSports := in.catalog.IsSports(trade.MarketID)

	// Position action reflects the position before this trade lands.
	action := in.wallets.PositionAction(trade.TraderID, trade.MarketID, trade.Outcome, trade.Side)

	in.wallets.Observe(trade, isSports)
	in.stats.Record(trade)
	in.entities.RecordTrade(trade)
	in.entities.MaybeRebuild(trade.Timestamp)

	// Sports and high-frequency markets feed profiles and stats but never
	// reach the detector battery.
	if cfg.Alerts.ExcludeSports && isSports {
		in.suppressed.Add(1)
		return
	}
	if in.catalog.IsHighFrequency(trade.MarketID) {
		in.suppressed.Add(1)
		return
	}

	result := in.battery.Evaluate(trade)
	alert := in.consolidator.Consolidate(trade, result, market.Question, in.catalog.Category(trade.MarketID), isSports, action)
	if alert == nil {
		if len(result.Triggers) > 0 {
			in.suppressed.Add(1)
		}
		return
	}

	alert.MarketURL = market.URL

	in.alertsSent.Add(1)
	if in.store != nil {
		in.store.Save(*alert)
	}
	if in.sink != nil {
		in.sink.Emit(*alert)
	}
}

// markSeen records a trade id in the dedup set. Returns false when the id
// was already present.
func (in *Ingestor) markSeen(id string) bool {
	in.seenMu.Lock()
	defer in.seenMu.Unlock()

	if _, seen := in.seen[id]; seen {
		return false
	}
	in.seen[id] = struct{}{}
	in.seenOrder = append(in.seenOrder, id)

	if len(in.seen) > seenTradesCap {
		drop := in.seenOrder[:len(in.seenOrder)-seenTradesKeep]
		for _, old := range drop {
			delete(in.seen, old)
		}
		in.seenOrder = append([]string(nil), in.seenOrder[len(in.seenOrder)-seenTradesKeep:]...)
		in.logger.Info("trimmed seen trades", zap.Int("kept", len(in.seen)))
	}
	return true
}

// runMarketRefresh refreshes market metadata on an interval and on demand
// for markets first observed in the trade flow.
func (in *Ingestor) runMarketRefresh(ctx context.Context) {
	cfg := in.getConfig()
	ticker := time.NewTicker(cfg.Markets.RefreshInterval)
	defer ticker.Stop()

	in.RefreshMarkets(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.RefreshMarkets(ctx)
		}
	}
}

// RefreshMarkets pulls active market metadata from every configured venue
// into the catalog.
func (in *Ingestor) RefreshMarkets(ctx context.Context) {
	cfg := in.getConfig()

	if in.polymarket != nil && in.polymarket.IsConfigured() {
		markets, err := in.polymarket.ListActiveMarkets(ctx, cfg.Markets.RefreshLimit)
		if err != nil {
			in.logger.Warn("polymarket market refresh failed", zap.Error(err))
		} else {
			in.catalog.Upsert(markets)
		}
	}

	if in.kalshi != nil && in.kalshi.IsConfigured() {
		markets, err := in.kalshi.ListActiveMarkets(ctx, cfg.Markets.RefreshLimit)
		if err != nil {
			in.logger.Warn("kalshi market refresh failed", zap.Error(err))
		} else {
			in.catalog.Upsert(markets)
		}
	}

	in.pendingMu.Lock()
	pending := len(in.pendingMarkets)
	in.pendingMarkets = make(map[string]struct{})
	in.pendingMu.Unlock()

	in.logger.Debug("markets refreshed",
		zap.Int("known", in.catalog.Count()),
		zap.Int("pendingResolved", pending),
	)
}

// runMaintenance evicts stale wallet profiles on an interval.
func (in *Ingestor) runMaintenance(ctx context.Context) {
	cfg := in.getConfig()
	ticker := time.NewTicker(cfg.Wallets.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg = in.getConfig()
			removed := in.wallets.Cleanup(cfg.Wallets.MaxInactiveDays, cfg.Wallets.MinWalletsBeforeCleanup, time.Now())
			if removed > 0 {
				in.logger.Info("cleaned up inactive wallets", zap.Int("removed", removed))
			}
		}
	}
}

// IngestStats is a point-in-time view of pipeline health.
type IngestStats struct {
	WSTrades        int64     `json:"ws_trades"`
	PolledTrades    int64     `json:"polled_trades"`
	TradesProcessed int64     `json:"trades_processed"`
	AlertsSent      int64     `json:"alerts_sent"`
	Suppressed      int64     `json:"suppressed"`
	DetectorPanics  int64     `json:"detector_panics"`
	SeenTrades      int       `json:"seen_trades"`
	LastCheckTime   time.Time `json:"last_check_time"`
	StreamConnected bool      `json:"stream_connected"`
}

// Stats returns current pipeline counters.
func (in *Ingestor) Stats() IngestStats {
	in.seenMu.Lock()
	seen := len(in.seen)
	in.seenMu.Unlock()

	in.lastCheckMu.RLock()
	last := in.lastCheck
	in.lastCheckMu.RUnlock()

	return IngestStats{
		WSTrades:        in.wsTrades.Load(),
		PolledTrades:    in.polledTrades.Load(),
		TradesProcessed: in.tradesProcessed.Load(),
		AlertsSent:      in.alertsSent.Load(),
		Suppressed:      in.suppressed.Load(),
		DetectorPanics:  in.detectorPanics.Load(),
		SeenTrades:      seen,
		LastCheckTime:   last,
		StreamConnected: in.streamConnected.Load(),
	}
}
