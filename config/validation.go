package config

import (
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateIngest(&c.Ingest)...)
	errors = append(errors, validateMarkets(&c.Markets)...)
	errors = append(errors, validateDetector(&c.Detector)...)
	errors = append(errors, validateAlerts(&c.Alerts)...)
	errors = append(errors, validateWallets(&c.Wallets)...)
	errors = append(errors, validateEntity(&c.Entity)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateIngest(in *IngestConfig) []ValidationError {
	var errors []ValidationError

	if in.PollInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "ingest.poll_interval",
			Message: "must be at least 1 second",
		})
	}
	if in.HTTPTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "ingest.http_timeout",
			Message: "must be at least 1 second",
		})
	}
	if in.WSReconnectDelay <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ingest.ws_reconnect_delay",
			Message: "must be positive",
		})
	}
	if in.WSMaxReconnects < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.ws_max_reconnects",
			Message: "must be at least 1",
		})
	}
	if in.TradeFetchMax < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.trade_fetch_max",
			Message: "must be at least 1",
		})
	}
	return errors
}

func validateMarkets(m *MarketsConfig) []ValidationError {
	var errors []ValidationError

	if m.RefreshInterval < 10*time.Second {
		errors = append(errors, ValidationError{
			Field:   "markets.refresh_interval",
			Message: "must be at least 10 seconds",
		})
	}
	if m.RefreshLimit < 1 || m.RefreshLimit > 500 {
		errors = append(errors, ValidationError{
			Field:   "markets.refresh_limit",
			Message: "must be between 1 and 500",
		})
	}
	return errors
}

func validateDetector(d *DetectorConfig) []ValidationError {
	var errors []ValidationError

	if d.WhaleThresholdUSD <= 0 {
		errors = append(errors, ValidationError{
			Field:   "detector.whale_threshold_usd",
			Message: "must be positive",
		})
	}
	if d.StdMultiplier <= 0 {
		errors = append(errors, ValidationError{
			Field:   "detector.std_multiplier",
			Message: "must be positive",
		})
	}
	if d.MinTradesForStats < 2 {
		errors = append(errors, ValidationError{
			Field:   "detector.min_trades_for_stats",
			Message: "must be at least 2",
		})
	}
	if d.ContrarianThreshold < 0 || d.ContrarianThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "detector.contrarian_threshold",
			Message: "must be between 0 and 1",
		})
	}
	if d.ExtremeConfidenceHigh < 0 || d.ExtremeConfidenceHigh > 1 {
		errors = append(errors, ValidationError{
			Field:   "detector.extreme_confidence_high",
			Message: "must be between 0 and 1",
		})
	}
	if d.ExtremeConfidenceLow < 0 || d.ExtremeConfidenceLow > 1 {
		errors = append(errors, ValidationError{
			Field:   "detector.extreme_confidence_low",
			Message: "must be between 0 and 1",
		})
	}
	if d.SmartMoneyMinWinRate < 0 || d.SmartMoneyMinWinRate > 1 {
		errors = append(errors, ValidationError{
			Field:   "detector.smart_money_min_win_rate",
			Message: "must be between 0 and 1",
		})
	}
	if d.ClusterTimeWindow <= 0 {
		errors = append(errors, ValidationError{
			Field:   "detector.cluster_time_window",
			Message: "must be positive",
		})
	}
	return errors
}

func validateAlerts(a *AlertsConfig) []ValidationError {
	var errors []ValidationError

	if a.MinTriggersRequired < 1 {
		errors = append(errors, ValidationError{
			Field:   "alerts.min_triggers_required",
			Message: "must be at least 1",
		})
	}
	if a.MinAlertThresholdUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "alerts.min_alert_threshold_usd",
			Message: "must not be negative",
		})
	}
	if a.CryptoMinThresholdUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "alerts.crypto_min_threshold_usd",
			Message: "must not be negative",
		})
	}
	return errors
}

func validateWallets(w *WalletsConfig) []ValidationError {
	var errors []ValidationError

	if w.MaxInactiveDays < 1 {
		errors = append(errors, ValidationError{
			Field:   "wallets.max_inactive_days",
			Message: "must be at least 1",
		})
	}
	if w.MinWalletsBeforeCleanup < 0 {
		errors = append(errors, ValidationError{
			Field:   "wallets.min_wallets_before_cleanup",
			Message: "must not be negative",
		})
	}
	return errors
}

func validateEntity(e *EntityConfig) []ValidationError {
	var errors []ValidationError

	if e.EdgeThreshold <= 0 {
		errors = append(errors, ValidationError{
			Field:   "entity.edge_threshold",
			Message: "must be positive",
		})
	}
	if e.EdgeHalflife < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "entity.edge_halflife",
			Message: "must be at least 1 minute",
		})
	}
	if e.RebuildInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "entity.rebuild_interval",
			Message: "must be at least 1 second",
		})
	}
	if e.OverlapJaccardThreshold < 0 || e.OverlapJaccardThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "entity.overlap_jaccard_threshold",
			Message: "must be between 0 and 1",
		})
	}
	if e.SaturationK < 0 {
		errors = append(errors, ValidationError{
			Field:   "entity.saturation_k",
			Message: "must not be negative",
		})
	}
	if e.MarketVolumeBaseline <= 0 {
		errors = append(errors, ValidationError{
			Field:   "entity.market_volume_baseline",
			Message: "must be positive",
		})
	}
	return errors
}

func validateHealthServer(h *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if h.Enabled && (h.Port < 1 || h.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: "must be a valid port number",
		})
	}
	return errors
}
