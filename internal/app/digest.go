package app

import (
	"fmt"
	"strings"
	"time"
	"whalewatch/clients/notifier"
	"whalewatch/config"
	"whalewatch/model"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DigestScheduler sends periodic summaries of whale activity over the
// notifier channels.
type DigestScheduler struct {
	logger   *zap.Logger
	cfg      config.DigestConfig
	wallets  *WalletStore
	alerts   *AlertLog
	ingestor *Ingestor
	notifier notifier.Notifier
	cron     *cron.Cron
}

func NewDigestScheduler(logger *zap.Logger, cfg *config.Config, wallets *WalletStore, alerts *AlertLog, ingestor *Ingestor, n notifier.Notifier) *DigestScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DigestScheduler{
		logger:   logger,
		cfg:      cfg.Digest,
		wallets:  wallets,
		alerts:   alerts,
		ingestor: ingestor,
		notifier: n,
		cron:     cron.New(),
	}
}

// Start registers the cron entries and starts the scheduler.
func (d *DigestScheduler) Start() error {
	if !d.cfg.Enabled {
		d.logger.Info("digest disabled")
		return nil
	}

	if _, err := d.cron.AddFunc(d.cfg.DailyCron, func() { d.SendDaily() }); err != nil {
		return fmt.Errorf("schedule daily digest: %w", err)
	}
	if _, err := d.cron.AddFunc(d.cfg.WeeklyCron, func() { d.SendWeekly() }); err != nil {
		return fmt.Errorf("schedule weekly digest: %w", err)
	}

	d.cron.Start()
	d.logger.Info("digest scheduler started",
		zap.String("daily", d.cfg.DailyCron),
		zap.String("weekly", d.cfg.WeeklyCron),
	)
	return nil
}

// Stop stops the scheduler, waiting for a running job to finish.
func (d *DigestScheduler) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}

// SendDaily builds and sends the daily digest.
func (d *DigestScheduler) SendDaily() {
	body := d.buildDigest(24 * time.Hour)
	d.send("📊 Daily Whale Digest", body)
}

// SendWeekly builds and sends the weekly digest.
func (d *DigestScheduler) SendWeekly() {
	body := d.buildDigest(7 * 24 * time.Hour)
	d.send("📊 Weekly Whale Digest", body)
}

func (d *DigestScheduler) send(title, body string) {
	d.logger.Info("sending digest", zap.String("title", title))
	if d.notifier != nil {
		d.notifier.SendDigest(title, body)
	}
}

// buildDigest summarizes alerts and top wallets over the window.
func (d *DigestScheduler) buildDigest(window time.Duration) string {
	var sb strings.Builder
	now := time.Now()
	cutoff := now.Add(-window)

	recent := d.alerts.Recent(0)
	count := 0
	bySeverity := map[model.Severity]int{}
	byType := map[model.AlertType]int{}
	var topAlerts []model.Alert
	for _, a := range recent {
		if a.Timestamp.Before(cutoff) {
			continue
		}
		count++
		bySeverity[a.Severity]++
		for _, at := range a.AlertTypes {
			byType[at]++
		}
		topAlerts = append(topAlerts, a)
	}

	// Largest alerts first
	for i := 0; i < len(topAlerts)-1; i++ {
		for j := i + 1; j < len(topAlerts); j++ {
			if topAlerts[j].Trade.AmountUSD > topAlerts[i].Trade.AmountUSD {
				topAlerts[i], topAlerts[j] = topAlerts[j], topAlerts[i]
			}
		}
	}
	if len(topAlerts) > d.cfg.TopN {
		topAlerts = topAlerts[:d.cfg.TopN]
	}

	fmt.Fprintf(&sb, "Alerts: %d (HIGH %d / MEDIUM %d / LOW %d)\n",
		count,
		bySeverity[model.SeverityHigh],
		bySeverity[model.SeverityMedium],
		bySeverity[model.SeverityLow],
	)

	if stats := d.ingestorStats(); stats != nil {
		fmt.Fprintf(&sb, "Trades processed: %d (stream %d / polled %d)\n",
			stats.TradesProcessed, stats.WSTrades, stats.PolledTrades)
	}

	if len(topAlerts) > 0 {
		sb.WriteString("\nTop trades:\n")
		for i, a := range topAlerts {
			question := a.MarketQuestion
			if question == "" {
				question = a.Trade.MarketID
			}
			fmt.Fprintf(&sb, "%d. $%.0f %s on %q (%s)\n",
				i+1, a.Trade.AmountUSD, a.Trade.Side, truncate(question, 60), a.Severity)
		}
	}

	whales := d.wallets.TopByVolume(d.cfg.TopN, true)
	if len(whales) > 0 {
		sb.WriteString("\nTop wallets by volume (non-sports):\n")
		for i, w := range whales {
			fmt.Fprintf(&sb, "%d. %s: $%.0f over %d trades\n",
				i+1, shortAddr(w.Address), w.NonSportsVolumeUSD, w.TotalTrades)
		}
	}

	if count == 0 && len(whales) == 0 {
		sb.WriteString("\nNo notable activity in this period.")
	}

	return sb.String()
}

func (d *DigestScheduler) ingestorStats() *IngestStats {
	if d.ingestor == nil {
		return nil
	}
	stats := d.ingestor.Stats()
	return &stats
}
