package app

import (
	"sync"
	"whalewatch/config"
	"whalewatch/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// exemptTypes bypass the per-trigger amount floor and the multi-signal
// requirement.
var exemptTypes = map[model.AlertType]struct{}{
	model.AlertWhaleTrade:      {},
	model.AlertClusterActivity: {},
	model.AlertVIPWallet:       {},
	model.AlertEntityActivity:  {},
}

// cryptoExemptTypes bypass the crypto category's higher amount floor.
var cryptoExemptTypes = map[model.AlertType]struct{}{
	model.AlertClusterActivity: {},
	model.AlertWhaleTrade:      {},
	model.AlertSmartMoney:      {},
	model.AlertVIPWallet:       {},
}

// Consolidator folds surviving triggers into a single alert per trade, or
// suppresses the trade entirely.
type Consolidator struct {
	logger *zap.Logger

	mu  sync.Mutex
	cfg config.AlertsConfig
}

func NewConsolidator(logger *zap.Logger, cfg *config.Config) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{logger: logger, cfg: cfg.Alerts}
}

// UpdateConfig swaps consolidation gates at runtime.
func (c *Consolidator) UpdateConfig(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg.Alerts
}

// Consolidate applies the survival, multi-signal, and category gates and
// returns the alert, or nil when the trade is suppressed.
func (c *Consolidator) Consolidate(trade model.Trade, result DetectionResult, question string, category model.Category, isSports bool, action model.PositionAction) *model.Alert {
	if len(result.Triggers) == 0 {
		return nil
	}

	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	var surviving []model.Trigger
	hasExempt := false
	for _, trg := range result.Triggers {
		_, exempt := exemptTypes[trg.Type]
		if !exempt && trade.AmountUSD < cfg.MinAlertThresholdUSD {
			continue
		}
		if exempt {
			hasExempt = true
		}
		surviving = append(surviving, trg)
	}
	if len(surviving) == 0 {
		return nil
	}

	if !hasExempt && len(surviving) < cfg.MinTriggersRequired {
		c.logger.Debug("suppressed single-trigger alert",
			zap.String("tradeId", trade.ID),
			zap.String("type", string(surviving[0].Type)),
		)
		return nil
	}

	if category == model.CategoryCrypto && trade.AmountUSD < cfg.CryptoMinThresholdUSD {
		cryptoExempt := false
		for _, trg := range surviving {
			if _, ok := cryptoExemptTypes[trg.Type]; ok {
				cryptoExempt = true
				break
			}
		}
		if !cryptoExempt {
			c.logger.Debug("suppressed small crypto alert",
				zap.String("tradeId", trade.ID),
				zap.Float64("amountUsd", trade.AmountUSD),
			)
			return nil
		}
	}

	alertTypes := make([]model.AlertType, 0, len(surviving))
	messages := make([]string, 0, len(surviving))
	maxScore := 0
	for _, trg := range surviving {
		alertTypes = append(alertTypes, trg.Type)
		messages = append(messages, trg.Message)
		if trg.Score > maxScore {
			maxScore = trg.Score
		}
	}

	return &model.Alert{
		ID:             uuid.NewString(),
		AlertTypes:     alertTypes,
		Severity:       model.SeverityFromScore(maxScore),
		SeverityScore:  maxScore,
		Trade:          trade,
		Wallet:         result.Snapshot,
		Messages:       messages,
		Timestamp:      trade.Timestamp,
		MarketQuestion: question,
		Category:       category,
		IsSports:       isSports,
		ZScore:         result.ZScore,
		HasZScore:      result.HasZScore,
		PositionAction: action,
	}
}
