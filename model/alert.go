package model

import "time"

// AlertType identifies which detector produced a trigger.
type AlertType string

const (
	AlertWhaleTrade        AlertType = "WHALE_TRADE"
	AlertUnusualSize       AlertType = "UNUSUAL_SIZE"
	AlertNewWallet         AlertType = "NEW_WALLET"
	AlertSmartMoney        AlertType = "SMART_MONEY"
	AlertVIPWallet         AlertType = "VIP_WALLET"
	AlertRepeatActor       AlertType = "REPEAT_ACTOR"
	AlertHeavyActor        AlertType = "HEAVY_ACTOR"
	AlertWhaleExit         AlertType = "WHALE_EXIT"
	AlertContrarian        AlertType = "CONTRARIAN"
	AlertExtremeConfidence AlertType = "EXTREME_CONFIDENCE"
	AlertClusterActivity   AlertType = "CLUSTER_ACTIVITY"
	AlertHighImpact        AlertType = "HIGH_IMPACT"
	AlertEntityActivity    AlertType = "ENTITY_ACTIVITY"
	AlertFocusedWallet     AlertType = "FOCUSED_WALLET"
)

// Severity is the categorical mapping of a severity score.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// SeverityFromScore maps a 1-10 score onto the categorical severity.
func SeverityFromScore(score int) Severity {
	switch {
	case score <= 3:
		return SeverityLow
	case score <= 6:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// PositionAction is the semantic effect of a trade on the trader's standing
// position in the affected (market, outcome).
type PositionAction string

const (
	PositionOpening   PositionAction = "OPENING"
	PositionAdding    PositionAction = "ADDING"
	PositionClosing   PositionAction = "CLOSING"
	PositionReversing PositionAction = "REVERSING"
)

// Trigger is one detector's contribution for a trade.
type Trigger struct {
	Type    AlertType
	Message string
	Score   int
}

// WalletSnapshot is the wallet state attached to an alert, captured at
// consolidation time.
type WalletSnapshot struct {
	Address        string  `json:"address"`
	TotalTrades    int     `json:"total_trades"`
	TotalVolumeUSD float64 `json:"total_volume_usd"`
	BuyVolumeUSD   float64 `json:"buy_volume_usd"`
	SellVolumeUSD  float64 `json:"sell_volume_usd"`
	MarketsTraded  int     `json:"markets_traded"`
	WinRate        float64 `json:"win_rate"`
	ResolvedBets   int     `json:"resolved_bets"`
	IsNew          bool    `json:"is_new"`
	IsWhale        bool    `json:"is_whale"`
	IsFocused      bool    `json:"is_focused"`
	IsRepeatActor  bool    `json:"is_repeat_actor"`
	IsHeavyActor   bool    `json:"is_heavy_actor"`
	IsSmartMoney   bool    `json:"is_smart_money"`
	IsVIP          bool    `json:"is_vip"`
}

// Alert is the consolidated, immutable output of the pipeline for one trade.
// AlertTypes and Messages are parallel lists preserving detector order.
type Alert struct {
	ID             string
	AlertTypes     []AlertType
	Severity       Severity
	SeverityScore  int
	Trade          Trade
	Wallet         WalletSnapshot
	Messages       []string
	Timestamp      time.Time
	MarketQuestion string
	MarketURL      string
	Category       Category
	IsSports       bool
	ZScore         float64
	HasZScore      bool
	PositionAction PositionAction
}

// HasType reports whether the alert contains the given trigger type.
func (a *Alert) HasType(t AlertType) bool {
	for _, at := range a.AlertTypes {
		if at == t {
			return true
		}
	}
	return false
}
