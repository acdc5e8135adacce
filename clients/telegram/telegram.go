package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"whalewatch/config"
	"whalewatch/model"

	"go.uber.org/zap"
)

const telegramAPIURL = "https://api.telegram.org/bot%s/%s"

// TelegramClient sends alerts and digests to Telegram.
// Implements notifier.Notifier.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	baseURL  string
	isProd   bool
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.ChatID

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger: logger,
			chatID: chatID,
			isProd: cfg.IsProd,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SendAlert sends an alert notification.
func (tc *TelegramClient) SendAlert(alert model.Alert) {
	if tc.botToken == "" || tc.chatID == "" {
		tc.logger.Warn("telegram not configured, skipping alert")
		return
	}

	message := tc.buildAlertMessage(alert)

	if err := tc.sendMessage(message); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram alert",
		zap.String("wallet", alert.Wallet.Address),
		zap.String("market", alert.MarketQuestion),
	)
}

// SendDigest sends a period summary as a plain message.
func (tc *TelegramClient) SendDigest(title, body string) {
	if tc.botToken == "" || tc.chatID == "" {
		tc.logger.Warn("telegram not configured, skipping digest")
		return
	}

	// Telegram messages cap at 4096 chars
	if len(body) > 4000 {
		body = body[:4000] + "\n…"
	}
	message := fmt.Sprintf("*%s*\n\n%s", escapeMarkdown(title), body)

	if err := tc.sendMessage(message); err != nil {
		tc.logger.Error("failed to send telegram digest", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram digest", zap.String("title", title))
}

var alertTypeLabels = map[model.AlertType]string{
	model.AlertWhaleTrade:        "🐋 Whale Trade",
	model.AlertUnusualSize:       "📊 Unusual Size",
	model.AlertNewWallet:         "🆕 New Wallet",
	model.AlertSmartMoney:        "🎯 Smart Money",
	model.AlertVIPWallet:         "⭐ VIP Wallet",
	model.AlertRepeatActor:       "⚡ Repeat Actor",
	model.AlertHeavyActor:        "🔁 Heavy Actor",
	model.AlertWhaleExit:         "🚪 Whale Exit",
	model.AlertContrarian:        "🔄 Contrarian Bet",
	model.AlertExtremeConfidence: "💰 Extreme Odds Bet",
	model.AlertClusterActivity:   "👥 Cluster Activity",
	model.AlertHighImpact:        "💥 High Impact",
	model.AlertEntityActivity:    "🕸️ Entity Activity",
	model.AlertFocusedWallet:     "🎯 Focused Wallet",
}

func alertTitle(types []model.AlertType) string {
	if len(types) >= 3 {
		return "🚨 Multiple Alert Triggers"
	}

	labels := make([]string, 0, len(types))
	for _, t := range types {
		if label, ok := alertTypeLabels[t]; ok {
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		return "🚨 Trade Alert"
	}
	return strings.Join(labels, " + ")
}

func (tc *TelegramClient) buildAlertMessage(alert model.Alert) string {
	var sb strings.Builder

	title := alertTitle(alert.AlertTypes)
	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(title)))

	sb.WriteString(fmt.Sprintf("*Market:* %s\n", escapeMarkdown(alert.MarketQuestion)))
	sb.WriteString(fmt.Sprintf("*Outcome:* %s\n", escapeMarkdown(alert.Trade.Outcome)))
	sb.WriteString(fmt.Sprintf("*Severity:* %s (%d/10)\n\n", alert.Severity, alert.SeverityScore))

	sb.WriteString(fmt.Sprintf("*Trader:* %s\n", escapeMarkdown(shortAddress(alert.Wallet.Address))))

	sideEmoji := "🟢"
	if alert.Trade.Side == model.SideSell {
		sideEmoji = "🔴"
	}
	sb.WriteString(fmt.Sprintf("*Side:* %s %s\n", sideEmoji, alert.Trade.Side))
	sb.WriteString(fmt.Sprintf("*Trade:* %.2f shares @ $%.3f\n", alert.Trade.Size, alert.Trade.Price))
	sb.WriteString(fmt.Sprintf("*Amount:* $%.2f\n", alert.Trade.AmountUSD))

	if alert.PositionAction != "" {
		sb.WriteString(fmt.Sprintf("*Position:* %s\n", alert.PositionAction))
	}

	winRateStr := "N/A"
	if alert.Wallet.ResolvedBets > 0 {
		winRateStr = fmt.Sprintf("%.1f%% (%d resolved)", alert.Wallet.WinRate*100, alert.Wallet.ResolvedBets)
	}
	sb.WriteString(fmt.Sprintf("*Win Rate:* %s\n", winRateStr))

	if len(alert.Messages) > 0 {
		sb.WriteString("\n")
		for _, m := range alert.Messages {
			sb.WriteString(escapeMarkdown(m))
			sb.WriteString("\n")
		}
	}

	pst, _ := time.LoadLocation("America/Los_Angeles")
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_whalewatch • %s_", ts.In(pst).Format("1/2/2006, 3:04:05PM (MST)")))

	return sb.String()
}

func (tc *TelegramClient) sendMessage(text string) error {
	base := tc.baseURL
	var url string
	if base != "" {
		url = fmt.Sprintf("%s/bot%s/%s", base, tc.botToken, "sendMessage")
	} else {
		url = fmt.Sprintf(telegramAPIURL, tc.botToken, "sendMessage")
	}

	payload := map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier.
func (tc *TelegramClient) Close() error {
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
