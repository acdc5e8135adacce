package discord

import (
	"fmt"
	"strings"
	"time"
	"whalewatch/config"
	"whalewatch/model"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient sends alerts and digests to Discord.
// Implements notifier.Notifier.
type DiscordClient struct {
	logger         *zap.Logger
	session        *discordgo.Session
	channelID      string
	threads        map[model.Category]string
	vipThreadID    string
	digestThreadID string
	isProd         bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	threads := map[model.Category]string{
		model.CategoryPolitics:      cfg.Discord.ThreadPolitics,
		model.CategoryCrypto:        cfg.Discord.ThreadCrypto,
		model.CategorySports:        cfg.Discord.ThreadSports,
		model.CategoryFinance:       cfg.Discord.ThreadFinance,
		model.CategoryEntertainment: cfg.Discord.ThreadEntertainment,
		model.CategoryScience:       cfg.Discord.ThreadScience,
		model.CategoryWorld:         cfg.Discord.ThreadWorld,
		model.CategoryOther:         cfg.Discord.ThreadOther,
	}

	client := &DiscordClient{
		logger:         logger,
		channelID:      cfg.Discord.ChannelID,
		threads:        threads,
		vipThreadID:    cfg.Discord.VIPThreadID,
		digestThreadID: cfg.Discord.DigestThreadID,
		isProd:         cfg.IsProd,
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return client
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return client
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", client.channelID),
	)

	client.session = session
	return client
}

// routeChannel picks the destination for an alert. VIP activity gets its
// own thread regardless of category.
func (dc *DiscordClient) routeChannel(alert model.Alert) string {
	if dc.vipThreadID != "" && alert.HasType(model.AlertVIPWallet) {
		return dc.vipThreadID
	}
	if id := dc.threads[alert.Category]; id != "" {
		return id
	}
	return dc.channelID
}

// SendAlert sends a rich embedded alert to the routed channel or thread.
func (dc *DiscordClient) SendAlert(alert model.Alert) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping alert")
		return
	}

	channelID := dc.routeChannel(alert)
	embed := dc.buildAlertEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord alert",
		zap.String("wallet", alert.Wallet.Address),
		zap.String("market", alert.MarketQuestion),
		zap.Int("severityScore", alert.SeverityScore),
	)
}

// SendDigest posts a period summary to the digest thread, falling back to
// the main channel.
func (dc *DiscordClient) SendDigest(title, body string) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping digest")
		return
	}

	channelID := dc.digestThreadID
	if channelID == "" {
		channelID = dc.channelID
	}

	// Discord embed descriptions cap at 4096 chars
	if len(body) > 4000 {
		body = body[:4000] + "\n…"
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: body,
		Color:       0x3498DB,
		Timestamp:   time.Now().Format(time.RFC3339),
	}

	if _, err := dc.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		dc.logger.Error("failed to send discord digest", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord digest", zap.String("title", title))
}

func (dc *DiscordClient) buildAlertEmbed(alert model.Alert) *discordgo.MessageEmbed {
	color := severityColor(alert.Severity)

	sideEmoji := "🟢"
	if alert.Trade.Side == model.SideSell {
		sideEmoji = "🔴"
	}

	title := alertTitle(alert.AlertTypes)

	traderDisplay := shortAddress(alert.Wallet.Address)
	if alert.Trade.Venue == model.VenuePolymarket && alert.Wallet.Address != "" {
		traderDisplay = fmt.Sprintf("[%s](https://polymarket.com/profile/%s)",
			traderDisplay, alert.Wallet.Address)
	}

	tradeInfo := fmt.Sprintf("%.2f shares @ $%.3f", alert.Trade.Size, alert.Trade.Price)

	winRateStr := "N/A"
	if alert.Wallet.ResolvedBets > 0 {
		winRateStr = fmt.Sprintf("%.1f%% (%d resolved)", alert.Wallet.WinRate*100, alert.Wallet.ResolvedBets)
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "Trader",
			Value:  traderDisplay,
			Inline: true,
		},
		{
			Name:   "Side",
			Value:  fmt.Sprintf("%s %s", sideEmoji, alert.Trade.Side),
			Inline: true,
		},
		{
			Name:   "Trade",
			Value:  tradeInfo,
			Inline: true,
		},
		{
			Name:   "Amount",
			Value:  fmt.Sprintf("$%.2f", alert.Trade.AmountUSD),
			Inline: true,
		},
		{
			Name:   "Position",
			Value:  positionDisplay(alert.PositionAction),
			Inline: true,
		},
		{
			Name:   "Win Rate (resolved)",
			Value:  winRateStr,
			Inline: true,
		},
	}

	if alert.HasZScore {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Size Z-Score",
			Value:  fmt.Sprintf("%.1fσ", alert.ZScore),
			Inline: true,
		})
	}

	question := alert.MarketQuestion
	if alert.MarketURL != "" {
		question = fmt.Sprintf("[%s](%s)", question, alert.MarketURL)
	}

	description := fmt.Sprintf("**%s**\nOutcome: %s %s\nSeverity: %s (%d/10)",
		question,
		alert.Trade.Outcome,
		categoryEmoji(alert.Category),
		alert.Severity,
		alert.SeverityScore,
	)

	if len(alert.Messages) > 0 {
		description += "\n\n" + strings.Join(alert.Messages, "\n")
	}

	pst, _ := time.LoadLocation("America/Los_Angeles")
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	footerText := fmt.Sprintf("whalewatch * %s", ts.In(pst).Format("1/2/2006, 3:04:05PM (MST)"))

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: footerText,
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

func severityColor(s model.Severity) int {
	switch s {
	case model.SeverityHigh:
		return 0xE74C3C
	case model.SeverityMedium:
		return 0xE67E22
	default:
		return 0xF1C40F
	}
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

func categoryEmoji(c model.Category) string {
	switch c {
	case model.CategoryPolitics:
		return "🗳️"
	case model.CategoryCrypto:
		return "₿"
	case model.CategorySports:
		return "🏈"
	case model.CategoryFinance:
		return "📈"
	case model.CategoryEntertainment:
		return "🎬"
	case model.CategoryScience:
		return "🔬"
	case model.CategoryWorld:
		return "🌍"
	default:
		return "❓"
	}
}

func positionDisplay(a model.PositionAction) string {
	switch a {
	case model.PositionOpening:
		return "Opening"
	case model.PositionAdding:
		return "Adding"
	case model.PositionClosing:
		return "Closing"
	case model.PositionReversing:
		return "Reversing"
	default:
		return "N/A"
	}
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
