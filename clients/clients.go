package clients

import (
	"whalewatch/clients/discord"
	"whalewatch/clients/gist"
	"whalewatch/clients/kalshiapi"
	"whalewatch/clients/notifier"
	"whalewatch/clients/polymarketapi"
	"whalewatch/clients/polymarketstream"
	"whalewatch/clients/telegram"
	"whalewatch/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord    *discord.DiscordClient
	Telegram   *telegram.TelegramClient
	Notifier   notifier.Notifier // Combined notifier for all channels
	Polymarket *polymarketapi.PolymarketApiClient
	Kalshi     *kalshiapi.KalshiApiClient
	Stream     *polymarketstream.StreamClient
	Gist       *gist.Client
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, telegramClient)

	c := &Clients{
		Logger:     logger,
		Discord:    discordClient,
		Telegram:   telegramClient,
		Notifier:   multiNotifier,
		Polymarket: polymarketapi.NewPolymarketApiClient(logger, cfg),
		Gist:       gist.NewClient(logger, cfg),
	}

	if cfg.Kalshi.Enabled {
		c.Kalshi = kalshiapi.NewKalshiApiClient(logger, cfg)
	}

	// Only create the stream client if configured to use it
	if cfg.Ingest.UseWebSocket {
		c.Stream = polymarketstream.NewStreamClient(logger, cfg)
	}

	return c
}
