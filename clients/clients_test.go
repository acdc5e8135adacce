package clients

import (
	"testing"
	"whalewatch/config"

	"go.uber.org/zap"
)

func TestNewClients(t *testing.T) {
	cfg := config.Defaults()
	cfg.Ingest.UseWebSocket = true
	cfg.Kalshi.Enabled = true

	logger := zap.NewNop()
	clients := NewClients(logger, cfg)

	if clients.Logger != logger {
		t.Error("unexpected logger")
	}
	if clients.Discord == nil {
		t.Error("expected Discord client to be set")
	}
	if clients.Polymarket == nil {
		t.Error("expected Polymarket client to be set")
	}
	if clients.Kalshi == nil {
		t.Error("expected Kalshi client to be set when enabled")
	}
	if clients.Stream == nil {
		t.Error("expected stream client to be set when UseWebSocket is true")
	}
	if clients.Gist == nil {
		t.Error("expected Gist client to be set")
	}
	if clients.Notifier == nil {
		t.Error("expected combined notifier to be set")
	}
}

func TestNewClients_PollingMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Ingest.UseWebSocket = false

	clients := NewClients(zap.NewNop(), cfg)

	if clients.Stream != nil {
		t.Error("expected stream client to be nil when UseWebSocket is false")
	}
}

func TestNewClients_KalshiDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Kalshi.Enabled = false

	clients := NewClients(zap.NewNop(), cfg)

	if clients.Kalshi != nil {
		t.Error("expected nil Kalshi client when disabled")
	}
}

func TestNewClients_NilLogger(t *testing.T) {
	cfg := config.Defaults()

	clients := NewClients(nil, cfg)

	if clients.Logger != nil {
		t.Error("expected nil logger to remain nil")
	}
	// Other clients should still be initialized
	if clients.Discord == nil {
		t.Error("expected Discord client to be set")
	}
}
