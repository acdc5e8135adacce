// Package polymarketstream maintains the live-data WebSocket feed of
// Polymarket activity. One client is one connection; the ingestion
// controller owns the reconnect policy.
package polymarketstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"whalewatch/clients/polymarketapi"
	"whalewatch/config"
	"whalewatch/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type StreamClient struct {
	logger *zap.Logger

	streamURL    string
	dialer       *websocket.Dialer
	pingInterval time.Duration
	pongTimeout  time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	msgCh   chan json.RawMessage
	errCh   chan error
	closeCh chan struct{}

	msgCount        uint64
	lastMsgUnixNano int64
}

func NewStreamClient(logger *zap.Logger, cfg *config.Config) *StreamClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	pingInterval := cfg.Ingest.WSPingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongTimeout := cfg.Ingest.WSPongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 10 * time.Second
	}

	return &StreamClient{
		logger:       logger,
		streamURL:    cfg.Polymarket.StreamURL,
		dialer:       websocket.DefaultDialer,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,

		msgCh:   make(chan json.RawMessage, 1024),
		errCh:   make(chan error, 64),
		closeCh: make(chan struct{}),
	}
}

// Connect dials the live-data feed and subscribes to the activity/trades
// topic. The connection stays up until Close, a read error, or ctx done.
func (c *StreamClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return fmt.Errorf("already connected")
	}

	conn, _, err := c.dialer.DialContext(ctx, c.streamURL, nil)
	if err != nil {
		return fmt.Errorf("dial stream ws: %w", err)
	}

	c.logger.Info("polymarket stream dialed", zap.String("url", c.streamURL))

	conn.SetCloseHandler(func(code int, text string) error {
		c.logger.Warn("polymarket stream close frame received",
			zap.Int("code", code),
			zap.String("reason", text),
		)
		return nil
	})

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongTimeout))

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	sub := map[string]any{
		"action": "subscribe",
		"subscriptions": []map[string]string{
			{"topic": "activity", "type": "trades"},
		},
	}

	if err := c.writeJSON(sub); err != nil {
		_ = conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return fmt.Errorf("send subscription: %w", err)
	}

	c.logger.Info("polymarket stream subscribed to activity trades")

	go c.readLoop()
	go c.pingLoop()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.closeCh:
		}
	}()

	return nil
}

func (c *StreamClient) Messages() <-chan json.RawMessage {
	return c.msgCh
}

func (c *StreamClient) Errors() <-chan error {
	return c.errCh
}

type StreamStats struct {
	MessageCount  uint64
	LastMessageAt time.Time
}

func (c *StreamClient) Stats() StreamStats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return StreamStats{
		MessageCount:  n,
		LastMessageAt: t,
	}
}

// Connected reports whether the client currently holds a live connection.
func (c *StreamClient) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

func (c *StreamClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	select {
	case <-c.closeCh:
		// Channel was already closed
	default:
		close(c.closeCh)
	}

	// Fresh channel so the controller can reconnect with the same client
	c.closeCh = make(chan struct{})

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}

	return err
}

func (c *StreamClient) writeJSON(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteJSON(v)
}

func (c *StreamClient) pingLoop() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()

			if conn != nil {
				c.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pongTimeout))
				c.writeMu.Unlock()
				if err != nil {
					c.logger.Warn("polymarket stream ping failed", zap.Error(err))
				}
			}

		case <-c.closeCh:
			return
		}
	}
}

func (c *StreamClient) readLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			return
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("polymarket stream read error", zap.Error(err))
			select {
			case c.errCh <- err:
			default:
			}
			_ = c.Close()
			return
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.forward(json.RawMessage(append([]byte(nil), b...)))
	}
}

func (c *StreamClient) forward(msg json.RawMessage) {
	select {
	case c.msgCh <- msg:
	default:
		c.logger.Warn("dropping stream message: msgCh full")
	}
}

// ---- Message parsing ----

// flexFloat tolerates numeric fields that arrive as numbers or strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt64 tolerates integer fields that arrive as numbers or strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	// Some feeds send fractional epoch values
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt64(int64(v))
	return nil
}

type streamEnvelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// TradePayload is the trade body inside an activity message.
type TradePayload struct {
	ProxyWallet     string    `json:"proxyWallet"`
	ConditionID     string    `json:"conditionId"`
	Side            string    `json:"side"`
	Size            flexFloat `json:"size"`
	Price           flexFloat `json:"price"`
	Timestamp       flexInt64 `json:"timestamp"`
	TransactionHash string    `json:"transactionHash"`
	Outcome         string    `json:"outcome"`
	Title           string    `json:"title"`
	Slug            string    `json:"slug"`
}

// ParseTradeMessage extracts a trade payload from a raw stream frame.
// Returns nil for non-trade messages (confirmations, heartbeats, other
// topics).
func ParseTradeMessage(data json.RawMessage) *TradePayload {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}

	isTrade := env.Type == "trades" || env.Type == "trade" ||
		strings.Contains(strings.ToLower(env.Topic), "trade")
	if !isTrade {
		return nil
	}

	body := env.Payload
	if len(body) == 0 {
		// Some frames carry the trade fields at the top level
		body = data
	}

	var payload TradePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	if payload.TransactionHash == "" || payload.Size == 0 {
		return nil
	}
	return &payload
}

// ToTrade normalizes a stream trade into the canonical form. The id is
// derived from the same stable fields the polled path uses, so the shared
// dedup set catches cross-source duplicates.
func (p *TradePayload) ToTrade() (model.Trade, error) {
	size := float64(p.Size)
	price := float64(p.Price)
	if size <= 0 || price < 0 || price > 1 {
		return model.Trade{}, fmt.Errorf("stream trade has invalid size/price: size=%f price=%f", size, price)
	}

	side := model.SideBuy
	if strings.EqualFold(p.Side, "SELL") {
		side = model.SideSell
	}

	outcome := p.Outcome
	if outcome == "" {
		outcome = "Yes"
	}

	ts := time.Now().UTC()
	if p.Timestamp > 0 {
		ts = time.Unix(int64(p.Timestamp), 0).UTC()
	}

	return model.Trade{
		ID:                     polymarketapi.TradeID(p.TransactionHash, size),
		Venue:                  model.VenuePolymarket,
		MarketID:               p.ConditionID,
		TraderID:               strings.ToLower(p.ProxyWallet),
		Outcome:                outcome,
		Side:                   side,
		Size:                   size,
		Price:                  price,
		AmountUSD:              size * price,
		Timestamp:              ts,
		TxHash:                 p.TransactionHash,
		SupportsTraderIdentity: true,
	}, nil
}
