package polymarketstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"whalewatch/clients/polymarketapi"
	"whalewatch/config"
	"whalewatch/model"

	"github.com/gorilla/websocket"
)

func testConfig(streamURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Polymarket.StreamURL = streamURL
	return cfg
}

// wsTestServer upgrades connections and runs handler on each.
func wsTestServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnect_SubscribesAndForwards(t *testing.T) {
	done := make(chan struct{})
	server := wsTestServer(t, func(conn *websocket.Conn) {
		// First frame must be the subscription
		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscription: %v", err)
			return
		}
		if sub["action"] != "subscribe" {
			t.Errorf("unexpected action: %v", sub["action"])
		}
		subs, ok := sub["subscriptions"].([]any)
		if !ok || len(subs) != 1 {
			t.Errorf("unexpected subscriptions: %v", sub["subscriptions"])
		}

		msg := `{"type":"trades","topic":"activity","payload":{"transactionHash":"0xabc","size":100,"price":0.5,"proxyWallet":"0xAAA","conditionId":"c1","side":"BUY","timestamp":1700000000}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Errorf("write trade: %v", err)
		}
		<-done
	})
	defer server.Close()
	defer close(done)

	client := NewStreamClient(nil, testConfig(wsURL(server)))
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !client.Connected() {
		t.Error("expected connected client")
	}

	select {
	case raw := <-client.Messages():
		payload := ParseTradeMessage(raw)
		if payload == nil {
			t.Fatal("expected trade payload")
		}
		if payload.TransactionHash != "0xabc" {
			t.Errorf("unexpected tx hash: %s", payload.TransactionHash)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	stats := client.Stats()
	if stats.MessageCount == 0 {
		t.Error("expected non-zero message count")
	}
	if stats.LastMessageAt.IsZero() {
		t.Error("expected last message timestamp")
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	done := make(chan struct{})
	server := wsTestServer(t, func(conn *websocket.Conn) {
		var sub map[string]any
		_ = conn.ReadJSON(&sub)
		<-done
	})
	defer server.Close()
	defer close(done)

	client := NewStreamClient(nil, testConfig(wsURL(server)))
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.Connect(context.Background()); err == nil {
		t.Error("expected error on second connect")
	}
}

func TestClose_AllowsReconnect(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn) {
		var sub map[string]any
		_ = conn.ReadJSON(&sub)
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := NewStreamClient(nil, testConfig(wsURL(server)))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if client.Connected() {
		t.Error("expected disconnected client after close")
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	_ = client.Close()
}

func TestParseTradeMessage_NonTrade(t *testing.T) {
	raw := json.RawMessage(`{"type":"subscribed","topic":"activity"}`)
	if got := ParseTradeMessage(raw); got != nil {
		t.Errorf("expected nil for non-trade message, got %+v", got)
	}

	raw = json.RawMessage(`not json`)
	if got := ParseTradeMessage(raw); got != nil {
		t.Error("expected nil for invalid json")
	}
}

func TestParseTradeMessage_TopicMatch(t *testing.T) {
	raw := json.RawMessage(`{"type":"update","topic":"activity/trades","payload":{"transactionHash":"0xdef","size":"50","price":"0.2"}}`)

	payload := ParseTradeMessage(raw)
	if payload == nil {
		t.Fatal("expected trade payload via topic match")
	}
	if float64(payload.Size) != 50 {
		t.Errorf("unexpected size: %f", float64(payload.Size))
	}
	if float64(payload.Price) != 0.2 {
		t.Errorf("unexpected price: %f", float64(payload.Price))
	}
}

func TestParseTradeMessage_MissingHash(t *testing.T) {
	raw := json.RawMessage(`{"type":"trades","payload":{"size":100,"price":0.5}}`)
	if got := ParseTradeMessage(raw); got != nil {
		t.Error("expected nil for payload without transaction hash")
	}
}

func TestToTrade_Stream(t *testing.T) {
	p := &TradePayload{
		ProxyWallet:     "0xABCdef",
		ConditionID:     "cond1",
		Side:            "sell",
		Size:            200,
		Price:           0.25,
		Timestamp:       1700000000,
		TransactionHash: "0x1234567890abcdef9999",
		Outcome:         "No",
	}

	trade, err := p.ToTrade()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if trade.ID != "0x1234567890abcd_200" {
		t.Errorf("unexpected id: %s", trade.ID)
	}
	if trade.Side != model.SideSell {
		t.Errorf("unexpected side: %s", trade.Side)
	}
	if trade.TraderID != "0xabcdef" {
		t.Errorf("expected lower-cased trader, got %s", trade.TraderID)
	}
	if trade.AmountUSD != 50 {
		t.Errorf("unexpected amount: %f", trade.AmountUSD)
	}
	if trade.Timestamp != time.Unix(1700000000, 0).UTC() {
		t.Errorf("unexpected timestamp: %v", trade.Timestamp)
	}
	if !trade.SupportsTraderIdentity {
		t.Error("stream trades carry trader identity")
	}
}

func TestToTrade_Stream_Invalid(t *testing.T) {
	p := &TradePayload{TransactionHash: "0xabc", Size: 100, Price: 1.5}
	if _, err := p.ToTrade(); err == nil {
		t.Error("expected error for out-of-range price")
	}
}

func TestToTrade_IDMatchesPolledPath(t *testing.T) {
	// The same venue event arriving over the stream and over the data API
	// must hash to the same id, or the shared dedup set can never match
	// them and every dual-delivered trade gets double-counted.
	streamed := &TradePayload{
		ProxyWallet:     "0xWallet",
		ConditionID:     "cond1",
		Side:            "buy",
		Size:            200,
		Price:           0.5,
		Timestamp:       1700000000,
		TransactionHash: "0xdeadbeefdeadbeef1234",
		Outcome:         "Yes",
	}
	polled := &polymarketapi.Trade{
		ProxyWallet:     "0xWallet",
		ConditionID:     "cond1",
		Side:            "BUY",
		Size:            200,
		Price:           0.5,
		Timestamp:       1700000000,
		TransactionHash: "0xdeadbeefdeadbeef1234",
		Outcome:         "Yes",
	}

	fromStream, err := streamed.ToTrade()
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	fromPoll, err := polled.ToTrade()
	if err != nil {
		t.Fatalf("unexpected poll error: %v", err)
	}

	if fromStream.ID != fromPoll.ID {
		t.Errorf("cross-source ids diverge: stream=%s poll=%s", fromStream.ID, fromPoll.ID)
	}
	if fromStream.TraderID != fromPoll.TraderID {
		t.Errorf("cross-source trader ids diverge: %s vs %s", fromStream.TraderID, fromPoll.TraderID)
	}
}
