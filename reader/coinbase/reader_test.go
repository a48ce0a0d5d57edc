package coinbase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bookflow/config"
	"bookflow/internal/channel"
)

// testSecret is a valid standard-base64 string, so signing succeeds.
const testSecret = "supersecretkeyyy"

func minimalConfig(restURL string) *config.Config {
	return &config.Config{
		Coinbase: config.CoinbaseConfig{
			WebsocketURL: "wss://example.com/ws",
			RestURL:      restURL,
			Products:     []string{"BTC-USD"},
		},
		Feed: config.FeedConfig{
			ReadTimeout:    config.Duration(2 * time.Second),
			PingInterval:   config.Duration(time.Second),
			ReconnectDelay: config.Duration(10 * time.Millisecond),
			ReconnectMax:   config.Duration(50 * time.Millisecond),
		},
		Snapshot: config.SnapshotConfig{
			RequestTimeout:    config.Duration(2 * time.Second),
			RequestsPerSecond: 100,
			BurstSize:         100,
			MaxIdleConns:      2,
			MaxConnsPerHost:   2,
			IdleConnTimeout:   config.Duration(time.Second),
		},
	}
}

func TestSignKnownAnswer(t *testing.T) {
	got, err := Sign(testSecret, "1732848298232", "POST", "/orders", "{}")
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	want := "jTCLBOBni8IYa563/iL9k1XMTynNKqXrxTuEKoD8tqo="
	if got != want {
		t.Fatalf("Sign = %q, want %q", got, want)
	}
}

func TestSignRejectsInvalidSecret(t *testing.T) {
	if _, err := Sign("not!!base64", "1", "GET", "/", ""); err == nil {
		t.Fatal("expected error for undecodable secret")
	}
}

func TestSignRequestSetsHeaders(t *testing.T) {
	creds := config.CoinbaseConfig{Key: "key-1", Secret: testSecret, Passphrase: "phrase"}
	req, err := http.NewRequest(http.MethodGet, "https://example.com/products/BTC-USD/book?level=3", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	if err := signRequest(req, creds, ""); err != nil {
		t.Fatalf("signRequest returned error: %v", err)
	}

	if got := req.Header.Get("CB-ACCESS-KEY"); got != "key-1" {
		t.Errorf("CB-ACCESS-KEY = %q, want %q", got, "key-1")
	}
	if got := req.Header.Get("CB-ACCESS-PASSPHRASE"); got != "phrase" {
		t.Errorf("CB-ACCESS-PASSPHRASE = %q, want %q", got, "phrase")
	}
	if req.Header.Get("CB-ACCESS-SIGN") == "" {
		t.Error("CB-ACCESS-SIGN not set")
	}
	if req.Header.Get("CB-ACCESS-TIMESTAMP") == "" {
		t.Error("CB-ACCESS-TIMESTAMP not set")
	}
}

func TestSubscribeMessagePublic(t *testing.T) {
	cfg := minimalConfig("https://example.com")
	r := NewFeedReader(cfg, channel.NewChannels(1, 1, 1))

	sub, err := r.subscribeMessage()
	if err != nil {
		t.Fatalf("subscribeMessage returned error: %v", err)
	}
	if sub.Type != "subscribe" {
		t.Errorf("type = %q, want subscribe", sub.Type)
	}
	if len(sub.Channels) != 2 {
		t.Fatalf("channels = %v, want level3+heartbeat", sub.Channels)
	}
	if sub.Channels[0].Name != "level3" || sub.Channels[1].Name != "heartbeat" {
		t.Errorf("channel names = %q, %q", sub.Channels[0].Name, sub.Channels[1].Name)
	}
	for _, ch := range sub.Channels {
		if len(ch.ProductIDs) != 1 || ch.ProductIDs[0] != "BTC-USD" {
			t.Errorf("channel %q product_ids = %v", ch.Name, ch.ProductIDs)
		}
	}
	if sub.Signature != "" || sub.Key != "" {
		t.Error("public subscribe must not carry auth fields")
	}
}

func TestSubscribeMessageSigned(t *testing.T) {
	cfg := minimalConfig("https://example.com")
	cfg.Coinbase.Key = "key-1"
	cfg.Coinbase.Secret = testSecret
	cfg.Coinbase.Passphrase = "phrase"
	r := NewFeedReader(cfg, channel.NewChannels(1, 1, 1))

	sub, err := r.subscribeMessage()
	if err != nil {
		t.Fatalf("subscribeMessage returned error: %v", err)
	}
	if sub.Key != "key-1" || sub.Passphrase != "phrase" {
		t.Errorf("credentials not attached: key=%q passphrase=%q", sub.Key, sub.Passphrase)
	}
	if sub.Signature == "" || sub.Timestamp == "" {
		t.Error("signed subscribe missing signature or timestamp")
	}
}

func TestFeedReaderStartRequiresProducts(t *testing.T) {
	cfg := minimalConfig("https://example.com")
	cfg.Coinbase.Products = nil
	r := NewFeedReader(cfg, channel.NewChannels(1, 1, 1))

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error when no products configured")
	}
}

func TestFeedReaderStreamsFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frame := []byte(`{"type":"heartbeat","product_id":"BTC-USD","sequence":90,"last_trade_id":20,"time":"2024-11-05T12:00:00.000000Z"}`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Type != "subscribe" || len(sub.Channels) != 2 {
			t.Errorf("unexpected subscribe message: %+v", sub)
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := minimalConfig("https://example.com")
	cfg.Coinbase.WebsocketURL = "ws" + strings.TrimPrefix(server.URL, "http")
	ch := channel.NewChannels(8, 8, 8)
	r := NewFeedReader(cfg, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("second Start should report already running")
	}

	select {
	case te := <-ch.TransportChan:
		if te.Kind != channel.TransportUp {
			t.Fatalf("first transport event = %q, want up", te.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport up")
	}

	select {
	case raw := <-ch.RawFeedChan:
		if string(raw.Data) != string(frame) {
			t.Fatalf("raw frame = %s, want %s", raw.Data, frame)
		}
		if raw.Received.IsZero() {
			t.Error("raw frame missing received timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for raw frame")
	}

	cancel()
	r.Stop()
}

func TestFetchSnapshotParsesBook(t *testing.T) {
	body := `{
		"sequence": 1234567,
		"time": "2024-11-05T12:00:00.000000Z",
		"bids": [["50000.00","1.5","bid-1"],["49999.00","2.0","bid-2"]],
		"asks": [["50010.00","0.5","ask-1"]]
	}`
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.RequestURI()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer server.Close()

	c := NewSnapshotClient(minimalConfig(server.URL))
	snap, err := c.FetchSnapshot(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("FetchSnapshot returned error: %v", err)
	}

	if gotPath != "/products/BTC-USD/book?level=3" {
		t.Errorf("request path = %q", gotPath)
	}
	if snap.Sequence != 1234567 {
		t.Errorf("sequence = %d, want 1234567", snap.Sequence)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("bids=%d asks=%d, want 2/1", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].OrderID != "bid-1" || snap.Asks[0].OrderID != "ask-1" {
		t.Errorf("order ids = %q / %q", snap.Bids[0].OrderID, snap.Asks[0].OrderID)
	}
	if snap.ProductID != "BTC-USD" {
		t.Errorf("product = %q", snap.ProductID)
	}
}

func TestFetchSnapshotSignsWhenCredentialed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("CB-ACCESS-SIGN") == "" || req.Header.Get("CB-ACCESS-KEY") == "" {
			t.Error("credentialed fetch missing CB-ACCESS headers")
		}
		w.Write([]byte(`{"sequence": 1, "bids": [], "asks": []}`))
	}))
	defer server.Close()

	cfg := minimalConfig(server.URL)
	cfg.Coinbase.Key = "key-1"
	cfg.Coinbase.Secret = testSecret
	cfg.Coinbase.Passphrase = "phrase"

	c := NewSnapshotClient(cfg)
	if _, err := c.FetchSnapshot(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("FetchSnapshot returned error: %v", err)
	}
}

func TestFetchSnapshotRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"Public rate limit exceeded"}`))
	}))
	defer server.Close()

	c := NewSnapshotClient(minimalConfig(server.URL))
	_, err := c.FetchSnapshot(context.Background(), "BTC-USD")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if !strings.Contains(err.Error(), "Public rate limit exceeded") {
		t.Errorf("error message does not carry exchange body: %v", err)
	}
}

func TestFetchSnapshotNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"NotFound"}`))
	}))
	defer server.Close()

	c := NewSnapshotClient(minimalConfig(server.URL))
	_, err := c.FetchSnapshot(context.Background(), "NOPE-USD")
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("error = %v, want ErrProductNotFound", err)
	}
}

func TestFetchSnapshotHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewSnapshotClient(minimalConfig("https://example.com"))
	if _, err := c.FetchSnapshot(ctx, "BTC-USD"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
