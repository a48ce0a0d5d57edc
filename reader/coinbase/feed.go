// Package coinbase reads the exchange level3 websocket feed and fetches
// point-in-time order book snapshots over REST. The feed reader pushes every
// raw frame onto the shared channels without parsing it; frame decoding is
// the processor's job.
package coinbase

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/internal/metrics"
	"bookflow/logger"
	"bookflow/models"
)

type subscribeChannel struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

// subscribeRequest is the subscribe message for the level3 and heartbeat
// channels. Heartbeats arrive every second regardless of market activity, so
// the read deadline only fires on real connection failures. The auth fields
// are only attached when credentials are configured; the public feed accepts
// the request without them.
type subscribeRequest struct {
	Type       string             `json:"type"`
	Channels   []subscribeChannel `json:"channels"`
	Key        string             `json:"key,omitempty"`
	Passphrase string             `json:"passphrase,omitempty"`
	Timestamp  string             `json:"timestamp,omitempty"`
	Signature  string             `json:"signature,omitempty"`
}

// FeedReader maintains the websocket subscription for all configured
// products and forwards raw frames to the raw channel. It reconnects with
// exponential backoff and reports connectivity transitions on the transport
// channel so sessions can invalidate their stream position.
type FeedReader struct {
	config   *config.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// NewFeedReader creates a feed reader bound to the shared channels.
func NewFeedReader(cfg *config.Config, ch *channel.Channels) *FeedReader {
	log := logger.GetLogger()

	reader := &FeedReader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("coinbase_feed").WithFields(logger.Fields{
		"url":      cfg.Coinbase.WebsocketURL,
		"products": cfg.Coinbase.Products,
	}).Info("feed reader initialized")

	return reader
}

// Start connects to the feed and begins streaming frames.
func (r *FeedReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("feed reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("coinbase_feed").WithFields(logger.Fields{"operation": "Start"})

	if len(r.config.Coinbase.Products) == 0 {
		return fmt.Errorf("no products configured")
	}

	log.WithFields(logger.Fields{
		"products": r.config.Coinbase.Products,
	}).Info("starting feed reader")

	r.wg.Add(1)
	go r.stream()

	log.Info("feed reader started successfully")
	return nil
}

// Stop signals the stream goroutine to exit and waits for it.
func (r *FeedReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("coinbase_feed").Info("stopping feed reader")
	r.wg.Wait()
	r.log.WithComponent("coinbase_feed").Info("feed reader stopped")
}

func (r *FeedReader) stream() {
	defer r.wg.Done()

	log := r.log.WithComponent("coinbase_feed").WithFields(logger.Fields{
		"url": r.config.Coinbase.WebsocketURL,
	})

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	if r.config.Feed.ReadBufferBytes > 0 {
		dialer.ReadBufferSize = r.config.Feed.ReadBufferBytes
	}

	retry := &backoff.Backoff{
		Min:    r.config.Feed.ReconnectDelay.Std(),
		Max:    r.config.Feed.ReconnectMax.Std(),
		Factor: 2,
		Jitter: true,
	}

	for {
		if r.ctx.Err() != nil {
			log.Info("stream stopped due to context cancellation")
			return
		}

		conn, _, err := dialer.Dial(r.config.Coinbase.WebsocketURL, nil)
		if err != nil {
			metrics.RecordReconnect()
			logger.IncrementRetryCount()
			log.WithError(err).Warn("failed to connect to coinbase websocket")
			select {
			case <-time.After(retry.Duration()):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		sub, err := r.subscribeMessage()
		if err != nil {
			log.WithError(err).Error("failed to build subscribe request")
			conn.Close()
			return
		}
		if err := conn.WriteJSON(sub); err != nil {
			metrics.RecordReconnect()
			logger.IncrementRetryCount()
			log.WithError(err).Warn("failed to send subscribe request")
			conn.Close()
			select {
			case <-time.After(retry.Duration()):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		retry.Reset()
		r.announce(channel.TransportUp, nil)
		log.WithFields(logger.Fields{
			"products": r.config.Coinbase.Products,
		}).Info("subscribed to level3 and heartbeat channels")

		done := make(chan struct{})
		go r.keepAlive(conn, done)

		for {
			select {
			case <-r.ctx.Done():
				close(done)
				conn.Close()
				log.Info("stream stopped due to context cancellation")
				return
			default:
			}

			if timeout := r.config.Feed.ReadTimeout.Std(); timeout > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(timeout))
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.WithError(err).Warn("websocket read error")
				close(done)
				conn.Close()
				metrics.RecordReconnect()
				logger.IncrementRetryCount()
				r.announce(channel.TransportDown, err)
				goto RECONNECT
			}

			r.forward(message)
		}

	RECONNECT:
		select {
		case <-time.After(retry.Duration()):
		case <-r.ctx.Done():
			return
		}
	}
}

// subscribeMessage builds the subscribe request, signing it when credentials
// are configured. Authenticated subscriptions carry the verify-path signature
// the exchange expects on websocket auth.
func (r *FeedReader) subscribeMessage() (*subscribeRequest, error) {
	sub := &subscribeRequest{
		Type: "subscribe",
		Channels: []subscribeChannel{
			{Name: "level3", ProductIDs: r.config.Coinbase.Products},
			{Name: "heartbeat", ProductIDs: r.config.Coinbase.Products},
		},
	}

	if !r.config.Coinbase.HasCredentials() {
		return sub, nil
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature, err := Sign(r.config.Coinbase.Secret, timestamp, http.MethodGet, wsVerifyPath, "")
	if err != nil {
		return nil, fmt.Errorf("sign subscribe request: %w", err)
	}

	sub.Key = r.config.Coinbase.Key
	sub.Passphrase = r.config.Coinbase.Passphrase
	sub.Timestamp = timestamp
	sub.Signature = signature
	return sub, nil
}

// keepAlive sends protocol pings until the connection goes away. The read
// loop owns connection teardown; a failed ping just ends the goroutine.
func (r *FeedReader) keepAlive(conn *websocket.Conn, done chan struct{}) {
	interval := r.config.Feed.PingInterval.Std()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				r.log.WithComponent("coinbase_feed").WithError(err).Debug("ping failed")
				return
			}
		}
	}
}

// forward pushes one raw frame onto the raw channel. SendRaw accounts for
// drops when the channel is full.
func (r *FeedReader) forward(message []byte) {
	raw := models.RawFeedMessage{
		Data:     message,
		Received: time.Now().UTC(),
	}

	if r.channels.SendRaw(r.ctx, raw) {
		logger.IncrementFeedRead(len(message))
	}
}

// announce publishes a transport transition for the session layer. Sends are
// blocking; connectivity changes must not be lost.
func (r *FeedReader) announce(kind channel.TransportEventKind, cause error) {
	r.channels.SendTransport(r.ctx, channel.TransportEvent{
		Kind: kind,
		Err:  cause,
		Time: time.Now().UTC(),
	})
}
