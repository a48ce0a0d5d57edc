package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bookflow/config"
	ratemetrics "bookflow/internal/metrics/rate"
	"bookflow/logger"
	"bookflow/models"
)

const snapshotUserAgent = "bookflow/1.0"

var (
	// ErrProductNotFound is returned when the exchange does not know the
	// requested product.
	ErrProductNotFound = errors.New("product not found")
	// ErrRateLimited is returned when the exchange throttles or blocks the
	// snapshot request.
	ErrRateLimited = errors.New("snapshot request rate limited")
)

// errorResponse is the body the exchange returns on non-2xx statuses.
type errorResponse struct {
	Message string `json:"message"`
}

// SnapshotClient fetches level 3 order book snapshots from the REST API. A
// shared client-side rate limiter keeps concurrent per-product fetches under
// the exchange limit; level 3 responses are expensive for the exchange to
// produce and are throttled aggressively.
type SnapshotClient struct {
	config     *config.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

// NewSnapshotClient creates a snapshot client with a pooled transport sized
// from the snapshot config.
func NewSnapshotClient(cfg *config.Config) *SnapshotClient {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.Snapshot.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Snapshot.MaxIdleConns,
		MaxConnsPerHost:     cfg.Snapshot.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Snapshot.IdleConnTimeout.Std(),
		DisableCompression:  false,
	}

	httpClient := &http.Client{
		Transport: userAgentTransport{agent: snapshotUserAgent, base: transport},
		Timeout:   cfg.Snapshot.RequestTimeout.Std(),
	}

	rps := cfg.Snapshot.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Snapshot.BurstSize
	if burst <= 0 {
		burst = rps
	}

	client := &SnapshotClient{
		config:     cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		log:        log,
	}

	log.WithComponent("coinbase_snapshot").WithFields(logger.Fields{
		"rest_url":            cfg.Coinbase.RestURL,
		"requests_per_second": rps,
		"burst":               burst,
		"max_conns_per_host":  cfg.Snapshot.MaxConnsPerHost,
	}).Info("snapshot client initialized")

	return client
}

// FetchSnapshot retrieves the level 3 book for one product. The result is
// valid as of its Sequence; callers replay buffered feed events past it.
func (c *SnapshotClient) FetchSnapshot(ctx context.Context, productID string) (*models.SnapshotRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	log := c.log.WithComponent("coinbase_snapshot").WithFields(logger.Fields{
		"product":   productID,
		"operation": "fetch_snapshot",
	})

	requestPath := fmt.Sprintf("/products/%s/book?level=3", productID)
	reqURL := strings.TrimRight(c.config.Coinbase.RestURL, "/") + requestPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	if c.config.Coinbase.HasCredentials() {
		if err := signRequest(req, c.config.Coinbase, ""); err != nil {
			return nil, fmt.Errorf("sign snapshot request: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	logger.LogPerformanceEntry(log, "coinbase_snapshot", "api_request", time.Since(start), logger.Fields{
		"product": productID,
	})

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(productID, resp.StatusCode, body)
	}

	snap, err := models.ParseSnapshot(productID, body)
	if err != nil {
		return nil, err
	}

	logger.IncrementSnapshotRead(len(body))
	log.WithFields(logger.Fields{
		"sequence": snap.Sequence,
		"bids":     len(snap.Bids),
		"asks":     len(snap.Asks),
		"bytes":    len(body),
	}).Info("book snapshot fetched")

	return snap, nil
}

// statusError maps a non-200 response to an error, reporting rate limit and
// IP ban bodies to the limit metrics.
func (c *SnapshotClient) statusError(productID string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var parsed errorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		msg = parsed.Message
	}

	switch status {
	case http.StatusTooManyRequests, http.StatusForbidden:
		ratemetrics.ReportLimitFromMessage(c.log, productID, "book", msg)
		return fmt.Errorf("%w: status %d: %s", ErrRateLimited, status, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	return fmt.Errorf("snapshot request failed: status %d: %s", status, msg)
}
