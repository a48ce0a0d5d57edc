package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/internal/metrics"
	"bookflow/logger"
	"bookflow/models"
)

// Manager fans the parsed feed out to one session per configured product and
// relays transport notices to all of them. Routing is single-threaded; the
// per-session inboxes decouple it from slow sessions.
type Manager struct {
	cfg      *config.Config
	channels *channel.Channels
	sessions map[string]*Session
	products []string
	log      *logger.Log
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
}

func NewManager(cfg *config.Config, channels *channel.Channels, fetcher SnapshotFetcher, updates chan<- Update) *Manager {
	m := &Manager{
		cfg:      cfg,
		channels: channels,
		sessions: make(map[string]*Session, len(cfg.Coinbase.Products)),
		products: append([]string(nil), cfg.Coinbase.Products...),
		log:      logger.GetLogger(),
		wg:       &sync.WaitGroup{},
	}
	sort.Strings(m.products)

	for _, p := range m.products {
		m.sessions[p] = New(p, cfg.Session, fetcher, updates, cfg.Channels.EventBuffer)
	}

	m.log.WithComponent("session_manager").WithFields(logger.Fields{
		"products": m.products,
	}).Info("session manager initialized")

	return m
}

// Start launches every session and the routing loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("session manager already running")
	}
	m.running = true
	m.mu.Unlock()

	for _, p := range m.products {
		if err := m.sessions[p].Start(ctx); err != nil {
			return fmt.Errorf("start session %s: %w", p, err)
		}
	}

	m.wg.Add(1)
	go m.route(ctx)

	m.log.WithComponent("session_manager").Info("session manager started")
	return nil
}

// Stop waits for the routing loop and all sessions to finish. The caller
// cancels the Start context first.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	for _, p := range m.products {
		m.sessions[p].Stop()
	}
	m.log.WithComponent("session_manager").Info("session manager stopped")
}

func (m *Manager) route(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.channels.EventChan:
			if !ok {
				return
			}
			m.dispatchEvent(ev)
		case ctl, ok := <-m.channels.ControlChan:
			if !ok {
				return
			}
			m.dispatchControl(ctl)
		case te, ok := <-m.channels.TransportChan:
			if !ok {
				return
			}
			m.broadcastTransport(te)
		}
	}
}

func (m *Manager) dispatchEvent(ev *models.FeedEvent) {
	s, ok := m.sessions[ev.ProductID]
	if !ok {
		metrics.RecordEventDiscarded("unknown", "unsubscribed_product")
		m.log.WithComponent("session_manager").WithFields(logger.Fields{
			"product": ev.ProductID,
		}).Debug("event for unconfigured product")
		return
	}
	s.Deliver(ev)
}

func (m *Manager) dispatchControl(ctl *models.ControlMessage) {
	switch ctl.Type {
	case models.ControlTypeHeartbeat:
		if s, ok := m.sessions[ctl.ProductID]; ok {
			s.Heartbeat(ctl)
		}
	case models.ControlTypeSubscriptions:
		m.log.WithComponent("session_manager").Info("subscription confirmed")
	case models.ControlTypeSchema:
		m.log.WithComponent("session_manager").Debug("level3 schema announced")
	case models.ControlTypeError:
		// Feed-level errors (bad subscribe, auth failures) have no
		// product; they are surfaced here and on the error metric.
		metrics.RecordFeedError(ctl.ProductID)
		m.log.WithComponent("session_manager").WithFields(logger.Fields{
			"message": ctl.Message,
			"reason":  ctl.Reason,
		}).Error("feed error message")
	}
}

func (m *Manager) broadcastTransport(te channel.TransportEvent) {
	for _, p := range m.products {
		s := m.sessions[p]
		switch te.Kind {
		case channel.TransportDown:
			s.FeedDown(te.Err)
		case channel.TransportUp:
			s.FeedUp()
		}
	}
}

// Session returns the session for a product, if configured.
func (m *Manager) Session(productID string) (*Session, bool) {
	s, ok := m.sessions[productID]
	return s, ok
}

// Statuses returns a point-in-time status copy for every session, ordered by
// product.
func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, m.sessions[p].Status())
	}
	return out
}
