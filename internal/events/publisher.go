package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/streamspace/streamspace/api/internal/logger"
)

// Config configures the NATS connection shared by Publisher and Subscriber.
type Config struct {
	URL      string
	User     string
	Password string
	NodeID   string // identifies this process in PresenceEvent.NodeID
}

// Publisher announces Hub lifecycle transitions on a user's presence
// subject. When NATS is unreachable it degrades to a disabled no-op rather
// than failing hub creation: a single-node deployment has no cluster
// presence problem to begin with.
type Publisher struct {
	conn    *nats.Conn
	nodeID  string
	enabled bool
}

// NewPublisher connects to NATS, or returns a disabled Publisher if cfg.URL
// is empty or the dial fails.
func NewPublisher(cfg Config) (*Publisher, error) {
	log := logger.Presence()

	if cfg.URL == "" {
		log.Warn().Msg("NATS_URL not configured, hub presence events disabled")
		return &Publisher{enabled: false}, nil
	}

	opts := natsOptions(cfg, "connection-hub-publisher")
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect publisher to NATS, presence events disabled")
		return &Publisher{enabled: false}, nil
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("presence publisher connected")
	return &Publisher{conn: conn, nodeID: cfg.NodeID, enabled: true}, nil
}

// IsEnabled reports whether this Publisher has a live NATS connection.
func (p *Publisher) IsEnabled() bool { return p.enabled }

// HubCreated announces that this node now owns the Hub for userID.
func (p *Publisher) HubCreated(userID string) error {
	return p.publish(userID, KindHubCreated)
}

// HubDestroyed announces that this node no longer owns the Hub for userID
// (quiescence timeout or process shutdown).
func (p *Publisher) HubDestroyed(userID string) error {
	return p.publish(userID, KindHubDestroyed)
}

func (p *Publisher) publish(userID, kind string) error {
	if !p.enabled {
		return nil
	}

	data, err := json.Marshal(PresenceEvent{
		Kind:      kind,
		UserID:    userID,
		NodeID:    p.nodeID,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}

	return p.conn.Publish(PresenceSubject(userID), data)
}

// Close releases the underlying NATS connection.
func (p *Publisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

func natsOptions(cfg Config, name string) []nats.Option {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Presence().Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Presence().Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Presence().Error().Err(err).Msg("NATS error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}
