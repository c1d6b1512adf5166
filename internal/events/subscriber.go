package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/streamspace/streamspace/api/internal/logger"
)

// Subscriber listens for PresenceEvents concerning one user and invokes
// OnEvent for each. A HubManager subscribes per-user while it believes
// another node might also be serving that user, and
// unsubscribes once it has confirmed sole ownership or the Hub shuts down.
type Subscriber struct {
	conn    *nats.Conn
	enabled bool
}

// NewSubscriber shares Publisher's connection semantics: disabled rather
// than erroring when NATS is unreachable.
func NewSubscriber(cfg Config) (*Subscriber, error) {
	log := logger.Presence()

	if cfg.URL == "" {
		return &Subscriber{enabled: false}, nil
	}

	opts := natsOptions(cfg, "connection-hub-subscriber")
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect subscriber to NATS, presence events disabled")
		return &Subscriber{enabled: false}, nil
	}

	return &Subscriber{conn: conn, enabled: true}, nil
}

// IsEnabled reports whether this Subscriber has a live NATS connection.
func (s *Subscriber) IsEnabled() bool { return s.enabled }

// Subscribe begins delivering PresenceEvents for userID to onEvent.
// Malformed payloads are logged and dropped. Returns a no-op unsubscribe
// function when the Subscriber is disabled.
func (s *Subscriber) Subscribe(userID string, onEvent func(PresenceEvent)) (unsubscribe func(), err error) {
	if !s.enabled {
		return func() {}, nil
	}

	sub, err := s.conn.Subscribe(PresenceSubject(userID), func(msg *nats.Msg) {
		var ev PresenceEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Presence().Error().Err(err).Str("userId", userID).Msg("malformed presence event")
			return
		}
		onEvent(ev)
	})
	if err != nil {
		return nil, err
	}

	return func() { _ = sub.Unsubscribe() }, nil
}

// Close releases the underlying NATS connection.
func (s *Subscriber) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
