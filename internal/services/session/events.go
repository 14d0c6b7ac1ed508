package session

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/darunbjork/InsightAPI/internal/lib/sl"
)

// Lifecycle topics. Payloads are Event JSON.
const (
	TopicRegistered  = "auth.registered"
	TopicLoggedIn    = "auth.logged_in"
	TopicLoggedOut   = "auth.logged_out"
	TopicCompromised = "auth.compromised"
)

// Event is the payload published on every lifecycle topic.
type Event struct {
	PrincipalID string    `json:"principal_id"`
	TokenID     string    `json:"token_id,omitempty"`
	At          time.Time `json:"at"`
}

// publish emits a lifecycle event. Publication is best-effort: failures
// are logged and never fail the operation that triggered them.
func (m *Manager) publish(topic, principalID, tokenID string) {
	if m.publisher == nil {
		return
	}

	payload, err := json.Marshal(Event{
		PrincipalID: principalID,
		TokenID:     tokenID,
		At:          time.Now(),
	})
	if err != nil {
		m.logger.Warn("failed to marshal event", slog.String("topic", topic), sl.Err(err))
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := m.publisher.Publish(topic, msg); err != nil {
		m.logger.Warn("failed to publish event", slog.String("topic", topic), sl.Err(err))
	}
}
