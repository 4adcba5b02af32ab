package events

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Manager handles event emission. Every event is logged and, when a ledger
// connection is configured, appended to the audit_events table so the
// activity feed can render a trail without re-deriving state.
type Manager struct {
	ledger *sql.DB // May be nil in tests
	log    zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(ledger *sql.DB, log zerolog.Logger) *Manager {
	return &Manager{
		ledger: ledger,
		log:    log.With().Str("service", "events").Logger(),
	}
}

// Emit emits an event on behalf of an actor
func (m *Manager) Emit(eventType EventType, module, actorID string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Module:    module,
		ActorID:   actorID,
		Data:      data,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		Str("actor_id", actorID).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	if m.ledger == nil {
		return
	}

	payload, _ := json.Marshal(data)
	_, err := m.ledger.Exec(
		`INSERT INTO audit_events (type, module, actor_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), module, actorID, string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		// Audit persistence failure must not fail the operation that emitted it
		m.log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to persist audit event")
	}
}

// EmitError emits an error event
func (m *Manager) EmitError(module, actorID string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, actorID, data)
}
