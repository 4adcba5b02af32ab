package events

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/meridian/decisiondesk/pkg/logger"
)

func setupLedger(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			module TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`)
	require.NoError(t, err)
	return db
}

func TestEmitAppendsToAuditTrail(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	db := setupLedger(t)
	mgr := NewManager(db, log)

	mgr.Emit(DecisionRecorded, "ideas", "pm-1", map[string]interface{}{
		"idea_id":      "idea-1",
		"portfolio_id": "p1",
		"outcome":      "approved",
	})

	var eventType, module, actorID, payload string
	err := db.QueryRow(
		`SELECT type, module, actor_id, payload FROM audit_events`,
	).Scan(&eventType, &module, &actorID, &payload)
	require.NoError(t, err)

	assert.Equal(t, string(DecisionRecorded), eventType)
	assert.Equal(t, "ideas", module)
	assert.Equal(t, "pm-1", actorID)
	assert.Contains(t, payload, "idea-1")
}

func TestEmitWithoutLedgerDoesNotPanic(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	mgr := NewManager(nil, log)

	mgr.Emit(VariantSaved, "labs", "analyst-1", map[string]interface{}{"asset_id": "AAPL"})
}

func TestEmitErrorWrapsContext(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	db := setupLedger(t)
	mgr := NewManager(db, log)

	mgr.EmitError("sheets", "pm-1", errors.New("assembly failed"), map[string]interface{}{
		"lab_id": "lab-1",
	})

	var eventType, payload string
	err := db.QueryRow(`SELECT type, payload FROM audit_events`).Scan(&eventType, &payload)
	require.NoError(t, err)
	assert.Equal(t, string(ErrorOccurred), eventType)
	assert.Contains(t, payload, "assembly failed")
}
