package sheets

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/events"
	"github.com/meridian/decisiondesk/internal/modules/labs"
	"github.com/meridian/decisiondesk/internal/modules/sizing"
	"github.com/meridian/decisiondesk/internal/requests"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE labs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			portfolio_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE variants (
			id TEXT PRIMARY KEY,
			lab_id TEXT NOT NULL,
			view_id TEXT NOT NULL DEFAULT '',
			asset_id TEXT NOT NULL,
			action TEXT NOT NULL,
			sizing_input TEXT NOT NULL,
			spec_kind TEXT,
			spec_magnitude TEXT,
			computed TEXT,
			direction_conflict TEXT,
			suggested_direction TEXT,
			conflict_trigger TEXT,
			below_lot_warning INTEGER NOT NULL DEFAULT 0,
			parse_error TEXT,
			position_snapshot TEXT,
			placeholder INTEGER NOT NULL DEFAULT 0,
			generation INTEGER NOT NULL DEFAULT 1,
			deleted_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_variants_live
			ON variants (lab_id, view_id, asset_id) WHERE deleted_at IS NULL;
		CREATE TABLE sheets (
			id TEXT PRIMARY KEY,
			lab_id TEXT NOT NULL,
			view_id TEXT NOT NULL DEFAULT '',
			portfolio_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			version INTEGER NOT NULL DEFAULT 1,
			variant_count INTEGER NOT NULL,
			buy_notional REAL NOT NULL DEFAULT 0,
			sell_notional REAL NOT NULL DEFAULT 0,
			had_conflicts INTEGER NOT NULL DEFAULT 0,
			had_below_lot_warnings INTEGER NOT NULL DEFAULT 0,
			variants_snapshot TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE request_log (
			request_id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`)
	require.NoError(t, err)
	return db
}

type fixture struct {
	assembler *Assembler
	labRepo   *labs.Repository
	repo      *Repository
	lab       *labs.Lab
}

func setupFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	labRepo := labs.NewRepository(db, log)
	repo := NewRepository(db, log)
	requestLog := requests.NewLog(db, log)
	eventMgr := events.NewManager(nil, log)
	assembler := NewAssembler(repo, labRepo, requestLog, eventMgr, log)

	lab := &labs.Lab{Name: "tech bench", OwnerID: "analyst-1", PortfolioID: "p1"}
	require.NoError(t, labRepo.CreateLab(context.Background(), lab))

	return &fixture{assembler: assembler, labRepo: labRepo, repo: repo, lab: lab}
}

func computedFor(deltaShares, notional float64, belowLot bool) *sizing.ComputedValues {
	direction := sizing.DirectionBuy
	if deltaShares < 0 {
		direction = sizing.DirectionSell
	} else if deltaShares == 0 {
		direction = sizing.DirectionFlat
	}
	return &sizing.ComputedValues{
		Direction:       direction,
		DeltaShares:     deltaShares,
		NotionalValue:   notional,
		PriceUsed:       100,
		PriceTimestamp:  time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC),
		BelowLotWarning: belowLot,
	}
}

func (f *fixture) addVariant(t *testing.T, assetID string, action domain.TradeAction, computed *sizing.ComputedValues, conflict *sizing.Conflict) *labs.Variant {
	v := &labs.Variant{
		LabID:       f.lab.ID,
		ViewID:      "main",
		AssetID:     assetID,
		Action:      action,
		SizingInput: "2.5",
		Computed:    computed,
		Conflict:    conflict,
	}
	if computed != nil {
		v.BelowLotWarning = computed.BelowLotWarning
	}
	require.NoError(t, f.labRepo.InsertVariant(context.Background(), v))
	return v
}

func TestAssemble_TotalsAndFlags(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.addVariant(t, "AAPL", domain.ActionBuy, computedFor(250, 25000, false), nil)
	f.addVariant(t, "MSFT", domain.ActionSell, computedFor(-100, 20000, false), nil)
	f.addVariant(t, "NVDA", domain.ActionBuy, computedFor(0, 0, true), nil)

	sheet, err := f.assembler.Assemble(ctx, "pm-1", f.lab.ID, "main", "")
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, sheet.Status)
	assert.Equal(t, 3, sheet.VariantCount)
	assert.Equal(t, 25000.0, sheet.BuyNotional)
	assert.Equal(t, 20000.0, sheet.SellNotional)
	assert.False(t, sheet.HadConflicts)
	assert.True(t, sheet.HadBelowLotWarnings)
	assert.Len(t, sheet.VariantsSnapshot, 3)
}

func TestAssemble_ConflictFailsWholeSheet(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.addVariant(t, "AAPL", domain.ActionBuy, computedFor(250, 25000, false), nil)
	f.addVariant(t, "MSFT", domain.ActionSell, computedFor(100, 10000, false), &sizing.Conflict{
		Code:               sizing.CodeDirectionConflict,
		Action:             domain.ActionSell,
		SharesChange:       100,
		SuggestedDirection: domain.ActionBuy,
		Trigger:            sizing.TriggerUserEdit,
	})

	_, err := f.assembler.Assemble(ctx, "pm-1", f.lab.ID, "main", "")
	require.ErrorIs(t, err, ErrUnresolvedConflicts)

	// All-or-nothing: nothing persisted
	sheets, err := f.repo.List(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Empty(t, sheets)
}

func TestAssemble_EmptyViewRejected(t *testing.T) {
	f := setupFixture(t)
	_, err := f.assembler.Assemble(context.Background(), "pm-1", f.lab.ID, "main", "")
	require.ErrorIs(t, err, ErrNoVariants)
}

func TestAssemble_PlaceholderRejected(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	v := &labs.Variant{
		LabID: f.lab.ID, ViewID: "main", AssetID: "pending:apple",
		Action: domain.ActionBuy, SizingInput: "2.5", Placeholder: true,
	}
	require.NoError(t, f.labRepo.InsertVariant(ctx, v))

	_, err := f.assembler.Assemble(ctx, "pm-1", f.lab.ID, "main", "")
	require.ErrorIs(t, err, ErrUnresolvedConflicts)
}

func TestAssemble_SnapshotImmuneToLaterEdits(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	v := f.addVariant(t, "AAPL", domain.ActionBuy, computedFor(250, 25000, false), nil)

	sheet, err := f.assembler.Assemble(ctx, "pm-1", f.lab.ID, "main", "")
	require.NoError(t, err)

	// Edit the variant after the sheet is issued
	v.SizingInput = "9.9"
	v.Computed = computedFor(990, 99000, false)
	require.NoError(t, f.labRepo.UpdateVariant(ctx, v, 1))

	reloaded, err := f.repo.Get(ctx, sheet.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.VariantsSnapshot, 1)
	assert.Equal(t, "2.5", reloaded.VariantsSnapshot[0].SizingInput)
	assert.Equal(t, 250.0, reloaded.VariantsSnapshot[0].Computed.DeltaShares)
}

func TestAssemble_IdempotentRequestID(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.addVariant(t, "AAPL", domain.ActionBuy, computedFor(250, 25000, false), nil)

	first, err := f.assembler.Assemble(ctx, "pm-1", f.lab.ID, "main", "req-dup")
	require.NoError(t, err)
	second, err := f.assembler.Assemble(ctx, "pm-1", f.lab.ID, "main", "req-dup")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	sheets, err := f.repo.List(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Len(t, sheets, 1)
}

func TestStatusMachine_AdvancesOneStepAtATime(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.addVariant(t, "AAPL", domain.ActionBuy, computedFor(250, 25000, false), nil)
	sheet, err := f.assembler.Assemble(ctx, "pm-1", f.lab.ID, "main", "")
	require.NoError(t, err)

	for _, to := range []Status{StatusPendingApproval, StatusApproved, StatusSentToDesk, StatusExecuted} {
		sheet, err = f.assembler.UpdateStatus(ctx, "pm-1", sheet.ID, to, "")
		require.NoError(t, err)
		assert.Equal(t, to, sheet.Status)
	}

	// Executed is terminal
	_, err = f.assembler.UpdateStatus(ctx, "pm-1", sheet.ID, StatusCancelled, "")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
}

func TestStatusMachine_SkippingStepsRejected(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.addVariant(t, "AAPL", domain.ActionBuy, computedFor(250, 25000, false), nil)
	sheet, err := f.assembler.Assemble(ctx, "pm-1", f.lab.ID, "main", "")
	require.NoError(t, err)

	_, err = f.assembler.UpdateStatus(ctx, "pm-1", sheet.ID, StatusApproved, "")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
}

func TestStatusMachine_CancelKeepsContent(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.addVariant(t, "AAPL", domain.ActionBuy, computedFor(250, 25000, false), nil)
	sheet, err := f.assembler.Assemble(ctx, "pm-1", f.lab.ID, "main", "")
	require.NoError(t, err)

	sheet, err = f.assembler.UpdateStatus(ctx, "pm-1", sheet.ID, StatusPendingApproval, "")
	require.NoError(t, err)

	cancelled, err := f.assembler.UpdateStatus(ctx, "pm-1", sheet.ID, StatusCancelled, "")
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, sheet.VariantCount, cancelled.VariantCount)
	assert.Equal(t, sheet.BuyNotional, cancelled.BuyNotional)
	assert.Equal(t, len(sheet.VariantsSnapshot), len(cancelled.VariantsSnapshot))
}
