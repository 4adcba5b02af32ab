package sheets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/domain"
)

// Repository handles sheet persistence against the ledger database
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new sheets repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "sheets").Logger(),
	}
}

// Create persists a freshly assembled sheet
func (r *Repository) Create(ctx context.Context, sheet *Sheet) error {
	now := time.Now().UTC()
	if sheet.ID == "" {
		sheet.ID = uuid.NewString()
	}
	sheet.Status = StatusDraft
	sheet.Version = 1
	sheet.CreatedAt = now
	sheet.UpdatedAt = now

	snapshot, err := json.Marshal(sheet.VariantsSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal variants snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sheets (id, lab_id, view_id, portfolio_id, status, version, variant_count,
			buy_notional, sell_notional, had_conflicts, had_below_lot_warnings,
			variants_snapshot, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sheet.ID, sheet.LabID, sheet.ViewID, sheet.PortfolioID, string(sheet.Status),
		sheet.Version, sheet.VariantCount, sheet.BuyNotional, sheet.SellNotional,
		boolToInt(sheet.HadConflicts), boolToInt(sheet.HadBelowLotWarnings),
		string(snapshot), sheet.CreatedBy,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	r.log.Info().Str("sheet_id", sheet.ID).Int("variants", sheet.VariantCount).Msg("Sheet created")
	return nil
}

// Get retrieves a sheet by ID
func (r *Repository) Get(ctx context.Context, id string) (*Sheet, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, lab_id, view_id, portfolio_id, status, version, variant_count,
		       buy_notional, sell_notional, had_conflicts, had_below_lot_warnings,
		       variants_snapshot, created_by, created_at, updated_at
		FROM sheets WHERE id = ?`, id)

	sheet, err := scanSheet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sheet %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sheet: %w", err)
	}
	return sheet, nil
}

// List returns sheets for a portfolio, newest first
func (r *Repository) List(ctx context.Context, portfolioID string, limit int) ([]Sheet, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, lab_id, view_id, portfolio_id, status, version, variant_count,
		       buy_notional, sell_notional, had_conflicts, had_below_lot_warnings,
		       variants_snapshot, created_by, created_at, updated_at
		FROM sheets WHERE portfolio_id = ? ORDER BY created_at DESC LIMIT ?`,
		portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sheets: %w", err)
	}
	defer rows.Close()

	var sheets []Sheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sheet: %w", err)
		}
		sheets = append(sheets, *sheet)
	}
	return sheets, rows.Err()
}

// UpdateStatus moves a sheet's status with optimistic concurrency. Content
// columns are never touched.
func (r *Repository) UpdateStatus(ctx context.Context, id string, version int64, status Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sheets SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), id, version,
	)
	if err != nil {
		return fmt.Errorf("failed to update sheet status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sheet %s: %w", id, domain.ErrConcurrencyConflict)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSheet(s scanner) (*Sheet, error) {
	var sheet Sheet
	var status, snapshot, createdAt, updatedAt string
	var hadConflicts, hadWarnings int

	err := s.Scan(&sheet.ID, &sheet.LabID, &sheet.ViewID, &sheet.PortfolioID, &status,
		&sheet.Version, &sheet.VariantCount, &sheet.BuyNotional, &sheet.SellNotional,
		&hadConflicts, &hadWarnings, &snapshot, &sheet.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sheet.Status = Status(status)
	sheet.HadConflicts = hadConflicts == 1
	sheet.HadBelowLotWarnings = hadWarnings == 1
	if err := json.Unmarshal([]byte(snapshot), &sheet.VariantsSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants snapshot: %w", err)
	}
	sheet.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sheet.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &sheet, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
