package labs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/modules/sizing"
)

// Repository handles lab and variant database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new labs repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "labs").Logger(),
	}
}

// CreateLab inserts a new lab
func (r *Repository) CreateLab(ctx context.Context, lab *Lab) error {
	if err := lab.Validate(); err != nil {
		return err
	}
	if lab.ID == "" {
		lab.ID = uuid.NewString()
	}
	lab.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO labs (id, name, owner_id, portfolio_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		lab.ID, lab.Name, lab.OwnerID, lab.PortfolioID, lab.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create lab: %w", err)
	}
	return nil
}

// GetLab retrieves a lab by ID
func (r *Repository) GetLab(ctx context.Context, id string) (*Lab, error) {
	var lab Lab
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, portfolio_id, created_at FROM labs WHERE id = ?`, id,
	).Scan(&lab.ID, &lab.Name, &lab.OwnerID, &lab.PortfolioID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lab %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lab: %w", err)
	}
	lab.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &lab, nil
}

// ListLabs returns all labs, newest first
func (r *Repository) ListLabs(ctx context.Context) ([]Lab, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, owner_id, portfolio_id, created_at FROM labs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}
	defer rows.Close()

	var labs []Lab
	for rows.Next() {
		var lab Lab
		var createdAt string
		if err := rows.Scan(&lab.ID, &lab.Name, &lab.OwnerID, &lab.PortfolioID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan lab: %w", err)
		}
		lab.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		labs = append(labs, lab)
	}
	return labs, rows.Err()
}

// ListViews returns the distinct view IDs with live variants in a lab
func (r *Repository) ListViews(ctx context.Context, labID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT view_id FROM variants WHERE lab_id = ? AND deleted_at IS NULL ORDER BY view_id`,
		labID)
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	defer rows.Close()

	var views []string
	for rows.Next() {
		var viewID string
		if err := rows.Scan(&viewID); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		views = append(views, viewID)
	}
	return views, rows.Err()
}

const variantColumns = `id, lab_id, view_id, asset_id, action, sizing_input,
	spec_kind, spec_magnitude, computed, direction_conflict, suggested_direction,
	conflict_trigger, below_lot_warning, parse_error, position_snapshot,
	placeholder, generation, deleted_at, created_at, updated_at`

// GetVariant retrieves a variant by ID, live or deleted
func (r *Repository) GetVariant(ctx context.Context, id string) (*Variant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE id = ?`, id)
	v, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("variant %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return v, nil
}

// GetLiveVariant returns the live variant occupying a slot, or nil if the
// slot is empty
func (r *Repository) GetLiveVariant(ctx context.Context, key Key) (*Variant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM variants
		 WHERE lab_id = ? AND view_id = ? AND asset_id = ? AND deleted_at IS NULL`,
		key.LabID, key.ViewID, key.AssetID)
	v, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live variant: %w", err)
	}
	return v, nil
}

// ListLiveVariants returns every live variant in a lab view
func (r *Repository) ListLiveVariants(ctx context.Context, labID, viewID string) ([]Variant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+variantColumns+` FROM variants
		 WHERE lab_id = ? AND view_id = ? AND deleted_at IS NULL ORDER BY asset_id`,
		labID, viewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, *v)
	}
	return variants, rows.Err()
}

// InsertVariant inserts a new variant at generation 1. A unique-index
// violation means the slot is already occupied; the caller collapses into
// the existing row instead.
func (r *Repository) InsertVariant(ctx context.Context, v *Variant) error {
	now := time.Now().UTC()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.Generation = 1
	v.CreatedAt = now
	v.UpdatedAt = now

	computed, position, err := serializeDerived(v)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO variants (id, lab_id, view_id, asset_id, action, sizing_input,
			spec_kind, spec_magnitude, computed, direction_conflict, suggested_direction,
			conflict_trigger, below_lot_warning, parse_error, position_snapshot,
			placeholder, generation, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.LabID, v.ViewID, v.AssetID, string(v.Action), v.SizingInput,
		specKind(v.Spec), specMagnitude(v.Spec), computed,
		conflictCode(v.Conflict), conflictSuggested(v.Conflict), conflictTrigger(v.Conflict),
		boolToInt(v.BelowLotWarning), nullIfEmpty(v.ParseError), position,
		boolToInt(v.Placeholder), v.Generation,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("slot %s occupied: %w", v.Key(), domain.ErrConcurrencyConflict)
		}
		return fmt.Errorf("failed to insert variant: %w", err)
	}
	return nil
}

// UpdateVariant rewrites a variant's content if its generation still matches
// what the caller read. A stale generation drops the write and returns
// ErrConcurrencyConflict; the caller decides whether that is an error or an
// expected stale-batch skip.
func (r *Repository) UpdateVariant(ctx context.Context, v *Variant, expectedGeneration int64) error {
	now := time.Now().UTC()

	computed, position, err := serializeDerived(v)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE variants SET asset_id = ?, action = ?, sizing_input = ?,
			spec_kind = ?, spec_magnitude = ?, computed = ?,
			direction_conflict = ?, suggested_direction = ?, conflict_trigger = ?,
			below_lot_warning = ?, parse_error = ?, position_snapshot = ?,
			placeholder = ?, generation = generation + 1, updated_at = ?
		WHERE id = ? AND generation = ? AND deleted_at IS NULL`,
		v.AssetID, string(v.Action), v.SizingInput,
		specKind(v.Spec), specMagnitude(v.Spec), computed,
		conflictCode(v.Conflict), conflictSuggested(v.Conflict), conflictTrigger(v.Conflict),
		boolToInt(v.BelowLotWarning), nullIfEmpty(v.ParseError), position,
		boolToInt(v.Placeholder), now.Format(time.RFC3339),
		v.ID, expectedGeneration,
	)
	if err != nil {
		return fmt.Errorf("failed to update variant: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("variant %s generation %d: %w", v.ID, expectedGeneration, domain.ErrConcurrencyConflict)
	}

	v.Generation = expectedGeneration + 1
	v.UpdatedAt = now
	return nil
}

// SoftDeleteVariant vacates a slot without losing history
func (r *Repository) SoftDeleteVariant(ctx context.Context, id string, expectedGeneration int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE variants SET deleted_at = ?, generation = generation + 1, updated_at = ?
		WHERE id = ? AND generation = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
		id, expectedGeneration,
	)
	if err != nil {
		return fmt.Errorf("failed to delete variant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("variant %s generation %d: %w", id, expectedGeneration, domain.ErrConcurrencyConflict)
	}
	return nil
}

func serializeDerived(v *Variant) (computed, position interface{}, err error) {
	if v.Computed != nil {
		b, err := json.Marshal(v.Computed)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal computed values: %w", err)
		}
		computed = string(b)
	}
	if v.PositionSnapshot != nil {
		b, err := json.Marshal(v.PositionSnapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal position snapshot: %w", err)
		}
		position = string(b)
	}
	return computed, position, nil
}

func scanVariant(s interface{ Scan(...interface{}) error }) (*Variant, error) {
	var v Variant
	var action, createdAt, updatedAt string
	var specK, specM, computed, conflictC, suggested, trigger, parseErr, position, deletedAt sql.NullString
	var belowLot, placeholder int

	err := s.Scan(&v.ID, &v.LabID, &v.ViewID, &v.AssetID, &action, &v.SizingInput,
		&specK, &specM, &computed, &conflictC, &suggested, &trigger,
		&belowLot, &parseErr, &position, &placeholder, &v.Generation,
		&deletedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	v.Action = domain.TradeAction(action)
	v.BelowLotWarning = belowLot == 1
	v.Placeholder = placeholder == 1
	v.ParseError = parseErr.String

	if specK.Valid && specK.String != "" {
		spec, err := sizing.Parse(v.SizingInput)
		if err == nil {
			v.Spec = &spec
		}
	}
	if computed.Valid && computed.String != "" {
		var c sizing.ComputedValues
		if err := json.Unmarshal([]byte(computed.String), &c); err == nil {
			v.Computed = &c
		}
	}
	if conflictC.Valid && conflictC.String != "" {
		c := sizing.Conflict{
			Code:               sizing.ConflictCode(conflictC.String),
			Action:             v.Action,
			SuggestedDirection: domain.TradeAction(suggested.String),
			Trigger:            sizing.Trigger(trigger.String),
		}
		if v.Computed != nil {
			c.SharesChange = v.Computed.DeltaShares
		}
		v.Conflict = &c
	}
	if position.Valid && position.String != "" {
		var p domain.Position
		if err := json.Unmarshal([]byte(position.String), &p); err == nil {
			v.PositionSnapshot = &p
		}
	}
	if deletedAt.Valid && deletedAt.String != "" {
		t, err := time.Parse(time.RFC3339, deletedAt.String)
		if err == nil {
			v.DeletedAt = &t
		}
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &v, nil
}

func specKind(s *sizing.Spec) interface{} {
	if s == nil {
		return nil
	}
	return string(s.Kind)
}

func specMagnitude(s *sizing.Spec) interface{} {
	if s == nil {
		return nil
	}
	return s.Magnitude.String()
}

func conflictCode(c *sizing.Conflict) interface{} {
	if c == nil {
		return nil
	}
	return string(c.Code)
}

func conflictSuggested(c *sizing.Conflict) interface{} {
	if c == nil {
		return nil
	}
	return string(c.SuggestedDirection)
}

func conflictTrigger(c *sizing.Conflict) interface{} {
	if c == nil {
		return nil
	}
	return string(c.Trigger)
}

func nullIfEmpty(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
