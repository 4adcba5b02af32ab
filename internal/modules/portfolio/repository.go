// Package portfolio holds the reference data sizing depends on: portfolio
// totals, current positions, benchmark weights and lot policies.
package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/modules/sizing"
)

// Portfolio is one managed book
type Portfolio struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	TotalValue float64 `json:"total_value"`
	Benchmark  string  `json:"benchmark,omitempty"`
}

// Repository handles portfolio reference data
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// Get retrieves a portfolio
func (r *Repository) Get(ctx context.Context, id string) (*Portfolio, error) {
	var p Portfolio
	var benchmark sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, total_value, benchmark FROM portfolios WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.TotalValue, &benchmark)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("portfolio %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	p.Benchmark = benchmark.String
	return &p, nil
}

// Upsert creates or updates a portfolio
func (r *Repository) Upsert(ctx context.Context, p *Portfolio) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolios (id, name, total_value, benchmark) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name,
			total_value = excluded.total_value, benchmark = excluded.benchmark`,
		p.ID, p.Name, p.TotalValue, nullIfEmpty(p.Benchmark),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert portfolio: %w", err)
	}
	return nil
}

// TotalValue returns the portfolio's current total value
func (r *Repository) TotalValue(ctx context.Context, portfolioID string) (float64, error) {
	p, err := r.Get(ctx, portfolioID)
	if err != nil {
		return 0, err
	}
	return p.TotalValue, nil
}

// GetPosition returns the portfolio's position in an asset. No row means a
// flat position, not an error: an asset the book has never held.
func (r *Repository) GetPosition(ctx context.Context, portfolioID, assetID string) (domain.Position, error) {
	var pos domain.Position
	var activeWeight sql.NullFloat64
	var updatedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT portfolio_id, asset_id, shares, weight, cost_basis, active_weight, updated_at
		FROM positions WHERE portfolio_id = ? AND asset_id = ?`,
		portfolioID, assetID,
	).Scan(&pos.PortfolioID, &pos.AssetID, &pos.Shares, &pos.Weight, &pos.CostBasis, &activeWeight, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{PortfolioID: portfolioID, AssetID: assetID}, nil
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("failed to get position: %w", err)
	}

	if activeWeight.Valid {
		pos.ActiveWeight = &activeWeight.Float64
	}
	pos.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return pos, nil
}

// UpsertPosition stores a position row
func (r *Repository) UpsertPosition(ctx context.Context, pos domain.Position) error {
	var activeWeight interface{}
	if pos.ActiveWeight != nil {
		activeWeight = *pos.ActiveWeight
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions (portfolio_id, asset_id, shares, weight, cost_basis, active_weight, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (portfolio_id, asset_id) DO UPDATE SET shares = excluded.shares,
			weight = excluded.weight, cost_basis = excluded.cost_basis,
			active_weight = excluded.active_weight, updated_at = excluded.updated_at`,
		pos.PortfolioID, pos.AssetID, pos.Shares, pos.Weight, pos.CostBasis, activeWeight,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

// BenchmarkWeight returns the asset's weight in the portfolio's benchmark,
// or nil when the portfolio has no benchmark entry for it
func (r *Repository) BenchmarkWeight(ctx context.Context, portfolioID, assetID string) (*float64, error) {
	var weight float64
	err := r.db.QueryRowContext(ctx,
		`SELECT weight FROM benchmark_weights WHERE portfolio_id = ? AND asset_id = ?`,
		portfolioID, assetID,
	).Scan(&weight)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get benchmark weight: %w", err)
	}
	return &weight, nil
}

// SetBenchmarkWeight stores one benchmark weight
func (r *Repository) SetBenchmarkWeight(ctx context.Context, portfolioID, assetID string, weight float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO benchmark_weights (portfolio_id, asset_id, weight) VALUES (?, ?, ?)
		ON CONFLICT (portfolio_id, asset_id) DO UPDATE SET weight = excluded.weight`,
		portfolioID, assetID, weight,
	)
	if err != nil {
		return fmt.Errorf("failed to set benchmark weight: %w", err)
	}
	return nil
}

// RoundingConfig resolves the lot policy for an asset. Lookup order: the
// per-asset override, then the portfolio default (empty asset_id row), then
// the built-in default.
func (r *Repository) RoundingConfig(ctx context.Context, portfolioID, assetID string) (sizing.RoundingConfig, error) {
	for _, key := range []string{assetID, ""} {
		cfg, found, err := r.roundingRow(ctx, portfolioID, key)
		if err != nil {
			return sizing.RoundingConfig{}, err
		}
		if found {
			return cfg, nil
		}
	}
	return sizing.DefaultRoundingConfig(), nil
}

func (r *Repository) roundingRow(ctx context.Context, portfolioID, assetID string) (sizing.RoundingConfig, bool, error) {
	var lotSize, zeroThreshold float64
	var behavior, direction string

	err := r.db.QueryRowContext(ctx, `
		SELECT lot_size, min_lot_behavior, direction, zero_threshold
		FROM rounding_configs WHERE portfolio_id = ? AND asset_id = ?`,
		portfolioID, assetID,
	).Scan(&lotSize, &behavior, &direction, &zeroThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return sizing.RoundingConfig{}, false, nil
	}
	if err != nil {
		return sizing.RoundingConfig{}, false, fmt.Errorf("failed to get rounding config: %w", err)
	}

	return sizing.RoundingConfig{
		LotSize:        decimal.NewFromFloat(lotSize),
		MinLotBehavior: sizing.MinLotBehavior(behavior),
		Direction:      sizing.RoundDirection(direction),
		ZeroThreshold:  decimal.NewFromFloat(zeroThreshold),
	}, true, nil
}

// SetRoundingConfig stores a lot policy; an empty assetID sets the portfolio
// default
func (r *Repository) SetRoundingConfig(ctx context.Context, portfolioID, assetID string, cfg sizing.RoundingConfig) error {
	lotSize, _ := cfg.LotSize.Float64()
	zeroThreshold, _ := cfg.ZeroThreshold.Float64()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rounding_configs (portfolio_id, asset_id, lot_size, min_lot_behavior, direction, zero_threshold)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (portfolio_id, asset_id) DO UPDATE SET lot_size = excluded.lot_size,
			min_lot_behavior = excluded.min_lot_behavior, direction = excluded.direction,
			zero_threshold = excluded.zero_threshold`,
		portfolioID, assetID, lotSize, string(cfg.MinLotBehavior), string(cfg.Direction), zeroThreshold,
	)
	if err != nil {
		return fmt.Errorf("failed to set rounding config: %w", err)
	}
	return nil
}

func nullIfEmpty(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
