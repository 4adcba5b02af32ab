package portfolio

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/modules/sizing"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE portfolios (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			total_value REAL NOT NULL DEFAULT 0,
			benchmark TEXT
		);
		CREATE TABLE positions (
			portfolio_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			shares REAL NOT NULL DEFAULT 0,
			weight REAL NOT NULL DEFAULT 0,
			cost_basis REAL NOT NULL DEFAULT 0,
			active_weight REAL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (portfolio_id, asset_id)
		);
		CREATE TABLE benchmark_weights (
			portfolio_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			weight REAL NOT NULL,
			PRIMARY KEY (portfolio_id, asset_id)
		);
		CREATE TABLE rounding_configs (
			portfolio_id TEXT NOT NULL,
			asset_id TEXT NOT NULL DEFAULT '',
			lot_size REAL NOT NULL DEFAULT 1,
			min_lot_behavior TEXT NOT NULL DEFAULT 'allow_zero',
			direction TEXT NOT NULL DEFAULT 'toward_zero',
			zero_threshold REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (portfolio_id, asset_id)
		);
	`)
	require.NoError(t, err)
	return db
}

func setupRepo(t *testing.T) *Repository {
	return NewRepository(setupTestDB(t), zerolog.New(nil).Level(zerolog.Disabled))
}

func TestGetPosition_MissingRowIsFlat(t *testing.T) {
	repo := setupRepo(t)

	pos, err := repo.GetPosition(context.Background(), "p1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos.Shares)
	assert.Equal(t, 0.0, pos.Weight)
	assert.Equal(t, "AAPL", pos.AssetID)
}

func TestUpsertPosition_RoundTrip(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	active := 1.5
	require.NoError(t, repo.UpsertPosition(ctx, domain.Position{
		PortfolioID: "p1", AssetID: "AAPL",
		Shares: 500, Weight: 5.0, CostBasis: 42000, ActiveWeight: &active,
	}))

	pos, err := repo.GetPosition(ctx, "p1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 500.0, pos.Shares)
	require.NotNil(t, pos.ActiveWeight)
	assert.Equal(t, 1.5, *pos.ActiveWeight)

	// Upsert replaces
	require.NoError(t, repo.UpsertPosition(ctx, domain.Position{
		PortfolioID: "p1", AssetID: "AAPL", Shares: 600, Weight: 6.0,
	}))
	pos, err = repo.GetPosition(ctx, "p1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 600.0, pos.Shares)
}

func TestBenchmarkWeight_NilWhenAbsent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	w, err := repo.BenchmarkWeight(ctx, "p1", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, w)

	require.NoError(t, repo.SetBenchmarkWeight(ctx, "p1", "AAPL", 2.25))
	w, err = repo.BenchmarkWeight(ctx, "p1", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, 2.25, *w)
}

func TestRoundingConfig_OverrideThenDefaultThenBuiltin(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	// Built-in default when nothing is configured
	cfg, err := repo.RoundingConfig(ctx, "p1", "AAPL")
	require.NoError(t, err)
	assert.True(t, cfg.LotSize.Equal(decimal.NewFromInt(1)))

	// Portfolio default
	require.NoError(t, repo.SetRoundingConfig(ctx, "p1", "", sizing.RoundingConfig{
		LotSize:        decimal.NewFromInt(10),
		MinLotBehavior: sizing.AllowZero,
		Direction:      sizing.TowardZero,
	}))
	cfg, err = repo.RoundingConfig(ctx, "p1", "AAPL")
	require.NoError(t, err)
	assert.True(t, cfg.LotSize.Equal(decimal.NewFromInt(10)))

	// Per-asset override wins
	require.NoError(t, repo.SetRoundingConfig(ctx, "p1", "AAPL", sizing.RoundingConfig{
		LotSize:        decimal.NewFromInt(100),
		MinLotBehavior: sizing.RoundToOneLot,
		Direction:      sizing.Nearest,
	}))
	cfg, err = repo.RoundingConfig(ctx, "p1", "AAPL")
	require.NoError(t, err)
	assert.True(t, cfg.LotSize.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, sizing.RoundToOneLot, cfg.MinLotBehavior)
}

func TestTotalValue(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &Portfolio{ID: "p1", Name: "Core", TotalValue: 1_000_000}))

	value, err := repo.TotalValue(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1_000_000.0, value)

	_, err = repo.TotalValue(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
