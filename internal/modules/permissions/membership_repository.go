package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// MembershipRepository resolves roles and membership from the
// portfolio_members table. It is both the local RoleProvider and the
// Membership source for the engine.
type MembershipRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *sql.DB, log zerolog.Logger) *MembershipRepository {
	return &MembershipRepository{
		db:  db,
		log: log.With().Str("repo", "membership").Logger(),
	}
}

// ResolveRole returns the user's role for a portfolio. A user with no
// membership row has no role; the caller treats that as analyst.
func (r *MembershipRepository) ResolveRole(ctx context.Context, userID, portfolioID string) (Role, error) {
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT role FROM portfolio_members WHERE portfolio_id = ? AND user_id = ?`,
		portfolioID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return RoleAnalyst, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve role: %w", err)
	}
	return Role(role), nil
}

// IsMember checks whether the user belongs to the portfolio
func (r *MembershipRepository) IsMember(ctx context.Context, userID, portfolioID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM portfolio_members WHERE portfolio_id = ? AND user_id = ? LIMIT 1`,
		portfolioID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return true, nil
}

// Upsert records or updates a membership row
func (r *MembershipRepository) Upsert(ctx context.Context, portfolioID, userID string, role Role) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO portfolio_members (portfolio_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (portfolio_id, user_id) DO UPDATE SET role = excluded.role`,
		portfolioID, userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}
