package database

import (
	"database/sql"
	"fmt"
)

// IntegrityChecker runs referential checks over the desk database. SQLite
// foreign keys are not enforced on these tables, so orphans can appear after
// a partial restore; the checker surfaces them without fixing anything.
type IntegrityChecker struct {
	db *sql.DB
}

// IntegrityResult contains the results of all checks
type IntegrityResult struct {
	IsValid            bool
	OrphanedTracks     []string // Tracks whose idea no longer exists
	OrphanedProposals  []string // Proposals whose idea no longer exists
	OrphanedVariants   []string // Variants whose lab no longer exists
	DuplicateLiveSlots []string // (lab, view, asset) held by more than one live variant
	DuplicateProposals []string // (idea, portfolio, user) with more than one active proposal
}

// NewIntegrityChecker creates an integrity checker over the desk database
func NewIntegrityChecker(db *sql.DB) *IntegrityChecker {
	return &IntegrityChecker{db: db}
}

// Check runs all integrity checks
func (c *IntegrityChecker) Check() (*IntegrityResult, error) {
	result := &IntegrityResult{}
	var err error

	if result.OrphanedTracks, err = c.collect(
		`SELECT t.id FROM portfolio_tracks t LEFT JOIN ideas i ON i.id = t.idea_id WHERE i.id IS NULL`,
	); err != nil {
		return nil, fmt.Errorf("orphaned track check failed: %w", err)
	}

	if result.OrphanedProposals, err = c.collect(
		`SELECT p.id FROM proposals p LEFT JOIN ideas i ON i.id = p.idea_id WHERE i.id IS NULL`,
	); err != nil {
		return nil, fmt.Errorf("orphaned proposal check failed: %w", err)
	}

	if result.OrphanedVariants, err = c.collect(
		`SELECT v.id FROM variants v LEFT JOIN labs l ON l.id = v.lab_id WHERE l.id IS NULL`,
	); err != nil {
		return nil, fmt.Errorf("orphaned variant check failed: %w", err)
	}

	// The partial unique indexes should make duplicates impossible; finding
	// one means the index was dropped or the data predates it
	if result.DuplicateLiveSlots, err = c.collect(
		`SELECT lab_id || '/' || view_id || '/' || asset_id
		 FROM variants WHERE deleted_at IS NULL
		 GROUP BY lab_id, view_id, asset_id HAVING COUNT(*) > 1`,
	); err != nil {
		return nil, fmt.Errorf("duplicate slot check failed: %w", err)
	}

	if result.DuplicateProposals, err = c.collect(
		`SELECT idea_id || '/' || portfolio_id || '/' || user_id
		 FROM proposals WHERE active = 1
		 GROUP BY idea_id, portfolio_id, user_id HAVING COUNT(*) > 1`,
	); err != nil {
		return nil, fmt.Errorf("duplicate proposal check failed: %w", err)
	}

	result.IsValid = len(result.OrphanedTracks) == 0 &&
		len(result.OrphanedProposals) == 0 &&
		len(result.OrphanedVariants) == 0 &&
		len(result.DuplicateLiveSlots) == 0 &&
		len(result.DuplicateProposals) == 0
	return result, nil
}

func (c *IntegrityChecker) collect(query string) ([]string, error) {
	rows, err := c.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
