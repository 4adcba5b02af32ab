package ideas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/domain"
)

// Repository handles idea, track and proposal database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new ideas repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ideas").Logger(),
	}
}

// CreateIdea inserts a new idea record
func (r *Repository) CreateIdea(ctx context.Context, idea *Idea) error {
	now := time.Now().UTC()
	if idea.ID == "" {
		idea.ID = uuid.NewString()
	}
	idea.Stage = StageIdea
	idea.Retention = RetentionActive
	idea.Version = 1
	idea.CreatedAt = now
	idea.UpdatedAt = now

	if err := idea.Validate(); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ideas (id, asset_id, created_by, assigned_to, rationale, stage, retention, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idea.ID, idea.AssetID, idea.CreatedBy, nullString(idea.AssignedTo), idea.Rationale,
		string(idea.Stage), string(idea.Retention), idea.Version,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create idea: %w", err)
	}

	for _, userID := range idea.Collaborators {
		if _, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO idea_collaborators (idea_id, user_id) VALUES (?, ?)`,
			idea.ID, userID,
		); err != nil {
			return fmt.Errorf("failed to add collaborator: %w", err)
		}
	}

	r.log.Info().Str("idea_id", idea.ID).Str("asset_id", idea.AssetID).Msg("Idea created")
	return nil
}

// GetIdea retrieves an idea with its collaborators
func (r *Repository) GetIdea(ctx context.Context, id string) (*Idea, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, asset_id, created_by, assigned_to, rationale, stage, previous_stage,
		       retention, trashed_at, archived_at, version, created_at, updated_at
		FROM ideas WHERE id = ?`, id)

	idea, err := scanIdea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("idea %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idea: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM idea_collaborators WHERE idea_id = ? ORDER BY user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get collaborators: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan collaborator: %w", err)
		}
		idea.Collaborators = append(idea.Collaborators, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collaborators: %w", err)
	}

	return idea, nil
}

// UpdateIdeaStage applies a stage move with optimistic concurrency: the
// update only lands if the caller's version is still current.
func (r *Repository) UpdateIdeaStage(ctx context.Context, id string, version int64, stage Stage, previous *Stage) error {
	var prev interface{}
	if previous != nil {
		prev = string(*previous)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE ideas SET stage = ?, previous_stage = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(stage), prev, time.Now().UTC().Format(time.RFC3339), id, version,
	)
	if err != nil {
		return fmt.Errorf("failed to update idea stage: %w", err)
	}
	return requireOneRow(res, "idea", id)
}

// UpdateIdeaRetention moves an idea between retention tiers
func (r *Repository) UpdateIdeaRetention(ctx context.Context, id string, version int64, retention Retention) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var trashedAt, archivedAt interface{}
	switch retention {
	case RetentionTrash:
		trashedAt = now
	case RetentionArchive:
		archivedAt = now
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE ideas SET retention = ?, trashed_at = ?, archived_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(retention), trashedAt, archivedAt, now, id, version,
	)
	if err != nil {
		return fmt.Errorf("failed to update idea retention: %w", err)
	}
	return requireOneRow(res, "idea", id)
}

// ListIdeas returns ideas in a retention tier, most recently updated first
func (r *Repository) ListIdeas(ctx context.Context, retention Retention, limit int) ([]Idea, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, asset_id, created_by, assigned_to, rationale, stage, previous_stage,
		       retention, trashed_at, archived_at, version, created_at, updated_at
		FROM ideas WHERE retention = ? ORDER BY updated_at DESC LIMIT ?`,
		string(retention), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ideas: %w", err)
	}
	defer rows.Close()

	var ideas []Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan idea: %w", err)
		}
		ideas = append(ideas, *idea)
	}
	return ideas, rows.Err()
}

// CreateTrack inserts a track for an (idea, portfolio) pair
func (r *Repository) CreateTrack(ctx context.Context, track *Track) error {
	now := time.Now().UTC()
	if track.ID == "" {
		track.ID = uuid.NewString()
	}
	if track.Stage == "" {
		track.Stage = StageIdea
	}
	track.Version = 1
	track.CreatedAt = now
	track.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolio_tracks (id, idea_id, portfolio_id, stage, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		track.ID, track.IdeaID, track.PortfolioID, string(track.Stage), track.Version,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create track: %w", err)
	}
	return nil
}

// GetTrack retrieves the track for an (idea, portfolio) pair
func (r *Repository) GetTrack(ctx context.Context, ideaID, portfolioID string) (*Track, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, idea_id, portfolio_id, stage, decision_outcome, decision_reason,
		       decided_by, decided_at, deferred_until, version, created_at, updated_at
		FROM portfolio_tracks WHERE idea_id = ? AND portfolio_id = ?`,
		ideaID, portfolioID)

	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("track for idea %s portfolio %s: %w", ideaID, portfolioID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return track, nil
}

// ListTracks returns all tracks linked to an idea
func (r *Repository) ListTracks(ctx context.Context, ideaID string) ([]Track, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, idea_id, portfolio_id, stage, decision_outcome, decision_reason,
		       decided_by, decided_at, deferred_until, version, created_at, updated_at
		FROM portfolio_tracks WHERE idea_id = ? ORDER BY portfolio_id`,
		ideaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, *track)
	}
	return tracks, rows.Err()
}

// UpdateTrackStage applies a track stage move with optimistic concurrency
func (r *Repository) UpdateTrackStage(ctx context.Context, id string, version int64, stage Stage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE portfolio_tracks SET stage = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(stage), time.Now().UTC().Format(time.RFC3339), id, version,
	)
	if err != nil {
		return fmt.Errorf("failed to update track stage: %w", err)
	}
	return requireOneRow(res, "track", id)
}

// RecordDecision stores a decision on a track
func (r *Repository) RecordDecision(ctx context.Context, id string, version int64, outcome DecisionOutcome, reason, decidedBy string, deferredUntil *time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var deferred interface{}
	if deferredUntil != nil {
		deferred = deferredUntil.UTC().Format(time.RFC3339)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE portfolio_tracks
		SET decision_outcome = ?, decision_reason = ?, decided_by = ?, decided_at = ?,
		    deferred_until = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND decision_outcome IS NULL`,
		string(outcome), reason, decidedBy, now, deferred, now, id, version,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return requireOneRow(res, "track", id)
}

// RevertDecision clears a track's decision, re-opening proposal submission
func (r *Repository) RevertDecision(ctx context.Context, id string, version int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE portfolio_tracks
		SET decision_outcome = NULL, decision_reason = NULL, decided_by = NULL,
		    decided_at = NULL, deferred_until = NULL, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		time.Now().UTC().Format(time.RFC3339), id, version,
	)
	if err != nil {
		return fmt.Errorf("failed to revert decision: %w", err)
	}
	return requireOneRow(res, "track", id)
}

// GetActiveProposal returns the user's active proposal for (idea, portfolio),
// or nil if none exists
func (r *Repository) GetActiveProposal(ctx context.Context, ideaID, portfolioID, userID string) (*Proposal, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, idea_id, portfolio_id, user_id, sizing_input, action, active, version, created_at, updated_at
		FROM proposals WHERE idea_id = ? AND portfolio_id = ? AND user_id = ? AND active = 1`,
		ideaID, portfolioID, userID)

	proposal, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active proposal: %w", err)
	}
	return proposal, nil
}

// ListActiveProposals returns every active proposal for (idea, portfolio)
func (r *Repository) ListActiveProposals(ctx context.Context, ideaID, portfolioID string) ([]Proposal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, idea_id, portfolio_id, user_id, sizing_input, action, active, version, created_at, updated_at
		FROM proposals WHERE idea_id = ? AND portfolio_id = ? AND active = 1 ORDER BY updated_at DESC`,
		ideaID, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, *proposal)
	}
	return proposals, rows.Err()
}

// SaveProposal inserts or updates the user's active proposal
func (r *Repository) SaveProposal(ctx context.Context, proposal *Proposal) error {
	now := time.Now().UTC()

	existing, err := r.GetActiveProposal(ctx, proposal.IdeaID, proposal.PortfolioID, proposal.UserID)
	if err != nil {
		return err
	}

	if existing == nil {
		if proposal.ID == "" {
			proposal.ID = uuid.NewString()
		}
		proposal.Active = true
		proposal.Version = 1
		proposal.CreatedAt = now
		proposal.UpdatedAt = now

		_, err := r.db.ExecContext(ctx, `
			INSERT INTO proposals (id, idea_id, portfolio_id, user_id, sizing_input, action, active, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			proposal.ID, proposal.IdeaID, proposal.PortfolioID, proposal.UserID,
			proposal.SizingInput, string(proposal.Action), proposal.Version,
			now.Format(time.RFC3339), now.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to create proposal: %w", err)
		}
		return nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE proposals SET sizing_input = ?, action = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		proposal.SizingInput, string(proposal.Action), now.Format(time.RFC3339),
		existing.ID, existing.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update proposal: %w", err)
	}
	if err := requireOneRow(res, "proposal", existing.ID); err != nil {
		return err
	}

	proposal.ID = existing.ID
	proposal.Version = existing.Version + 1
	proposal.Active = true
	proposal.CreatedAt = existing.CreatedAt
	proposal.UpdatedAt = now
	return nil
}

// SnapshotProposal records an immutable version of a proposal
func (r *Repository) SnapshotProposal(ctx context.Context, proposal *Proposal, tag ProposalVersionTag) (*ProposalVersion, error) {
	version := &ProposalVersion{
		ID:          uuid.NewString(),
		ProposalID:  proposal.ID,
		SizingInput: proposal.SizingInput,
		Action:      proposal.Action,
		Tag:         tag,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO proposal_versions (id, proposal_id, sizing_input, action, tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		version.ID, version.ProposalID, version.SizingInput, string(version.Action),
		string(version.Tag), version.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot proposal: %w", err)
	}
	return version, nil
}

// ListProposalVersions returns a proposal's snapshots, newest first
func (r *Repository) ListProposalVersions(ctx context.Context, proposalID string) ([]ProposalVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, proposal_id, sizing_input, action, tag, created_at
		FROM proposal_versions WHERE proposal_id = ? ORDER BY created_at DESC`,
		proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposal versions: %w", err)
	}
	defer rows.Close()

	var versions []ProposalVersion
	for rows.Next() {
		var v ProposalVersion
		var action, tag, createdAt string
		if err := rows.Scan(&v.ID, &v.ProposalID, &v.SizingInput, &action, &tag, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan proposal version: %w", err)
		}
		v.Action = domain.TradeAction(action)
		v.Tag = ProposalVersionTag(tag)
		v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIdea(s scanner) (*Idea, error) {
	var idea Idea
	var assignedTo, previousStage, trashedAt, archivedAt sql.NullString
	var stage, retention, createdAt, updatedAt string

	err := s.Scan(&idea.ID, &idea.AssetID, &idea.CreatedBy, &assignedTo, &idea.Rationale,
		&stage, &previousStage, &retention, &trashedAt, &archivedAt,
		&idea.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	idea.Stage = Stage(stage)
	idea.Retention = Retention(retention)
	idea.AssignedTo = assignedTo.String
	if previousStage.Valid {
		prev := Stage(previousStage.String)
		idea.PreviousStage = &prev
	}
	idea.TrashedAt = parseNullTime(trashedAt)
	idea.ArchivedAt = parseNullTime(archivedAt)
	idea.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	idea.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &idea, nil
}

func scanTrack(s scanner) (*Track, error) {
	var track Track
	var outcome, reason, decidedBy, decidedAt, deferredUntil sql.NullString
	var stage, createdAt, updatedAt string

	err := s.Scan(&track.ID, &track.IdeaID, &track.PortfolioID, &stage,
		&outcome, &reason, &decidedBy, &decidedAt, &deferredUntil,
		&track.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	track.Stage = Stage(stage)
	if outcome.Valid {
		o := DecisionOutcome(outcome.String)
		track.DecisionOutcome = &o
	}
	track.DecisionReason = reason.String
	track.DecidedBy = decidedBy.String
	track.DecidedAt = parseNullTime(decidedAt)
	track.DeferredUntil = parseNullTime(deferredUntil)
	track.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	track.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &track, nil
}

func scanProposal(s scanner) (*Proposal, error) {
	var proposal Proposal
	var action, createdAt, updatedAt string
	var active int

	err := s.Scan(&proposal.ID, &proposal.IdeaID, &proposal.PortfolioID, &proposal.UserID,
		&proposal.SizingInput, &action, &active, &proposal.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	proposal.Action = domain.TradeAction(action)
	proposal.Active = active == 1
	proposal.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	proposal.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &proposal, nil
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

// requireOneRow converts a zero-row optimistic update into a concurrency
// conflict the caller can surface
func requireOneRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrConcurrencyConflict)
	}
	return nil
}
