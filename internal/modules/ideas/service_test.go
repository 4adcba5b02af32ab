package ideas

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/events"
	"github.com/meridian/decisiondesk/internal/modules/permissions"
	"github.com/meridian/decisiondesk/internal/requests"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE ideas (
			id TEXT PRIMARY KEY,
			asset_id TEXT NOT NULL,
			created_by TEXT NOT NULL,
			assigned_to TEXT,
			rationale TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			previous_stage TEXT,
			retention TEXT NOT NULL DEFAULT 'active',
			trashed_at TEXT,
			archived_at TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE idea_collaborators (
			idea_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (idea_id, user_id)
		);
		CREATE TABLE portfolio_tracks (
			id TEXT PRIMARY KEY,
			idea_id TEXT NOT NULL,
			portfolio_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			decision_outcome TEXT,
			decision_reason TEXT,
			decided_by TEXT,
			decided_at TEXT,
			deferred_until TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (idea_id, portfolio_id)
		);
		CREATE TABLE proposals (
			id TEXT PRIMARY KEY,
			idea_id TEXT NOT NULL,
			portfolio_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			sizing_input TEXT NOT NULL,
			action TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_proposals_active
			ON proposals (idea_id, portfolio_id, user_id) WHERE active = 1;
		CREATE TABLE proposal_versions (
			id TEXT PRIMARY KEY,
			proposal_id TEXT NOT NULL,
			sizing_input TEXT NOT NULL,
			action TEXT NOT NULL,
			tag TEXT NOT NULL,
			created_at TEXT NOT NULL
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

// roleKey is userID + "/" + portfolioID
type stubRoles map[string]permissions.Role

func (s stubRoles) ResolveRole(_ context.Context, userID, portfolioID string) (permissions.Role, error) {
	if role, ok := s[userID+"/"+portfolioID]; ok {
		return role, nil
	}
	return permissions.RoleAnalyst, nil
}

type stubMembers map[string]bool

func (s stubMembers) IsMember(_ context.Context, userID, portfolioID string) (bool, error) {
	return s[userID+"/"+portfolioID], nil
}

func setupService(t *testing.T, roles stubRoles, members stubMembers) (*Service, *Repository, *sql.DB) {
	db := setupTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	repo := NewRepository(db, log)
	cache := permissions.NewRoleCache(roles, 0, log)
	engine := permissions.NewEngine(cache, members, log)
	requestLog := requests.NewLog(db, log)
	eventMgr := events.NewManager(nil, log)

	return NewService(repo, engine, requestLog, eventMgr, log), repo, db
}

func createTestIdea(t *testing.T, svc *Service, creator string) *Idea {
	idea, err := svc.CreateIdea(context.Background(), creator, &Idea{
		AssetID:   "AAPL",
		Rationale: "services growth underpriced",
	}, "")
	require.NoError(t, err)
	return idea
}

func TestMoveStage_ForwardRecordsPrevious(t *testing.T) {
	svc, _, _ := setupService(t, stubRoles{}, stubMembers{})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	require.Equal(t, StageIdea, idea.Stage)

	updated, err := svc.MoveStage(ctx, "analyst-1", idea.ID, StageModeling, "req-1")
	require.NoError(t, err)
	assert.Equal(t, StageModeling, updated.Stage)
	require.NotNil(t, updated.PreviousStage)
	assert.Equal(t, StageIdea, *updated.PreviousStage)
}

func TestMoveStage_RevertAllowed(t *testing.T) {
	svc, _, _ := setupService(t, stubRoles{}, stubMembers{})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.MoveStage(ctx, "analyst-1", idea.ID, StageModeling, "req-1")
	require.NoError(t, err)

	updated, err := svc.MoveStage(ctx, "analyst-1", idea.ID, StageWorkingOn, "req-2")
	require.NoError(t, err)
	assert.Equal(t, StageWorkingOn, updated.Stage)
}

func TestMoveStage_UndoRestoresPreviousOnce(t *testing.T) {
	svc, _, _ := setupService(t, stubRoles{}, stubMembers{})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.MoveStage(ctx, "analyst-1", idea.ID, StageWorkingOn, "req-1")
	require.NoError(t, err)

	undone, err := svc.UndoStageMove(ctx, "analyst-1", idea.ID, "req-2")
	require.NoError(t, err)
	assert.Equal(t, StageIdea, undone.Stage)
	assert.Nil(t, undone.PreviousStage)

	// One level only
	_, err = svc.UndoStageMove(ctx, "analyst-1", idea.ID, "req-3")
	assert.Error(t, err)
}

func TestCreateIdea_DefaultsStageAndRetention(t *testing.T) {
	svc, repo, _ := setupService(t, stubRoles{}, stubMembers{})
	ctx := context.Background()

	// Callers never supply a stage; creation must default it, not reject it
	idea, err := svc.CreateIdea(ctx, "analyst-1", &Idea{
		AssetID:   "MSFT",
		Rationale: "cloud margin expansion",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, StageIdea, idea.Stage)
	assert.Equal(t, RetentionActive, idea.Retention)
	assert.Equal(t, int64(1), idea.Version)

	stored, err := repo.GetIdea(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, StageIdea, stored.Stage)
}

func TestMoveStage_UndoIdempotentRequestID(t *testing.T) {
	svc, _, _ := setupService(t, stubRoles{}, stubMembers{})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.MoveStage(ctx, "analyst-1", idea.ID, StageWorkingOn, "req-1")
	require.NoError(t, err)

	first, err := svc.UndoStageMove(ctx, "analyst-1", idea.ID, "req-undo")
	require.NoError(t, err)
	assert.Equal(t, StageIdea, first.Stage)

	// Replaying the applied undo returns the standing state even though the
	// undo history is already consumed
	second, err := svc.UndoStageMove(ctx, "analyst-1", idea.ID, "req-undo")
	require.NoError(t, err)
	assert.Equal(t, StageIdea, second.Stage)
	assert.Equal(t, first.Version, second.Version)
}

func TestMoveStage_NonStakeholderDenied(t *testing.T) {
	// pm-1 manages p1 but is not a stakeholder of the idea
	svc, _, _ := setupService(t,
		stubRoles{"pm-1/p1": permissions.RolePM},
		stubMembers{"pm-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.MoveStage(ctx, "pm-1", idea.ID, StageWorkingOn, "req-1")

	var permErr *permissions.Error
	require.ErrorAs(t, err, &permErr)
}

func TestMoveStage_DirectDecidingRejected(t *testing.T) {
	svc, _, _ := setupService(t, stubRoles{}, stubMembers{})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.MoveStage(ctx, "analyst-1", idea.ID, StageDeciding, "req-1")

	var transErr *TransitionError
	require.ErrorAs(t, err, &transErr)
}

func TestInitiateDecision_RequiresActiveProposal(t *testing.T) {
	svc, _, _ := setupService(t,
		stubRoles{"pm-1/p1": permissions.RolePM},
		stubMembers{"pm-1/p1": true, "analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)

	_, err = svc.InitiateDecision(ctx, "pm-1", idea.ID, "p1", "req-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active proposal")
}

func TestInitiateDecision_SnapshotsAndMovesTrack(t *testing.T) {
	svc, repo, _ := setupService(t,
		stubRoles{"pm-1/p1": permissions.RolePM},
		stubMembers{"pm-1/p1": true, "analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)

	proposal, err := svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1",
		SizingInput: "2.5", Action: domain.ActionBuy,
	}, "")
	require.NoError(t, err)

	track, err := svc.InitiateDecision(ctx, "pm-1", idea.ID, "p1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, StageDeciding, track.Stage)

	versions, err := repo.ListProposalVersions(ctx, proposal.ID)
	require.NoError(t, err)

	var tags []ProposalVersionTag
	for _, v := range versions {
		tags = append(tags, v.Tag)
	}
	assert.Contains(t, tags, TagMovedToDeciding)
}

func TestInitiateDecision_AnalystDenied(t *testing.T) {
	svc, _, _ := setupService(t, stubRoles{}, stubMembers{"analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)

	_, err = svc.InitiateDecision(ctx, "analyst-1", idea.ID, "p1", "req-1")
	var permErr *permissions.Error
	require.ErrorAs(t, err, &permErr)
}

// A recorded decision closes proposal submission for that portfolio until a
// PM reverts it; after the revert, submission succeeds again.
func TestDecisionClosesProposalsUntilRevert(t *testing.T) {
	svc, _, _ := setupService(t,
		stubRoles{"pm-1/p1": permissions.RolePM},
		stubMembers{"pm-1/p1": true, "analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)

	_, err = svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1",
		SizingInput: "+1.0", Action: domain.ActionAdd,
	}, "")
	require.NoError(t, err)

	_, err = svc.InitiateDecision(ctx, "pm-1", idea.ID, "p1", "req-1")
	require.NoError(t, err)

	track, err := svc.RecordDecision(ctx, "pm-1", idea.ID, "p1", DecisionAccepted, "conviction confirmed", nil, "req-2")
	require.NoError(t, err)
	require.NotNil(t, track.DecisionOutcome)
	assert.Equal(t, DecisionAccepted, *track.DecisionOutcome)

	_, err = svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1",
		SizingInput: "+2.0", Action: domain.ActionAdd,
	}, "")
	var permErr *permissions.Error
	require.ErrorAs(t, err, &permErr)

	_, err = svc.RevertDecision(ctx, "pm-1", idea.ID, "p1", "req-3")
	require.NoError(t, err)

	_, err = svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1",
		SizingInput: "+2.0", Action: domain.ActionAdd,
	}, "")
	assert.NoError(t, err)
}

func TestRecordDecision_RequiresDecidingStage(t *testing.T) {
	svc, _, _ := setupService(t,
		stubRoles{"pm-1/p1": permissions.RolePM},
		stubMembers{"analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)

	_, err = svc.RecordDecision(ctx, "pm-1", idea.ID, "p1", DecisionRejected, "too crowded", nil, "req-1")
	var transErr *TransitionError
	require.ErrorAs(t, err, &transErr)
}

func TestRecordDecision_DoubleDecisionRejected(t *testing.T) {
	svc, _, _ := setupService(t,
		stubRoles{"pm-1/p1": permissions.RolePM},
		stubMembers{"analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)
	_, err = svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1", SizingInput: "3", Action: domain.ActionBuy,
	}, "")
	require.NoError(t, err)
	_, err = svc.InitiateDecision(ctx, "pm-1", idea.ID, "p1", "")
	require.NoError(t, err)

	_, err = svc.RecordDecision(ctx, "pm-1", idea.ID, "p1", DecisionAccepted, "", nil, "req-1")
	require.NoError(t, err)

	_, err = svc.RecordDecision(ctx, "pm-1", idea.ID, "p1", DecisionRejected, "", nil, "req-2")
	var transErr *TransitionError
	require.ErrorAs(t, err, &transErr)
}

// Re-submitting the same request ID returns the standing state without
// applying the mutation a second time.
func TestRecordDecision_IdempotentRequestID(t *testing.T) {
	svc, repo, _ := setupService(t,
		stubRoles{"pm-1/p1": permissions.RolePM},
		stubMembers{"analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)
	_, err = svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1", SizingInput: "3", Action: domain.ActionBuy,
	}, "")
	require.NoError(t, err)
	_, err = svc.InitiateDecision(ctx, "pm-1", idea.ID, "p1", "")
	require.NoError(t, err)

	first, err := svc.RecordDecision(ctx, "pm-1", idea.ID, "p1", DecisionAccepted, "go", nil, "req-dup")
	require.NoError(t, err)

	second, err := svc.RecordDecision(ctx, "pm-1", idea.ID, "p1", DecisionAccepted, "go", nil, "req-dup")
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)

	track, err := repo.GetTrack(ctx, idea.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, first.Version, track.Version)
	require.NotNil(t, track.DecisionOutcome)
	assert.Equal(t, DecisionAccepted, *track.DecisionOutcome)
}

func TestMoveStage_IdempotentRequestID(t *testing.T) {
	svc, _, _ := setupService(t, stubRoles{}, stubMembers{})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	first, err := svc.MoveStage(ctx, "analyst-1", idea.ID, StageWorkingOn, "req-dup")
	require.NoError(t, err)

	second, err := svc.MoveStage(ctx, "analyst-1", idea.ID, StageWorkingOn, "req-dup")
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, StageWorkingOn, second.Stage)
}

func TestSubmitProposal_UpdatesInPlace(t *testing.T) {
	svc, repo, _ := setupService(t, stubRoles{}, stubMembers{"analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)

	first, err := svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1", SizingInput: "2.5", Action: domain.ActionBuy,
	}, "")
	require.NoError(t, err)

	second, err := svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1", SizingInput: "3.0", Action: domain.ActionBuy,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	active, err := repo.GetActiveProposal(ctx, idea.ID, "p1", "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, "3.0", active.SizingInput)

	versions, err := repo.ListProposalVersions(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestSubmitProposal_EmptyInputRejected(t *testing.T) {
	svc, _, _ := setupService(t, stubRoles{}, stubMembers{"analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)

	_, err = svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1", SizingInput: "", Action: domain.ActionBuy,
	}, "")
	assert.Error(t, err)
}

func TestSubmitProposal_UnparseableInputSaved(t *testing.T) {
	svc, repo, _ := setupService(t, stubRoles{}, stubMembers{"analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)

	_, err = svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1", SizingInput: "a handful", Action: domain.ActionBuy,
	}, "")
	require.NoError(t, err)

	active, err := repo.GetActiveProposal(ctx, idea.ID, "p1", "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, "a handful", active.SizingInput)
}

func TestVisibleTracks_PMScopedToManagedPortfolios(t *testing.T) {
	svc, _, _ := setupService(t,
		stubRoles{"pm-1/p1": permissions.RolePM},
		stubMembers{"analyst-1/p1": true, "analyst-1/p2": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)
	_, err = svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p2", "")
	require.NoError(t, err)

	// Stakeholder sees both linked portfolios
	tracks, err := svc.VisibleTracks(ctx, "analyst-1", idea.ID)
	require.NoError(t, err)
	assert.Len(t, tracks, 2)

	// pm-1 manages only p1; p2's engagement never leaks
	tracks, err = svc.VisibleTracks(ctx, "pm-1", idea.ID)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "p1", tracks[0].PortfolioID)
}

func TestSetRetention_TrashAndRestore(t *testing.T) {
	svc, _, _ := setupService(t, stubRoles{}, stubMembers{})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")

	trashed, err := svc.SetRetention(ctx, "analyst-1", idea.ID, RetentionTrash, "")
	require.NoError(t, err)
	assert.Equal(t, RetentionTrash, trashed.Retention)
	assert.NotNil(t, trashed.TrashedAt)

	restored, err := svc.SetRetention(ctx, "analyst-1", idea.ID, RetentionActive, "")
	require.NoError(t, err)
	assert.Equal(t, RetentionActive, restored.Retention)
	assert.Nil(t, restored.TrashedAt)
}

func TestTrackStageIndependentOfGlobalStage(t *testing.T) {
	svc, repo, _ := setupService(t,
		stubRoles{"pm-1/p1": permissions.RolePM},
		stubMembers{"analyst-1/p1": true})
	ctx := context.Background()

	idea := createTestIdea(t, svc, "analyst-1")
	_, err := svc.LinkPortfolio(ctx, "analyst-1", idea.ID, "p1", "")
	require.NoError(t, err)
	_, err = svc.SubmitProposal(ctx, "analyst-1", &Proposal{
		IdeaID: idea.ID, PortfolioID: "p1", SizingInput: "1.5", Action: domain.ActionBuy,
	}, "")
	require.NoError(t, err)

	_, err = svc.InitiateDecision(ctx, "pm-1", idea.ID, "p1", "")
	require.NoError(t, err)

	// Reverting the global stage leaves the track in deciding
	_, err = svc.MoveStage(ctx, "analyst-1", idea.ID, StageWorkingOn, "")
	require.NoError(t, err)

	track, err := repo.GetTrack(ctx, idea.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, StageDeciding, track.Stage)
}
