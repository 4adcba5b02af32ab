package ideas

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/events"
	"github.com/meridian/decisiondesk/internal/modules/permissions"
	"github.com/meridian/decisiondesk/internal/modules/sizing"
	"github.com/meridian/decisiondesk/internal/requests"
)

// Service orchestrates idea lifecycle operations: stage moves, decision
// tracks, proposals. Every mutation is permission-gated and audited; callers
// supply a request ID for idempotent application.
type Service struct {
	repo       *Repository
	perms      *permissions.Engine
	requestLog *requests.Log
	eventMgr   *events.Manager
	log        zerolog.Logger
}

// NewService creates a new ideas service
func NewService(repo *Repository, perms *permissions.Engine, requestLog *requests.Log, eventMgr *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		perms:      perms,
		requestLog: requestLog,
		eventMgr:   eventMgr,
		log:        log.With().Str("service", "ideas").Logger(),
	}
}

// access builds the permission view of an idea
func access(idea *Idea) permissions.IdeaAccess {
	return permissions.IdeaAccess{
		CreatedBy:     idea.CreatedBy,
		AssignedTo:    idea.AssignedTo,
		Collaborators: idea.Collaborators,
	}
}

// alreadyApplied reports whether a request ID has been applied before.
// Re-submission returns the stored entity without re-applying or re-emitting.
func (s *Service) alreadyApplied(ctx context.Context, requestID string) (bool, error) {
	outcome, err := s.requestLog.Lookup(ctx, requestID)
	if err != nil {
		return false, err
	}
	return outcome != nil, nil
}

// CreateIdea creates a new trade idea owned by the actor
func (s *Service) CreateIdea(ctx context.Context, actorID string, idea *Idea, requestID string) (*Idea, error) {
	if applied, err := s.alreadyApplied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return s.repo.GetIdea(ctx, idea.ID)
	}

	idea.CreatedBy = actorID
	if err := s.repo.CreateIdea(ctx, idea); err != nil {
		return nil, err
	}

	if err := s.requestLog.Record(ctx, requestID, "create_idea", idea.ID, "ok"); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return idea, nil
}

// MoveStage moves an idea's global stage. Only stakeholders may; the prior
// stage is recorded for one-level undo.
func (s *Service) MoveStage(ctx context.Context, actorID, ideaID string, to Stage, requestID string) (*Idea, error) {
	idea, err := s.repo.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	if applied, err := s.alreadyApplied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return idea, nil
	}

	if err := s.perms.CanMoveGlobalStage(actorID, access(idea)); err != nil {
		return nil, err
	}

	kind, err := ClassifyTransition(idea.Stage, to)
	if err != nil {
		return nil, err
	}

	from := idea.Stage
	if err := s.repo.UpdateIdeaStage(ctx, idea.ID, idea.Version, to, &from); err != nil {
		return nil, err
	}

	eventType := events.StageChanged
	if kind == TransitionRevert {
		eventType = events.StageReverted
	}
	s.eventMgr.Emit(eventType, "ideas", actorID, map[string]interface{}{
		"idea_id":   idea.ID,
		"asset_id":  idea.AssetID,
		"old_stage": string(from),
		"new_stage": string(to),
	})

	if err := s.requestLog.Record(ctx, requestID, "move_stage", idea.ID, "ok"); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return s.repo.GetIdea(ctx, ideaID)
}

// UndoStageMove reverts the last stage move using the recorded previous
// stage. One level only: undoing clears the snapshot.
func (s *Service) UndoStageMove(ctx context.Context, actorID, ideaID, requestID string) (*Idea, error) {
	idea, err := s.repo.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	// Replays of an applied undo must return the standing state, so the
	// idempotency lookup runs before the no-history check
	if applied, err := s.alreadyApplied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return idea, nil
	}

	if idea.PreviousStage == nil {
		return nil, fmt.Errorf("idea %s has no stage move to undo", ideaID)
	}

	if err := s.perms.CanMoveGlobalStage(actorID, access(idea)); err != nil {
		return nil, err
	}

	from, to := idea.Stage, *idea.PreviousStage
	if err := s.repo.UpdateIdeaStage(ctx, idea.ID, idea.Version, to, nil); err != nil {
		return nil, err
	}

	s.eventMgr.Emit(events.StageReverted, "ideas", actorID, map[string]interface{}{
		"idea_id":   idea.ID,
		"asset_id":  idea.AssetID,
		"old_stage": string(from),
		"new_stage": string(to),
		"undo":      true,
	})

	if err := s.requestLog.Record(ctx, requestID, "undo_stage_move", idea.ID, "ok"); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return s.repo.GetIdea(ctx, ideaID)
}

// LinkPortfolio engages a portfolio with an idea by creating its decision
// track. Any member of the portfolio may link it.
func (s *Service) LinkPortfolio(ctx context.Context, actorID, ideaID, portfolioID, requestID string) (*Track, error) {
	idea, err := s.repo.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.GetTrack(ctx, ideaID, portfolioID); err == nil {
		return existing, nil
	}

	if applied, err := s.alreadyApplied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return s.repo.GetTrack(ctx, ideaID, portfolioID)
	}

	if err := s.perms.CanSubmitProposal(ctx, actorID, portfolioID, false); err != nil {
		// Linking requires the same portfolio membership as proposing
		if !access(idea).IsStakeholder(actorID) {
			return nil, err
		}
	}

	track := &Track{IdeaID: ideaID, PortfolioID: portfolioID, Stage: idea.Stage}
	if err := s.repo.CreateTrack(ctx, track); err != nil {
		return nil, err
	}

	if err := s.requestLog.Record(ctx, requestID, "link_portfolio", track.ID, "ok"); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return track, nil
}

// SubmitProposal saves the actor's sizing proposal for (idea, portfolio) and
// snapshots it. Closed once the portfolio's decision is recorded.
func (s *Service) SubmitProposal(ctx context.Context, actorID string, proposal *Proposal, requestID string) (*Proposal, error) {
	track, err := s.repo.GetTrack(ctx, proposal.IdeaID, proposal.PortfolioID)
	if err != nil {
		return nil, err
	}

	if applied, err := s.alreadyApplied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return s.repo.GetActiveProposal(ctx, proposal.IdeaID, proposal.PortfolioID, actorID)
	}

	if err := s.perms.CanSubmitProposal(ctx, actorID, proposal.PortfolioID, track.Decided()); err != nil {
		return nil, err
	}

	if proposal.SizingInput == "" {
		return nil, fmt.Errorf("sizing input cannot be empty")
	}
	if !proposal.Action.IsValid() {
		return nil, fmt.Errorf("invalid action: %q", proposal.Action)
	}
	// Unparseable input is still saved; the parse failure surfaces when the
	// sizing pipeline runs over it
	if _, err := sizing.Parse(proposal.SizingInput); err != nil {
		s.log.Debug().Str("input", proposal.SizingInput).Msg("Proposal saved with unparseable sizing input")
	}

	proposal.UserID = actorID
	if err := s.repo.SaveProposal(ctx, proposal); err != nil {
		return nil, err
	}
	if _, err := s.repo.SnapshotProposal(ctx, proposal, TagExplicitSave); err != nil {
		return nil, err
	}

	s.eventMgr.Emit(events.ProposalSaved, "ideas", actorID, map[string]interface{}{
		"idea_id":      proposal.IdeaID,
		"portfolio_id": proposal.PortfolioID,
		"proposal_id":  proposal.ID,
		"sizing_input": proposal.SizingInput,
		"action":       string(proposal.Action),
	})

	if err := s.requestLog.Record(ctx, requestID, "submit_proposal", proposal.ID, "ok"); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return proposal, nil
}

// InitiateDecision moves a portfolio's track into deciding. PM-only;
// requires a non-empty active proposal for the pair, which is snapshotted.
func (s *Service) InitiateDecision(ctx context.Context, actorID, ideaID, portfolioID, requestID string) (*Track, error) {
	track, err := s.repo.GetTrack(ctx, ideaID, portfolioID)
	if err != nil {
		return nil, err
	}

	if applied, err := s.alreadyApplied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return track, nil
	}

	if err := s.perms.CanDecide(ctx, actorID, portfolioID); err != nil {
		return nil, err
	}
	if track.Stage == StageDeciding {
		return track, nil
	}

	proposals, err := s.repo.ListActiveProposals(ctx, ideaID, portfolioID)
	if err != nil {
		return nil, err
	}
	if len(proposals) == 0 {
		return nil, fmt.Errorf("cannot enter deciding for portfolio %s: no active proposal", portfolioID)
	}

	for i := range proposals {
		if _, err := s.repo.SnapshotProposal(ctx, &proposals[i], TagMovedToDeciding); err != nil {
			return nil, err
		}
	}

	from := track.Stage
	if err := s.repo.UpdateTrackStage(ctx, track.ID, track.Version, StageDeciding); err != nil {
		return nil, err
	}

	s.eventMgr.Emit(events.TrackStageChanged, "ideas", actorID, map[string]interface{}{
		"idea_id":      ideaID,
		"portfolio_id": portfolioID,
		"old_stage":    string(from),
		"new_stage":    string(StageDeciding),
	})

	if err := s.requestLog.Record(ctx, requestID, "initiate_decision", track.ID, "ok"); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return s.repo.GetTrack(ctx, ideaID, portfolioID)
}

// RecordDecision records a portfolio-scoped decision. PM-only; the track
// must be in deciding with no decision standing. Decisions never alter the
// idea's global stage.
func (s *Service) RecordDecision(ctx context.Context, actorID, ideaID, portfolioID string, outcome DecisionOutcome, reason string, deferredUntil *time.Time, requestID string) (*Track, error) {
	track, err := s.repo.GetTrack(ctx, ideaID, portfolioID)
	if err != nil {
		return nil, err
	}

	if applied, err := s.alreadyApplied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return track, nil
	}

	if err := s.perms.CanDecide(ctx, actorID, portfolioID); err != nil {
		return nil, err
	}
	if !outcome.IsValid() {
		return nil, fmt.Errorf("invalid decision outcome: %q", outcome)
	}
	if err := CanRecordDecision(track); err != nil {
		return nil, err
	}

	if err := s.repo.RecordDecision(ctx, track.ID, track.Version, outcome, reason, actorID, deferredUntil); err != nil {
		return nil, err
	}

	s.eventMgr.Emit(events.DecisionRecorded, "ideas", actorID, map[string]interface{}{
		"idea_id":      ideaID,
		"portfolio_id": portfolioID,
		"outcome":      string(outcome),
		"reason":       reason,
	})

	if err := s.requestLog.Record(ctx, requestID, "record_decision", track.ID, "ok"); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return s.repo.GetTrack(ctx, ideaID, portfolioID)
}

// RevertDecision clears a recorded decision, re-opening proposal submission
// for the portfolio. PM-only.
func (s *Service) RevertDecision(ctx context.Context, actorID, ideaID, portfolioID, requestID string) (*Track, error) {
	track, err := s.repo.GetTrack(ctx, ideaID, portfolioID)
	if err != nil {
		return nil, err
	}

	if applied, err := s.alreadyApplied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return track, nil
	}

	if err := s.perms.CanDecide(ctx, actorID, portfolioID); err != nil {
		return nil, err
	}
	if !track.Decided() {
		return track, nil
	}

	previous := *track.DecisionOutcome
	if err := s.repo.RevertDecision(ctx, track.ID, track.Version); err != nil {
		return nil, err
	}

	s.eventMgr.Emit(events.DecisionReverted, "ideas", actorID, map[string]interface{}{
		"idea_id":          ideaID,
		"portfolio_id":     portfolioID,
		"previous_outcome": string(previous),
	})

	if err := s.requestLog.Record(ctx, requestID, "revert_decision", track.ID, "ok"); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return s.repo.GetTrack(ctx, ideaID, portfolioID)
}

// SetRetention moves an idea between retention tiers (trash, archive,
// restore to active). Stakeholder-only.
func (s *Service) SetRetention(ctx context.Context, actorID, ideaID string, retention Retention, requestID string) (*Idea, error) {
	idea, err := s.repo.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	if applied, err := s.alreadyApplied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return idea, nil
	}

	if err := s.perms.CanMoveGlobalStage(actorID, access(idea)); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateIdeaRetention(ctx, ideaID, idea.Version, retention); err != nil {
		return nil, err
	}

	eventType := events.IdeaRetired
	if retention == RetentionActive {
		eventType = events.IdeaRestored
	}
	s.eventMgr.Emit(eventType, "ideas", actorID, map[string]interface{}{
		"idea_id":   ideaID,
		"retention": string(retention),
	})

	if err := s.requestLog.Record(ctx, requestID, "set_retention", ideaID, "ok"); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return s.repo.GetIdea(ctx, ideaID)
}

// VisibleTracks returns the idea's tracks filtered by what the actor may
// see: stakeholders see every linked portfolio, a PM only the portfolios
// they manage.
func (s *Service) VisibleTracks(ctx context.Context, actorID, ideaID string) ([]Track, error) {
	idea, err := s.repo.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	tracks, err := s.repo.ListTracks(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	linked := make([]string, len(tracks))
	for i, t := range tracks {
		linked[i] = t.PortfolioID
	}

	visible := s.perms.VisiblePortfolios(ctx, actorID, access(idea), linked)
	allowed := make(map[string]bool, len(visible))
	for _, p := range visible {
		allowed[p] = true
	}

	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if allowed[t.PortfolioID] {
			out = append(out, t)
		}
	}
	return out, nil
}
