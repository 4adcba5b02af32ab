package permissions

import (
	"context"

	"github.com/rs/zerolog"
)

// Membership answers whether a user belongs to a portfolio at all,
// independent of role
type Membership interface {
	IsMember(ctx context.Context, userID, portfolioID string) (bool, error)
}

// Engine resolves capabilities along two independent axes: global stage
// movement (idea stakeholders) and portfolio-scoped actions (resolved PMs).
type Engine struct {
	roles      *RoleCache
	membership Membership
	log        zerolog.Logger
}

// NewEngine creates a permission engine
func NewEngine(roles *RoleCache, membership Membership, log zerolog.Logger) *Engine {
	return &Engine{
		roles:      roles,
		membership: membership,
		log:        log.With().Str("component", "permissions").Logger(),
	}
}

// CanMoveGlobalStage reports whether the user may move the idea's global
// stage. Only the creator, assignee or a collaborator may; a PM never may,
// not even for an idea linked to their own portfolio.
func (e *Engine) CanMoveGlobalStage(userID string, idea IdeaAccess) error {
	if !idea.IsStakeholder(userID) {
		return Denied("move_global_stage", userID, "only the creator, assignee or a collaborator may move the idea stage")
	}
	return nil
}

// CanDecide reports whether the user may record, revert or initiate a
// decision for the portfolio. Requires a resolved PM role for that specific
// portfolio.
func (e *Engine) CanDecide(ctx context.Context, userID, portfolioID string) error {
	if e.roles.Resolve(ctx, userID, portfolioID) != RolePM {
		return Denied("portfolio_decision", userID, "requires portfolio manager role for portfolio "+portfolioID)
	}
	return nil
}

// CanSubmitProposal reports whether the user may submit or update a sizing
// proposal for (idea, portfolio). Any portfolio member may, as long as no
// decision has been recorded for that portfolio.
func (e *Engine) CanSubmitProposal(ctx context.Context, userID, portfolioID string, decisionRecorded bool) error {
	if decisionRecorded {
		return Denied("submit_proposal", userID, "a decision is already recorded for portfolio "+portfolioID)
	}
	member, err := e.membership.IsMember(ctx, userID, portfolioID)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Str("portfolio_id", portfolioID).
			Msg("Membership lookup failed, denying proposal submission")
		return Denied("submit_proposal", userID, "membership could not be verified")
	}
	if !member {
		return Denied("submit_proposal", userID, "not a member of portfolio "+portfolioID)
	}
	return nil
}

// VisiblePortfolios filters the idea's linked portfolios down to those the
// user may see. Stakeholders see every linked portfolio; anyone else sees
// only the portfolios they manage. Cross-portfolio linkage never leaks to a
// PM who does not manage the counterpart portfolio.
func (e *Engine) VisiblePortfolios(ctx context.Context, userID string, idea IdeaAccess, linked []string) []string {
	if idea.IsStakeholder(userID) {
		out := make([]string, len(linked))
		copy(out, linked)
		return out
	}

	visible := make([]string, 0, len(linked))
	for _, portfolioID := range linked {
		if e.roles.Resolve(ctx, userID, portfolioID) == RolePM {
			visible = append(visible, portfolioID)
		}
	}
	return visible
}
