package ideas

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/modules/permissions"
)

// Handler provides HTTP handlers for idea lifecycle endpoints
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new ideas handler
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "ideas").Logger(),
	}
}

// actorID reads the authenticated user from the request. Authentication is
// terminated upstream; the gateway injects the identity header.
func actorID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// requestID reads the caller-supplied idempotency key
func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	var permErr *permissions.Error
	var transErr *TransitionError

	switch {
	case errors.As(err, &permErr):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.As(err, &transErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}

// HandleCreate handles POST /api/ideas
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID       string   `json:"asset_id"`
		AssignedTo    string   `json:"assigned_to"`
		Collaborators []string `json:"collaborators"`
		Rationale     string   `json:"rationale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	idea := &Idea{
		AssetID:       req.AssetID,
		AssignedTo:    req.AssignedTo,
		Collaborators: req.Collaborators,
		Rationale:     req.Rationale,
	}
	created, err := h.service.CreateIdea(r.Context(), actorID(r), idea, requestID(r))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create idea")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleGet handles GET /api/ideas/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	idea, err := h.service.repo.GetIdea(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

// HandleList handles GET /api/ideas?retention=active
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	retention := Retention(r.URL.Query().Get("retention"))
	if retention == "" {
		retention = RetentionActive
	}

	ideas, err := h.service.repo.ListIdeas(r.Context(), retention, 100)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list ideas")
		writeError(w, err)
		return
	}
	if ideas == nil {
		ideas = []Idea{}
	}
	writeJSON(w, http.StatusOK, ideas)
}

// HandleMoveStage handles POST /api/ideas/{id}/stage
func (h *Handler) HandleMoveStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	stage, err := StageFromString(req.Stage)
	if err != nil {
		writeError(w, err)
		return
	}

	idea, err := h.service.MoveStage(r.Context(), actorID(r), chi.URLParam(r, "id"), stage, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

// HandleUndoStage handles POST /api/ideas/{id}/stage/undo
func (h *Handler) HandleUndoStage(w http.ResponseWriter, r *http.Request) {
	idea, err := h.service.UndoStageMove(r.Context(), actorID(r), chi.URLParam(r, "id"), requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

// HandleSetRetention handles POST /api/ideas/{id}/retention
func (h *Handler) HandleSetRetention(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Retention string `json:"retention"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	retention := Retention(req.Retention)
	switch retention {
	case RetentionActive, RetentionTrash, RetentionArchive:
	default:
		http.Error(w, "Invalid retention tier", http.StatusBadRequest)
		return
	}

	idea, err := h.service.SetRetention(r.Context(), actorID(r), chi.URLParam(r, "id"), retention, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

// HandleListTracks handles GET /api/ideas/{id}/tracks
func (h *Handler) HandleListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.service.VisibleTracks(r.Context(), actorID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if tracks == nil {
		tracks = []Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// HandleLinkPortfolio handles POST /api/ideas/{id}/tracks
func (h *Handler) HandleLinkPortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PortfolioID string `json:"portfolio_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PortfolioID == "" {
		http.Error(w, "portfolio_id is required", http.StatusBadRequest)
		return
	}

	track, err := h.service.LinkPortfolio(r.Context(), actorID(r), chi.URLParam(r, "id"), req.PortfolioID, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, track)
}

// HandleInitiateDecision handles POST /api/ideas/{id}/tracks/{portfolioID}/decision/initiate
func (h *Handler) HandleInitiateDecision(w http.ResponseWriter, r *http.Request) {
	track, err := h.service.InitiateDecision(r.Context(), actorID(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "portfolioID"), requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// HandleRecordDecision handles POST /api/ideas/{id}/tracks/{portfolioID}/decision
func (h *Handler) HandleRecordDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome       string `json:"outcome"`
		Reason        string `json:"reason"`
		DeferredUntil string `json:"deferred_until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var deferredUntil *time.Time
	if req.DeferredUntil != "" {
		parsed, err := time.Parse(time.RFC3339, req.DeferredUntil)
		if err != nil {
			http.Error(w, "deferred_until must be RFC3339", http.StatusBadRequest)
			return
		}
		deferredUntil = &parsed
	}

	track, err := h.service.RecordDecision(r.Context(), actorID(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "portfolioID"),
		DecisionOutcome(req.Outcome), req.Reason, deferredUntil, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// HandleRevertDecision handles DELETE /api/ideas/{id}/tracks/{portfolioID}/decision
func (h *Handler) HandleRevertDecision(w http.ResponseWriter, r *http.Request) {
	track, err := h.service.RevertDecision(r.Context(), actorID(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "portfolioID"), requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// HandleSubmitProposal handles PUT /api/ideas/{id}/tracks/{portfolioID}/proposal
func (h *Handler) HandleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SizingInput string `json:"sizing_input"`
		Action      string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	proposal := &Proposal{
		IdeaID:      chi.URLParam(r, "id"),
		PortfolioID: chi.URLParam(r, "portfolioID"),
		SizingInput: req.SizingInput,
		Action:      domain.TradeAction(req.Action),
	}
	saved, err := h.service.SubmitProposal(r.Context(), actorID(r), proposal, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleListProposalVersions handles GET /api/proposals/{proposalID}/versions
func (h *Handler) HandleListProposalVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.service.repo.ListProposalVersions(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if versions == nil {
		versions = []ProposalVersion{}
	}
	writeJSON(w, http.StatusOK, versions)
}
