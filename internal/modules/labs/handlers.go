package labs

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/modules/sizing"
)

// Handler provides HTTP handlers for lab and variant endpoints
type Handler struct {
	service     *Service
	revalidator *RevalidationProcessor
	log         zerolog.Logger
}

// NewHandler creates a new labs handler
func NewHandler(service *Service, revalidator *RevalidationProcessor, log zerolog.Logger) *Handler {
	return &Handler{
		service:     service,
		revalidator: revalidator,
		log:         log.With().Str("handler", "labs").Logger(),
	}
}

func actorID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var parseErr *sizing.ParseError

	switch {
	case errors.As(err, &parseErr):
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

// HandleCreateLab handles POST /api/labs
func (h *Handler) HandleCreateLab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		PortfolioID string `json:"portfolio_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	lab, err := h.service.CreateLab(r.Context(), actorID(r), &Lab{
		Name:        req.Name,
		PortfolioID: req.PortfolioID,
	}, requestID(r))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create lab")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lab)
}

// HandleListLabs handles GET /api/labs
func (h *Handler) HandleListLabs(w http.ResponseWriter, r *http.Request) {
	labList, err := h.service.repo.ListLabs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if labList == nil {
		labList = []Lab{}
	}
	writeJSON(w, http.StatusOK, labList)
}

// HandleListVariants handles GET /api/labs/{labID}/views/{viewID}/variants
func (h *Handler) HandleListVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := h.service.ListVariants(r.Context(), chi.URLParam(r, "labID"), chi.URLParam(r, "viewID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if variants == nil {
		variants = []Variant{}
	}
	writeJSON(w, http.StatusOK, variants)
}

// HandleSaveVariant handles PUT /api/labs/{labID}/views/{viewID}/variants/{assetID}
func (h *Handler) HandleSaveVariant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action      string `json:"action"`
		SizingInput string `json:"sizing_input"`
		Placeholder bool   `json:"placeholder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	variant, err := h.service.SaveVariant(r.Context(), actorID(r), SaveInput{
		LabID:       chi.URLParam(r, "labID"),
		ViewID:      chi.URLParam(r, "viewID"),
		AssetID:     chi.URLParam(r, "assetID"),
		Action:      domain.TradeAction(req.Action),
		SizingInput: req.SizingInput,
		Placeholder: req.Placeholder,
	}, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, variant)
}

// HandleConfirmIdentity handles POST /api/variants/{variantID}/confirm
func (h *Handler) HandleConfirmIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID string `json:"asset_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AssetID == "" {
		http.Error(w, "asset_id is required", http.StatusBadRequest)
		return
	}

	variant, err := h.service.ConfirmIdentity(r.Context(), actorID(r), chi.URLParam(r, "variantID"), req.AssetID, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, variant)
}

// HandleDeleteVariant handles DELETE /api/variants/{variantID}
func (h *Handler) HandleDeleteVariant(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteVariant(r.Context(), actorID(r), chi.URLParam(r, "variantID"), requestID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevalidate handles POST /api/labs/{labID}/views/{viewID}/revalidate
func (h *Handler) HandleRevalidate(w http.ResponseWriter, r *http.Request) {
	summary, err := h.revalidator.Revalidate(r.Context(),
		chi.URLParam(r, "labID"), chi.URLParam(r, "viewID"), sizing.TriggerLoadRevalidation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
