package sheets

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/domain"
)

// Handler provides HTTP handlers for trade sheet endpoints
type Handler struct {
	assembler *Assembler
	log       zerolog.Logger
}

// NewHandler creates a new sheets handler
func NewHandler(assembler *Assembler, log zerolog.Logger) *Handler {
	return &Handler{
		assembler: assembler,
		log:       log.With().Str("handler", "sheets").Logger(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var statusErr *StatusError

	switch {
	case errors.Is(err, ErrUnresolvedConflicts):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &statusErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}

// HandleAssemble handles POST /api/labs/{labID}/views/{viewID}/sheets
func (h *Handler) HandleAssemble(w http.ResponseWriter, r *http.Request) {
	sheet, err := h.assembler.Assemble(r.Context(),
		r.Header.Get("X-User-ID"),
		chi.URLParam(r, "labID"), chi.URLParam(r, "viewID"),
		r.Header.Get("X-Request-ID"))
	if err != nil {
		h.log.Warn().Err(err).Msg("Sheet assembly failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sheet)
}

// HandleGet handles GET /api/sheets/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sheet, err := h.assembler.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

// HandleList handles GET /api/sheets?portfolio_id=p1
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	portfolioID := r.URL.Query().Get("portfolio_id")
	if portfolioID == "" {
		http.Error(w, "portfolio_id is required", http.StatusBadRequest)
		return
	}

	sheets, err := h.assembler.repo.List(r.Context(), portfolioID, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	if sheets == nil {
		sheets = []Sheet{}
	}
	writeJSON(w, http.StatusOK, sheets)
}

// HandleUpdateStatus handles POST /api/sheets/{id}/status
func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sheet, err := h.assembler.UpdateStatus(r.Context(),
		r.Header.Get("X-User-ID"), chi.URLParam(r, "id"),
		Status(req.Status), r.Header.Get("X-Request-ID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}
