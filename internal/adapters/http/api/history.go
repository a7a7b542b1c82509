package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/pkg/logger"
)

// HistoryHandler handles score snapshots and history.
type HistoryHandler struct {
	svc    Service
	logger logger.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(svc Service, l logger.Logger) *HistoryHandler {
	return &HistoryHandler{svc: svc, logger: l}
}

type historyResponse struct {
	CompanyID string                `json:"companyId"`
	Snapshots []model.ScoreSnapshot `json:"snapshots"`
}

// HandleCompanyHistory handles GET /companies/{companyID}/score-history?days=N.
func (h *HistoryHandler) HandleCompanyHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.score_history"
	days, err := intParam(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: days: %w", ErrBadRequest, err))
		return
	}
	companyID := chi.URLParam(r, "companyID")
	snaps, err := h.svc.GetScoreHistory(r.Context(), companyID, chi.URLParam(r, "orgID"), days)
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{CompanyID: companyID, Snapshots: snaps})
}

// HandleOverview handles GET /score-history/overview?days=N.
func (h *HistoryHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	const op = "api.score_overview"
	days, err := intParam(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: days: %w", ErrBadRequest, err))
		return
	}
	ov, err := h.svc.GetScoreOverview(r.Context(), chi.URLParam(r, "orgID"), days)
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

type captureResponse struct {
	Captured int `json:"captured"`
}

// HandleCapture handles POST /score-snapshots.
func (h *HistoryHandler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	const op = "api.capture_snapshots"
	n, err := h.svc.CaptureSnapshots(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, captureResponse{Captured: n})
}
