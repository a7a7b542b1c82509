package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/internal/domain/types"
	"github.com/okian/pqa/pkg/logger"
)

// ScoresHandler handles account score reads, recomputes and rankings.
type ScoresHandler struct {
	svc    Service
	logger logger.Logger
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(svc Service, l logger.Logger) *ScoresHandler {
	return &ScoresHandler{svc: svc, logger: l}
}

// HandleGet handles GET /accounts/{accountID}/score.
func (h *ScoresHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	sc, err := h.svc.GetAccountScore(r.Context(), chi.URLParam(r, "orgID"), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// HandleCompute handles POST /accounts/{accountID}/score. The score is
// computed synchronously and returned.
func (h *ScoresHandler) HandleCompute(w http.ResponseWriter, r *http.Request) {
	const op = "api.compute_score"
	sc, err := h.svc.ComputeAccountScore(r.Context(), chi.URLParam(r, "orgID"), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

type topResponse struct {
	Accounts []types.RankedAccount `json:"accounts"`
}

// HandleTop handles GET /accounts/top?limit=N&tier=T.
func (h *ScoresHandler) HandleTop(w http.ResponseWriter, r *http.Request) {
	const op = "api.top_accounts"
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: limit: %w", ErrBadRequest, err))
		return
	}
	var tier *model.Tier
	if raw := q.Get("tier"); raw != "" {
		t, ok := model.ParseTier(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: unknown tier %q", ErrBadRequest, raw))
			return
		}
		tier = &t
	}
	top, err := h.svc.GetTopAccounts(r.Context(), chi.URLParam(r, "orgID"), limit, tier)
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, topResponse{Accounts: top})
}
