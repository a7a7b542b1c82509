package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/pqa/internal/app"
	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/pkg/logger"
)

// SignalsHandler handles signal ingestion and queries.
type SignalsHandler struct {
	svc    Service
	logger logger.Logger
}

// NewSignalsHandler creates a new signals handler.
func NewSignalsHandler(svc Service, l logger.Logger) *SignalsHandler {
	return &SignalsHandler{svc: svc, logger: l}
}

type batchRequest struct {
	Signals []service.SignalInput `json:"signals"`
}

// HandleIngest handles POST /signals. A stored signal answers 201, a
// duplicate 200.
func (h *SignalsHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest_signal"
	var in service.SignalInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	res, err := h.svc.IngestSingle(r.Context(), chi.URLParam(r, "orgID"), in)
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, op, err)
		return
	}
	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// HandleIngestBatch handles POST /signals/batch. Item failures are reported
// per item with 200; only an unacceptable batch fails the request.
func (h *SignalsHandler) HandleIngestBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest_batch"
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	res, err := h.svc.IngestBatch(r.Context(), chi.URLParam(r, "orgID"), req.Signals)
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleList handles GET /signals.
func (h *SignalsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_signals"
	q := r.URL.Query()
	query := service.SignalQuery{
		Type:      q.Get("type"),
		SourceID:  q.Get("sourceId"),
		AccountID: q.Get("accountId"),
		ActorID:   q.Get("actorId"),
	}
	var err error
	if query.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: limit: %w", ErrBadRequest, err))
		return
	}
	if query.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: offset: %w", ErrBadRequest, err))
		return
	}
	if query.From, err = timeParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: from: %w", ErrBadRequest, err))
		return
	}
	if query.To, err = timeParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: to: %w", ErrBadRequest, err))
		return
	}

	page, err := h.svc.ListSignals(r.Context(), chi.URLParam(r, "orgID"), query)
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleDedupStats handles GET /signals/dedup-stats with both windows.
func (h *SignalsHandler) HandleDedupStats(w http.ResponseWriter, r *http.Request) {
	const op = "api.dedup_stats"
	orgID := chi.URLParam(r, "orgID")
	out := make(map[string]model.DedupStats, 2)
	for _, window := range []string{service.StatsWindowDay, service.StatsWindowWeek} {
		st, err := h.svc.GetDeduplicationStats(r.Context(), orgID, window)
		if err != nil {
			writeServiceError(r.Context(), h.logger, w, op, err)
			return
		}
		out[window] = st
	}
	writeJSON(w, http.StatusOK, out)
}

// intParam parses an optional integer. Empty means 0.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	return n, nil
}

// timeParam parses an optional RFC 3339 time.
func timeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil //nolint:nilnil // absent parameter
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("must be an RFC 3339 date-time")
	}
	return &t, nil
}
