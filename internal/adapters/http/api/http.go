// Package api serves the signal core over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	service "github.com/okian/pqa/internal/app"
	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/internal/domain/types"
	"github.com/okian/pqa/pkg/logger"
	"github.com/okian/pqa/pkg/metrics"
)

// Service is the part of the signal core the handlers call.
type Service interface {
	IngestSingle(ctx context.Context, orgID string, in service.SignalInput) (service.IngestResult, error)
	IngestBatch(ctx context.Context, orgID string, items []service.SignalInput) (service.BatchResult, error)
	ListSignals(ctx context.Context, orgID string, q service.SignalQuery) (types.Page[model.Signal], error)
	GetDeduplicationStats(ctx context.Context, orgID, window string) (model.DedupStats, error)

	ComputeAccountScore(ctx context.Context, orgID, accountID string) (model.AccountScore, error)
	GetAccountScore(ctx context.Context, orgID, accountID string) (model.AccountScore, error)
	GetTopAccounts(ctx context.Context, orgID string, limit int, tier *model.Tier) ([]types.RankedAccount, error)

	CaptureSnapshots(ctx context.Context, orgID string) (int, error)
	GetScoreHistory(ctx context.Context, companyID, orgID string, days int) ([]model.ScoreSnapshot, error)
	GetScoreOverview(ctx context.Context, orgID string, days int) (service.ScoreOverview, error)

	Ping(ctx context.Context) error
	GetStats(ctx context.Context) map[string]interface{}
}

// Server wires HTTP routes for the signal API.
type Server struct {
	svc         Service
	ingestLimit *orgLimiter
	apiLimit    *orgLimiter
	corsOrigins []string
	maxBody     int64
	logger      logger.Logger
	extraRoutes []func(chi.Router)

	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	signalsHandler *SignalsHandler
	scoresHandler  *ScoresHandler
	historyHandler *HistoryHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:         svc,
		ingestLimit: newOrgLimiter(defaultIngestRate, defaultIngestBurst),
		apiLimit:    newOrgLimiter(defaultAPIRate, defaultAPIBurst),
		corsOrigins: []string{"*"},
		maxBody:     defaultMaxBody,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler(svc)
	s.statsHandler = NewStatsHandler(svc)
	s.signalsHandler = NewSignalsHandler(svc, s.logger)
	s.scoresHandler = NewScoresHandler(svc, s.logger)
	s.historyHandler = NewHistoryHandler(svc, s.logger)
	return s
}

// Register attaches all routes to r.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	r.Route("/api/v1/orgs/{orgID}", func(r chi.Router) {
		r.Use(middleware.RequestSize(s.maxBody))

		// Ingestion carries its own, higher allowance.
		r.Group(func(r chi.Router) {
			r.Use(s.ingestLimit.middleware("ingest"))
			r.Post("/signals", MetricsMiddleware(s.signalsHandler.HandleIngest, "signals_ingest"))
			r.Post("/signals/batch", MetricsMiddleware(s.signalsHandler.HandleIngestBatch, "signals_batch"))
		})

		r.Group(func(r chi.Router) {
			r.Use(s.apiLimit.middleware("api"))
			r.Get("/signals", MetricsMiddleware(s.signalsHandler.HandleList, "signals_list"))
			r.Get("/signals/dedup-stats", MetricsMiddleware(s.signalsHandler.HandleDedupStats, "dedup_stats"))

			r.Get("/accounts/top", MetricsMiddleware(s.scoresHandler.HandleTop, "accounts_top"))
			r.Get("/accounts/{accountID}/score", MetricsMiddleware(s.scoresHandler.HandleGet, "account_score"))
			r.Post("/accounts/{accountID}/score", MetricsMiddleware(s.scoresHandler.HandleCompute, "account_score_compute"))

			r.Get("/companies/{companyID}/score-history", MetricsMiddleware(s.historyHandler.HandleCompanyHistory, "score_history"))
			r.Get("/score-history/overview", MetricsMiddleware(s.historyHandler.HandleOverview, "score_overview"))
			r.Post("/score-snapshots", MetricsMiddleware(s.historyHandler.HandleCapture, "score_snapshots"))
		})
	})
}

// Handler returns the full middleware stack around a fresh router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-Id"},
	}).Handler)
	s.Register(r)
	for _, register := range s.extraRoutes {
		register(r)
	}

	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	resp := errorResponse{Code: code, Message: msg}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps service errors to status codes. Server-side
// failures are logged and reported without internal detail.
func writeServiceError(ctx context.Context, l logger.Logger, w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err)
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrScoreNotComputed):
		writeError(w, http.StatusNotFound, "score_not_computed", err)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	default:
		l.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", errors.New("internal error"))
	}
}
