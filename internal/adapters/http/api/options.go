package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/okian/pqa/pkg/logger"
)

// Default HTTP limits.
const (
	defaultIngestRate  = 200
	defaultIngestBurst = 400
	defaultAPIRate     = 50
	defaultAPIBurst    = 100
	defaultMaxBody     = 8 << 20
)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithIngestLimit sets the per-organization allowance on ingestion routes.
func WithIngestLimit(perSec float64, burst int) Option {
	return func(s *Server) {
		if perSec > 0 && burst > 0 {
			s.ingestLimit = newOrgLimiter(perSec, burst)
		}
	}
}

// WithAPILimit sets the per-organization allowance on every other org route.
func WithAPILimit(perSec float64, burst int) Option {
	return func(s *Server) {
		if perSec > 0 && burst > 0 {
			s.apiLimit = newOrgLimiter(perSec, burst)
		}
	}
}

// WithCORSOrigins sets the origins the CORS middleware allows.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

// WithMaxBodyBytes caps request bodies on org routes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithLogger sets a custom logger for the handlers.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRoutes mounts extra routes, such as API docs, beside the API.
func WithRoutes(register func(chi.Router)) Option {
	return func(s *Server) {
		if register != nil {
			s.extraRoutes = append(s.extraRoutes, register)
		}
	}
}
