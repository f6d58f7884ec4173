package http

import (
	"context"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"paytrack/internal/log"
	"paytrack/internal/middleware/ratelimit"
	"paytrack/internal/middleware/security"
	"paytrack/internal/middleware/trace"
	"paytrack/internal/services"
)

// Services are the engine entry points the API exposes.
type Services struct {
	Registry  *services.SeriesRegistry
	Payments  *services.PaymentService
	Lifecycle *services.StatusLifecycle
	Mutator   *services.ScopeMutator
	Sweeper   *services.HorizonSweeper
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(context.Context) error
}

type ServerConfig struct {
	Addr string
	// RequestsPerMinute bounds mutating requests per client.
	RequestsPerMinute int
	// RateCounter holds the rate limit windows. Nil keeps them in memory.
	RateCounter ratelimit.Counter
	// TrustedProxies may set X-Forwarded-For; empty trusts private ranges.
	TrustedProxies []netip.Prefix
}

// Server is the JSON API over the series engine.
type Server struct {
	http.Server

	svc      Services
	logger   *log.Logger
	trace    *trace.Middleware
	limiter  *ratelimit.Limiter
	windows  *ratelimit.MemoryCounter
	detector *security.Detector
	started  time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg ServerConfig, svc Services, logger *log.Logger) *Server {
	logger = logger.WithComponent(log.ComponentHTTP)
	detector := security.NewDetector(cfg.TrustedProxies...)

	s := &Server{
		svc:      svc,
		logger:   logger,
		trace:    trace.NewMiddleware(logger, detector.ClientIP),
		detector: detector,
		started:  time.Now(),
	}

	counter := cfg.RateCounter
	if counter == nil {
		s.windows = ratelimit.NewMemoryCounter(5 * time.Minute)
		counter = s.windows
	}
	s.limiter = ratelimit.NewLimiter(counter, cfg.RequestsPerMinute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /series", s.handleCreateSeries)
	mux.HandleFunc("GET /series/{id}", s.handleGetSeries)
	mux.HandleFunc("GET /series/{id}/occurrences", s.handleSeriesOccurrences)
	mux.HandleFunc("GET /series/{id}/versions", s.handleRuleVersions)
	mux.HandleFunc("GET /series/{id}/versions/{version}", s.handleRuleVersion)
	mux.HandleFunc("POST /series/{id}/extend", s.handleExtendSeries)

	mux.HandleFunc("POST /payments", s.handleCreatePayment)
	mux.HandleFunc("GET /payments", s.handleListPayments)
	mux.HandleFunc("GET /payments/{id}", s.handleGetPayment)
	mux.HandleFunc("PATCH /payments/{id}", s.handleEditPayment)
	mux.HandleFunc("DELETE /payments/{id}", s.handleDeletePayment)
	mux.HandleFunc("POST /payments/{id}/complete", s.handleCompletePayment)

	limit := s.limiter.Middleware(detector.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded", log.FieldClientIP, detector.ClientIP(r), log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
	}, http.MethodPost, http.MethodPatch, http.MethodDelete)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = detector.Middleware(handler)
	handler = log.Middleware(logger, trace.RequestID)(handler)
	handler = s.trace.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.windows != nil {
			s.windows.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
