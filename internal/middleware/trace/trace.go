// Package trace tags each request with an id and logs its start and end.
package trace

import (
	"context"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"paytrack/internal/log"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// Clients may pick their own ids as long as they are short and plain.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

// Middleware assigns request ids, logs request boundaries and counts traffic.
type Middleware struct {
	clientIP func(*http.Request) string
	logger   *log.StructuredLogger

	requests     atomic.Int64
	serverErrors atomic.Int64
	lastDuration atomic.Int64
}

// Metrics is a snapshot of the traffic counters.
type Metrics struct {
	TotalRequests  int64
	ServerErrors   int64
	LastDurationUs int64
}

func NewMiddleware(logger *log.Logger, clientIP func(*http.Request) string) *Middleware {
	if clientIP == nil {
		clientIP = func(*http.Request) string { return "" }
	}
	return &Middleware{clientIP: clientIP, logger: log.NewStructuredLogger(logger)}
}

// Middleware reuses a well-formed incoming X-Request-ID and otherwise mints
// one. The id is echoed on the response and stored in the request context.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := m.clientIP(r)

		id := r.Header.Get(HeaderRequestID)
		if !validRequestID.MatchString(id) {
			id = NewRequestID()
		}
		w.Header().Set(HeaderRequestID, id)
		r = r.WithContext(WithRequestID(r.Context(), id))

		m.logger.LogHTTPStart(r.Context(), r, ip)
		m.requests.Add(1)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		elapsed := time.Since(start)
		m.lastDuration.Store(elapsed.Microseconds())
		if sw.status >= http.StatusInternalServerError {
			m.serverErrors.Add(1)
		}
		m.logger.LogHTTPEnd(r.Context(), r, sw.status, elapsed.Milliseconds(), ip)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// NewRequestID mints a random request id.
func NewRequestID() string {
	return uuid.NewString()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the id stored by Middleware, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID reads the request id of r; it plugs into log.Middleware.
func RequestID(r *http.Request) string {
	return RequestIDFrom(r.Context())
}

func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:  m.requests.Load(),
		ServerErrors:   m.serverErrors.Load(),
		LastDurationUs: m.lastDuration.Load(),
	}
}
