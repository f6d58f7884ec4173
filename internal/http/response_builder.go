// Package http exposes the series engine as a JSON API.
//
// This file implements the Builder Pattern for constructing JSON responses
// and the mapping from engine errors to status codes.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"paytrack/internal/core"
	"paytrack/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

type errorBody struct {
	Error string `json:"error"`
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. An unencodable body becomes a 500.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	var payload []byte
	if b.body != nil {
		var err error
		payload, err = json.Marshal(b.body)
		if err != nil {
			slog.Error("Failed to encode response", log.FieldError, err)
			b.statusCode = http.StatusInternalServerError
			payload = []byte(`{"error":"internal error"}`)
		}
	}

	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if payload != nil {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(b.statusCode)
	if payload != nil {
		_, _ = w.Write(append(payload, '\n'))
	}
}

// ErrorResponse creates a standard {"error": message} response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// statusFor maps the engine failure taxonomy to HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidRule),
		errors.Is(err, core.ErrInvalidScope),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrDescriptionTooLong),
		errors.Is(err, core.ErrEmptyCategory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrImmutableOccurrence),
		errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrDuplicateDate):
		return http.StatusConflict
	case errors.Is(err, core.ErrConcurrentModification):
		return http.StatusLocked
	}
	return http.StatusInternalServerError
}

// errorFor builds the response for err. Internal failures are logged and
// never echoed to the client.
func errorFor(r *http.Request, err error) *JSONResponseBuilder {
	status := statusFor(err)
	logger := log.FromContext(r.Context())

	switch {
	case status == http.StatusInternalServerError:
		log.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err, operationOf(r),
			log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "", ""))
		return ErrorResponse(status, "internal error")
	case status == http.StatusLocked:
		logger.WarnContext(r.Context(), "Series busy", log.FieldPath, r.URL.Path, log.FieldError, err)
		return ErrorResponse(status, err.Error()).Header("Retry-After", "1")
	}
	return ErrorResponse(status, err.Error())
}

// operationOf names the engine operation a request performs.
func operationOf(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return log.OpRead
	case http.MethodPatch:
		return log.OpUpdate
	case http.MethodDelete:
		return log.OpDelete
	}
	switch {
	case strings.HasSuffix(r.URL.Path, "/complete"):
		return log.OpComplete
	case strings.HasSuffix(r.URL.Path, "/extend"):
		return log.OpExtend
	}
	return log.OpCreate
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errorFor(r, err).Write(w)
}
