package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func jsonLogger(buf *bytes.Buffer, component string) *Logger {
	return New(Config{Level: slog.LevelDebug, Component: component, Format: "json", Output: buf})
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("record %q is not JSON: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestNewBindsComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, ComponentWorker).With(FieldSeriesID, "s-1")

	logger.Info("hello")
	logger.WithComponent(ComponentHTTP).Info("again")

	recs := records(t, &buf)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0][FieldComponent] != ComponentWorker {
		t.Errorf("component = %v, want %s", recs[0][FieldComponent], ComponentWorker)
	}
	if recs[1][FieldComponent] != ComponentHTTP {
		t.Errorf("component = %v, want %s", recs[1][FieldComponent], ComponentHTTP)
	}
	if recs[1][FieldSeriesID] != "s-1" {
		t.Errorf("series_id lost across WithComponent: %v", recs[1])
	}
	if n := strings.Count(buf.String(), `"component"`); n != 2 {
		t.Errorf("component attribute appears %d times in %s", n, buf.String())
	}
}

func TestNewDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	if logger.Component() != ComponentApp {
		t.Errorf("Component() = %q, want %q", logger.Component(), ComponentApp)
	}
	logger.Debug("hidden")
	logger.Info("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(buf.String(), "component=app") {
		t.Errorf("text output missing component: %s", buf.String())
	}
}

func TestMiddlewareStoresRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, ComponentHTTP)

	h := Middleware(logger, func(*http.Request) string { return "req_42" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).InfoContext(r.Context(), "inside")
		}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/series", nil))

	recs := records(t, &buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0][FieldRequestID] != "req_42" {
		t.Errorf("request_id = %v, want req_42", recs[0][FieldRequestID])
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	logger := FromContext(context.Background())
	if logger == nil || logger.Component() != "unknown" {
		t.Fatalf("FromContext() = %+v, want fallback logger", logger)
	}
}

func TestLogHTTPEndLevel(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusConflict, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		sl := NewStructuredLogger(jsonLogger(&buf, ComponentHTTP))
		r := httptest.NewRequest(http.MethodPatch, "/payments/p-1", nil)

		sl.LogHTTPEnd(context.Background(), r, tt.status, 3, "10.0.0.1")

		rec := records(t, &buf)[0]
		if rec["level"] != tt.want {
			t.Errorf("status %d logged at %v, want %s", tt.status, rec["level"], tt.want)
		}
		if rec[FieldStatusCode] != float64(tt.status) {
			t.Errorf("status_code = %v, want %d", rec[FieldStatusCode], tt.status)
		}
	}
}

func TestLogSeriesMutationAndError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(jsonLogger(&buf, ComponentHTTP))
	ctx := context.Background()

	sl.LogSeriesMutation(ctx, OpUpdate, "series", "s-9", 3, 2)
	sl.LogError(ctx, "Request failed", errors.New("disk full"), OpCreate, nil)

	recs := records(t, &buf)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	mut := recs[0]
	if mut[FieldSeriesID] != "s-9" || mut[FieldRuleVersion] != float64(3) || mut[FieldScope] != "series" || mut[FieldCount] != float64(2) {
		t.Errorf("mutation record = %v", mut)
	}
	fail := recs[1]
	if fail[FieldError] != "disk full" || fail[FieldOperation] != OpCreate || fail["level"] != "ERROR" {
		t.Errorf("error record = %v", fail)
	}
}
