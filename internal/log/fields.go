package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldQuery        = "query"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldUserAgent    = "user_agent"
	FieldReferer      = "referer"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldSeriesID     = "series_id"
	FieldOccurrenceID = "occurrence_id"
	FieldRuleVersion  = "rule_version"
	FieldScope        = "scope"
	FieldDate         = "date"
	FieldCount        = "count"
)

// Components defines standard component names
const (
	ComponentApp    = "app"
	ComponentHTTP   = "http"
	ComponentCache  = "cache"
	ComponentWorker = "worker"
	ComponentCLI    = "cli"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpComplete = "complete"
	OpExtend   = "extend"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithSeries adds the series id and the rule version the change produced
func (f LogFields) WithSeries(seriesID string, ruleVersion int) LogFields {
	f[FieldSeriesID] = seriesID
	f[FieldRuleVersion] = ruleVersion
	return f
}

// WithOccurrence adds occurrence fields. seriesID is omitted for one-off payments.
func (f LogFields) WithOccurrence(id, seriesID, date string) LogFields {
	f[FieldOccurrenceID] = id
	f[FieldDate] = date
	if seriesID != "" {
		f[FieldSeriesID] = seriesID
	}
	return f
}

// WithScope adds the scope of a mutation
func (f LogFields) WithScope(scope string) LogFields {
	f[FieldScope] = scope
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	f[FieldReferer] = referer
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
