package http

import (
	"net/http"
	"strconv"

	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/services"
)

// handleCreateSeries creates a series and answers with its materialized roster.
func (s *Server) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	var req createSeriesRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	rule, tmpl, err := req.toRule()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	series, err := s.svc.Registry.CreateSeries(r.Context(), rule, tmpl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	occs, err := s.svc.Registry.ListOccurrences(r.Context(), series.ID, services.ListOptions{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogSeriesMutation(r.Context(), log.OpCreate, "", series.ID, series.RuleVersion, len(occs))

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/series/"+series.ID).
		Body(map[string]any{
			"series":      seriesOf(series),
			"occurrences": occurrencesOf(occs),
		}).
		Write(w)
}

func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	series, err := s.svc.Registry.GetSeries(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(seriesOf(series)).Write(w)
}

// handleSeriesOccurrences lists the roster; ?includeSuperseded=true adds the
// occurrences discarded by series rewrites.
func (s *Server) handleSeriesOccurrences(w http.ResponseWriter, r *http.Request) {
	opts := services.ListOptions{IncludeSuperseded: parseBool(r.URL.Query().Get("includeSuperseded"))}
	occs, err := s.svc.Payments.ListSeriesOccurrences(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(occurrencesOf(occs)).Write(w)
}

func (s *Server) handleRuleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.svc.Registry.RuleVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ruleVersionView, len(versions))
	for i, v := range versions {
		out[i] = ruleVersionOf(v)
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleRuleVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		BadRequestError("version must be a positive integer").Write(w)
		return
	}
	v, err := s.svc.Registry.RuleVersion(r.Context(), r.PathValue("id"), version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(ruleVersionOf(v)).Write(w)
}

// handleExtendSeries grows the horizon to the body's date, or to the policy
// target when the body is empty.
func (s *Server) handleExtendSeries(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")

	var (
		created int
		err     error
	)
	if req.Horizon != "" {
		horizon, perr := core.ParseDate(req.Horizon)
		if perr != nil {
			s.writeError(w, r, badRequest("horizon: %v", perr))
			return
		}
		created, err = s.svc.Registry.ExtendHorizon(ctx, id, horizon)
	} else {
		created, err = s.svc.Sweeper.ExtendToTarget(ctx, id, s.svc.Registry.Now())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	series, err := s.svc.Registry.GetSeries(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if created > 0 {
		log.NewStructuredLogger(log.FromContext(ctx)).
			LogSeriesMutation(ctx, log.OpExtend, "", series.ID, series.RuleVersion, created)
	}
	NewJSONResponse().Body(map[string]any{
		"created": created,
		"series":  seriesOf(series),
	}).Write(w)
}
