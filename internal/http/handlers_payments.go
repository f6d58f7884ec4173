package http

import (
	"net/http"

	"paytrack/internal/core"
	"paytrack/internal/log"
)

// handleCreatePayment stores a one-off payment.
func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	date, attrs, err := req.toPayment()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	o, err := s.svc.Payments.CreatePayment(r.Context(), date, attrs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/payments/"+o.ID).
		Body(occurrenceOf(o)).
		Write(w)
}

// handleListPayments lists live payments in [from, to]; the range defaults to
// the current month.
func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	first, last := monthOf(s.svc.Registry.Now())
	q := r.URL.Query()

	from, err := parseDateParam(q.Get("from"), first)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseDateParam(q.Get("to"), last)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	occs, summary, err := s.svc.Payments.ListPayments(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(map[string]any{
		"from":     from,
		"to":       to,
		"payments": occurrencesOf(occs),
		"summary":  summaryOf(summary),
	}).Write(w)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Payments.GetPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(occurrenceOf(o)).Write(w)
}

// handleEditPayment applies {scope, changes} to one occurrence.
func (s *Server) handleEditPayment(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	scope, err := core.ParseScope(req.Scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	changes, err := req.Changes.toChanges()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.Mutator.ApplyEdit(r.Context(), r.PathValue("id"), scope, changes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v := mutationOf(res)
	s.logMutation(r, log.OpUpdate, v)
	NewJSONResponse().Body(v).Write(w)
}

// handleDeletePayment deletes one occurrence, or with ?scope=series the
// target and every later scheduled occurrence of its series.
func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	scope, err := core.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.Mutator.ApplyDelete(r.Context(), r.PathValue("id"), scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v := mutationOf(res)
	s.logMutation(r, log.OpDelete, v)
	NewJSONResponse().Body(v).Write(w)
}

// handleCompletePayment marks a scheduled occurrence as paid.
func (s *Server) handleCompletePayment(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Lifecycle.MarkPaid(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Payment completed", log.NewFields().
		WithOccurrence(o.ID, o.SeriesID, o.Date.String()).
		WithOperation(log.OpComplete).
		ToSlice()...)
	NewJSONResponse().Body(occurrenceOf(o)).Write(w)
}

func (s *Server) logMutation(r *http.Request, op string, v mutationView) {
	seriesID, version := "", 0
	if v.Series != nil {
		seriesID, version = v.Series.ID, v.Series.RuleVersion
	} else if len(v.Updated) > 0 {
		seriesID, version = v.Updated[0].SeriesID, v.Updated[0].RuleVersion
	}
	affected := len(v.Updated) + len(v.Discarded) + len(v.Created)
	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogSeriesMutation(r.Context(), op, string(v.Scope), seriesID, version, affected)
}
