// Package http exposes the series engine as a JSON API.
//
// This file decodes and validates request bodies and converts them into
// engine values.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"paytrack/internal/core"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// requestError marks a malformed request, answered with 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

type createSeriesRequest struct {
	Pattern     string      `json:"pattern" validate:"required,oneof=daily weekly monthly yearly"`
	AnchorDate  string      `json:"anchorDate" validate:"required,datetime=2006-01-02"`
	EndDate     string      `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	Amount      json.Number `json:"amount" validate:"required"`
	CategoryID  string      `json:"categoryId" validate:"required,max=64"`
	Description string      `json:"description" validate:"required,max=200"`
}

func (req createSeriesRequest) toRule() (core.RecurrenceRule, core.Attributes, error) {
	anchor, err := core.ParseDate(req.AnchorDate)
	if err != nil {
		return core.RecurrenceRule{}, core.Attributes{}, badRequest("anchorDate: %v", err)
	}
	rule := core.RecurrenceRule{Pattern: core.Pattern(req.Pattern), AnchorDate: anchor}
	if req.EndDate != "" {
		end, err := core.ParseDate(req.EndDate)
		if err != nil {
			return core.RecurrenceRule{}, core.Attributes{}, badRequest("endDate: %v", err)
		}
		rule.EndDate = &end
	}

	attrs, err := attributes(req.Amount, req.CategoryID, req.Description)
	return rule, attrs, err
}

type createPaymentRequest struct {
	Date        string      `json:"date" validate:"required,datetime=2006-01-02"`
	Amount      json.Number `json:"amount" validate:"required"`
	CategoryID  string      `json:"categoryId" validate:"required,max=64"`
	Description string      `json:"description" validate:"required,max=200"`
}

func (req createPaymentRequest) toPayment() (core.Date, core.Attributes, error) {
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Date{}, core.Attributes{}, badRequest("date: %v", err)
	}
	attrs, err := attributes(req.Amount, req.CategoryID, req.Description)
	return date, attrs, err
}

func attributes(amount json.Number, categoryID, description string) (core.Attributes, error) {
	a, err := core.ParseAmount(amount.String())
	if err != nil {
		return core.Attributes{}, err
	}
	return core.Attributes{
		Amount:      a,
		CategoryID:  strings.TrimSpace(categoryID),
		Description: strings.TrimSpace(description),
	}, nil
}

type editRequest struct {
	Scope   string         `json:"scope" validate:"omitempty,oneof=single series"`
	Changes changesRequest `json:"changes"`
}

// changesRequest is a partial update: absent fields keep their value. An
// empty or "none" pattern clears the recurrence.
type changesRequest struct {
	Amount       *json.Number `json:"amount"`
	CategoryID   *string      `json:"categoryId" validate:"omitempty,max=64"`
	Description  *string      `json:"description" validate:"omitempty,max=200"`
	Date         *string      `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Pattern      *string      `json:"pattern"`
	EndDate      *string      `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	ClearEndDate bool         `json:"clearEndDate"`
}

func (req changesRequest) toChanges() (core.Changes, error) {
	c := core.Changes{
		CategoryID:   req.CategoryID,
		Description:  req.Description,
		ClearEndDate: req.ClearEndDate,
	}
	if req.Amount != nil {
		a, err := core.ParseAmount(req.Amount.String())
		if err != nil {
			return core.Changes{}, err
		}
		c.Amount = &a
	}
	if req.Date != nil {
		d, err := core.ParseDate(*req.Date)
		if err != nil {
			return core.Changes{}, badRequest("date: %v", err)
		}
		c.Date = &d
	}
	if req.EndDate != nil {
		d, err := core.ParseDate(*req.EndDate)
		if err != nil {
			return core.Changes{}, badRequest("endDate: %v", err)
		}
		c.EndDate = &d
	}
	if req.Pattern != nil {
		p, err := core.ParsePattern(*req.Pattern)
		if err != nil {
			return core.Changes{}, err
		}
		c.Pattern = &p
	}
	return c, nil
}

type extendRequest struct {
	Horizon string `json:"horizon" validate:"omitempty,datetime=2006-01-02"`
}

// decodeJSON reads r's body into dst and validates it. An empty body is an
// error unless optional is set.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return badRequest("request body is required")
		}
		return badRequest("malformed JSON: %v", err)
	}
	if dec.More() {
		return badRequest("request body must hold a single JSON object")
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return badRequest("%s", describe(verrs))
		}
		return badRequest("invalid request: %v", err)
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
