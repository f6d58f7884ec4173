package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"paytrack/internal/core"
)

const timestampLayout = time.RFC3339Nano

const seriesColumns = `id, pattern, anchor_date, end_date, rule_version, amount, category_id,
	description, horizon, terminated, created_at, updated_at`

const ruleVersionColumns = `series_id, version, pattern, anchor_date, end_date, amount,
	category_id, description, terminated, created_at`

const occurrenceColumns = `id, series_id, date, slot_date, status, amount, category_id,
	description, rule_version, overridden, superseded_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

const insertSeries = `INSERT INTO series (` + seriesColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertSeries(ctx context.Context, s core.Series) error {
	_, err := q.db.ExecContext(ctx, insertSeries,
		s.ID, string(s.CurrentRule.Pattern), s.CurrentRule.AnchorDate.String(), nullDate(s.CurrentRule.EndDate),
		s.RuleVersion, s.Template.Amount.String(), s.Template.CategoryID, s.Template.Description,
		s.Horizon.String(), s.Terminated, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	return err
}

const updateSeries = `UPDATE series
SET pattern = ?, anchor_date = ?, end_date = ?, rule_version = ?, amount = ?, category_id = ?,
    description = ?, horizon = ?, terminated = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) UpdateSeries(ctx context.Context, s core.Series) error {
	res, err := q.db.ExecContext(ctx, updateSeries,
		string(s.CurrentRule.Pattern), s.CurrentRule.AnchorDate.String(), nullDate(s.CurrentRule.EndDate),
		s.RuleVersion, s.Template.Amount.String(), s.Template.CategoryID, s.Template.Description,
		s.Horizon.String(), s.Terminated, formatTime(s.UpdatedAt), s.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "series", s.ID)
}

const getSeries = `SELECT ` + seriesColumns + ` FROM series WHERE id = ?`

func (q *Queries) GetSeries(ctx context.Context, id string) (core.Series, error) {
	s, err := scanSeries(q.db.QueryRowContext(ctx, getSeries, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Series{}, fmt.Errorf("%w: series %s", core.ErrNotFound, id)
	}
	return s, err
}

// Open-ended or not yet fully materialized series that were not terminated.
const listActiveSeriesIDs = `SELECT id FROM series
WHERE terminated = 0 AND pattern != '' AND (end_date IS NULL OR horizon < end_date)
ORDER BY created_at`

func (q *Queries) ListActiveSeriesIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listActiveSeriesIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const insertRuleVersion = `INSERT INTO series_rule_versions (` + ruleVersionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertRuleVersion(ctx context.Context, v core.RuleVersion) error {
	_, err := q.db.ExecContext(ctx, insertRuleVersion,
		v.SeriesID, v.Version, string(v.Rule.Pattern), v.Rule.AnchorDate.String(), nullDate(v.Rule.EndDate),
		v.Template.Amount.String(), v.Template.CategoryID, v.Template.Description,
		v.Terminated, formatTime(v.CreatedAt))
	return err
}

const listRuleVersions = `SELECT ` + ruleVersionColumns + ` FROM series_rule_versions
WHERE series_id = ? ORDER BY version`

func (q *Queries) ListRuleVersions(ctx context.Context, seriesID string) ([]core.RuleVersion, error) {
	rows, err := q.db.QueryContext(ctx, listRuleVersions, seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []core.RuleVersion
	for rows.Next() {
		v, err := scanRuleVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

const getRuleVersion = `SELECT ` + ruleVersionColumns + ` FROM series_rule_versions
WHERE series_id = ? AND version = ?`

func (q *Queries) GetRuleVersion(ctx context.Context, seriesID string, version int) (core.RuleVersion, error) {
	v, err := scanRuleVersion(q.db.QueryRowContext(ctx, getRuleVersion, seriesID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return core.RuleVersion{}, fmt.Errorf("%w: series %s rule version %d", core.ErrNotFound, seriesID, version)
	}
	return v, err
}

const insertOccurrence = `INSERT INTO occurrences (` + occurrenceColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertOccurrence stores o. A zero SlotDate defaults to the occurrence date.
func (q *Queries) InsertOccurrence(ctx context.Context, o core.Occurrence) error {
	slot := o.SlotDate
	if slot.IsZero() {
		slot = o.Date
	}
	_, err := q.db.ExecContext(ctx, insertOccurrence,
		o.ID, nullString(o.SeriesID), o.Date.String(), slot.String(), string(o.Status), o.Amount.String(),
		o.CategoryID, o.Description, o.RuleVersion, o.Overridden, o.SupersededBy,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt))
	return err
}

const updateOccurrence = `UPDATE occurrences
SET date = ?, status = ?, amount = ?, category_id = ?, description = ?, rule_version = ?,
    overridden = ?, superseded_by = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) UpdateOccurrence(ctx context.Context, o core.Occurrence) error {
	res, err := q.db.ExecContext(ctx, updateOccurrence,
		o.Date.String(), string(o.Status), o.Amount.String(), o.CategoryID, o.Description,
		o.RuleVersion, o.Overridden, o.SupersededBy, formatTime(o.UpdatedAt), o.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "occurrence", o.ID)
}

const getOccurrence = `SELECT ` + occurrenceColumns + ` FROM occurrences WHERE id = ?`

func (q *Queries) GetOccurrence(ctx context.Context, id string) (core.Occurrence, error) {
	o, err := scanOccurrence(q.db.QueryRowContext(ctx, getOccurrence, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Occurrence{}, fmt.Errorf("%w: occurrence %s", core.ErrNotFound, id)
	}
	return o, err
}

const listSeriesOccurrences = `SELECT ` + occurrenceColumns + ` FROM occurrences
WHERE series_id = ? AND (? OR superseded_by = 0)
ORDER BY date, superseded_by = 0, created_at`

// ListSeriesOccurrences returns a series' roster ordered by date. Superseded
// rows are included only on request.
func (q *Queries) ListSeriesOccurrences(ctx context.Context, seriesID string, includeSuperseded bool) ([]core.Occurrence, error) {
	return q.listOccurrences(ctx, listSeriesOccurrences, seriesID, includeSuperseded)
}

const listLiveOccurrencesFrom = `SELECT ` + occurrenceColumns + ` FROM occurrences
WHERE series_id = ? AND superseded_by = 0 AND date >= ?
ORDER BY date`

func (q *Queries) ListLiveOccurrencesFrom(ctx context.Context, seriesID string, from core.Date) ([]core.Occurrence, error) {
	return q.listOccurrences(ctx, listLiveOccurrencesFrom, seriesID, from.String())
}

const listLiveOccurrencesHolding = `SELECT ` + occurrenceColumns + ` FROM occurrences
WHERE series_id = ? AND superseded_by = 0 AND (date >= ? OR slot_date >= ?)
ORDER BY date`

// ListLiveOccurrencesHolding returns the live occurrences whose date or slot
// falls on or after from.
func (q *Queries) ListLiveOccurrencesHolding(ctx context.Context, seriesID string, from core.Date) ([]core.Occurrence, error) {
	return q.listOccurrences(ctx, listLiveOccurrencesHolding, seriesID, from.String(), from.String())
}

const listOccurrencesBetween = `SELECT ` + occurrenceColumns + ` FROM occurrences
WHERE superseded_by = 0 AND date >= ? AND date <= ?
ORDER BY date, created_at`

// ListOccurrencesBetween returns live one-off and series occurrences in [from, to].
func (q *Queries) ListOccurrencesBetween(ctx context.Context, from, to core.Date) ([]core.Occurrence, error) {
	return q.listOccurrences(ctx, listOccurrencesBetween, from.String(), to.String())
}

func (q *Queries) listOccurrences(ctx context.Context, query string, args ...any) ([]core.Occurrence, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var occs []core.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		occs = append(occs, o)
	}
	return occs, rows.Err()
}

func scanSeries(row scanner) (core.Series, error) {
	var (
		s                                core.Series
		pattern, anchor, amount, horizon string
		endDate                          sql.NullString
		createdAt, updatedAt             string
	)
	err := row.Scan(&s.ID, &pattern, &anchor, &endDate, &s.RuleVersion, &amount,
		&s.Template.CategoryID, &s.Template.Description, &horizon, &s.Terminated, &createdAt, &updatedAt)
	if err != nil {
		return core.Series{}, err
	}

	rule, err := parseRule(pattern, anchor, endDate)
	if err != nil {
		return core.Series{}, err
	}
	s.CurrentRule = rule
	if s.Template.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Series{}, fmt.Errorf("parse amount: %w", err)
	}
	if s.Horizon, err = core.ParseDate(horizon); err != nil {
		return core.Series{}, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Series{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.Series{}, err
	}
	return s, nil
}

func scanRuleVersion(row scanner) (core.RuleVersion, error) {
	var (
		v                       core.RuleVersion
		pattern, anchor, amount string
		endDate                 sql.NullString
		createdAt               string
	)
	err := row.Scan(&v.SeriesID, &v.Version, &pattern, &anchor, &endDate, &amount,
		&v.Template.CategoryID, &v.Template.Description, &v.Terminated, &createdAt)
	if err != nil {
		return core.RuleVersion{}, err
	}

	if v.Rule, err = parseRule(pattern, anchor, endDate); err != nil {
		return core.RuleVersion{}, err
	}
	if v.Template.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.RuleVersion{}, fmt.Errorf("parse amount: %w", err)
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.RuleVersion{}, err
	}
	return v, nil
}

func scanOccurrence(row scanner) (core.Occurrence, error) {
	var (
		o                          core.Occurrence
		seriesID                   sql.NullString
		date, slot, status, amount string
		createdAt, updatedAt       string
	)
	err := row.Scan(&o.ID, &seriesID, &date, &slot, &status, &amount, &o.CategoryID, &o.Description,
		&o.RuleVersion, &o.Overridden, &o.SupersededBy, &createdAt, &updatedAt)
	if err != nil {
		return core.Occurrence{}, err
	}

	o.SeriesID = seriesID.String
	o.Status = core.Status(status)
	if o.Date, err = core.ParseDate(date); err != nil {
		return core.Occurrence{}, err
	}
	if o.SlotDate, err = core.ParseDate(slot); err != nil {
		return core.Occurrence{}, err
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Occurrence{}, fmt.Errorf("parse amount: %w", err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Occurrence{}, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.Occurrence{}, err
	}
	return o, nil
}

func parseRule(pattern, anchor string, endDate sql.NullString) (core.RecurrenceRule, error) {
	rule := core.RecurrenceRule{Pattern: core.Pattern(pattern)}
	var err error
	if rule.AnchorDate, err = core.ParseDate(anchor); err != nil {
		return core.RecurrenceRule{}, err
	}
	if endDate.Valid {
		end, err := core.ParseDate(endDate.String)
		if err != nil {
			return core.RecurrenceRule{}, err
		}
		rule.EndDate = &end
	}
	return rule, nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", core.ErrNotFound, kind, id)
	}
	return nil
}

func nullDate(d *core.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
