package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartgarden/internal/engine"
	"smartgarden/internal/models"

	"github.com/jackc/pgx/v5"
)

const controlColumns = `id, device_id, user_id, control_type, mode, status,
	manual_settings, schedule_settings, auto_settings, threshold_settings, alert_settings,
	current_state, is_active, created_at, updated_at, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanControl(row scanner) (*models.Control, error) {
	var (
		c                                              models.Control
		manual, schedule, auto, threshold, alert, curr []byte
	)
	err := row.Scan(&c.ID, &c.DeviceID, &c.UserID, &c.ControlType, &c.Mode, &c.Status,
		&manual, &schedule, &auto, &threshold, &alert,
		&curr, &c.IsActive, &c.CreatedAt, &c.UpdatedAt, &c.Version)
	if err != nil {
		return nil, err
	}
	blocks := []struct {
		raw []byte
		dst any
	}{
		{manual, &c.Manual}, {schedule, &c.Schedule}, {auto, &c.Auto},
		{threshold, &c.Threshold}, {alert, &c.Alert}, {curr, &c.CurrentState},
	}
	for _, b := range blocks {
		if len(b.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(b.raw, b.dst); err != nil {
			return nil, fmt.Errorf("control %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func collectControls(rows pgx.Rows) ([]*models.Control, error) {
	defer rows.Close()
	var out []*models.Control
	for rows.Next() {
		c, err := scanControl(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetControl fetches a live control
func (d *DB) GetControl(ctx context.Context, id string) (*models.Control, error) {
	row := d.pool.QueryRow(ctx, "SELECT "+controlColumns+" FROM controls WHERE id = $1 AND is_active", id)
	c, err := scanControl(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrControlNotFound
	}
	return c, err
}

// buildListQuery renders the filters of q as SQL
func buildListQuery(q engine.Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	if q.ActiveOnly {
		where = append(where, "is_active")
	}
	if q.DeviceID != "" {
		args = append(args, q.DeviceID)
		where = append(where, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if q.Mode != "" {
		args = append(args, string(q.Mode))
		where = append(where, fmt.Sprintf("mode = $%d", len(args)))
	}
	if q.AlertsEnabled {
		where = append(where, "(alert_settings->>'enabled')::boolean IS TRUE")
	}

	sql := "SELECT " + controlColumns + " FROM controls"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return sql + " ORDER BY created_at, id", args
}

// ListControls fetches controls matching q
func (d *DB) ListControls(ctx context.Context, q engine.Query) ([]*models.Control, error) {
	sql, args := buildListQuery(q)
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectControls(rows)
}

// ListExpired fetches active controls whose manual end time is at or before now
func (d *DB) ListExpired(ctx context.Context, now time.Time) ([]*models.Control, error) {
	rows, err := d.pool.Query(ctx, "SELECT "+controlColumns+` FROM controls
		WHERE is_active AND status = 'active'
		AND manual_settings->>'endTime' IS NOT NULL
		AND (manual_settings->>'endTime')::timestamptz <= $1`, now)
	if err != nil {
		return nil, err
	}
	return collectControls(rows)
}

// SaveTransition writes the runtime state of c and appends rec in one
// transaction. With requireActive the update only applies while the row is
// still active.
func (d *DB) SaveTransition(ctx context.Context, c *models.Control, rec *models.ExecutionRecord, requireActive bool) (bool, error) {
	manual, err := json.Marshal(c.Manual)
	if err != nil {
		return false, err
	}
	state, err := json.Marshal(c.CurrentState)
	if err != nil {
		return false, err
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	sql := `UPDATE controls SET status = $2, manual_settings = $3, current_state = $4,
		updated_at = NOW(), version = version + 1
		WHERE id = $1 AND is_active`
	if requireActive {
		sql += " AND status = 'active'"
	}
	tag, err := tx.Exec(ctx, sql, c.ID, string(c.Status), manual, state)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if rec != nil {
		if err := insertExecution(ctx, tx, c.ID, rec); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	c.Version++
	return true, nil
}

func insertExecution(ctx context.Context, tx pgx.Tx, controlID string, rec *models.ExecutionRecord) error {
	_, err := tx.Exec(ctx, `INSERT INTO control_executions
		(control_id, executed_at, action, mode, intensity, duration, triggered_by, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		controlID, rec.Timestamp, rec.Action, string(rec.Mode), rec.Intensity, rec.Duration, rec.TriggeredBy, rec.Result)
	return err
}

func settingsArgs(c *models.Control) ([]any, error) {
	var args []any
	for _, v := range []any{c.Manual, c.Schedule, c.Auto, c.Threshold, c.Alert, c.CurrentState} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		args = append(args, b)
	}
	return args, nil
}

// CreateControl inserts a new control
func (d *DB) CreateControl(ctx context.Context, c *models.Control) error {
	blocks, err := settingsArgs(c)
	if err != nil {
		return err
	}
	args := append([]any{c.ID, c.DeviceID, c.UserID, string(c.ControlType), string(c.Mode), string(c.Status)}, blocks...)
	args = append(args, c.IsActive, c.CreatedAt, c.UpdatedAt, c.Version)
	_, err = d.pool.Exec(ctx, "INSERT INTO controls ("+controlColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, args...)
	return err
}

// UpdateControl rewrites the settings of a control and appends rec
func (d *DB) UpdateControl(ctx context.Context, c *models.Control, rec *models.ExecutionRecord) error {
	blocks, err := settingsArgs(c)
	if err != nil {
		return err
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	args := append([]any{c.ID, string(c.ControlType), string(c.Mode), string(c.Status)}, blocks...)
	tag, err := tx.Exec(ctx, `UPDATE controls SET control_type = $2, mode = $3, status = $4,
		manual_settings = $5, schedule_settings = $6, auto_settings = $7,
		threshold_settings = $8, alert_settings = $9, current_state = $10,
		updated_at = NOW(), version = version + 1
		WHERE id = $1 AND is_active`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrControlNotFound
	}
	if rec != nil {
		if err := insertExecution(ctx, tx, c.ID, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	c.Version++
	return nil
}

// SoftDelete hides a control from every query
func (d *DB) SoftDelete(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, "UPDATE controls SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrControlNotFound
	}
	return nil
}

// History returns execution records of a control, newest first
func (d *DB) History(ctx context.Context, id string, limit, offset int) ([]models.ExecutionRecord, error) {
	rows, err := d.pool.Query(ctx, `SELECT executed_at, action, mode, intensity, duration, triggered_by, result
		FROM control_executions WHERE control_id = $1
		ORDER BY executed_at DESC, id DESC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExecutionRecord
	for rows.Next() {
		var r models.ExecutionRecord
		if err := rows.Scan(&r.Timestamp, &r.Action, &r.Mode, &r.Intensity, &r.Duration, &r.TriggeredBy, &r.Result); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
