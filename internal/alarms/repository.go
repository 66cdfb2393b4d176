package alarms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"goalstake-backend/internal/db"
	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/money"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(conn *sqlx.DB) *Repository {
	return &Repository{db: conn}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ledger.ErrStoreUnavailable, op, err)
}

type alarmRow struct {
	ID            string  `db:"id"`
	AccountID     string  `db:"account_id"`
	GoalID        *string `db:"goal_id"`
	Title         string  `db:"title"`
	AlarmTime     string  `db:"alarm_time"`
	Timezone      string  `db:"timezone"`
	Code          string  `db:"code"`
	StakeAmount   int64   `db:"stake_amount"`
	WindowMinutes int     `db:"window_minutes"`
	IsActive      bool    `db:"is_active"`
	LastTriggered *int64  `db:"last_triggered"`
	CreatedAt     int64   `db:"created_at"`
	UpdatedAt     int64   `db:"updated_at"`
}

func (r alarmRow) toAlarm() Alarm {
	return Alarm{
		ID:            r.ID,
		AccountID:     r.AccountID,
		GoalID:        r.GoalID,
		Title:         r.Title,
		AlarmTime:     r.AlarmTime,
		Timezone:      r.Timezone,
		Code:          r.Code,
		StakeAmount:   money.FromMinor(r.StakeAmount),
		WindowMinutes: r.WindowMinutes,
		IsActive:      r.IsActive,
		LastTriggered: db.TimePtr(r.LastTriggered),
		CreatedAt:     db.FromMillis(r.CreatedAt),
		UpdatedAt:     db.FromMillis(r.UpdatedAt),
	}
}

const alarmColumns = `id, account_id, goal_id, title, alarm_time, timezone, code, stake_amount,
	window_minutes, is_active, last_triggered, created_at, updated_at`

func (r *Repository) Insert(ctx context.Context, a Alarm) error {
	stake, err := money.ToMinor(a.StakeAmount)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO alarm_clocks (`+alarmColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.AccountID, a.GoalID, a.Title, a.AlarmTime, a.Timezone, a.Code, stake,
		a.WindowMinutes, a.IsActive, db.NullMillis(a.LastTriggered), db.Millis(a.CreatedAt), db.Millis(a.UpdatedAt))
	if err != nil {
		return storeErr("insert alarm", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (Alarm, error) {
	var row alarmRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+alarmColumns+` FROM alarm_clocks WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Alarm{}, fmt.Errorf("%w: %s", ErrAlarmNotFound, id)
	}
	if err != nil {
		return Alarm{}, storeErr("load alarm", err)
	}
	return row.toAlarm(), nil
}

func (r *Repository) ListByAccount(ctx context.Context, accountID string, activeOnly bool) ([]Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarm_clocks WHERE account_id = ?`
	args := []any{accountID}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY alarm_time ASC, id ASC`

	var rows []alarmRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, storeErr("list alarms", err)
	}
	return toAlarms(rows), nil
}

func (r *Repository) ListActive(ctx context.Context) ([]Alarm, error) {
	var rows []alarmRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+alarmColumns+` FROM alarm_clocks WHERE is_active = ? ORDER BY id
	`), true)
	if err != nil {
		return nil, storeErr("list active alarms", err)
	}
	return toAlarms(rows), nil
}

func (r *Repository) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE alarm_clocks SET is_active = ?, updated_at = ? WHERE id = ?
	`), active, db.Millis(now), id)
	if err != nil {
		return storeErr("update alarm", err)
	}
	return nil
}

// AdvanceLastTriggered only ever moves last_triggered forward.
func (r *Repository) AdvanceLastTriggered(ctx context.Context, id string, to time.Time) (bool, error) {
	ms := db.Millis(to)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE alarm_clocks
		SET last_triggered = ?, updated_at = ?
		WHERE id = ? AND (last_triggered IS NULL OR last_triggered < ?)
	`), ms, ms, id, ms)
	if err != nil {
		return false, storeErr("mark alarm window", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("mark alarm window", err)
	}
	return n == 1, nil
}

func toAlarms(rows []alarmRow) []Alarm {
	out := make([]Alarm, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toAlarm())
	}
	return out
}

type entryRow struct {
	ID            string `db:"id"`
	AlarmID       string `db:"alarm_id"`
	CodeEntered   string `db:"code_entered"`
	EnteredAt     int64  `db:"entered_at"`
	WasSuccessful bool   `db:"was_successful"`
}

func (r *Repository) InsertEntry(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO alarm_entries (id, alarm_id, code_entered, entered_at, was_successful)
		VALUES (?, ?, ?, ?, ?)
	`), e.ID, e.AlarmID, e.CodeEntered, db.Millis(e.EnteredAt), e.WasSuccessful)
	if err != nil {
		return storeErr("insert alarm entry", err)
	}
	return nil
}

// HasSuccessfulEntry reports whether a correct code was entered within [from, to].
func (r *Repository) HasSuccessfulEntry(ctx context.Context, alarmID string, from, to time.Time) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*)
		FROM alarm_entries
		WHERE alarm_id = ? AND was_successful = ? AND entered_at >= ? AND entered_at <= ?
	`), alarmID, true, db.Millis(from), db.Millis(to))
	if err != nil {
		return false, storeErr("check alarm entries", err)
	}
	return n > 0, nil
}

func (r *Repository) ListEntries(ctx context.Context, alarmID string, limit int) ([]Entry, error) {
	var rows []entryRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT id, alarm_id, code_entered, entered_at, was_successful
		FROM alarm_entries
		WHERE alarm_id = ?
		ORDER BY entered_at DESC
		LIMIT ?
	`), alarmID, limit)
	if err != nil {
		return nil, storeErr("list alarm entries", err)
	}

	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, Entry{
			ID:            row.ID,
			AlarmID:       row.AlarmID,
			CodeEntered:   row.CodeEntered,
			EnteredAt:     db.FromMillis(row.EnteredAt),
			WasSuccessful: row.WasSuccessful,
		})
	}
	return out, nil
}
