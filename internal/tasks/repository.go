package tasks

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

type taskRow struct {
	ID           string  `db:"id"`
	AccountID    string  `db:"account_id"`
	GoalID       *string `db:"goal_id"`
	Title        string  `db:"title"`
	Description  string  `db:"description"`
	RewardAmount int64   `db:"reward_amount"`
	IsCompleted  bool    `db:"is_completed"`
	CompletedAt  *int64  `db:"completed_at"`
	DueDate      *int64  `db:"due_date"`
	CreatedAt    int64   `db:"created_at"`
	UpdatedAt    int64   `db:"updated_at"`
}

func (r taskRow) toTask() Task {
	return Task{
		ID:           r.ID,
		AccountID:    r.AccountID,
		GoalID:       r.GoalID,
		Title:        r.Title,
		Description:  r.Description,
		RewardAmount: money.FromMinor(r.RewardAmount),
		IsCompleted:  r.IsCompleted,
		CompletedAt:  db.TimePtr(r.CompletedAt),
		DueDate:      db.TimePtr(r.DueDate),
		CreatedAt:    db.FromMillis(r.CreatedAt),
		UpdatedAt:    db.FromMillis(r.UpdatedAt),
	}
}

const taskColumns = `id, account_id, goal_id, title, description, reward_amount,
	is_completed, completed_at, due_date, created_at, updated_at`

func (r *Repository) Insert(ctx context.Context, t Task) error {
	reward, err := money.ToMinor(t.RewardAmount)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.AccountID, t.GoalID, t.Title, t.Description, reward,
		t.IsCompleted, db.NullMillis(t.CompletedAt), db.NullMillis(t.DueDate), db.Millis(t.CreatedAt), db.Millis(t.UpdatedAt))
	if err != nil {
		return storeErr("insert task", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (Task, error) {
	var row taskRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return Task{}, storeErr("load task", err)
	}
	return row.toTask(), nil
}

func (r *Repository) ListByAccount(ctx context.Context, accountID string, completed *bool) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE account_id = ?`
	args := []any{accountID}
	if completed != nil {
		query += ` AND is_completed = ?`
		args = append(args, *completed)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, storeErr("list tasks", err)
	}

	out := make([]Task, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toTask())
	}
	return out, nil
}

// MarkCompleted flips is_completed false->true. It reports false when the task was already completed.
func (r *Repository) MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	ms := db.Millis(now)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE tasks
		SET is_completed = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND is_completed = ?
	`), true, ms, ms, id, false)
	if err != nil {
		return false, storeErr("complete task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("complete task", err)
	}
	return n == 1, nil
}
