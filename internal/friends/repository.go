package friends

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"goalstake-backend/internal/db"
	"goalstake-backend/internal/ledger"
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

type friendshipRow struct {
	ID          string `db:"id"`
	RequesterID string `db:"requester_id"`
	AddresseeID string `db:"addressee_id"`
	Status      string `db:"status"`
	CreatedAt   int64  `db:"created_at"`
	AcceptedAt  *int64 `db:"accepted_at"`
}

func (r friendshipRow) toFriendship() Friendship {
	return Friendship{
		ID:          r.ID,
		RequesterID: r.RequesterID,
		AddresseeID: r.AddresseeID,
		Status:      Status(r.Status),
		CreatedAt:   db.FromMillis(r.CreatedAt),
		AcceptedAt:  db.TimePtr(r.AcceptedAt),
	}
}

const friendshipColumns = `id, requester_id, addressee_id, status, created_at, accepted_at`

// Insert stores a new request. It reports false when the pair already has a row.
func (r *Repository) Insert(ctx context.Context, f Friendship) (bool, error) {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO friendships (id, requester_id, addressee_id, pair_key, status, created_at, accepted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), f.ID, f.RequesterID, f.AddresseeID, pairKey(f.RequesterID, f.AddresseeID),
		string(f.Status), db.Millis(f.CreatedAt), db.NullMillis(f.AcceptedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, storeErr("insert friendship", err)
	}
	return true, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Friendship, error) {
	var row friendshipRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+friendshipColumns+` FROM friendships WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Friendship{}, fmt.Errorf("%w: %s", ErrFriendshipNotFound, id)
	}
	if err != nil {
		return Friendship{}, storeErr("load friendship", err)
	}
	return row.toFriendship(), nil
}

// Between loads the row of a pair regardless of who sent the request.
func (r *Repository) Between(ctx context.Context, a, b string) (Friendship, error) {
	var row friendshipRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+friendshipColumns+` FROM friendships WHERE pair_key = ?`), pairKey(a, b))
	if errors.Is(err, sql.ErrNoRows) {
		return Friendship{}, fmt.Errorf("%w: %s and %s", ErrFriendshipNotFound, a, b)
	}
	if err != nil {
		return Friendship{}, storeErr("load friendship", err)
	}
	return row.toFriendship(), nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string, status *Status) ([]Friendship, error) {
	query := `SELECT ` + friendshipColumns + ` FROM friendships WHERE (requester_id = ? OR addressee_id = ?)`
	args := []any{userID, userID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC, id ASC`

	var rows []friendshipRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, storeErr("list friendships", err)
	}

	out := make([]Friendship, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toFriendship())
	}
	return out, nil
}

// MarkAccepted flips pending->accepted. It reports false when the row was not pending.
func (r *Repository) MarkAccepted(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE friendships SET status = ?, accepted_at = ?
		WHERE id = ? AND status = ?
	`), string(StatusAccepted), db.Millis(now), id, string(StatusPending))
	if err != nil {
		return false, storeErr("accept friendship", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("accept friendship", err)
	}
	return n == 1, nil
}
