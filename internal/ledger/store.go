package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"goalstake-backend/internal/db"
	"goalstake-backend/internal/money"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Store is the durable side of the ledger: accounts and immutable entries.
type Store interface {
	// InTx runs fn in one transaction; fn's error rolls everything back.
	InTx(ctx context.Context, fn func(Tx) error) error

	Account(ctx context.Context, id string) (Account, error)
	CreateAccount(ctx context.Context, id string, now time.Time) (Account, error)
	EntryByKey(ctx context.Context, key string) (Entry, error)
	// History is most-recent first.
	History(ctx context.Context, accountID string, limit int) ([]Entry, error)
	// Entries is every entry of the account in creation order.
	Entries(ctx context.Context, accountID string) ([]Entry, error)
	Totals(ctx context.Context, accountID string) ([]KindTotal, error)
	AccountIDs(ctx context.Context) ([]string, error)
}

// Tx is the transactional view the Balance Guard works through.
type Tx interface {
	Account(ctx context.Context, id string) (Account, error)
	EntryByKey(ctx context.Context, key string) (Entry, error)
	// CompareAndSwapBalance writes balance and version+1 only if the version is still expected.
	CompareAndSwapBalance(ctx context.Context, id string, expectedVersion int64, balance decimal.Decimal, now time.Time) (bool, error)
	Append(ctx context.Context, draft Draft) (Entry, error)
}

type accountRow struct {
	ID        string `db:"id"`
	Balance   int64  `db:"balance"`
	Version   int64  `db:"version"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r accountRow) toAccount() Account {
	return Account{
		ID:        r.ID,
		Balance:   money.FromMinor(r.Balance),
		Version:   r.Version,
		CreatedAt: db.FromMillis(r.CreatedAt),
		UpdatedAt: db.FromMillis(r.UpdatedAt),
	}
}

type entryRow struct {
	ID             string `db:"id"`
	AccountID      string `db:"account_id"`
	AccountVersion int64  `db:"account_version"`
	Amount         int64  `db:"amount"`
	Kind           string `db:"kind"`
	RelatedType    string `db:"related_type"`
	RelatedID      string `db:"related_id"`
	IdempotencyKey string `db:"idempotency_key"`
	BalanceBefore  int64  `db:"balance_before"`
	BalanceAfter   int64  `db:"balance_after"`
	Description    string `db:"description"`
	CreatedAt      int64  `db:"created_at"`
}

func (r entryRow) toEntry() Entry {
	return Entry{
		ID:             r.ID,
		AccountID:      r.AccountID,
		AccountVersion: r.AccountVersion,
		Amount:         money.FromMinor(r.Amount),
		Kind:           Kind(r.Kind),
		Related:        Related{Type: RelatedType(r.RelatedType), ID: r.RelatedID},
		IdempotencyKey: r.IdempotencyKey,
		BalanceBefore:  money.FromMinor(r.BalanceBefore),
		BalanceAfter:   money.FromMinor(r.BalanceAfter),
		Description:    r.Description,
		CreatedAt:      db.FromMillis(r.CreatedAt),
	}
}

const entryColumns = `id, account_id, account_version, amount, kind, related_type, related_id,
	idempotency_key, balance_before, balance_after, description, created_at`

// SQLStore implements Store over sqlx (PostgreSQL or SQLite).
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(conn *sqlx.DB) *SQLStore {
	return &SQLStore{db: conn}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func (s *SQLStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(sqlTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (s *SQLStore) Account(ctx context.Context, id string) (Account, error) {
	return getAccount(ctx, s.db, id)
}

// CreateAccount opens a zero-balance wallet; opening an existing one returns it.
func (s *SQLStore) CreateAccount(ctx context.Context, id string, now time.Time) (Account, error) {
	ms := db.Millis(now)
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO accounts (id, balance, version, created_at, updated_at)
		VALUES (?, 0, 0, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), id, ms, ms)
	if err != nil {
		return Account{}, unavailable("create account", err)
	}
	return getAccount(ctx, s.db, id)
}

func (s *SQLStore) EntryByKey(ctx context.Context, key string) (Entry, error) {
	return getEntryByKey(ctx, s.db, key)
}

func (s *SQLStore) History(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY account_version DESC
		LIMIT ?
	`), accountID, limit)
	if err != nil {
		return nil, unavailable("history", err)
	}
	return toEntries(rows), nil
}

func (s *SQLStore) Entries(ctx context.Context, accountID string) ([]Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY account_version ASC
	`), accountID)
	if err != nil {
		return nil, unavailable("entries", err)
	}
	return toEntries(rows), nil
}

func (s *SQLStore) Totals(ctx context.Context, accountID string) ([]KindTotal, error) {
	var rows []struct {
		Kind  string `db:"kind"`
		Sum   int64  `db:"total"`
		Count int64  `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT kind, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS n
		FROM ledger_entries
		WHERE account_id = ?
		GROUP BY kind
	`), accountID)
	if err != nil {
		return nil, unavailable("totals", err)
	}

	out := make([]KindTotal, 0, len(rows))
	for _, r := range rows {
		out = append(out, KindTotal{Kind: Kind(r.Kind), Sum: money.FromMinor(r.Sum), Count: r.Count})
	}
	return out, nil
}

func (s *SQLStore) AccountIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM accounts ORDER BY id`); err != nil {
		return nil, unavailable("list accounts", err)
	}
	return ids, nil
}

type sqlTx struct {
	q sqlx.ExtContext
}

func (t sqlTx) Account(ctx context.Context, id string) (Account, error) {
	return getAccount(ctx, t.q, id)
}

func (t sqlTx) EntryByKey(ctx context.Context, key string) (Entry, error) {
	return getEntryByKey(ctx, t.q, key)
}

func (t sqlTx) CompareAndSwapBalance(ctx context.Context, id string, expectedVersion int64, balance decimal.Decimal, now time.Time) (bool, error) {
	minor, err := money.ToMinor(balance)
	if err != nil {
		return false, err
	}

	res, err := t.q.ExecContext(ctx, t.q.Rebind(`
		UPDATE accounts
		SET balance = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`), minor, db.Millis(now), id, expectedVersion)
	if err != nil {
		if db.IsCheckViolation(err) {
			return false, fmt.Errorf("%w: account %s", ErrInsufficientFunds, id)
		}
		return false, unavailable("update balance", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("update balance", err)
	}
	return n == 1, nil
}

func (t sqlTx) Append(ctx context.Context, d Draft) (Entry, error) {
	amount, err := money.ToMinor(d.Amount)
	if err != nil {
		return Entry{}, err
	}
	before, err := money.ToMinor(d.BalanceBefore)
	if err != nil {
		return Entry{}, err
	}
	after, err := money.ToMinor(d.BalanceAfter)
	if err != nil {
		return Entry{}, err
	}

	row := entryRow{
		ID:             uuid.NewString(),
		AccountID:      d.AccountID,
		AccountVersion: d.AccountVersion,
		Amount:         amount,
		Kind:           string(d.Kind),
		RelatedType:    string(d.Related.Type),
		RelatedID:      d.Related.ID,
		IdempotencyKey: d.IdempotencyKey,
		BalanceBefore:  before,
		BalanceAfter:   after,
		Description:    d.Description,
		CreatedAt:      db.Millis(d.CreatedAt),
	}

	_, err = t.q.ExecContext(ctx, t.q.Rebind(`
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		row.ID,
		row.AccountID,
		row.AccountVersion,
		row.Amount,
		row.Kind,
		row.RelatedType,
		row.RelatedID,
		row.IdempotencyKey,
		row.BalanceBefore,
		row.BalanceAfter,
		row.Description,
		row.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Entry{}, fmt.Errorf("%w: %s", errDuplicateKey, d.IdempotencyKey)
		}
		return Entry{}, unavailable("append entry", err)
	}
	return row.toEntry(), nil
}

func getAccount(ctx context.Context, q sqlx.ExtContext, id string) (Account, error) {
	var row accountRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`
		SELECT id, balance, version, created_at, updated_at
		FROM accounts
		WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return Account{}, unavailable("load account", err)
	}
	return row.toAccount(), nil
}

func getEntryByKey(ctx context.Context, q sqlx.ExtContext, key string) (Entry, error) {
	var row entryRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE idempotency_key = ?
	`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, unavailable("load entry", err)
	}
	return row.toEntry(), nil
}

func toEntries(rows []entryRow) []Entry {
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntry())
	}
	return out
}

var _ Store = (*SQLStore)(nil)
var _ Tx = sqlTx{}
