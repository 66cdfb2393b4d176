package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goalstake-backend/internal/metrics"
)

const (
	DefaultMaxAttempts = 8
	DefaultBackoffBase = 5 * time.Millisecond
	maxBackoff         = 500 * time.Millisecond
)

// Guard is the only code path that changes an account balance.
type Guard struct {
	store       Store
	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
	log         *zap.Logger
}

type GuardOption func(*Guard)

func WithMaxAttempts(n int) GuardOption {
	return func(g *Guard) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func WithBackoff(base time.Duration) GuardOption {
	return func(g *Guard) {
		if base >= 0 {
			g.backoffBase = base
		}
	}
}

func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func WithLogger(log *zap.Logger) GuardOption {
	return func(g *Guard) {
		if log != nil {
			g.log = log
		}
	}
}

func NewGuard(store Store, opts ...GuardOption) *Guard {
	g := &Guard{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		now:         time.Now,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Settle applies one signed balance change and records its entry atomically.
//
// A key that already settled returns the original entry without touching the balance.
// Version conflicts are retried with jittered exponential backoff up to the configured
// number of attempts.
func (g *Guard) Settle(ctx context.Context, req SettleRequest) (Entry, error) {
	if err := req.validate(); err != nil {
		return Entry{}, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = "auto:" + uuid.NewString()
	}

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}

		entry, replayed, err := g.try(ctx, req)
		switch {
		case err == nil:
			if replayed {
				metrics.RecordSettlement(string(req.Kind), "replayed")
			} else {
				metrics.RecordSettlement(string(req.Kind), "ok")
			}
			return entry, nil

		case errors.Is(err, errVersionConflict):
			metrics.RecordSettleConflict()
			g.log.Debug("settle version conflict",
				zap.String("account_id", req.AccountID),
				zap.String("key", req.IdempotencyKey),
				zap.Int("attempt", attempt+1),
			)
			if attempt+1 < g.maxAttempts {
				if err := sleepCtx(ctx, g.delay(attempt)); err != nil {
					return Entry{}, err
				}
			}
			continue

		case errors.Is(err, errDuplicateKey):
			// a concurrent settle with the same key committed first
			winner, lookupErr := g.store.EntryByKey(ctx, req.IdempotencyKey)
			if lookupErr != nil {
				metrics.RecordSettlement(string(req.Kind), "error")
				return Entry{}, lookupErr
			}
			if err := matches(winner, req); err != nil {
				metrics.RecordSettlement(string(req.Kind), "key_reused")
				return Entry{}, err
			}
			metrics.RecordSettlement(string(req.Kind), "replayed")
			return winner, nil

		case errors.Is(err, ErrInsufficientFunds):
			metrics.RecordSettlement(string(req.Kind), "insufficient_funds")
			return Entry{}, err

		default:
			metrics.RecordSettlement(string(req.Kind), "error")
			return Entry{}, err
		}
	}

	metrics.RecordSettlement(string(req.Kind), "exhausted")
	g.log.Warn("settle retries exhausted",
		zap.String("account_id", req.AccountID),
		zap.String("key", req.IdempotencyKey),
		zap.Int("attempts", g.maxAttempts),
	)
	return Entry{}, fmt.Errorf("%w: account %s after %d attempts", ErrConcurrentUpdateExhausted, req.AccountID, g.maxAttempts)
}

func (g *Guard) try(ctx context.Context, req SettleRequest) (Entry, bool, error) {
	var (
		result   Entry
		replayed bool
	)

	err := g.store.InTx(ctx, func(tx Tx) error {
		existing, err := tx.EntryByKey(ctx, req.IdempotencyKey)
		if err == nil {
			if err := matches(existing, req); err != nil {
				return err
			}
			result, replayed = existing, true
			return nil
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return err
		}

		acc, err := tx.Account(ctx, req.AccountID)
		if err != nil {
			return err
		}

		newBalance := acc.Balance.Add(req.Amount)
		if req.Amount.IsNegative() && newBalance.IsNegative() {
			return fmt.Errorf("%w: account %s has %s, needs %s",
				ErrInsufficientFunds, acc.ID, acc.Balance.StringFixed(2), req.Amount.Neg().StringFixed(2))
		}

		now := g.now()
		ok, err := tx.CompareAndSwapBalance(ctx, acc.ID, acc.Version, newBalance, now)
		if err != nil {
			return err
		}
		if !ok {
			return errVersionConflict
		}

		result, err = tx.Append(ctx, Draft{
			AccountID:      acc.ID,
			AccountVersion: acc.Version + 1,
			Amount:         req.Amount,
			Kind:           req.Kind,
			Related:        req.Related,
			IdempotencyKey: req.IdempotencyKey,
			BalanceBefore:  acc.Balance,
			BalanceAfter:   newBalance,
			Description:    req.Description,
			CreatedAt:      now,
		})
		return err
	})
	if err != nil {
		return Entry{}, false, err
	}
	return result, replayed, nil
}

func (g *Guard) delay(attempt int) time.Duration {
	d := exponential(g.backoffBase, attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	return fullJitter(d)
}

func matches(e Entry, req SettleRequest) error {
	if e.AccountID != req.AccountID || e.Related != req.Related {
		return fmt.Errorf("%w: key %s belongs to %s/%s:%s",
			ErrIdempotencyKeyReused, req.IdempotencyKey, e.AccountID, e.Related.Type, e.Related.ID)
	}
	return nil
}
