package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ForfeitSource knows which stakes of an account were lost. A forfeited stake writes no entry
// of its own, so only the commitment it was staked on can tell.
type ForfeitSource interface {
	ForfeitedStakes(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// Service is the wallet facade the rest of the backend talks to.
type Service struct {
	store    Store
	guard    *Guard
	forfeits ForfeitSource
	now      func() time.Time
	log      *zap.Logger
}

type ServiceOption func(*Service)

// WithForfeits makes Summary count lost stakes in TotalLost.
func WithForfeits(src ForfeitSource) ServiceOption {
	return func(s *Service) { s.forfeits = src }
}

func NewService(store Store, guard *Guard, log *zap.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{store: store, guard: guard, now: time.Now, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle passes through to the Balance Guard.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (Entry, error) {
	return s.guard.Settle(ctx, req)
}

func (s *Service) EntryByKey(ctx context.Context, key string) (Entry, error) {
	return s.store.EntryByKey(ctx, key)
}

func (s *Service) OpenAccount(ctx context.Context, accountID string) (Account, error) {
	if accountID == "" {
		return Account{}, fmt.Errorf("%w: account id is required", ErrInvalidAmount)
	}
	return s.store.CreateAccount(ctx, accountID, s.now())
}

func (s *Service) Balance(ctx context.Context, accountID string) (Account, error) {
	return s.store.Account(ctx, accountID)
}

func (s *Service) History(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if _, err := s.store.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, accountID, limit)
}

// Deposit credits funds that arrived from the payment layer.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, key string) (Entry, error) {
	if !amount.IsPositive() {
		return Entry{}, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	return s.guard.Settle(ctx, SettleRequest{
		AccountID:      accountID,
		Amount:         amount,
		Kind:           KindDeposit,
		Related:        Related{Type: RelatedAccount, ID: accountID},
		IdempotencyKey: scopedKey("deposit", accountID, key),
		Description:    "wallet deposit",
	})
}

// Payout withdraws amount (given as a positive value) from the wallet.
func (s *Service) Payout(ctx context.Context, accountID string, amount decimal.Decimal, key string) (Entry, error) {
	if !amount.IsPositive() {
		return Entry{}, fmt.Errorf("%w: payout must be positive", ErrInvalidAmount)
	}
	return s.guard.Settle(ctx, SettleRequest{
		AccountID:      accountID,
		Amount:         amount.Neg(),
		Kind:           KindPayout,
		Related:        Related{Type: RelatedAccount, ID: accountID},
		IdempotencyKey: scopedKey("payout", accountID, key),
		Description:    "wallet payout",
	})
}

// scopedKey namespaces a client-supplied key per account so two users cannot collide.
func scopedKey(op, accountID, key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("wallet:%s:%s:%s", accountID, op, key)
}

// Summary totals an account's history. TotalLost is penalties plus forfeited stakes.
func (s *Service) Summary(ctx context.Context, accountID string) (Summary, error) {
	acc, err := s.store.Account(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}
	totals, err := s.store.Totals(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		AccountID:   acc.ID,
		Balance:     acc.Balance,
		TotalEarned: decimal.Zero,
		TotalLost:   decimal.Zero,
		Forfeited:   decimal.Zero,
		Staked:      decimal.Zero,
		Deposited:   decimal.Zero,
	}
	for _, t := range totals {
		sum.Entries += t.Count
		switch t.Kind {
		case KindReward:
			sum.TotalEarned = sum.TotalEarned.Add(t.Sum)
		case KindPenalty:
			sum.TotalLost = sum.TotalLost.Add(t.Sum.Neg())
		case KindStake:
			sum.Staked = sum.Staked.Add(t.Sum.Neg())
		case KindDeposit:
			sum.Deposited = sum.Deposited.Add(t.Sum)
		}
	}

	if s.forfeits != nil {
		lost, err := s.forfeits.ForfeitedStakes(ctx, accountID)
		if err != nil {
			return Summary{}, err
		}
		sum.Forfeited = lost
		sum.TotalLost = sum.TotalLost.Add(lost)
	}
	return sum, nil
}

// Reconcile replays every entry from a zero balance and checks it lands on the stored balance.
func (s *Service) Reconcile(ctx context.Context, accountID string) error {
	acc, err := s.store.Account(ctx, accountID)
	if err != nil {
		return err
	}
	entries, err := s.store.Entries(ctx, accountID)
	if err != nil {
		return err
	}

	running := decimal.Zero
	for i, e := range entries {
		if e.AccountVersion != int64(i+1) {
			return fmt.Errorf("%w: entry %s has version %d, expected %d", ErrLedgerMismatch, e.ID, e.AccountVersion, i+1)
		}
		if !e.BalanceBefore.Equal(running) {
			return fmt.Errorf("%w: entry %s starts at %s, replay is at %s", ErrLedgerMismatch, e.ID, e.BalanceBefore, running)
		}
		if !e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Amount)) {
			return fmt.Errorf("%w: entry %s does not add up", ErrLedgerMismatch, e.ID)
		}
		running = e.BalanceAfter
	}

	if !running.Equal(acc.Balance) || acc.Version != int64(len(entries)) {
		return fmt.Errorf("%w: account %s stores %s@v%d, replay gives %s@v%d",
			ErrLedgerMismatch, accountID, acc.Balance, acc.Version, running, len(entries))
	}
	return nil
}

// ReconcileAll checks every account and returns the ids that failed.
func (s *Service) ReconcileAll(ctx context.Context) ([]string, error) {
	accountIDs, err := s.store.AccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	var bad []string
	for _, id := range accountIDs {
		if err := ctx.Err(); err != nil {
			return bad, err
		}
		err := s.Reconcile(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, ErrLedgerMismatch):
			s.log.Error("ledger mismatch", zap.String("account_id", id), zap.Error(err))
			bad = append(bad, id)
		default:
			return bad, err
		}
	}
	return bad, nil
}
