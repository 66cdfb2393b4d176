package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"goalstake-backend/internal/money"
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindStake   Kind = "stake"
	KindPenalty Kind = "penalty"
	KindReward  Kind = "reward"
	KindRefund  Kind = "refund"
	KindPayout  Kind = "payout"
	// KindDeposit is a wallet top-up credited by the payment layer.
	KindDeposit Kind = "deposit"
)

func (k Kind) Valid() bool {
	switch k {
	case KindStake, KindPenalty, KindReward, KindRefund, KindPayout, KindDeposit:
		return true
	}
	return false
}

// checkSign enforces the direction each kind moves money in.
func (k Kind) checkSign(amount decimal.Decimal) error {
	switch k {
	case KindStake:
		if !amount.IsNegative() {
			return fmt.Errorf("%w: stake must be negative", ErrInvalidAmount)
		}
	case KindPayout:
		// goal payouts return held stakes, wallet payouts withdraw
		if amount.IsZero() {
			return fmt.Errorf("%w: payout must be non-zero", ErrInvalidAmount)
		}
	case KindPenalty:
		if amount.IsPositive() {
			return fmt.Errorf("%w: penalty must not be positive", ErrInvalidAmount)
		}
	case KindReward:
		if amount.IsNegative() {
			return fmt.Errorf("%w: reward must not be negative", ErrInvalidAmount)
		}
	case KindRefund, KindDeposit:
		if !amount.IsPositive() {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, k)
		}
	}
	return nil
}

// RelatedType names the entity that caused a balance change.
type RelatedType string

const (
	RelatedGoal          RelatedType = "goal"
	RelatedAlarm         RelatedType = "alarm"
	RelatedCollaboration RelatedType = "collaboration"
	RelatedTask          RelatedType = "task"
	RelatedAccount       RelatedType = "account"
)

type Related struct {
	Type RelatedType `json:"type"`
	ID   string      `json:"id"`
}

// Account is a wallet. Balance only moves through Guard.Settle.
type Account struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Entry is one immutable balance change.
type Entry struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	AccountVersion int64           `json:"account_version"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           Kind            `json:"kind"`
	Related        Related         `json:"related"`
	IdempotencyKey string          `json:"idempotency_key"`
	BalanceBefore  decimal.Decimal `json:"balance_before"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Draft is an entry before it has an id.
type Draft struct {
	AccountID      string
	AccountVersion int64
	Amount         decimal.Decimal
	Kind           Kind
	Related        Related
	IdempotencyKey string
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	Description    string
	CreatedAt      time.Time
}

// SettleRequest asks the guard to move Amount (signed) on an account.
type SettleRequest struct {
	AccountID      string
	Amount         decimal.Decimal
	Kind           Kind
	Related        Related
	IdempotencyKey string
	Description    string
}

func (r SettleRequest) validate() error {
	if r.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidAmount)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAmount, r.Kind)
	}
	if r.Related.Type == "" || r.Related.ID == "" {
		return fmt.Errorf("%w: related entity is required", ErrInvalidAmount)
	}
	if err := money.Validate(r.Amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return r.Kind.checkSign(r.Amount)
}

// Summary mirrors the profile totals the client shows next to the balance.
type Summary struct {
	AccountID   string          `json:"account_id"`
	Balance     decimal.Decimal `json:"balance"`
	TotalEarned decimal.Decimal `json:"total_earned"`
	TotalLost   decimal.Decimal `json:"total_lost"`
	Forfeited   decimal.Decimal `json:"forfeited"`
	Staked      decimal.Decimal `json:"staked"`
	Deposited   decimal.Decimal `json:"deposited"`
	Entries     int64           `json:"entries"`
}

// KindTotal is the sum and count of one kind for an account.
type KindTotal struct {
	Kind  Kind
	Sum   decimal.Decimal
	Count int64
}
