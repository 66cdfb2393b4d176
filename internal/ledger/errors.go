package ledger

import "errors"

var (
	// ErrInsufficientFunds: the debit would take the balance below zero. Nothing was written.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConcurrentUpdateExhausted: the compare-and-commit loop ran out of attempts.
	ErrConcurrentUpdateExhausted = errors.New("concurrent update retries exhausted")
	// ErrStoreUnavailable: persistence failed; the write may or may not have happened.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
	// ErrIdempotencyKeyReused: the key already settled a different account or entity.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused for a different settlement")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidAmount        = errors.New("invalid settlement")
	ErrEntryNotFound        = errors.New("ledger entry not found")
	// ErrLedgerMismatch: replaying the entries does not reproduce the stored balance.
	ErrLedgerMismatch = errors.New("ledger replay mismatch")

	errVersionConflict = errors.New("account version changed")
	errDuplicateKey    = errors.New("duplicate idempotency key")
)
