package ledger

import (
	"net/http"

	"github.com/shopspring/decimal"

	"goalstake-backend/internal/auth"
	"goalstake-backend/internal/httpx"
	"goalstake-backend/internal/money"
)

// Statuses maps ledger errors to HTTP codes; other packages extend it.
var Statuses = httpx.Status{
	{Err: ErrInsufficientFunds, Code: http.StatusPaymentRequired},
	{Err: ErrIdempotencyKeyReused, Code: http.StatusConflict},
	{Err: ErrConcurrentUpdateExhausted, Code: http.StatusServiceUnavailable},
	{Err: ErrStoreUnavailable, Code: http.StatusServiceUnavailable},
	{Err: ErrAccountNotFound, Code: http.StatusNotFound},
	{Err: ErrEntryNotFound, Code: http.StatusNotFound},
	{Err: ErrInvalidAmount, Code: http.StatusBadRequest},
	{Err: money.ErrInvalid, Code: http.StatusBadRequest},
	{Err: ErrLedgerMismatch, Code: http.StatusInternalServerError},
}

func OpenAccountHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		acc, err := svc.OpenAccount(r.Context(), uid)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, acc)
	}
}

func BalanceHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		acc, err := svc.Balance(r.Context(), uid)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, acc)
	}
}

func HistoryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		entries, err := svc.History(r.Context(), uid, httpx.IntQuery(r, "limit", DefaultHistoryLimit))
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

func SummaryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		sum, err := svc.Summary(r.Context(), uid)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, sum)
	}
}

type amountBody struct {
	Amount decimal.Decimal `json:"amount"`
}

// DepositHandler credits a wallet on behalf of the payment layer. It is mounted behind the
// service credential, never behind a user token, so the account comes from the body.
func DepositHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AccountID string          `json:"account_id"`
			Amount    decimal.Decimal `json:"amount"`
		}
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		if body.AccountID == "" {
			httpx.Message(w, http.StatusBadRequest, "account_id is required")
			return
		}

		entry, err := svc.Deposit(r.Context(), body.AccountID, body.Amount, httpx.IdempotencyKey(r))
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, entry)
	}
}

func PayoutHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body amountBody
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}

		entry, err := svc.Payout(r.Context(), uid, body.Amount, httpx.IdempotencyKey(r))
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, entry)
	}
}
