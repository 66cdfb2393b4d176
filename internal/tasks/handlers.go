package tasks

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"goalstake-backend/internal/auth"
	"goalstake-backend/internal/httpx"
	"goalstake-backend/internal/ledger"
)

var Statuses = httpx.Status{
	{Err: ErrTaskNotFound, Code: http.StatusNotFound},
	{Err: ErrTaskAlreadyCompleted, Code: http.StatusConflict},
	{Err: ErrNotTaskOwner, Code: http.StatusForbidden},
	{Err: ErrInvalidTask, Code: http.StatusBadRequest},
}.With(ledger.Statuses...)

func CreateTaskHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body struct {
			Title        string          `json:"title"`
			Description  string          `json:"description"`
			RewardAmount decimal.Decimal `json:"reward_amount"`
			GoalID       *string         `json:"goal_id"`
			DueDate      *time.Time      `json:"due_date"`
		}
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}

		t, err := svc.Create(r.Context(), NewTask{
			AccountID:    uid,
			GoalID:       body.GoalID,
			Title:        body.Title,
			Description:  body.Description,
			RewardAmount: body.RewardAmount,
			DueDate:      body.DueDate,
		})
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusCreated, t)
	}
}

// ListTasksHandler supports ?completed=true|false.
func ListTasksHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		list, err := svc.List(r.Context(), uid, httpx.BoolQuery(r, "completed"))
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"tasks": list})
	}
}

func CompleteTaskHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		t, reward, err := svc.Complete(r.Context(), uid, chi.URLParam(r, "id"))
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"task": t, "reward_entry": reward})
	}
}
