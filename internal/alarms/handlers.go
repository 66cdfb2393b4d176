package alarms

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"goalstake-backend/internal/auth"
	"goalstake-backend/internal/httpx"
	"goalstake-backend/internal/ledger"
)

var Statuses = httpx.Status{
	{Err: ErrAlarmNotFound, Code: http.StatusNotFound},
	{Err: ErrNotAlarmOwner, Code: http.StatusForbidden},
	{Err: ErrInvalidAlarm, Code: http.StatusBadRequest},
}.With(ledger.Statuses...)

// owned loads the {id} alarm and checks it belongs to the caller.
func owned(w http.ResponseWriter, r *http.Request, svc *Service) (Alarm, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "unauthorized")
		return Alarm{}, false
	}
	a, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, err, Statuses)
		return Alarm{}, false
	}
	if a.AccountID != uid {
		httpx.Error(w, ErrNotAlarmOwner, Statuses)
		return Alarm{}, false
	}
	return a, true
}

func CreateAlarmHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body struct {
			Title         string          `json:"title"`
			AlarmTime     string          `json:"alarm_time"`
			Timezone      string          `json:"timezone"`
			Code          string          `json:"code"`
			StakeAmount   decimal.Decimal `json:"stake_amount"`
			WindowMinutes int             `json:"window_minutes"`
			GoalID        *string         `json:"goal_id"`
		}
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		if body.Timezone == "" {
			body.Timezone = "UTC"
		}

		a, err := svc.Create(r.Context(), NewAlarm{
			AccountID:     uid,
			GoalID:        body.GoalID,
			Title:         body.Title,
			AlarmTime:     body.AlarmTime,
			Timezone:      body.Timezone,
			Code:          body.Code,
			StakeAmount:   body.StakeAmount,
			WindowMinutes: body.WindowMinutes,
		})
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusCreated, a)
	}
}

// ListAlarmsHandler lists the caller's alarms; ?active=true keeps only active ones.
func ListAlarmsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		activeOnly := false
		if v := httpx.BoolQuery(r, "active"); v != nil {
			activeOnly = *v
		}

		list, err := svc.ListByAccount(r.Context(), uid, activeOnly)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"alarms": list})
	}
}

func SetActiveHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body struct {
			IsActive bool `json:"is_active"`
		}
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}

		a, err := svc.SetActive(r.Context(), uid, chi.URLParam(r, "id"), body.IsActive)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, a)
	}
}

func EnterCodeHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := owned(w, r, svc)
		if !ok {
			return
		}

		var body struct {
			Code string `json:"code"`
		}
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}

		e, err := svc.EnterCode(r.Context(), a.ID, body.Code, svc.now())
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, e)
	}
}

// EvaluateHandler checks the latest window now. The body is optional; a code in it is
// logged as an attempt before the decision.
func EvaluateHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := owned(w, r, svc)
		if !ok {
			return
		}

		var body struct {
			Code *string `json:"code"`
		}
		if r.ContentLength != 0 {
			if err := httpx.Decode(r, &body); err != nil {
				httpx.Error(w, err, Statuses)
				return
			}
		}

		entry, err := svc.Evaluate(r.Context(), a.ID, svc.now(), body.Code)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"penalized": entry != nil,
			"entry":     entry,
		})
	}
}

func ListEntriesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := owned(w, r, svc)
		if !ok {
			return
		}

		list, err := svc.Entries(r.Context(), a.ID, httpx.IntQuery(r, "limit", 50))
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"entries": list})
	}
}
