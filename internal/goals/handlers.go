package goals

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"goalstake-backend/internal/auth"
	"goalstake-backend/internal/httpx"
	"goalstake-backend/internal/ledger"
)

var Statuses = httpx.Status{
	{Err: ErrGoalNotFound, Code: http.StatusNotFound},
	{Err: ErrVerificationNotFound, Code: http.StatusNotFound},
	{Err: ErrGoalAlreadyResolved, Code: http.StatusConflict},
	{Err: ErrAlreadyCollaborating, Code: http.StatusConflict},
	{Err: ErrCancelNotAllowed, Code: http.StatusConflict},
	{Err: ErrCollaborationClosed, Code: http.StatusConflict},
	{Err: ErrVerificationRequired, Code: http.StatusConflict},
	{Err: ErrNotGoalOwner, Code: http.StatusForbidden},
	{Err: ErrSelfApproval, Code: http.StatusForbidden},
	{Err: ErrNotFriends, Code: http.StatusForbidden},
	{Err: ErrNotGoalReviewer, Code: http.StatusForbidden},
	{Err: ErrInvalidGoal, Code: http.StatusBadRequest},
	{Err: ErrInvalidEvidence, Code: http.StatusBadRequest},
	{Err: ErrStakeMismatch, Code: http.StatusBadRequest},
}.With(ledger.Statuses...)

// writeResolution answers 207 with the failed ids when only some settlements went through.
func writeResolution(w http.ResponseWriter, res Resolution, err error) {
	if err == nil {
		httpx.JSON(w, http.StatusOK, res)
		return
	}
	var partial *PartialSettlementError
	if res.Goal.ID != "" && errors.As(err, &partial) {
		httpx.JSON(w, http.StatusMultiStatus, map[string]any{
			"resolution":              res,
			"failed_collaborator_ids": partial.FailedCollaboratorIDs,
			"error":                   err.Error(),
		})
		return
	}
	httpx.Error(w, err, Statuses)
}

func CreateGoalHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body struct {
			Title                string          `json:"title"`
			Description          string          `json:"description"`
			GoalType             GoalType        `json:"goal_type"`
			TargetValue          string          `json:"target_value"`
			Deadline             time.Time       `json:"deadline"`
			StakeAmount          decimal.Decimal `json:"stake_amount"`
			VerificationRequired *bool           `json:"verification_required"`
		}
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}

		g, stake, err := svc.CreateGoal(r.Context(), NewGoal{
			OwnerID:              uid,
			Title:                body.Title,
			Description:          body.Description,
			GoalType:             body.GoalType,
			TargetValue:          body.TargetValue,
			Deadline:             body.Deadline,
			StakeAmount:          body.StakeAmount,
			VerificationRequired: body.VerificationRequired,
		})
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]any{"goal": g, "stake_entry": stake})
	}
}

func ListGoalsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var status *Status
		if raw := r.URL.Query().Get("status"); raw != "" {
			st := Status(raw)
			status = &st
		}

		list, err := svc.ListByOwner(r.Context(), uid, status)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"goals": list})
	}
}

func GetGoalHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		g, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		if g.OwnerID != uid {
			httpx.Error(w, ErrNotGoalOwner, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, g)
	}
}

func ResolveGoalHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body struct {
			Outcome string `json:"outcome"`
		}
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		outcome, err := ParseOutcome(body.Outcome)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}

		res, err := svc.Resolve(r.Context(), chi.URLParam(r, "id"), outcome, httpx.IdempotencyKey(r), uid)
		writeResolution(w, res, err)
	}
}

func ResettleGoalHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body struct {
			CollaboratorIDs []string `json:"collaborator_ids"`
		}
		if r.ContentLength != 0 {
			if err := httpx.Decode(r, &body); err != nil {
				httpx.Error(w, err, Statuses)
				return
			}
		}

		goalID := chi.URLParam(r, "id")
		g, err := svc.Get(r.Context(), goalID)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		if g.OwnerID != uid {
			httpx.Error(w, ErrNotGoalOwner, Statuses)
			return
		}

		res, err := svc.Resettle(r.Context(), goalID, body.CollaboratorIDs)
		writeResolution(w, res, err)
	}
}

// AddCollaboratorHandler lets the signed-in user back (or bet against) a friend's goal.
func AddCollaboratorHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body struct {
			StakeAmount     decimal.Decimal `json:"stake_amount"`
			WillEarnIfFails bool            `json:"will_earn_if_fails"`
		}
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}

		c, hold, err := svc.AddCollaborator(r.Context(), chi.URLParam(r, "id"), uid, body.StakeAmount, body.WillEarnIfFails)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]any{"collaboration": c, "stake_entry": hold})
	}
}

func ListCollaboratorsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.UserIDFromContext(r.Context()); !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		list, err := svc.ListCollaborators(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"collaborators": list})
	}
}

func SubmitVerificationHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body struct {
			Evidence      Evidence `json:"evidence"`
			VerifiedValue string   `json:"verified_value"`
		}
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}

		v, err := svc.SubmitVerification(r.Context(), chi.URLParam(r, "id"), uid, body.Evidence, body.VerifiedValue)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusCreated, v)
	}
}

func ListVerificationsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.UserIDFromContext(r.Context()); !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		list, err := svc.ListVerifications(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"verifications": list})
	}
}

func ApproveVerificationHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		v, err := svc.ApproveVerification(r.Context(), chi.URLParam(r, "id"), uid)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, v)
	}
}
