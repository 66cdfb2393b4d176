package friends

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"goalstake-backend/internal/auth"
	"goalstake-backend/internal/httpx"
	"goalstake-backend/internal/ledger"
)

var Statuses = httpx.Status{
	{Err: ErrFriendshipNotFound, Code: http.StatusNotFound},
	{Err: ErrNotAddressee, Code: http.StatusForbidden},
	{Err: ErrInvalidRequest, Code: http.StatusBadRequest},
}.With(ledger.Statuses...)

func RequestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body struct {
			FriendID string `json:"friend_id"`
		}
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, err, Statuses)
			return
		}

		f, err := svc.Request(r.Context(), uid, body.FriendID)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusCreated, f)
	}
}

func AcceptHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		f, err := svc.Accept(r.Context(), chi.URLParam(r, "id"), uid)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, f)
	}
}

// ListHandler lists the caller's friendships; ?status=pending shows open requests.
func ListHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var status *Status
		switch v := Status(r.URL.Query().Get("status")); v {
		case "":
		case StatusPending, StatusAccepted:
			status = &v
		default:
			httpx.Message(w, http.StatusBadRequest, "status must be pending or accepted")
			return
		}

		list, err := svc.List(r.Context(), uid, status)
		if err != nil {
			httpx.Error(w, err, Statuses)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"friendships": list})
	}
}
