package analytics

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"goalstake-backend/internal/httpx"
)

// app_opened: базовая метрика “открыли приложение”
func AppOpenedHandler(rec *Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var body struct {
			ColdStart bool   `json:"cold_start"`
			From      string `json:"from"` // push/deeplink/icon/unknown
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		env := FromRequest(r)
		env.UserID = uid

		props := map[string]any{
			"cold_start": body.ColdStart,
			"from":       body.From,
		}

		if err := rec.Log(r.Context(), env, "app_opened", props, SourceEventKeyFromRequest(r)); err != nil {
			rec.log.Warn("app_opened not stored", zap.Error(err))
		}

		httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
