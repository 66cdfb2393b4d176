package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"goalstake-backend/internal/db"
)

type CtxKey string

const (
	ctxUserIDKey   CtxKey = "analytics_user_id"
	ctxEnvelopeKey CtxKey = "analytics_envelope"
)

// PlatformServer marks events emitted by background jobs rather than a client.
const PlatformServer = "server"

// Envelope is what we store with every event.
type Envelope struct {
	UserID       string
	SessionID    string
	Platform     string
	AppVersion   string
	DeviceLocale string
	IPCountry    string
}

// FromRequest extracts event envelope fields from request.
// Backend-trustable fields only.
func FromRequest(r *http.Request) Envelope {
	platform := strings.TrimSpace(r.Header.Get("X-Platform"))
	if platform == "" {
		platform = "unknown"
	} else {
		platform = strings.ToLower(platform)
		if platform != "ios" && platform != "android" && platform != "web" {
			platform = "unknown"
		}
	}

	appVer := strings.TrimSpace(r.Header.Get("X-App-Version"))
	locale := strings.TrimSpace(r.Header.Get("Accept-Language"))
	if locale == "" {
		locale = strings.TrimSpace(r.Header.Get("X-Device-Locale"))
	}

	sessionID := strings.TrimSpace(r.Header.Get("X-Session-Id"))

	// ip_country: geoip пока нет
	return Envelope{
		SessionID:    sessionID,
		Platform:     platform,
		AppVersion:   appVer,
		DeviceLocale: locale,
		IPCountry:    "",
	}
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxUserIDKey).(string)
	return uid, ok && uid != ""
}

// WithEnvelope carries the request envelope down to the services that emit events.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, ctxEnvelopeKey, env)
}

func envelopeFromContext(ctx context.Context) Envelope {
	if env, ok := ctx.Value(ctxEnvelopeKey).(Envelope); ok {
		return env
	}
	return Envelope{Platform: PlatformServer}
}

// Middleware stores the request envelope in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithEnvelope(r.Context(), FromRequest(r))))
	})
}

// Client-provided idempotency key (optional)
// If present and duplicates, insert is ignored.
func SourceEventKeyFromRequest(r *http.Request) string {
	// preferred: Idempotency-Key header
	k := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if k != "" {
		return k
	}
	// fallback
	return strings.TrimSpace(r.Header.Get("X-Source-Event-Key"))
}

// Recorder writes product events to analytics_events.
type Recorder struct {
	db  *sqlx.DB
	log *zap.Logger
	now func() time.Time
}

func NewRecorder(conn *sqlx.DB, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{db: conn, log: log, now: time.Now}
}

// Log inserts one analytics event.
// Never logs sensitive raw text; caller passes sanitized props.
func (rec *Recorder) Log(ctx context.Context, env Envelope, eventName string, props any, sourceEventKey string) error {
	if eventName == "" {
		return nil
	}

	userID := env.UserID
	if userID == "" {
		uid, ok := UserIDFromContext(ctx)
		if !ok {
			// no user => skip
			return nil
		}
		userID = uid
	}
	if env.Platform == "" {
		env.Platform = "unknown"
	}

	b, err := json.Marshal(props)
	if err != nil {
		return err
	}

	// If source_event_key duplicates -> do nothing
	_, err = rec.db.ExecContext(ctx, rec.db.Rebind(`
		INSERT INTO analytics_events (
			id, event_name, event_time,
			user_id, session_id,
			platform, app_version, device_locale, ip_country,
			source_event_key,
			properties
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_event_key) DO NOTHING
	`), uuid.NewString(), eventName, db.Millis(rec.now()),
		userID, nullIfEmpty(env.SessionID),
		env.Platform, env.AppVersion, nullIfEmpty(env.DeviceLocale), nullIfEmpty(env.IPCountry),
		nullIfEmpty(sourceEventKey),
		string(b),
	)
	return err
}

// Track is Log for service code: the envelope comes from ctx and failures are only logged,
// so analytics never breaks a money flow.
func (rec *Recorder) Track(ctx context.Context, userID, eventName string, props map[string]any, sourceEventKey string) {
	env := envelopeFromContext(ctx)
	env.UserID = userID
	if err := rec.Log(ctx, env, eventName, props, sourceEventKey); err != nil {
		rec.log.Warn("analytics write failed",
			zap.String("event", eventName),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// Count returns how many events with the name a user has.
func (rec *Recorder) Count(ctx context.Context, userID, eventName string) (int, error) {
	var n int
	err := rec.db.GetContext(ctx, &n, rec.db.Rebind(`
		SELECT COUNT(*) FROM analytics_events WHERE user_id = ? AND event_name = ?
	`), userID, eventName)
	return n, err
}

func nullIfEmpty(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
