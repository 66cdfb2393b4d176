// Package httpapi assembles the HTTP surface: routing, CORS, auth, rate limiting and metrics.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"goalstake-backend/internal/alarms"
	"goalstake-backend/internal/analytics"
	"goalstake-backend/internal/auth"
	"goalstake-backend/internal/friends"
	"goalstake-backend/internal/goals"
	"goalstake-backend/internal/httpx"
	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/metrics"
	"goalstake-backend/internal/tasks"
)

type Deps struct {
	Ledger  *ledger.Service
	Goals   *goals.Service
	Alarms  *alarms.Service
	Tasks   *tasks.Service
	Friends *friends.Service
	Events  *analytics.Recorder
	Auth    auth.Middleware
	// Payments guards the deposit route; nil leaves deposits unmounted.
	Payments func(http.Handler) http.Handler
	Limiter  *RateLimiter
	Origins  []string
	Log      *zap.Logger
	// Ping backs /health; nil means always healthy.
	Ping func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe(d.Log))

	r.Get("/health", healthHandler(d.Ping))
	r.Handle("/metrics", metrics.Handler())

	if d.Payments != nil {
		r.Group(func(r chi.Router) {
			r.Use(d.Payments)
			r.Post("/payments/deposits", ledger.DepositHandler(d.Ledger))
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Wrap)
		r.Use(analytics.Middleware)
		if d.Limiter != nil {
			r.Use(d.Limiter.Handler)
		}

		r.Route("/wallet", func(r chi.Router) {
			r.Post("/open", ledger.OpenAccountHandler(d.Ledger))
			r.Get("/balance", ledger.BalanceHandler(d.Ledger))
			r.Get("/history", ledger.HistoryHandler(d.Ledger))
			r.Get("/summary", ledger.SummaryHandler(d.Ledger))
			r.Post("/payout", ledger.PayoutHandler(d.Ledger))
		})

		r.Route("/goals", func(r chi.Router) {
			r.Post("/", goals.CreateGoalHandler(d.Goals))
			r.Get("/", goals.ListGoalsHandler(d.Goals))
			r.Get("/{id}", goals.GetGoalHandler(d.Goals))
			r.Post("/{id}/resolve", goals.ResolveGoalHandler(d.Goals))
			r.Post("/{id}/resettle", goals.ResettleGoalHandler(d.Goals))
			r.Post("/{id}/collaborators", goals.AddCollaboratorHandler(d.Goals))
			r.Get("/{id}/collaborators", goals.ListCollaboratorsHandler(d.Goals))
			r.Post("/{id}/verifications", goals.SubmitVerificationHandler(d.Goals))
			r.Get("/{id}/verifications", goals.ListVerificationsHandler(d.Goals))
		})
		r.Post("/verifications/{id}/approve", goals.ApproveVerificationHandler(d.Goals))

		r.Route("/friends", func(r chi.Router) {
			r.Get("/", friends.ListHandler(d.Friends))
			r.Post("/requests", friends.RequestHandler(d.Friends))
			r.Post("/{id}/accept", friends.AcceptHandler(d.Friends))
		})

		r.Route("/alarms", func(r chi.Router) {
			r.Post("/", alarms.CreateAlarmHandler(d.Alarms))
			r.Get("/", alarms.ListAlarmsHandler(d.Alarms))
			r.Patch("/{id}", alarms.SetActiveHandler(d.Alarms))
			r.Post("/{id}/code", alarms.EnterCodeHandler(d.Alarms))
			r.Post("/{id}/evaluate", alarms.EvaluateHandler(d.Alarms))
			r.Get("/{id}/entries", alarms.ListEntriesHandler(d.Alarms))
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", tasks.CreateTaskHandler(d.Tasks))
			r.Get("/", tasks.ListTasksHandler(d.Tasks))
			r.Post("/{id}/complete", tasks.CompleteTaskHandler(d.Tasks))
		})

		r.Post("/events/app-opened", analytics.AppOpenedHandler(d.Events))
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   d.Origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Idempotency-Key", "X-Platform", "X-App-Version", "X-Session-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				httpx.Message(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		_, _ = w.Write([]byte("OK"))
	}
}

// observe records latency per route pattern and logs server errors.
func observe(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			took := time.Since(started)
			metrics.RecordHTTPRequest(r.Method, route, status, took)

			if status >= http.StatusInternalServerError {
				log.Error("request failed",
					zap.String("method", r.Method),
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("took", took),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}
		})
	}
}
