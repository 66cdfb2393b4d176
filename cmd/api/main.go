package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"goalstake-backend/internal/alarms"
	"goalstake-backend/internal/analytics"
	"goalstake-backend/internal/auth"
	"goalstake-backend/internal/config"
	"goalstake-backend/internal/db"
	"goalstake-backend/internal/friends"
	"goalstake-backend/internal/goals"
	"goalstake-backend/internal/httpapi"
	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/scheduler"
	"goalstake-backend/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// логгера ещё нет
		_, _ = os.Stderr.WriteString("❌ config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString("❌ logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("❌ server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(cfg.DBDriver, cfg.DSN()); err != nil {
		return err
	}
	log.Info("✅ Migrations applied", zap.String("driver", cfg.DBDriver))

	database, err := db.Connect(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return err
	}
	defer database.Close()
	log.Info("✅ Connected to database", zap.String("driver", cfg.DBDriver))

	events := analytics.NewRecorder(database, log.Named("analytics"))

	store := ledger.NewSQLStore(database)
	guard := ledger.NewGuard(store,
		ledger.WithMaxAttempts(cfg.SettleMaxAttempts),
		ledger.WithBackoff(cfg.SettleBackoffBase),
		ledger.WithLogger(log.Named("ledger")),
	)
	goalsRepo := goals.NewRepository(database)
	ledgerSvc := ledger.NewService(store, guard, log.Named("ledger"), ledger.WithForfeits(goalsRepo))

	friendsSvc := friends.NewService(
		friends.NewRepository(database),
		friends.WithEvents(events),
		friends.WithLogger(log.Named("friends")),
	)
	goalsSvc := goals.NewService(
		goalsRepo,
		ledgerSvc,
		goals.NewCollaborationSettler(ledgerSvc, goals.PoolPolicy(cfg.CollabRewardPool), log.Named("collaborations")),
		goals.WithEvents(events),
		goals.WithFriends(friendsSvc),
		goals.WithLogger(log.Named("goals")),
	)
	alarmsSvc := alarms.NewService(
		alarms.NewRepository(database),
		ledgerSvc,
		alarms.WithEvents(events),
		alarms.WithLogger(log.Named("alarms")),
		alarms.WithWindowMinutes(cfg.AlarmWindowMinutes),
	)
	tasksSvc := tasks.NewService(
		tasks.NewRepository(database),
		ledgerSvc,
		tasks.WithEvents(events),
		tasks.WithLogger(log.Named("tasks")),
	)

	schedOpts := []scheduler.Option{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		schedOpts = append(schedOpts, scheduler.WithLease(scheduler.NewRedisLease(rdb)))
		log.Info("✅ Connected to Redis", zap.String("addr", cfg.RedisAddr))
	}
	sched := scheduler.New(log.Named("scheduler"), schedOpts...)
	err = scheduler.Register(sched, scheduler.Specs{
		Alarms:    cfg.SchedulerAlarmSpec,
		Expiry:    cfg.SchedulerExpirySpec,
		Reconcile: cfg.SchedulerReconcileSpec,
	}, alarmsSvc, goalsSvc, ledgerSvc)
	if err != nil {
		return err
	}
	sched.Start()

	limiter := httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				limiter.Cleanup()
			}
		}
	}()

	var payments func(http.Handler) http.Handler
	if cfg.PaymentsJWTSecret != "" {
		payments = auth.RequireService([]byte(cfg.PaymentsJWTSecret), auth.ServicePayments)
	} else {
		log.Warn("⚠️ PAYMENTS_JWT_SECRET is not set, deposits are disabled")
	}

	handler := httpapi.NewRouter(httpapi.Deps{
		Ledger:   ledgerSvc,
		Goals:    goalsSvc,
		Alarms:   alarmsSvc,
		Tasks:    tasksSvc,
		Friends:  friendsSvc,
		Events:   events,
		Auth:     auth.New([]byte(cfg.JWTSecret)),
		Payments: payments,
		Limiter:  limiter,
		Origins:  cfg.CORSOrigins,
		Log:      log.Named("http"),
		Ping:     database.PingContext,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("🚀 API server is running", zap.String("addr", cfg.HTTPAddr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("🛑 Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("👋 Bye")
	return nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
