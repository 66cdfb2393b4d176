package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"goalstake-backend/internal/goals"
)

const (
	JobAlarms    = "alarms.evaluate"
	JobExpiry    = "goals.expire"
	JobReconcile = "ledger.reconcile"
)

type AlarmSweeper interface {
	EvaluateDue(ctx context.Context, now time.Time) (int, error)
}

type GoalExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) ([]goals.Resolution, error)
}

type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]string, error)
}

type Specs struct {
	Alarms    string
	Expiry    string
	Reconcile string
}

// Register wires the three sweeps. An empty spec leaves that job off.
func Register(s *Scheduler, specs Specs, alarms AlarmSweeper, expirer GoalExpirer, ledger Reconciler) error {
	log := s.log

	if specs.Alarms != "" {
		err := s.Add(JobAlarms, specs.Alarms, func(ctx context.Context, now time.Time) error {
			n, err := alarms.EvaluateDue(ctx, now)
			if n > 0 {
				log.Info("alarm penalties applied", zap.Int("count", n))
			}
			return err
		})
		if err != nil {
			return err
		}
	}

	if specs.Expiry != "" {
		err := s.Add(JobExpiry, specs.Expiry, func(ctx context.Context, now time.Time) error {
			resolved, err := expirer.ExpireOverdue(ctx, now)
			if len(resolved) > 0 {
				log.Info("overdue goals failed", zap.Int("count", len(resolved)))
			}
			return err
		})
		if err != nil {
			return err
		}
	}

	if specs.Reconcile != "" {
		err := s.Add(JobReconcile, specs.Reconcile, func(ctx context.Context, _ time.Time) error {
			bad, err := ledger.ReconcileAll(ctx)
			if len(bad) > 0 {
				log.Error("ledger reconciliation found mismatches", zap.Strings("account_ids", bad))
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
