package goals

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/metrics"
	"goalstake-backend/internal/money"
)

// PoolPolicy decides how much a winning collaborator may receive.
type PoolPolicy string

const (
	// PoolCapped pays winners out of the forfeited stakes, pro rata when they do not cover everyone.
	PoolCapped PoolPolicy = "capped"
	// PoolUncapped pays every winner their full stake.
	PoolUncapped PoolPolicy = "uncapped"
)

func (p PoolPolicy) Valid() bool {
	return p == PoolCapped || p == PoolUncapped
}

const defaultSettleConcurrency = 4

// CollaborationSettler settles each collaborator of a resolved goal independently.
type CollaborationSettler struct {
	ledger      Settler
	policy      PoolPolicy
	concurrency int
	log         *zap.Logger
}

func NewCollaborationSettler(l Settler, policy PoolPolicy, log *zap.Logger) *CollaborationSettler {
	if !policy.Valid() {
		policy = PoolCapped
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CollaborationSettler{ledger: l, policy: policy, concurrency: defaultSettleConcurrency, log: log}
}

func CollaboratorKey(goalID, collaboratorID string, outcome Status) string {
	return fmt.Sprintf("goal:%s:collab:%s:%s", goalID, collaboratorID, outcome)
}

// CollaboratorStakeKey is the hold taken when the collaborator joins.
func CollaboratorStakeKey(goalID, collaboratorID string) string {
	return fmt.Sprintf("goal:%s:collab:%s:stake", goalID, collaboratorID)
}

// CollaboratorRewardKey is the pool share paid on top of a winner's returned stake.
func CollaboratorRewardKey(goalID, collaboratorID string, outcome Status) string {
	return CollaboratorKey(goalID, collaboratorID, outcome) + ":reward"
}

// Amounts computes the net result of every collaborator for outcome: minus the stake for a
// loser, the pool share for a winner, zero for everyone on cancellation.
func (s *CollaborationSettler) Amounts(goal Goal, outcome Status, collabs []Collaboration) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(collabs))
	if outcome == StatusCancelled {
		for _, c := range collabs {
			out[c.CollaboratorID] = decimal.Zero
		}
		return out
	}

	pool := decimal.Zero
	if outcome == StatusFailed {
		pool = pool.Add(goal.StakeAmount)
	}
	winners := decimal.Zero
	for _, c := range collabs {
		if c.wins(outcome) {
			winners = winners.Add(c.StakeAmount)
		} else {
			pool = pool.Add(c.StakeAmount)
		}
	}

	for _, c := range collabs {
		switch {
		case !c.wins(outcome):
			out[c.CollaboratorID] = c.StakeAmount.Neg()
		case s.policy == PoolUncapped || pool.GreaterThanOrEqual(winners):
			out[c.CollaboratorID] = c.StakeAmount
		default:
			out[c.CollaboratorID] = money.FloorShare(c.StakeAmount, pool, winners)
		}
	}
	return out
}

// Settle settles every collaborator of a goal resolved as outcome. Stakes were held at join
// time: a loser's hold is their settlement, a winner gets the hold back plus their pool share,
// and a cancellation refunds every hold. When only is non-empty, just those collaborator ids
// are settled; the pool still counts everyone. One failure never undoes the others: failed
// ids come back in a *PartialSettlementError.
func (s *CollaborationSettler) Settle(ctx context.Context, goal Goal, outcome Status, collabs []Collaboration, only []string) ([]ledger.Entry, error) {
	if !outcome.Terminal() {
		return nil, nil
	}

	amounts := s.Amounts(goal, outcome, collabs)

	filter := make(map[string]bool, len(only))
	for _, id := range only {
		filter[id] = true
	}

	var (
		mu      sync.Mutex
		entries = make([][]ledger.Entry, len(collabs))
		failed  = &PartialSettlementError{GoalID: goal.ID}
	)

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for i, c := range collabs {
		if len(filter) > 0 && !filter[c.CollaboratorID] {
			continue
		}
		i, c := i, c
		g.Go(func() error {
			out, err := s.settleOne(ctx, goal, outcome, c, amounts[c.CollaboratorID])
			if err != nil {
				s.log.Warn("collaborator settlement failed",
					zap.String("goal_id", goal.ID),
					zap.String("collaborator_id", c.CollaboratorID),
					zap.Error(err),
				)
				mu.Lock()
				failed.FailedCollaboratorIDs = append(failed.FailedCollaboratorIDs, c.CollaboratorID)
				failed.Causes = append(failed.Causes, err)
				mu.Unlock()
			}
			entries[i] = out
			return nil
		})
	}
	_ = g.Wait()

	out := make([]ledger.Entry, 0, len(collabs))
	for _, list := range entries {
		out = append(out, list...)
	}

	if len(failed.FailedCollaboratorIDs) > 0 {
		slices.Sort(failed.FailedCollaboratorIDs)
		metrics.RecordCollaboratorFailures(len(failed.FailedCollaboratorIDs))
		return out, failed
	}
	return out, nil
}

// settleOne returns what was written (or found) for one collaborator, even on error.
func (s *CollaborationSettler) settleOne(ctx context.Context, goal Goal, outcome Status, c Collaboration, net decimal.Decimal) ([]ledger.Entry, error) {
	hold, err := s.ledger.EntryByKey(ctx, CollaboratorStakeKey(goal.ID, c.CollaboratorID))
	if errors.Is(err, ledger.ErrEntryNotFound) {
		s.log.Warn("collaboration without a held stake",
			zap.String("goal_id", goal.ID),
			zap.String("collaborator_id", c.CollaboratorID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	related := ledger.Related{Type: ledger.RelatedCollaboration, ID: c.ID}
	held := hold.Amount.Neg()

	switch {
	case outcome == StatusCancelled:
		e, err := s.ledger.Settle(ctx, ledger.SettleRequest{
			AccountID:      c.CollaboratorID,
			Amount:         held,
			Kind:           ledger.KindRefund,
			Related:        related,
			IdempotencyKey: CollaboratorKey(goal.ID, c.CollaboratorID, outcome),
			Description:    fmt.Sprintf("goal %s cancelled", goal.ID),
		})
		if err != nil {
			return nil, err
		}
		return []ledger.Entry{e}, nil

	case !c.wins(outcome):
		// the hold is forfeited
		return []ledger.Entry{hold}, nil
	}

	back, err := s.ledger.Settle(ctx, ledger.SettleRequest{
		AccountID:      c.CollaboratorID,
		Amount:         held,
		Kind:           ledger.KindPayout,
		Related:        related,
		IdempotencyKey: CollaboratorKey(goal.ID, c.CollaboratorID, outcome),
		Description:    fmt.Sprintf("goal %s %s: stake returned", goal.ID, outcome),
	})
	if err != nil {
		return nil, err
	}
	if !net.IsPositive() {
		return []ledger.Entry{back}, nil
	}

	share, err := s.ledger.Settle(ctx, ledger.SettleRequest{
		AccountID:      c.CollaboratorID,
		Amount:         net,
		Kind:           ledger.KindReward,
		Related:        related,
		IdempotencyKey: CollaboratorRewardKey(goal.ID, c.CollaboratorID, outcome),
		Description:    fmt.Sprintf("goal %s %s: pool share", goal.ID, outcome),
	})
	if err != nil {
		return []ledger.Entry{back}, err
	}
	return []ledger.Entry{back, share}, nil
}
