package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalstake-backend/internal/db/dbtest"
	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/money"
)

func newService(t *testing.T) (*ledger.Service, *ledger.SQLStore) {
	t.Helper()
	store := ledger.NewSQLStore(dbtest.Open(t))
	guard := ledger.NewGuard(store, ledger.WithBackoff(0))
	return ledger.NewService(store, guard, nil), store
}

func fundedAccount(t *testing.T, svc *ledger.Service, id, amount string) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.OpenAccount(ctx, id)
	require.NoError(t, err)
	if amount != "0" {
		_, err = svc.Deposit(ctx, id, money.MustParse(amount), "seed")
		require.NoError(t, err)
	}
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, money.MustParse(want).StringFixed(2), got.StringFixed(2))
}

func goalRef(id string) ledger.Related {
	return ledger.Related{Type: ledger.RelatedGoal, ID: id}
}

func TestSettleReplayReproducesBalance(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "100")

	steps := []ledger.SettleRequest{
		{Amount: money.MustParse("-40"), Kind: ledger.KindStake, Related: goalRef("g1"), IdempotencyKey: "goal:g1:stake"},
		{Amount: money.MustParse("15.25"), Kind: ledger.KindReward, Related: ledger.Related{Type: ledger.RelatedTask, ID: "t1"}, IdempotencyKey: "task:t1:reward"},
		{Amount: money.MustParse("-5"), Kind: ledger.KindPenalty, Related: ledger.Related{Type: ledger.RelatedAlarm, ID: "a1"}, IdempotencyKey: "alarm:a1:2026-01-01"},
		{Amount: money.MustParse("40"), Kind: ledger.KindPayout, Related: goalRef("g1"), IdempotencyKey: "goal:g1:owner:completed"},
	}
	for _, req := range steps {
		req.AccountID = "acc-1"
		_, err := svc.Settle(ctx, req)
		require.NoError(t, err)
	}

	acc, err := svc.Balance(ctx, "acc-1")
	require.NoError(t, err)
	assertAmount(t, "110.25", acc.Balance)
	assert.Equal(t, int64(5), acc.Version)

	require.NoError(t, svc.Reconcile(ctx, "acc-1"))

	history, err := svc.History(ctx, "acc-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, ledger.KindPayout, history[0].Kind)
	assert.Equal(t, ledger.KindDeposit, history[4].Kind)
	for _, e := range history {
		assert.True(t, e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Amount)))
	}
}

func TestSettleDuplicateKeyReturnsOriginalEntry(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "100")

	req := ledger.SettleRequest{
		AccountID:      "acc-1",
		Amount:         money.MustParse("-40"),
		Kind:           ledger.KindStake,
		Related:        goalRef("g1"),
		IdempotencyKey: "goal:g1:stake",
	}
	first, err := svc.Settle(ctx, req)
	require.NoError(t, err)
	second, err := svc.Settle(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	acc, err := svc.Balance(ctx, "acc-1")
	require.NoError(t, err)
	assertAmount(t, "60", acc.Balance)
	assert.Equal(t, int64(2), acc.Version)
}

func TestSettleConcurrentDuplicatesWriteOnce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "100")

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := svc.Settle(ctx, ledger.SettleRequest{
				AccountID:      "acc-1",
				Amount:         money.MustParse("-10"),
				Kind:           ledger.KindPenalty,
				Related:        ledger.Related{Type: ledger.RelatedAlarm, ID: "a1"},
				IdempotencyKey: "alarm:a1:2026-03-01",
			})
			ids[i], errs[i] = e.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	acc, err := svc.Balance(ctx, "acc-1")
	require.NoError(t, err)
	assertAmount(t, "90", acc.Balance)
	require.NoError(t, svc.Reconcile(ctx, "acc-1"))
}

func TestSettleConcurrentDistinctKeysAllApply(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "0")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Settle(ctx, ledger.SettleRequest{
				AccountID:      "acc-1",
				Amount:         money.MustParse("1.50"),
				Kind:           ledger.KindReward,
				Related:        ledger.Related{Type: ledger.RelatedTask, ID: fmt.Sprintf("t%d", i)},
				IdempotencyKey: fmt.Sprintf("task:t%d:reward", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	acc, err := svc.Balance(ctx, "acc-1")
	require.NoError(t, err)
	assertAmount(t, "30", acc.Balance)
	assert.Equal(t, int64(n), acc.Version)
	require.NoError(t, svc.Reconcile(ctx, "acc-1"))
}

func TestSettleInsufficientFundsLeavesBalance(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "10")

	_, err := svc.Settle(ctx, ledger.SettleRequest{
		AccountID:      "acc-1",
		Amount:         money.MustParse("-40"),
		Kind:           ledger.KindStake,
		Related:        goalRef("g1"),
		IdempotencyKey: "goal:g1:stake",
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	acc, err := svc.Balance(ctx, "acc-1")
	require.NoError(t, err)
	assertAmount(t, "10", acc.Balance)
	assert.Equal(t, int64(1), acc.Version)

	_, err = svc.EntryByKey(ctx, "goal:g1:stake")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestSettleKeyReusedForDifferentEntity(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "100")

	req := ledger.SettleRequest{
		AccountID:      "acc-1",
		Amount:         money.MustParse("-10"),
		Kind:           ledger.KindStake,
		Related:        goalRef("g1"),
		IdempotencyKey: "shared-key",
	}
	_, err := svc.Settle(ctx, req)
	require.NoError(t, err)

	req.Related = goalRef("g2")
	_, err = svc.Settle(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrIdempotencyKeyReused)
}

func TestSettleValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "100")

	cases := []struct {
		name string
		req  ledger.SettleRequest
	}{
		{"positive stake", ledger.SettleRequest{AccountID: "acc-1", Amount: money.MustParse("5"), Kind: ledger.KindStake, Related: goalRef("g")}},
		{"positive penalty", ledger.SettleRequest{AccountID: "acc-1", Amount: money.MustParse("5"), Kind: ledger.KindPenalty, Related: goalRef("g")}},
		{"negative reward", ledger.SettleRequest{AccountID: "acc-1", Amount: money.MustParse("-5"), Kind: ledger.KindReward, Related: goalRef("g")}},
		{"three decimals", ledger.SettleRequest{AccountID: "acc-1", Amount: decimal.RequireFromString("1.005"), Kind: ledger.KindReward, Related: goalRef("g")}},
		{"unknown kind", ledger.SettleRequest{AccountID: "acc-1", Amount: money.MustParse("1"), Kind: "bonus", Related: goalRef("g")}},
		{"no related", ledger.SettleRequest{AccountID: "acc-1", Amount: money.MustParse("1"), Kind: ledger.KindReward}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Settle(ctx, tc.req)
			assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
		})
	}
}

func TestSettleUnknownAccount(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Settle(context.Background(), ledger.SettleRequest{
		AccountID: "ghost",
		Amount:    money.MustParse("1"),
		Kind:      ledger.KindReward,
		Related:   goalRef("g1"),
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestSettleEmptyKeyDoesNotDeduplicate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "0")

	req := ledger.SettleRequest{AccountID: "acc-1", Amount: money.MustParse("2"), Kind: ledger.KindReward, Related: goalRef("g1")}
	a, err := svc.Settle(ctx, req)
	require.NoError(t, err)
	b, err := svc.Settle(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, a.IdempotencyKey, b.IdempotencyKey)
	acc, err := svc.Balance(ctx, "acc-1")
	require.NoError(t, err)
	assertAmount(t, "4", acc.Balance)
}

func TestSettleCancelledContext(t *testing.T) {
	svc, _ := newService(t)
	fundedAccount(t, svc, "acc-1", "10")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Settle(ctx, ledger.SettleRequest{AccountID: "acc-1", Amount: money.MustParse("1"), Kind: ledger.KindReward, Related: goalRef("g1")})
	assert.ErrorIs(t, err, context.Canceled)

	acc, err := svc.Balance(context.Background(), "acc-1")
	require.NoError(t, err)
	assertAmount(t, "10", acc.Balance)
}

func TestGuardUsesClock(t *testing.T) {
	store := ledger.NewSQLStore(dbtest.Open(t))
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := ledger.NewService(store, ledger.NewGuard(store, ledger.WithClock(func() time.Time { return at })), nil)
	fundedAccount(t, svc, "acc-1", "5")

	e, err := svc.EntryByKey(context.Background(), "wallet:acc-1:deposit:seed")
	require.NoError(t, err)
	assert.True(t, e.CreatedAt.Equal(at))
}
