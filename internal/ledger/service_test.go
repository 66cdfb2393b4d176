package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalstake-backend/internal/db/dbtest"
	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/money"
)

func TestDepositAndPayout(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "0")

	d1, err := svc.Deposit(ctx, "acc-1", money.MustParse("50"), "dep-1")
	require.NoError(t, err)
	d2, err := svc.Deposit(ctx, "acc-1", money.MustParse("50"), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, d1.ID, d2.ID)

	p, err := svc.Payout(ctx, "acc-1", money.MustParse("20"), "out-1")
	require.NoError(t, err)
	assertAmount(t, "-20", p.Amount)
	assert.Equal(t, ledger.KindPayout, p.Kind)

	_, err = svc.Payout(ctx, "acc-1", money.MustParse("31"), "out-2")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	_, err = svc.Deposit(ctx, "acc-1", money.MustParse("-1"), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	acc, err := svc.Balance(ctx, "acc-1")
	require.NoError(t, err)
	assertAmount(t, "30", acc.Balance)
}

func TestDepositKeysAreScopedPerAccount(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "0")
	fundedAccount(t, svc, "acc-2", "0")

	_, err := svc.Deposit(ctx, "acc-1", money.MustParse("5"), "same")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "acc-2", money.MustParse("5"), "same")
	require.NoError(t, err)

	acc, err := svc.Balance(ctx, "acc-2")
	require.NoError(t, err)
	assertAmount(t, "5", acc.Balance)
}

func TestSummaryTotals(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "100")

	reqs := []ledger.SettleRequest{
		{Amount: money.MustParse("-30"), Kind: ledger.KindStake, Related: goalRef("g1")},
		{Amount: money.MustParse("12.50"), Kind: ledger.KindReward, Related: goalRef("g2")},
		{Amount: money.MustParse("-7"), Kind: ledger.KindPenalty, Related: ledger.Related{Type: ledger.RelatedAlarm, ID: "a1"}},
	}
	for _, req := range reqs {
		req.AccountID = "acc-1"
		_, err := svc.Settle(ctx, req)
		require.NoError(t, err)
	}

	sum, err := svc.Summary(ctx, "acc-1")
	require.NoError(t, err)
	assertAmount(t, "75.50", sum.Balance)
	assertAmount(t, "12.50", sum.TotalEarned)
	assertAmount(t, "7", sum.TotalLost)
	assertAmount(t, "30", sum.Staked)
	assertAmount(t, "100", sum.Deposited)
	assert.Equal(t, int64(4), sum.Entries)
}

type fixedForfeits map[string]string

func (f fixedForfeits) ForfeitedStakes(_ context.Context, accountID string) (decimal.Decimal, error) {
	if v, ok := f[accountID]; ok {
		return money.MustParse(v), nil
	}
	return decimal.Zero, nil
}

func TestSummaryCountsForfeitedStakesAsLost(t *testing.T) {
	conn := dbtest.Open(t)
	store := ledger.NewSQLStore(conn)
	svc := ledger.NewService(store, ledger.NewGuard(store), nil, ledger.WithForfeits(fixedForfeits{"acc-1": "30"}))
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "100")

	for _, req := range []ledger.SettleRequest{
		{Amount: money.MustParse("-30"), Kind: ledger.KindStake, Related: goalRef("g1")},
		{Amount: money.MustParse("-7"), Kind: ledger.KindPenalty, Related: ledger.Related{Type: ledger.RelatedAlarm, ID: "a1"}},
	} {
		req.AccountID = "acc-1"
		_, err := svc.Settle(ctx, req)
		require.NoError(t, err)
	}

	sum, err := svc.Summary(ctx, "acc-1")
	require.NoError(t, err)
	assertAmount(t, "30", sum.Forfeited)
	assertAmount(t, "37", sum.TotalLost)
	assertAmount(t, "30", sum.Staked)
}

func TestReconcileDetectsTamperedBalance(t *testing.T) {
	conn := dbtest.Open(t)
	store := ledger.NewSQLStore(conn)
	svc := ledger.NewService(store, ledger.NewGuard(store), nil)
	ctx := context.Background()
	fundedAccount(t, svc, "acc-1", "10")
	fundedAccount(t, svc, "acc-2", "10")

	require.NoError(t, svc.Reconcile(ctx, "acc-1"))

	_, err := conn.ExecContext(ctx, `UPDATE accounts SET balance = balance + 1 WHERE id = 'acc-1'`)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Reconcile(ctx, "acc-1"), ledger.ErrLedgerMismatch)

	bad, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acc-1"}, bad)
}
