package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalstake-backend/internal/alarms"
	"goalstake-backend/internal/analytics"
	"goalstake-backend/internal/auth"
	"goalstake-backend/internal/db/dbtest"
	"goalstake-backend/internal/friends"
	"goalstake-backend/internal/goals"
	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/tasks"
)

var (
	secret         = []byte("test-secret")
	paymentsSecret = []byte("test-payments-secret")
)

func newServer(t *testing.T, limiter *RateLimiter, ping func(context.Context) error) *httptest.Server {
	t.Helper()
	conn := dbtest.Open(t)
	store := ledger.NewSQLStore(conn)
	goalsRepo := goals.NewRepository(conn)
	ledgerSvc := ledger.NewService(store, ledger.NewGuard(store, ledger.WithBackoff(0)), nil, ledger.WithForfeits(goalsRepo))
	events := analytics.NewRecorder(conn, nil)
	friendsSvc := friends.NewService(friends.NewRepository(conn), friends.WithEvents(events))

	h := NewRouter(Deps{
		Ledger: ledgerSvc,
		Goals: goals.NewService(goalsRepo, ledgerSvc,
			goals.NewCollaborationSettler(ledgerSvc, goals.PoolCapped, nil),
			goals.WithEvents(events),
			goals.WithFriends(friendsSvc),
		),
		Alarms:   alarms.NewService(alarms.NewRepository(conn), ledgerSvc, alarms.WithEvents(events)),
		Tasks:    tasks.NewService(tasks.NewRepository(conn), ledgerSvc, tasks.WithEvents(events)),
		Friends:  friendsSvc,
		Events:   events,
		Auth:     auth.New(secret),
		Payments: auth.RequireService(paymentsSecret, auth.ServicePayments),
		Limiter:  limiter,
		Origins:  []string{"https://app.example"},
		Ping:     ping,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func newClient(t *testing.T, srv *httptest.Server, uid string) *client {
	tok, err := auth.GenerateToken(secret, uid)
	require.NoError(t, err)
	return &client{t: t, base: srv.URL, token: tok}
}

func newPaymentsClient(t *testing.T, srv *httptest.Server) *client {
	tok, err := auth.GenerateServiceToken(paymentsSecret, auth.ServicePayments)
	require.NoError(t, err)
	return &client{t: t, base: srv.URL, token: tok}
}

func (c *client) do(method, path, body string, headers ...string) (int, map[string]any) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer res.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func TestGoalLifecycleOverHTTP(t *testing.T) {
	srv := newServer(t, nil, nil)
	owner := newClient(t, srv, "owner-1")
	friend := newClient(t, srv, "friend-1")
	payments := newPaymentsClient(t, srv)

	code, _ := owner.do(http.MethodPost, "/wallet/open", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = payments.do(http.MethodPost, "/payments/deposits", `{"account_id":"owner-1","amount":"100"}`, "Idempotency-Key", "d1")
	require.Equal(t, http.StatusOK, code)
	code, _ = friend.do(http.MethodPost, "/wallet/open", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = payments.do(http.MethodPost, "/payments/deposits", `{"account_id":"friend-1","amount":"50"}`, "Idempotency-Key", "d1")
	require.Equal(t, http.StatusOK, code)

	code, body := friend.do(http.MethodPost, "/friends/requests", `{"friend_id":"owner-1"}`)
	require.Equal(t, http.StatusCreated, code, body)
	code, body = owner.do(http.MethodPost, "/friends/"+body["id"].(string)+"/accept", "")
	require.Equal(t, http.StatusOK, code, body)

	deadline := time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339)
	code, body = owner.do(http.MethodPost, "/goals", fmt.Sprintf(
		`{"title":"SAT 1500","goal_type":"sat_score","target_value":"1500","deadline":%q,"stake_amount":"40"}`, deadline))
	require.Equal(t, http.StatusCreated, code, body)
	goalID := body["goal"].(map[string]any)["id"].(string)

	code, body = friend.do(http.MethodPost, "/goals/"+goalID+"/collaborators", `{"stake_amount":"10","will_earn_if_fails":true}`)
	require.Equal(t, http.StatusCreated, code, body)

	code, body = friend.do(http.MethodGet, "/wallet/balance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "40", body["balance"])

	code, _ = owner.do(http.MethodPost, "/goals/"+goalID+"/resolve", `{"outcome":"failed"}`, "Idempotency-Key", "r1")
	require.Equal(t, http.StatusOK, code)

	// a retry of the same request is answered again, a new one conflicts
	code, body = owner.do(http.MethodPost, "/goals/"+goalID+"/resolve", `{"outcome":"failed"}`, "Idempotency-Key", "r1")
	assert.Equal(t, http.StatusOK, code, body)
	code, body = owner.do(http.MethodPost, "/goals/"+goalID+"/resolve", `{"outcome":"failed"}`, "Idempotency-Key", "r2")
	assert.Equal(t, http.StatusConflict, code, body)

	code, body = owner.do(http.MethodGet, "/wallet/balance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "60", body["balance"])

	// the friend bet on failure: their 10 comes back with 10 from the forfeited pool
	code, body = friend.do(http.MethodGet, "/wallet/balance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "60", body["balance"])

	code, body = owner.do(http.MethodGet, "/wallet/summary", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "40", body["total_lost"])
}

func TestStrangerCannotJoinGoal(t *testing.T) {
	srv := newServer(t, nil, nil)
	owner := newClient(t, srv, "owner-1")
	stranger := newClient(t, srv, "stranger-1")
	payments := newPaymentsClient(t, srv)

	for _, c := range []*client{owner, stranger} {
		code, _ := c.do(http.MethodPost, "/wallet/open", "")
		require.Equal(t, http.StatusOK, code)
	}
	for _, id := range []string{"owner-1", "stranger-1"} {
		code, _ := payments.do(http.MethodPost, "/payments/deposits", fmt.Sprintf(`{"account_id":%q,"amount":"50"}`, id))
		require.Equal(t, http.StatusOK, code)
	}

	deadline := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	code, body := owner.do(http.MethodPost, "/goals", fmt.Sprintf(`{"title":"Read 3 books","deadline":%q,"stake_amount":"10"}`, deadline))
	require.Equal(t, http.StatusCreated, code, body)
	goalID := body["goal"].(map[string]any)["id"].(string)

	code, _ = stranger.do(http.MethodPost, "/goals/"+goalID+"/collaborators", `{"stake_amount":"10","will_earn_if_fails":true}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = stranger.do(http.MethodGet, "/wallet/balance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "50", body["balance"])
}

func TestDepositNeedsPaymentsCredential(t *testing.T) {
	srv := newServer(t, nil, nil)
	user := newClient(t, srv, "acc-1")

	code, _ := user.do(http.MethodPost, "/wallet/open", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = user.do(http.MethodPost, "/payments/deposits", `{"account_id":"acc-1","amount":"1000"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = user.do(http.MethodPost, "/wallet/deposit", `{"amount":"1000"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, body := user.do(http.MethodGet, "/wallet/balance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0", body["balance"])
}

func TestAuthAndHealth(t *testing.T) {
	srv := newServer(t, nil, nil)

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/wallet/balance")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestHealthReportsDatabaseDown(t *testing.T) {
	srv := newServer(t, nil, func(context.Context) error { return errors.New("down") })

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestRateLimitPerAccount(t *testing.T) {
	srv := newServer(t, NewRateLimiter(0.001, 2), nil)
	a := newClient(t, srv, "acc-a")
	b := newClient(t, srv, "acc-b")

	for n := 0; n < 2; n++ {
		code, _ := a.do(http.MethodGet, "/tasks", "")
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := a.do(http.MethodGet, "/tasks", "")
	assert.Equal(t, http.StatusTooManyRequests, code)

	code, _ = b.do(http.MethodGet, "/tasks", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newServer(t, nil, nil)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/goals", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "https://app.example", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))

	now = now.Add(limiterIdle + time.Second)
	rl.Cleanup()
	assert.Empty(t, rl.visitors)
}
