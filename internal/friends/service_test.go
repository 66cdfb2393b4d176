package friends_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalstake-backend/internal/auth"
	"goalstake-backend/internal/db/dbtest"
	"goalstake-backend/internal/friends"
)

func newService(t *testing.T) *friends.Service {
	t.Helper()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	return friends.NewService(friends.NewRepository(dbtest.Open(t)), friends.WithClock(func() time.Time { return now }))
}

func TestRequestAndAccept(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	f, err := svc.Request(ctx, "ana", "ben")
	require.NoError(t, err)
	assert.Equal(t, friends.StatusPending, f.Status)

	ok, err := svc.AreFriends(ctx, "ana", "ben")
	require.NoError(t, err)
	assert.False(t, ok, "pending is not a friendship yet")

	_, err = svc.Accept(ctx, f.ID, "ana")
	assert.ErrorIs(t, err, friends.ErrNotAddressee)

	accepted, err := svc.Accept(ctx, f.ID, "ben")
	require.NoError(t, err)
	assert.Equal(t, friends.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)

	again, err := svc.Accept(ctx, f.ID, "ben")
	require.NoError(t, err)
	assert.Equal(t, friends.StatusAccepted, again.Status)

	for _, pair := range [][2]string{{"ana", "ben"}, {"ben", "ana"}} {
		ok, err = svc.AreFriends(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, ok, pair)
	}

	list, err := svc.List(ctx, "ben", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ana", list[0].Other("ben"))
}

func TestRequestIsIdempotentPerPair(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	first, err := svc.Request(ctx, "ana", "ben")
	require.NoError(t, err)
	dup, err := svc.Request(ctx, "ana", "ben")
	require.NoError(t, err)
	assert.Equal(t, first.ID, dup.ID)
	assert.Equal(t, friends.StatusPending, dup.Status)

	// ben asking back accepts ana's request
	mutual, err := svc.Request(ctx, "ben", "ana")
	require.NoError(t, err)
	assert.Equal(t, first.ID, mutual.ID)
	assert.Equal(t, friends.StatusAccepted, mutual.Status)

	pending := friends.StatusPending
	list, err := svc.List(ctx, "ana", &pending)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRequestValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Request(ctx, "ana", "ana")
	assert.ErrorIs(t, err, friends.ErrInvalidRequest)
	_, err = svc.Request(ctx, "ana", " ")
	assert.ErrorIs(t, err, friends.ErrInvalidRequest)

	_, err = svc.Accept(ctx, "missing", "ana")
	assert.ErrorIs(t, err, friends.ErrFriendshipNotFound)

	ok, err := svc.AreFriends(ctx, "ana", "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func as(svc *friends.Service, uid string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithUserID(req.Context(), uid)))
		})
	})
	r.Post("/friends/requests", friends.RequestHandler(svc))
	r.Post("/friends/{id}/accept", friends.AcceptHandler(svc))
	r.Get("/friends", friends.ListHandler(svc))
	return r
}

func TestFriendHandlers(t *testing.T) {
	svc := newService(t)
	ana := as(svc, "ana")
	ben := as(svc, "ben")

	rec := httptest.NewRecorder()
	ana.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/friends/requests", strings.NewReader(`{"friend_id":"ben"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	list, err := svc.List(context.Background(), "ben", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].ID

	rec = httptest.NewRecorder()
	ana.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/friends/"+id+"/accept", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	ben.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/friends/"+id+"/accept", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"accepted"`)

	rec = httptest.NewRecorder()
	ben.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/friends?status=accepted", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = httptest.NewRecorder()
	ben.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/friends?status=blocked", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	ana.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/friends/requests", strings.NewReader(`{"friend_id":"ana"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
