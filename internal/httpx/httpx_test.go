package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errOuter = errors.New("outer")
	errInner = errors.New("inner")
)

func TestErrorUsesFirstMatchingRule(t *testing.T) {
	statuses := Status{{Err: errOuter, Code: http.StatusMultiStatus}}.With(Rule{Err: errInner, Code: http.StatusConflict})
	err := fmt.Errorf("%w: %w", errOuter, errInner)

	rec := httptest.NewRecorder()
	Error(rec, err, statuses)
	assert.Equal(t, http.StatusMultiStatus, rec.Code)

	rec = httptest.NewRecorder()
	Error(rec, fmt.Errorf("wrapped: %w", errInner), statuses)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "wrapped: inner")
}

func TestErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, errors.New("pq: password authentication failed"), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestErrorSetsRetryAfterOn503(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, errOuter, Status{{Err: errOuter, Code: http.StatusServiceUnavailable}})
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestDecode(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	require.NoError(t, Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`)), &v))
	assert.Equal(t, "a", v.Name)

	err := Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":1}`)), &v)
	assert.ErrorIs(t, err, ErrBadRequest)

	rec := httptest.NewRecorder()
	Error(rec, err, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=7&bad=x&active=true", nil)
	assert.Equal(t, 7, IntQuery(r, "limit", 50))
	assert.Equal(t, 50, IntQuery(r, "bad", 50))
	assert.Equal(t, 50, IntQuery(r, "missing", 50))

	require.NotNil(t, BoolQuery(r, "active"))
	assert.True(t, *BoolQuery(r, "active"))
	assert.Nil(t, BoolQuery(r, "bad"))

	r.Header.Set("X-Idempotency-Key", "x-1")
	assert.Equal(t, "x-1", IdempotencyKey(r))
	r.Header.Set("Idempotency-Key", "k-1")
	assert.Equal(t, "k-1", IdempotencyKey(r))
}
