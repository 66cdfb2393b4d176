package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSettlement(t *testing.T) {
	before := testutil.ToFloat64(settlements.WithLabelValues("stake", "ok"))
	RecordSettlement("stake", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(settlements.WithLabelValues("stake", "ok")))
}

func TestRecordSchedulerRun(t *testing.T) {
	RecordSchedulerRun("alarms", nil)
	RecordSchedulerRun("alarms", errors.New("boom"))
	assert.GreaterOrEqual(t, testutil.ToFloat64(schedulerRuns.WithLabelValues("alarms", "error")), 1.0)
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordHTTPRequest(http.MethodGet, "/health", http.StatusOK, 3*time.Millisecond)
	RecordCollaboratorFailures(0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "goalstake_http_requests_total"))
	assert.True(t, strings.Contains(body, "goalstake_ledger_settlements_total"))
}
