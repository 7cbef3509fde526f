package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSync(t *testing.T) {
	start := time.Now()
	run := inter.SyncRun{
		Terminal:   "metrics-door",
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Users:      7,
		Templates:  3,
		Attendance: 605,
	}
	RecordSync(run, nil)
	RecordSync(inter.SyncRun{Terminal: "metrics-door"}, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(syncRuns.WithLabelValues("metrics-door", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(syncRuns.WithLabelValues("metrics-door", "error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(syncedRecords.WithLabelValues("metrics-door", "users")))
	assert.Equal(t, 605.0, testutil.ToFloat64(syncedRecords.WithLabelValues("metrics-door", "attendance")))
}

func TestHandlerExposesHTTPMetrics(t *testing.T) {
	RecordHTTPRequest(http.MethodGet, "GET /api/terminals", http.StatusOK, 3*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "GET /api/terminals", "200")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "goster_zk_http_requests_total")
}
