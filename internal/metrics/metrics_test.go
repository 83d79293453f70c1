package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := New()
	r.Operation("apply", "ok", 3*time.Millisecond)
	r.Operation("apply", "ok", time.Millisecond)
	r.Operation("apply", "stale", time.Millisecond)
	r.LockWait(time.Microsecond)
	r.OpenProposals("acme", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.operations.WithLabelValues("apply", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("apply", "stale")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.open.WithLabelValues("acme")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.lockWait))
}

func TestHandler(t *testing.T) {
	r := New()
	r.Operation("discard", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ratify_operations_total{operation="discard",outcome="ok"} 1`)
	assert.Contains(t, string(body), "ratify_lock_wait_seconds")
}
