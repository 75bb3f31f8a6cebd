package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/domain"
	"github.com/ashureev/angel-console/internal/notify"
	"github.com/ashureev/angel-console/internal/venture"
)

var (
	_ angel.Observer   = (*Metrics)(nil)
	_ venture.Observer = (*Metrics)(nil)
	_ notify.Observer  = (*Metrics)(nil)
)

func TestCounters(t *testing.T) {
	m := New()

	m.RefreshFinished(angel.RefreshSucceeded)
	m.RefreshFinished(angel.RefreshSucceeded)
	m.RefreshFinished(angel.RefreshFailed)
	m.RequestQueued()
	m.CallFailed(angel.KindRateLimit)
	m.ExchangeCompleted(domain.PhaseKYC)
	m.TransitionEntered(domain.TransitionPlanToRoadmap)
	m.NoticeSent(angel.KindServer, false)
	m.VenturesEvicted(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.refreshes.WithLabelValues(angel.RefreshSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues(angel.RefreshFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("RATE_LIMIT_EXCEEDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exchanges.WithLabelValues("KYC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notices.WithLabelValues("SERVER_ERROR", "false")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.evictions))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RequestQueued()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "angel_console_refresh_queued_requests_total 1")
}
