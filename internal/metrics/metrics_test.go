package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.EventSent("newMessage")
		m.ObserveGateway("create_message", time.Now())
		m.OfflineHandoff("queued")
	})
}

func TestCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.EventSent("newMessage")
	m.EventSent("newMessage")
	m.MessageIngested("saved")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Connections))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsSent.WithLabelValues("newMessage")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesIngested.WithLabelValues("saved")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ws_active_connections 1"))
}
