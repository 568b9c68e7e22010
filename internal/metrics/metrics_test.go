package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.MessageDispatched("direct")
	m.MessageDispatched("direct")
	m.Translation(OutcomeFailed)
	m.Push("fcm", OutcomeOK)
	m.TransportFailure("bus")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.MessagesRead(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesDispatched.WithLabelValues("direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.translations.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushes.WithLabelValues("fcm", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transportFailures.WithLabelValues("bus")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveConnections))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.readReceipts))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MessageDispatched("group")
		m.Translation(OutcomeOK)
		m.ConnectionOpened()
		m.MessagesRead(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.MessageDispatched("group")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `unitalk_messages_dispatched_total{kind="group"} 1`)
}
