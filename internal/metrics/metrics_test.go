package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnPrivateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AcksTotal.WithLabelValues("ws", StatusSuccess).Inc()
	m.WritesTotal.WithLabelValues(ResultFailed).Add(2)
	m.BufferedRecords.Set(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcksTotal.WithLabelValues("ws", StatusSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WritesTotal.WithLabelValues(ResultFailed)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BufferedRecords))

	// A second set on another registry must not collide.
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

func TestHandler_ExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RotationsTotal.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "logstore_buffer_rotations_total 1")
}
