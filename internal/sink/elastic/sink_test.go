package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coffersTech/logstore/internal/model"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster answers the handful of endpoints the sink uses.
type fakeCluster struct {
	mu      sync.Mutex
	indices map[string]bool
	docs    []map[string]any
	fail    bool
}

func (c *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	if c.fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"unavailable"}`)
		return
	}

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/logs":
		if !c.indices["logs"] {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/logs":
		c.indices["logs"] = true
		io.WriteString(w, `{"acknowledged":true}`)
	case r.Method == http.MethodPost && r.URL.Path == "/logs/_doc":
		var doc map[string]any
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.docs = append(c.docs, doc)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"result":"created"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestSink(t *testing.T) (*Sink, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{indices: map[string]bool{}}
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	s, err := New(Config{Addresses: []string{srv.URL}}, logger)
	require.NoError(t, err)
	return s, cluster
}

func TestSink_IndexLifecycle(t *testing.T) {
	s, _ := newTestSink(t)
	ctx := context.Background()

	exists, err := s.IndexExists(ctx, "logs")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.CreateIndex(ctx, "logs"))

	exists, err = s.IndexExists(ctx, "logs")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSink_Store(t *testing.T) {
	s, cluster := newTestSink(t)
	rec := model.LogRecord{
		DeviceID:     12,
		Timestamp:    time.Date(2026, 10, 16, 9, 0, 1, 0, time.UTC),
		EventType:    model.EventError,
		EventMessage: "overheat",
	}
	require.NoError(t, s.Store(context.Background(), "logs", rec))

	require.Len(t, cluster.docs, 1)
	doc := cluster.docs[0]
	assert.Equal(t, float64(12), doc["deviceId"])
	assert.Equal(t, "2026-10-16T09:00:01.000Z", doc["timeStamp"])
	assert.Equal(t, "ERROR", doc["eventType"])
	assert.Equal(t, "overheat", doc["eventMessage"])
}

func TestSink_ErrorResponses(t *testing.T) {
	s, cluster := newTestSink(t)
	cluster.fail = true
	ctx := context.Background()

	_, err := s.IndexExists(ctx, "logs")
	assert.Error(t, err)

	err = s.Store(ctx, "logs", model.LogRecord{Timestamp: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
