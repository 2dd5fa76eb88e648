package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coffersTech/logstore/internal/metrics"
	"github.com/coffersTech/logstore/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// memStore is an in-memory UnitStore with failure and blocking hooks.
type memStore struct {
	mu       sync.Mutex
	units    map[HourKey][]model.LogRecord
	archived map[HourKey]bool
	writes   int
	removed  []HourKey
	failWith error
	block    chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		units:    make(map[HourKey][]model.LogRecord),
		archived: make(map[HourKey]bool),
	}
}

func (s *memStore) Write(key HourKey, records []model.LogRecord) error {
	s.mu.Lock()
	block, failWith := s.block, s.failWith
	s.mu.Unlock()
	if block != nil {
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if failWith != nil {
		return failWith
	}
	s.units[key] = append([]model.LogRecord(nil), records...)
	return nil
}

func (s *memStore) Read(key HourKey) ([]model.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LogRecord(nil), s.units[key]...), nil
}

func (s *memStore) List() ([]Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Unit
	for k, recs := range s.units {
		out = append(out, Unit{Key: k, Archived: s.archived[k], Size: int64(len(recs))})
	}
	return out, nil
}

func (s *memStore) Archive(key HourKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived[key] = true
	return nil
}

func (s *memStore) Remove(key HourKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, key)
	delete(s.archived, key)
	s.removed = append(s.removed, key)
	return nil
}

func (s *memStore) unit(key HourKey) []model.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[key]
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) setFail(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *memStore) setBlock(ch chan struct{}) {
	s.mu.Lock()
	s.block = ch
	s.mu.Unlock()
}

type testEngine struct {
	*Engine
	store   *memStore
	clock   *fakeClock
	metrics *metrics.Metrics
	hook    *test.Hook
}

func newTestEngine(t *testing.T, store *memStore, clock *fakeClock, opts Options) *testEngine {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := metrics.New(prometheus.NewRegistry())

	opts.Clock = clock.Now
	opts.Logger = logger
	opts.Metrics = m
	e, err := Open(store, opts)
	require.NoError(t, err)
	return &testEngine{Engine: e, store: store, clock: clock, metrics: m, hook: hook}
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(ctx))
}

func closeEngine(t *testing.T, e *Engine) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Close(ctx)
}

func rec(device int32, ts time.Time, msg string) model.LogRecord {
	return model.LogRecord{
		DeviceID:     device,
		Timestamp:    ts,
		EventType:    model.EventInformation,
		EventMessage: msg,
	}
}

func messages(records []model.LogRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.EventMessage
	}
	return out
}
