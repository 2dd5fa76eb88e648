package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coffersTech/logstore/internal/metrics"
	"github.com/coffersTech/logstore/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ErrUnflushed is returned by Close when buffered data could not be persisted.
var ErrUnflushed = errors.New("buffered records were not persisted")

// PersistenceError wraps a failed unit write.
type PersistenceError struct {
	Unit HourKey
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Unit, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Unit describes one stored hour.
type Unit struct {
	Key      HourKey
	Archived bool
	Size     int64
}

// UnitStore is the durable storage behind the engine.
type UnitStore interface {
	// Write replaces the unit's content with records.
	Write(key HourKey, records []model.LogRecord) error
	// Read returns the unit's records, or none if the unit does not exist.
	Read(key HourKey) ([]model.LogRecord, error)
	List() ([]Unit, error)
	Archive(key HourKey) error
	Remove(key HourKey) error
}

// Options configures an Engine.
type Options struct {
	Clock   Clock
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics

	// Retention removes units whose hour ended longer ago than this. 0 disables it.
	Retention time.Duration
	// ArchiveAfter compresses units whose hour ended longer ago than this. 0 disables it.
	ArchiveAfter time.Duration
}

// Engine owns the ordering buffer, the current hour and the write coordinator.
// One mutex guards all three.
type Engine struct {
	mu       sync.Mutex
	store    UnitStore
	policy   *Policy
	buf      *Buffer
	key      HourKey
	dirty    bool  // appends not yet captured by a started write
	retired  []Job // tails of past hours still to be written
	writing  HourKey
	inflight []model.LogRecord // snapshot of the running write
	coord    *Coordinator

	clock        Clock
	logger       logrus.FieldLogger
	metrics      *metrics.Metrics
	retention    time.Duration
	archiveAfter time.Duration

	ingested      int64
	writes        int64
	writeFailures int64
	rotations     int64
	lastWriteAt   time.Time
	lastErr       error
}

// Open creates an Engine and loads the unit for the current hour.
func Open(store UnitStore, opts Options) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		opts.Logger = l
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}

	e := &Engine{
		store:        store,
		policy:       NewPolicy(opts.Clock),
		buf:          NewBuffer(),
		clock:        opts.Clock,
		logger:       opts.Logger.WithField("component", "engine"),
		metrics:      opts.Metrics,
		retention:    opts.Retention,
		archiveAfter: opts.ArchiveAfter,
	}
	e.key = e.policy.CurrentKey()
	e.coord = NewCoordinator(&e.mu, e.nextJob, e.persist, e.logger)

	records, err := store.Read(e.key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", e.key, err)
	}
	e.buf.Load(records)
	e.metrics.BufferedRecords.Set(float64(e.buf.Len()))

	e.logger.WithFields(logrus.Fields{
		"unit":    e.key.String(),
		"records": len(records),
	}).Info("Engine opened")
	return e, nil
}

// Ingest appends rec to the current hour and schedules a write.
// It returns before the write completes.
func (e *Engine) Ingest(rec model.LogRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur := e.policy.CurrentKey(); cur != e.key {
		e.rotate(cur)
	}

	e.buf.Append(rec)
	e.dirty = true
	e.ingested++

	if e.coord.State() != StateIdle {
		e.metrics.CoalescedTotal.Inc()
	}
	e.coord.Trigger()
	e.metrics.BufferedRecords.Set(float64(e.buf.Len()))
}

// rotate switches to a new hour. Records the in-flight write has not captured are
// kept as a retired job for the old unit so the end of an hour is never dropped.
func (e *Engine) rotate(next HourKey) {
	if e.dirty && e.buf.Len() > 0 {
		e.retired = append(e.retired, Job{Key: e.key, Records: e.buf.Snapshot()})
	}
	e.logger.WithFields(logrus.Fields{
		"from": e.key.String(),
		"to":   next.String(),
	}).Info("Hour rolled over, resetting buffer")

	e.buf.Reset()
	e.key = next
	e.dirty = false
	e.resume(next)
	e.rotations++
	e.metrics.RotationsTotal.Inc()
}

// resume loads records that already belong to key. This only finds data when the
// clock stepped back across an hour boundary; the newest copy wins.
func (e *Engine) resume(key HourKey) {
	for i := len(e.retired) - 1; i >= 0; i-- {
		if e.retired[i].Key == key {
			e.buf.Load(e.retired[i].Records)
			e.retired = append(e.retired[:i], e.retired[i+1:]...)
			e.dirty = true
			return
		}
	}
	if e.writing == key && e.coord.State() != StateIdle {
		e.buf.Load(e.inflight)
		e.dirty = true
		return
	}

	records, err := e.store.Read(key)
	if err != nil {
		e.logger.WithError(err).WithField("unit", key.String()).Error("Failed to reload unit, starting empty")
		return
	}
	if len(records) > 0 {
		e.logger.WithFields(logrus.Fields{
			"unit":    key.String(),
			"records": len(records),
		}).Warn("Clock moved back into a stored hour, unit reloaded")
	}
	e.buf.Load(records)
}

// nextJob is the coordinator's NextFunc. Retired hours are written first.
func (e *Engine) nextJob() (Job, bool) {
	if len(e.retired) > 0 {
		job := e.retired[0]
		e.retired = e.retired[1:]
		e.writing = job.Key
		e.inflight = job.Records
		return job, len(e.retired) > 0 || e.dirty
	}
	e.dirty = false
	e.writing = e.key
	e.inflight = e.buf.Snapshot()
	return Job{Key: e.key, Records: e.inflight}, false
}

// persist is the coordinator's WriteFunc.
func (e *Engine) persist(job Job) error {
	start := time.Now()
	err := e.store.Write(job.Key, job.Records)
	e.metrics.WriteDuration.Observe(time.Since(start).Seconds())

	e.mu.Lock()
	defer e.mu.Unlock()
	e.writes++

	if err != nil {
		perr := &PersistenceError{Unit: job.Key, Err: err}
		e.writeFailures++
		e.lastErr = perr
		e.metrics.WritesTotal.WithLabelValues(metrics.ResultFailed).Inc()
		if job.Key != e.key {
			// The buffer for that hour is gone; keep the snapshot for the next attempt.
			e.retired = append([]Job{job}, e.retired...)
		} else {
			e.dirty = true
		}
		return perr
	}

	e.lastWriteAt = e.clock()
	e.lastErr = nil
	e.metrics.WritesTotal.WithLabelValues(metrics.ResultOK).Inc()
	e.logger.WithFields(logrus.Fields{
		"unit":    job.Key.String(),
		"records": len(job.Records),
	}).Debug("Unit written")
	return nil
}

// Flush schedules a write when data is waiting and no write is running.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked()
}

func (e *Engine) flushLocked() {
	if (e.dirty || len(e.retired) > 0) && e.coord.State() == StateIdle {
		e.coord.Trigger()
	}
}

// WaitIdle blocks until no write is in flight or ctx is done.
func (e *Engine) WaitIdle(ctx context.Context) error {
	e.mu.Lock()
	idle := e.coord.Idle()
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes any remaining data and waits for the writer to finish.
func (e *Engine) Close(ctx context.Context) error {
	e.Flush()
	if err := e.WaitIdle(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dirty || len(e.retired) > 0 {
		return fmt.Errorf("%w: %v", ErrUnflushed, e.lastErr)
	}
	return nil
}

// RunFlusher periodically retries writes left behind by failures.
// It returns when ctx is done.
func (e *Engine) RunFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.WithField("interval", interval.String()).Info("Flusher started")
	for {
		select {
		case <-ticker.C:
			e.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// CurrentKey returns the hour the buffer belongs to.
func (e *Engine) CurrentKey() HourKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key
}

// Snapshot returns the sorted records buffered for the current hour.
func (e *Engine) Snapshot() []model.LogRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Snapshot()
}
