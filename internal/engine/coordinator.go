package engine

import (
	"sync"

	"github.com/coffersTech/logstore/internal/model"
	"github.com/sirupsen/logrus"
)

// State is the write coordinator's position in its state machine.
type State int

const (
	// StateIdle means no write is in progress.
	StateIdle State = iota
	// StateWriting means one snapshot is being written.
	StateWriting
	// StateWritingPending means a write is in progress and data changed after its snapshot.
	StateWritingPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	case StateWritingPending:
		return "writing+pending"
	default:
		return "unknown"
	}
}

// Job is one snapshot bound for one storage unit.
type Job struct {
	Key     HourKey
	Records []model.LogRecord
}

// WriteFunc persists a job. It is called without the coordinator lock held.
// This allows the engine package to not depend on the storage package directly.
type WriteFunc func(job Job) error

// NextFunc takes the next snapshot. It is called with the coordinator lock held.
// more reports that further data is already waiting behind this job.
type NextFunc func() (job Job, more bool)

// Coordinator serializes snapshot writes: at most one write is in flight, and any
// number of triggers during that write collapse into a single follow-up write.
//
// The coordinator shares its lock with the data it snapshots, so buffer mutation and
// state transitions happen in one critical section.
type Coordinator struct {
	mu     sync.Locker
	next   NextFunc
	write  WriteFunc
	logger logrus.FieldLogger

	state State
	more  bool
	idle  chan struct{}
}

// NewCoordinator creates an idle coordinator guarded by mu.
func NewCoordinator(mu sync.Locker, next NextFunc, write WriteFunc, logger logrus.FieldLogger) *Coordinator {
	idle := make(chan struct{})
	close(idle)
	return &Coordinator{
		mu:     mu,
		next:   next,
		write:  write,
		logger: logger,
		idle:   idle,
	}
}

// Trigger requests that the latest data be persisted. The caller must hold the lock.
func (c *Coordinator) Trigger() {
	switch c.state {
	case StateWriting:
		c.state = StateWritingPending
	case StateWritingPending:
		// already queued
	default:
		job, more := c.next()
		c.state = StateWriting
		c.more = more
		c.idle = make(chan struct{})
		go c.run(job)
	}
}

// State returns the current state. The caller must hold the lock.
func (c *Coordinator) State() State {
	return c.state
}

// Idle returns a channel that is closed once the coordinator is idle.
// The caller must hold the lock.
func (c *Coordinator) Idle() <-chan struct{} {
	return c.idle
}

func (c *Coordinator) run(job Job) {
	for {
		err := c.write(job)

		c.mu.Lock()
		if err != nil {
			// No automatic retry: the next trigger writes the full buffer again.
			c.logger.WithError(err).WithField("unit", job.Key.String()).Error("Write failed")
			c.finish()
			c.mu.Unlock()
			return
		}
		if c.state == StateWritingPending || c.more {
			job, c.more = c.next()
			c.state = StateWriting
			c.mu.Unlock()
			continue
		}
		c.finish()
		c.mu.Unlock()
		return
	}
}

func (c *Coordinator) finish() {
	c.state = StateIdle
	c.more = false
	close(c.idle)
}
