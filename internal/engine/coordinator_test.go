package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coffersTech/logstore/internal/model"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// versioned hands out jobs whose record count is the data version at snapshot time.
type versioned struct {
	version int
}

func (v *versioned) next() (Job, bool) {
	return Job{Records: make([]model.LogRecord, v.version)}, false
}

func waitCoordinator(t *testing.T, mu *sync.Mutex, c *Coordinator) {
	t.Helper()
	mu.Lock()
	idle := c.Idle()
	mu.Unlock()
	select {
	case <-idle:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not become idle")
	}
}

func TestCoordinator_SingleFlight(t *testing.T) {
	var mu sync.Mutex
	data := &versioned{}
	started := make(chan int, 10)
	release := make(chan struct{})
	write := func(job Job) error {
		started <- len(job.Records)
		<-release
		return nil
	}
	logger, _ := test.NewNullLogger()
	c := NewCoordinator(&mu, data.next, write, logger)

	mu.Lock()
	assert.Equal(t, StateIdle, c.State())
	data.version = 1
	c.Trigger()
	assert.Equal(t, StateWriting, c.State())
	mu.Unlock()
	require.Equal(t, 1, <-started)

	// Triggers during a write collapse into one pending write.
	mu.Lock()
	for v := 2; v <= 5; v++ {
		data.version = v
		c.Trigger()
	}
	assert.Equal(t, StateWritingPending, c.State())
	mu.Unlock()

	release <- struct{}{}
	// The follow-up write sees the latest data.
	require.Equal(t, 5, <-started)
	mu.Lock()
	assert.Equal(t, StateWriting, c.State())
	mu.Unlock()

	release <- struct{}{}
	waitCoordinator(t, &mu, c)

	mu.Lock()
	assert.Equal(t, StateIdle, c.State())
	mu.Unlock()
	assert.Empty(t, started, "no extra writes expected")
}

func TestCoordinator_MoreDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	queue := []int{1, 2, 3}
	next := func() (Job, bool) {
		n := queue[0]
		queue = queue[1:]
		return Job{Records: make([]model.LogRecord, n)}, len(queue) > 0
	}
	var (
		wmu     sync.Mutex
		written []int
	)
	write := func(job Job) error {
		wmu.Lock()
		written = append(written, len(job.Records))
		wmu.Unlock()
		return nil
	}
	logger, _ := test.NewNullLogger()
	c := NewCoordinator(&mu, next, write, logger)

	mu.Lock()
	c.Trigger()
	mu.Unlock()
	waitCoordinator(t, &mu, c)

	wmu.Lock()
	defer wmu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, written)
}

func TestCoordinator_FailureReturnsToIdle(t *testing.T) {
	var mu sync.Mutex
	data := &versioned{version: 1}
	var calls int
	release := make(chan struct{})
	write := func(job Job) error {
		calls++
		<-release
		return errors.New("disk full")
	}
	logger, hook := test.NewNullLogger()
	c := NewCoordinator(&mu, data.next, write, logger)

	mu.Lock()
	c.Trigger()
	c.Trigger()
	assert.Equal(t, StateWritingPending, c.State())
	mu.Unlock()

	close(release)
	waitCoordinator(t, &mu, c)

	mu.Lock()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, calls, "a failed write is not retried automatically")
	mu.Unlock()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Write failed", hook.LastEntry().Message)

	// A later trigger starts a fresh write.
	mu.Lock()
	c.Trigger()
	mu.Unlock()
	waitCoordinator(t, &mu, c)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "writing", StateWriting.String())
	assert.Equal(t, "writing+pending", StateWritingPending.String())
}
