package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RunCleaner periodically archives and removes old units. It returns when ctx is done.
func (e *Engine) RunCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 || (e.retention <= 0 && e.archiveAfter <= 0) {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.WithFields(logrus.Fields{
		"retention":     e.retention.String(),
		"archive_after": e.archiveAfter.String(),
		"interval":      interval.String(),
	}).Info("Cleaner started")

	for {
		select {
		case <-ticker.C:
			e.CleanUnits()
		case <-ctx.Done():
			return
		}
	}
}

// CleanUnits applies retention once. The current hour and hours with pending
// writes are never touched.
func (e *Engine) CleanUnits() (archived, removed int) {
	units, err := e.store.List()
	if err != nil {
		e.logger.WithError(err).Error("Cleaner failed to list units")
		return 0, 0
	}

	now := e.clock()
	for _, u := range units {
		if e.busy(u.Key) {
			continue
		}
		age := now.Sub(u.Key.End())

		switch {
		case e.retention > 0 && age > e.retention:
			if err := e.store.Remove(u.Key); err != nil {
				e.logger.WithError(err).WithField("unit", u.Key.String()).Error("Cleaner failed to remove unit")
				continue
			}
			removed++
			e.metrics.UnitsCleaned.WithLabelValues("removed").Inc()
			e.logger.WithField("unit", u.Key.String()).Info("Expired unit removed")
		case e.archiveAfter > 0 && !u.Archived && age > e.archiveAfter:
			if err := e.store.Archive(u.Key); err != nil {
				e.logger.WithError(err).WithField("unit", u.Key.String()).Error("Cleaner failed to archive unit")
				continue
			}
			archived++
			e.metrics.UnitsCleaned.WithLabelValues("archived").Inc()
			e.logger.WithField("unit", u.Key.String()).Info("Unit archived")
		}
	}
	return archived, removed
}

func (e *Engine) busy(key HourKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if key == e.key || (key == e.writing && e.coord.State() != StateIdle) {
		return true
	}
	for _, job := range e.retired {
		if job.Key == key {
			return true
		}
	}
	return false
}
