// Package ingest turns raw producer messages into stored records and acknowledgments.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/coffersTech/logstore/internal/codec"
	"github.com/coffersTech/logstore/internal/metrics"
	"github.com/coffersTech/logstore/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Pipeline handles one encoded message and returns exactly one ack.
type Pipeline interface {
	Handle(ctx context.Context, raw []byte) Ack
}

// Ingester accepts decoded records. *engine.Engine implements it.
type Ingester interface {
	Ingest(rec model.LogRecord)
}

// FilePipeline feeds the hourly file engine. Acks are returned before the
// record reaches disk.
type FilePipeline struct {
	engine Ingester
	logger logrus.FieldLogger
}

// NewFilePipeline creates a FilePipeline.
func NewFilePipeline(e Ingester, logger logrus.FieldLogger) *FilePipeline {
	return &FilePipeline{engine: e, logger: logger.WithField("pipeline", "file")}
}

// Handle implements Pipeline.
func (p *FilePipeline) Handle(_ context.Context, raw []byte) Ack {
	rec, err := codec.Decode(raw)
	if err != nil {
		p.logger.WithError(err).WithField("bytes", len(raw)).Warn("Rejected message")
		return NewError(err.Error())
	}
	p.engine.Ingest(rec)
	return NewSuccess(rec)
}

// Sink stores decoded records in a search index.
type Sink interface {
	Store(ctx context.Context, index string, rec model.LogRecord) error
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string) error
}

// SinkError is returned when the downstream index rejects or cannot take a record.
type SinkError struct {
	Index string
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("store to index %q: %v", e.Index, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// IndexPipeline sends every record straight to a Sink instead of the file engine.
type IndexPipeline struct {
	sink    Sink
	index   string
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewIndexPipeline creates an IndexPipeline writing to index.
func NewIndexPipeline(sink Sink, index string, logger logrus.FieldLogger, m *metrics.Metrics) *IndexPipeline {
	return &IndexPipeline{
		sink:    sink,
		index:   index,
		logger:  logger.WithFields(logrus.Fields{"pipeline": "index", "index": index}),
		metrics: m,
	}
}

// EnsureIndex creates the target index if it does not exist yet.
func (p *IndexPipeline) EnsureIndex(ctx context.Context) error {
	exists, err := p.sink.IndexExists(ctx, p.index)
	if err != nil {
		return &SinkError{Index: p.index, Err: err}
	}
	if exists {
		p.logger.Debug("Index exists")
		return nil
	}
	if err := p.sink.CreateIndex(ctx, p.index); err != nil {
		return &SinkError{Index: p.index, Err: err}
	}
	p.logger.Info("Index created")
	return nil
}

// Handle implements Pipeline.
func (p *IndexPipeline) Handle(ctx context.Context, raw []byte) Ack {
	rec, err := codec.Decode(raw)
	if err != nil {
		p.logger.WithError(err).Warn("Rejected message")
		return NewError(err.Error())
	}
	if err := p.sink.Store(ctx, p.index, rec); err != nil {
		serr := &SinkError{Index: p.index, Err: err}
		p.metrics.SinkStoresTotal.WithLabelValues(metrics.ResultFailed).Inc()
		p.logger.WithError(err).WithField("device_id", rec.DeviceID).Error("Failed to store record")
		return NewError(serr.Error())
	}
	p.metrics.SinkStoresTotal.WithLabelValues(metrics.ResultOK).Inc()
	return NewSuccess(rec)
}

// ErrRejected marks a batch message that produced an ERROR ack.
var ErrRejected = errors.New("message rejected")

// HandleBatch runs every message of a queue delivery through p concurrently.
// All messages are processed; the returned error reports the first rejection.
func HandleBatch(ctx context.Context, p Pipeline, msgs [][]byte, limit int) ([]Ack, error) {
	acks := make([]Ack, len(msgs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, raw := range msgs {
		g.Go(func() error {
			acks[i] = p.Handle(ctx, raw)
			if !acks[i].OK() {
				return fmt.Errorf("%w: message %d: %v", ErrRejected, i, acks[i].Payload)
			}
			return nil
		})
	}
	return acks, g.Wait()
}
