package renderqueue

import (
	"context"
	"log/slog"
	"sync"
)

// AckTarget is the hub method acknowledging a processed batch:
// OnRenderCompleted(batchId, errorMessageOrNull).
const AckTarget = "OnRenderCompleted"

// DefaultMaxPending is the default number of early batches held while
// waiting for a gap to fill.
const DefaultMaxPending = 64

// Acker sends acknowledgments on the connection that delivered a batch.
type Acker interface {
	Send(ctx context.Context, target string, args ...any) error
}

// Applier applies one render batch to a rendering surface. Decoding the
// batch bytes is the applier's business.
type Applier interface {
	ApplyBatch(rendererID, batchID int64, data []byte) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(rendererID, batchID int64, data []byte) error

// ApplyBatch calls f.
func (f ApplierFunc) ApplyBatch(rendererID, batchID int64, data []byte) error {
	return f(rendererID, batchID, data)
}

// Queue receives the batches of a single renderer.
type Queue interface {
	Process(ctx context.Context, batchID int64, data []byte, acker Acker)
}

// Factory creates the queue for a renderer.
type Factory func(rendererID int64) Queue

// Outcome classifies what happened to a submitted batch.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeDropped   Outcome = "dropped"
	OutcomeFailed    Outcome = "failed"
)

// Observer is told about every batch outcome.
type Observer interface {
	BatchProcessed(rendererID, batchID int64, outcome Outcome)
}

// Option configures an Ordered queue.
type Option func(*Ordered)

// WithFirstBatchID sets the id of the first batch the queue expects.
// Default: 0.
func WithFirstBatchID(id int64) Option {
	return func(q *Ordered) { q.next = id }
}

// WithMaxPending bounds the early-batch buffer.
// Default: DefaultMaxPending.
func WithMaxPending(n int) Option {
	return func(q *Ordered) {
		if n > 0 {
			q.maxPending = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Ordered) { q.logger = l }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(q *Ordered) { q.observer = o }
}

type pendingBatch struct {
	data []byte
}

// Ordered applies the batches of one renderer strictly in batch id order.
//
// Batches that arrive early are held until the gap before them fills;
// batches at or below the last applied id are duplicates and are only
// acknowledged again. After an apply error the queue is failed: nothing
// else is applied and every later batch is acknowledged with that error.
type Ordered struct {
	rendererID int64
	applier    Applier
	logger     *slog.Logger
	observer   Observer
	maxPending int

	mu       sync.Mutex
	next     int64
	pending  map[int64]pendingBatch
	fatal    error
	failedID int64
	acker    Acker
}

// New creates an ordered queue for rendererID.
func New(rendererID int64, applier Applier, opts ...Option) *Ordered {
	q := &Ordered{
		rendererID: rendererID,
		applier:    applier,
		maxPending: DefaultMaxPending,
		pending:    make(map[int64]pendingBatch),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	q.logger = q.logger.With("renderer_id", rendererID)
	return q
}

// NewFactory returns a Factory building Ordered queues that share applier
// and opts.
func NewFactory(applier Applier, opts ...Option) Factory {
	return func(rendererID int64) Queue {
		return New(rendererID, applier, opts...)
	}
}

// NextBatchID returns the id the queue is waiting for.
func (q *Ordered) NextBatchID() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}

// Err returns the apply error that failed the queue, if any.
func (q *Ordered) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fatal
}

// Process submits a batch. Acknowledgments always go to the most recent
// acker, so batches held across a reconnect are acknowledged on the new
// connection.
func (q *Ordered) Process(ctx context.Context, batchID int64, data []byte, acker Acker) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.acker = acker

	switch {
	case batchID < q.next:
		q.logger.Debug("duplicate batch acknowledged", "batch_id", batchID, "next", q.next)
		q.ack(ctx, batchID, q.resultOf(batchID))
		q.notify(batchID, OutcomeDuplicate)

	case batchID > q.next:
		if q.fatal != nil {
			q.ack(ctx, batchID, q.fatal)
			q.notify(batchID, OutcomeFailed)
			return
		}
		if _, held := q.pending[batchID]; held {
			q.notify(batchID, OutcomeDuplicate)
			return
		}
		if len(q.pending) >= q.maxPending {
			q.logger.Warn("pending batch buffer full, dropping batch",
				"batch_id", batchID, "next", q.next, "pending", len(q.pending))
			q.notify(batchID, OutcomeDropped)
			return
		}
		q.logger.Debug("batch deferred until earlier batches arrive", "batch_id", batchID, "next", q.next)
		q.pending[batchID] = pendingBatch{data: data}
		q.notify(batchID, OutcomeDeferred)

	default:
		q.apply(ctx, batchID, data)
		for {
			p, ok := q.pending[q.next]
			if !ok {
				break
			}
			delete(q.pending, q.next)
			q.apply(ctx, q.next, p.data)
		}
	}
}

// apply runs one in-order batch. Called with mu held.
func (q *Ordered) apply(ctx context.Context, batchID int64, data []byte) {
	q.next = batchID + 1

	if q.fatal != nil {
		q.ack(ctx, batchID, q.fatal)
		q.notify(batchID, OutcomeFailed)
		return
	}

	if err := q.applier.ApplyBatch(q.rendererID, batchID, data); err != nil {
		q.fatal = err
		q.failedID = batchID
		q.logger.Error("render batch failed", "batch_id", batchID, "error", err)
		q.ack(ctx, batchID, err)
		q.notify(batchID, OutcomeFailed)
		return
	}

	q.ack(ctx, batchID, nil)
	q.notify(batchID, OutcomeApplied)
}

// resultOf returns the outcome of a batch below next. Batches applied
// before the failing one succeeded.
func (q *Ordered) resultOf(batchID int64) error {
	if q.fatal == nil || batchID < q.failedID {
		return nil
	}
	return q.fatal
}

func (q *Ordered) ack(ctx context.Context, batchID int64, batchErr error) {
	if q.acker == nil {
		return
	}
	var msg any
	if batchErr != nil {
		msg = batchErr.Error()
	}
	if err := q.acker.Send(ctx, AckTarget, batchID, msg); err != nil {
		q.logger.Warn("batch acknowledgment failed", "batch_id", batchID, "error", err)
	}
}

func (q *Ordered) notify(batchID int64, outcome Outcome) {
	if q.observer != nil {
		q.observer.BatchProcessed(q.rendererID, batchID, outcome)
	}
}
