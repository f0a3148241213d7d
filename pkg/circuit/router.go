package circuit

import (
	"context"
	"sync"

	"github.com/vango-dev/circuit/pkg/renderqueue"
)

// Router hands render batches to their renderer's queue.
//
// Queues are created on first use and live as long as the Router, so the
// ordering a queue enforces survives connection replacement. The Router
// neither buffers nor validates ordering itself.
type Router struct {
	newQueue renderqueue.Factory

	mu     sync.Mutex
	queues map[int64]renderqueue.Queue
}

// NewRouter creates a router building queues with newQueue.
func NewRouter(newQueue renderqueue.Factory) *Router {
	return &Router{
		newQueue: newQueue,
		queues:   make(map[int64]renderqueue.Queue),
	}
}

// Route submits a batch to the queue for rendererID, creating the queue if
// needed. conn is the connection the batch arrived on; the queue
// acknowledges on it.
func (r *Router) Route(ctx context.Context, rendererID, batchID int64, data []byte, conn *Connection) {
	r.queueFor(rendererID).Process(ctx, batchID, data, conn)
}

func (r *Router) queueFor(rendererID int64) renderqueue.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[rendererID]
	if !ok {
		q = r.newQueue(rendererID)
		r.queues[rendererID] = q
	}
	return q
}

// Queue returns the queue for rendererID if one has been created.
func (r *Router) Queue(rendererID int64) (renderqueue.Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[rendererID]
	return q, ok
}

// Len returns the number of queues created so far.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}
