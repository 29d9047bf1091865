package materializer

import (
	"context"

	"github.com/p2panda-go/bamboo-node/internal/eventbus"
	"github.com/p2panda-go/bamboo-node/internal/tasks"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// EnqueueHandler is the eventbus.Handler that turns every accepted
// operation into a reduce task (spec.md §4.3 "NewOperation... driving
// materialization").
type EnqueueHandler struct {
	pool *tasks.Pool
}

// NewEnqueueHandler creates a handler that queues a reduce task on pool for
// every published operation.
func NewEnqueueHandler(pool *tasks.Pool) *EnqueueHandler {
	return &EnqueueHandler{pool: pool}
}

func (h *EnqueueHandler) ID() string    { return "materializer.enqueue" }
func (h *EnqueueHandler) Priority() int { return 0 }

// Handle queues a reduce task for the operation's document. Reduce tasks
// dedup on document id, so a burst of operations for one document during a
// single publish wave collapses to a single queued reduce.
func (h *EnqueueHandler) Handle(ctx context.Context, event *eventbus.Event) error {
	return h.pool.Queue(ctx, types.TaskForDocument(types.WorkerReduce, event.DocumentID))
}
