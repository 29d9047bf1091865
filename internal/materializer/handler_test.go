package materializer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/eventbus"
	"github.com/p2panda-go/bamboo-node/internal/materializer"
	"github.com/p2panda-go/bamboo-node/internal/tasks"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

func TestEnqueueHandlerQueuesReduceForDocument(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	pool := tasks.New(st)

	var gotInput types.TaskInput
	done := make(chan struct{})
	pool.Register(types.WorkerReduce, 1, func(_ context.Context, input types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
		gotInput = input
		close(done)
		return types.OutcomeOK, nil, nil
	})
	require.NoError(t, pool.Start(ctx))
	t.Cleanup(func() { pool.Stop(ctx) })

	handler := materializer.NewEnqueueHandler(pool)
	docID := types.Hash{42}
	require.NoError(t, handler.Handle(ctx, &eventbus.Event{
		Operation:  &types.Operation{ID: docID, Action: types.ActionCreate, SchemaID: "x"},
		DocumentID: docID,
	}))

	<-done
	require.Equal(t, docID, gotInput.DocumentID)
	require.False(t, gotInput.IsViewInput)
}
