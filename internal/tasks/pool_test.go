package tasks_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/store/sqlite"
	"github.com/p2panda-go/bamboo-node/internal/tasks"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestQueueDedupsIdenticalTask(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	p := tasks.New(st)

	var calls int32
	release := make(chan struct{})
	p.Register(types.WorkerReduce, 1, func(ctx context.Context, in types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return types.OutcomeOK, nil, nil
	})
	require.NoError(t, p.Start(ctx))

	doc := types.Hash{1}
	require.NoError(t, p.Queue(ctx, types.TaskForDocument(types.WorkerReduce, doc)))
	require.NoError(t, p.Queue(ctx, types.TaskForDocument(types.WorkerReduce, doc))) // dropped: already in flight

	close(release)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
}

func TestQueueEmitsFollowOnTasksAndClearsParent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	p := tasks.New(st)

	doc := types.Hash{2}
	done := make(chan struct{})

	p.Register(types.WorkerReduce, 1, func(ctx context.Context, in types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
		return types.OutcomeOK, []types.Task{types.TaskForDocument(types.WorkerDependency, doc)}, nil
	})
	p.Register(types.WorkerDependency, 1, func(ctx context.Context, in types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
		close(done)
		return types.OutcomeOK, nil, nil
	})
	require.NoError(t, p.Start(ctx))

	require.NoError(t, p.Queue(ctx, types.TaskForDocument(types.WorkerReduce, doc)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dependency task never ran")
	}

	require.Eventually(t, func() bool {
		pending, err := st.GetTasks(ctx)
		require.NoError(t, err)
		return len(pending) == 0
	}, time.Second, time.Millisecond)
}

func TestCriticalOutcomeKeepsTaskForRetry(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	p := tasks.New(st)

	doc := types.Hash{3}
	var calls int32
	p.Register(types.WorkerPrune, 1, func(ctx context.Context, in types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
		atomic.AddInt32(&calls, 1)
		return types.OutcomeCritical, nil, nil
	})
	require.NoError(t, p.Start(ctx))

	require.NoError(t, p.Queue(ctx, types.TaskForDocument(types.WorkerPrune, doc)))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)

	pending, err := st.GetTasks(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestWorkerErrorFiresOnError(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	p := tasks.New(st)

	boom := errors.New("boom")
	errCh := make(chan error, 1)
	p.OnError(func(err error) { errCh <- err })
	p.Register(types.WorkerSchema, 1, func(ctx context.Context, in types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
		return types.OutcomeFailure, nil, boom
	})
	require.NoError(t, p.Start(ctx))

	require.NoError(t, p.Queue(ctx, types.TaskForView(types.WorkerSchema, types.ViewID{})))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("on_error never fired")
	}
}

func TestStartRecoversPendingTasksFromPreviousCrash(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	doc := types.Hash{4}
	require.NoError(t, st.InsertTask(ctx, types.TaskForDocument(types.WorkerReduce, doc)))

	p := tasks.New(st)
	var calls int32
	p.Register(types.WorkerReduce, 1, func(ctx context.Context, in types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
		atomic.AddInt32(&calls, 1)
		return types.OutcomeOK, nil, nil
	})
	require.NoError(t, p.Start(ctx))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
}
