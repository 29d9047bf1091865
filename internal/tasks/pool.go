// Package tasks implements the generic task queue and worker pool
// (spec.md §4.3): one bounded channel per registered worker name, a shared
// dedup set guarded by a mutex, and N consumer goroutines per worker. The
// persisted task table (Store.InsertTask/RemoveTask/GetTasks) is consulted
// on every enqueue/completion for crash-recovery, and bulk-scanned only at
// boot, generalized from the teacher's polling/dedup idiom in
// internal/rpc/task_watcher.go and the bounded worker pool in
// internal/compact/compactor.go.
package tasks

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// WorkerFunc processes one task input and reports its outcome. A non-nil
// err is treated as an unrecoverable condition: it is logged, the task is
// kept for retry, and the pool's on_error signal fires.
type WorkerFunc func(ctx context.Context, input types.TaskInput) (types.WorkerOutcome, []types.Task, error)

type registration struct {
	name        types.WorkerName
	concurrency int
	fn          WorkerFunc
	ch          chan types.Task
}

// Pool is the node-wide task scheduler. One Pool instance serves all
// registered worker names.
type Pool struct {
	store store.Store

	mu       sync.Mutex
	workers  map[types.WorkerName]*registration
	inflight map[string]struct{} // dedup key -> queued or running

	onError func(error)

	wg sync.WaitGroup
}

// New creates an empty pool backed by st. Register workers with Register
// before calling Start.
func New(st store.Store) *Pool {
	return &Pool{
		store:    st,
		workers:  make(map[types.WorkerName]*registration),
		inflight: make(map[string]struct{}),
	}
}

// OnError sets the callback invoked when a worker reports an unrecoverable
// error. The service manager uses this to shut the node down (spec.md §4.3
// "the factory exposes an on_error signal").
func (p *Pool) OnError(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

// Register adds a worker with a fixed concurrency (pool size). Must be
// called before Start.
func (p *Pool) Register(name types.WorkerName, concurrency int, fn WorkerFunc) {
	if concurrency <= 0 {
		concurrency = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[name] = &registration{
		name:        name,
		concurrency: concurrency,
		fn:          fn,
		ch:          make(chan types.Task, 64),
	}
}

// Start recovers any tasks left in the persisted table from a previous
// crash, re-admits them to the in-memory dedup set without re-persisting,
// and launches each worker's consumer goroutines.
func (p *Pool) Start(ctx context.Context) error {
	pending, err := p.store.GetTasks(ctx)
	if err != nil {
		return fmt.Errorf("tasks: loading persisted tasks: %w", err)
	}

	p.mu.Lock()
	for _, t := range pending {
		p.inflight[t.Input.DedupKey(t.Worker)] = struct{}{}
	}
	regs := make([]*registration, 0, len(p.workers))
	for _, r := range p.workers {
		regs = append(regs, r)
	}
	p.mu.Unlock()

	for _, t := range pending {
		reg, ok := p.workers[t.Worker]
		if !ok {
			log.Printf("tasks: recovered task for unregistered worker %q, dropping", t.Worker)
			_ = p.store.RemoveTask(ctx, t)
			continue
		}
		reg.ch <- t
	}

	for _, r := range regs {
		for i := 0; i < r.concurrency; i++ {
			p.wg.Add(1)
			go p.runConsumer(ctx, r)
		}
	}
	return nil
}

// Stop closes every worker channel and waits for in-flight tasks to drain,
// up to ctx's deadline. Queued-but-unstarted tasks remain in the persisted
// table (they were written there at enqueue time) and are recovered by the
// next Start.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	for _, r := range p.workers {
		close(r.ch)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("tasks: shutdown grace period expired with workers still draining")
	}
}

// Queue admits a task for dispatch. An identical (worker, input) already
// queued or running is dropped silently (spec.md §4.3).
func (p *Pool) Queue(ctx context.Context, t types.Task) error {
	key := t.Input.DedupKey(t.Worker)

	p.mu.Lock()
	if _, dup := p.inflight[key]; dup {
		p.mu.Unlock()
		return nil
	}
	reg, ok := p.workers[t.Worker]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("tasks: no worker registered for %q", t.Worker)
	}
	p.inflight[key] = struct{}{}
	p.mu.Unlock()

	if err := p.store.InsertTask(ctx, t); err != nil {
		p.mu.Lock()
		delete(p.inflight, key)
		p.mu.Unlock()
		return fmt.Errorf("tasks: persisting task: %w", err)
	}

	select {
	case reg.ch <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *Pool) runConsumer(ctx context.Context, reg *registration) {
	defer p.wg.Done()
	for t := range reg.ch {
		p.process(ctx, reg, t)
	}
}

func (p *Pool) process(ctx context.Context, reg *registration, t types.Task) {
	outcome, next, err := reg.fn(ctx, t.Input)

	if err != nil {
		log.Printf("tasks: worker %q failed on %s: %v", reg.name, t.Input.DedupKey(t.Worker), err)
		p.mu.Lock()
		onError := p.onError
		p.mu.Unlock()
		if onError != nil {
			onError(fmt.Errorf("tasks: worker %q: %w", reg.name, err))
		}
		return // keep task persisted and in the dedup set for retry on next boot
	}

	switch outcome {
	case types.OutcomeCritical:
		log.Printf("tasks: worker %q reported critical outcome for %s, keeping for retry on next boot", reg.name, t.Input.DedupKey(t.Worker))
		return // keep task persisted and in the dedup set

	case types.OutcomeFailure:
		p.finish(ctx, t)
		return

	default: // OutcomeOK
		for _, child := range next {
			if err := p.Queue(ctx, child); err != nil {
				log.Printf("tasks: queuing follow-on task from %q failed: %v", reg.name, err)
			}
		}
		p.finish(ctx, t)
	}
}

// finish removes a completed task from both the persisted table and the
// in-memory dedup set. Any next_tasks must already have been queued (and
// thus persisted) before this runs, so a crash between the two leaves the
// parent to be re-run and the children to be seen as already in flight.
func (p *Pool) finish(ctx context.Context, t types.Task) {
	if err := p.store.RemoveTask(ctx, t); err != nil {
		log.Printf("tasks: removing completed task %s: %v", t.Input.DedupKey(t.Worker), err)
	}
	p.mu.Lock()
	delete(p.inflight, t.Input.DedupKey(t.Worker))
	p.mu.Unlock()
}
