package types

import "fmt"

// WorkerName identifies a registered task worker (spec.md §4.3/§4.4:
// reduce, dependency, schema, prune, blob).
type WorkerName string

const (
	WorkerReduce     WorkerName = "reduce"
	WorkerDependency WorkerName = "dependency"
	WorkerSchema     WorkerName = "schema"
	WorkerPrune      WorkerName = "prune"
	WorkerBlob       WorkerName = "blob"
)

// TaskInput is either a document id or a document view id, never both
// (spec.md §3 "Task").
type TaskInput struct {
	DocumentID   DocumentID
	ViewID       ViewID
	IsViewInput  bool
}

// DedupKey returns the stable string used to deduplicate queued/running
// tasks: the whole (worker, input) tuple per spec.md §4.3.
func (t TaskInput) DedupKey(worker WorkerName) string {
	if t.IsViewInput {
		return fmt.Sprintf("%s:view:%s", worker, t.ViewID.String())
	}
	return fmt.Sprintf("%s:doc:%s", worker, t.DocumentID.String())
}

// Task is a persisted unit of materializer work.
type Task struct {
	Worker WorkerName
	Input  TaskInput
}

// TaskForDocument builds a Task targeting a document id.
func TaskForDocument(worker WorkerName, doc DocumentID) Task {
	return Task{Worker: worker, Input: TaskInput{DocumentID: doc}}
}

// TaskForView builds a Task targeting a document view id.
func TaskForView(worker WorkerName, view ViewID) Task {
	return Task{Worker: worker, Input: TaskInput{ViewID: view, IsViewInput: true}}
}

// WorkerOutcome is the result a worker function returns for a processed
// task (spec.md §4.3): Ok/Failure/Critical, optionally emitting follow-on
// tasks.
type WorkerOutcome int

const (
	OutcomeOK WorkerOutcome = iota
	OutcomeFailure
	OutcomeCritical
)
