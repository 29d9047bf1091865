// Package materializer implements the reduce/dependency/schema/prune/blob
// task workers (spec.md §4.4) that turn raw operations into materialized
// documents, resolve relation fields, install schemas, and prune stale
// views. Each worker is a tasks.WorkerFunc registered against a
// tasks.Pool; the topological fold is a plain, synchronous Kahn's
// algorithm over the operation `previous` DAG, in the spirit of the
// teacher's cmd/bd/graph.go dependency-layering pass but as a proper
// queue-based sort with cycle/missing-ancestor detection.
package materializer

import (
	"context"
	"fmt"
	"sort"

	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/tasks"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// Materializer bundles the Store that the reduce, dependency and prune
// workers close over. The schema and blob workers are separate types
// (NewSchemaWorker, NewBlobWorker).
type Materializer struct {
	store store.Store
}

// New creates a Materializer backed by st.
func New(st store.Store) *Materializer {
	return &Materializer{store: st}
}

// Reduce loads a document's operation set, topologically sorts it over the
// `previous` DAG with a lexical tie-break on operation id (spec.md §9
// "Kahn's algorithm... lexical tie-break"), and folds field values in that
// order: CREATE sets initial values, each UPDATE overwrites the listed
// fields, DELETE clears fields and marks the document deleted. When input
// addresses a view rather than a whole document, the fold stops at that
// view's tips and the result is written pinned (not current).
func (m *Materializer) Reduce(ctx context.Context, input types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
	docID := input.DocumentID
	if input.IsViewInput {
		if len(input.ViewID) == 0 {
			return types.OutcomeFailure, nil, fmt.Errorf("materializer: empty view id in reduce task")
		}
		resolved, err := m.store.ResolveDocumentID(ctx, input.ViewID[0])
		if err != nil {
			return types.OutcomeFailure, nil, fmt.Errorf("materializer: resolving document for view: %w", err)
		}
		docID = resolved
	}

	ops, err := m.store.GetOperationsByDocumentID(ctx, docID)
	if err != nil {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: loading operations for %s: %w", docID, err)
	}
	if len(ops) == 0 {
		return types.OutcomeFailure, nil, nil
	}

	ordered, err := topologicalSort(ops)
	if err != nil {
		return types.OutcomeCritical, nil, fmt.Errorf("materializer: %w", err)
	}

	if input.IsViewInput {
		ordered = restrictToTips(ordered, input.ViewID)
	}

	view := fold(docID, ordered)

	isCurrent := !input.IsViewInput
	if err := m.store.InsertDocument(ctx, view, isCurrent); err != nil {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: persisting document %s: %w", docID, err)
	}

	return types.OutcomeOK, []types.Task{types.TaskForDocument(types.WorkerDependency, docID)}, nil
}

// fold applies ordered CREATE/UPDATE/DELETE operations and returns the
// resulting view, addressed by the tips of ordered (its last operations in
// DAG order that nothing else in ordered depends on).
func fold(docID types.DocumentID, ordered []*types.Operation) *types.DocumentView {
	fields := make(map[string]types.FieldValue)
	var schemaID string
	var owner types.PublicKey
	deleted := false

	for _, op := range ordered {
		schemaID = op.SchemaID
		owner = op.Author
		switch op.Action {
		case types.ActionCreate:
			for k, v := range op.Fields {
				fields[k] = v
			}
			deleted = false
		case types.ActionUpdate:
			for k, v := range op.Fields {
				fields[k] = v
			}
		case types.ActionDelete:
			fields = make(map[string]types.FieldValue)
			deleted = true
		}
	}

	return &types.DocumentView{
		ViewID:     types.NewViewID(tips(ordered)),
		DocumentID: docID,
		SchemaID:   schemaID,
		Owner:      owner,
		Fields:     fields,
		Deleted:    deleted,
	}
}

// tips returns the operation ids in ordered that no other operation in
// ordered names in its Previous set: the graph's current frontier.
func tips(ordered []*types.Operation) []types.OperationID {
	referenced := make(map[types.OperationID]bool, len(ordered))
	for _, op := range ordered {
		for _, p := range op.Previous {
			referenced[p] = true
		}
	}
	var out []types.OperationID
	for _, op := range ordered {
		if !referenced[op.ID] {
			out = append(out, op.ID)
		}
	}
	return out
}

// restrictToTips drops every operation that is not an ancestor of (or
// equal to) one of view's tips, so Reduce can fold up to a pinned,
// non-current view.
func restrictToTips(ordered []*types.Operation, view types.ViewID) []*types.Operation {
	byID := make(map[types.OperationID]*types.Operation, len(ordered))
	for _, op := range ordered {
		byID[op.ID] = op
	}

	include := make(map[types.OperationID]bool)
	var visit func(id types.OperationID)
	visit = func(id types.OperationID) {
		if include[id] {
			return
		}
		op, ok := byID[id]
		if !ok {
			return
		}
		include[id] = true
		for _, p := range op.Previous {
			visit(p)
		}
	}
	for _, tip := range view {
		visit(tip)
	}

	var out []*types.Operation
	for _, op := range ordered {
		if include[op.ID] {
			out = append(out, op)
		}
	}
	return out
}

// topologicalSort runs Kahn's algorithm over the operation DAG formed by
// Previous pointers, breaking ties lexically on operation id so that
// reduction is a pure, deterministic function of the operation set
// regardless of insertion order (spec.md §9).
func topologicalSort(ops []*types.Operation) ([]*types.Operation, error) {
	byID := make(map[types.OperationID]*types.Operation, len(ops))
	indegree := make(map[types.OperationID]int, len(ops))
	dependents := make(map[types.OperationID][]types.OperationID)

	for _, op := range ops {
		byID[op.ID] = op
		if _, ok := indegree[op.ID]; !ok {
			indegree[op.ID] = 0
		}
	}
	for _, op := range ops {
		for _, prev := range op.Previous {
			// A previous id missing from ops never reaches the frontier, so
			// op stays unordered and the length check below reports it.
			indegree[op.ID]++
			dependents[prev] = append(dependents[prev], op.ID)
		}
	}

	var frontier []types.OperationID
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}
	sortOperationIDs(frontier)

	var ordered []*types.Operation
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		ordered = append(ordered, byID[next])

		var freed []types.OperationID
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				freed = append(freed, dep)
			}
		}
		sortOperationIDs(freed)
		frontier = mergeSorted(frontier, freed)
	}

	if len(ordered) != len(ops) {
		return nil, fmt.Errorf("operation graph has a cycle or missing ancestor, %d of %d operations ordered", len(ordered), len(ops))
	}
	return ordered, nil
}

func sortOperationIDs(ids []types.OperationID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

// mergeSorted merges two already lexically-sorted id slices, preserving
// Kahn's algorithm's deterministic tie-break across iterations.
func mergeSorted(a, b []types.OperationID) []types.OperationID {
	if len(b) == 0 {
		return a
	}
	out := append(a, b...)
	sortOperationIDs(out)
	return out
}
