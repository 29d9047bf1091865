package materializer

import (
	"context"
	"errors"
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// Dependency ensures every relation field of a reduced document points at
// an already-materialized target, emitting reduce tasks for anything
// missing. Once every relation resolves, it emits a schema task for
// schema-definition/field-definition documents and a prune task for
// everything else (spec.md §4.4).
func (m *Materializer) Dependency(ctx context.Context, input types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
	doc, err := m.store.GetDocument(ctx, input.DocumentID)
	if err != nil {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: loading document %s: %w", input.DocumentID, err)
	}

	var missing []types.Task
	for _, f := range doc.Fields {
		if !f.Kind.IsRelation() {
			continue
		}
		if f.Kind.IsPinned() {
			for _, v := range f.PinnedViews {
				if _, err := m.store.GetDocumentByViewID(ctx, v); err != nil {
					if !errors.Is(err, store.ErrNotFound) {
						return types.OutcomeFailure, nil, fmt.Errorf("materializer: checking pinned view %s: %w", v, err)
					}
					missing = append(missing, types.TaskForView(types.WorkerReduce, v))
				}
			}
			continue
		}
		for _, d := range f.Relations {
			if _, err := m.store.GetDocument(ctx, d); err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					return types.OutcomeFailure, nil, fmt.Errorf("materializer: checking relation %s: %w", d, err)
				}
				missing = append(missing, types.TaskForDocument(types.WorkerReduce, d))
			}
		}
	}
	if len(missing) > 0 {
		return types.OutcomeOK, missing, nil
	}

	if doc.SchemaID == types.SchemaDefinitionV1 || doc.SchemaID == types.SchemaFieldDefinitionV1 {
		return types.OutcomeOK, []types.Task{types.TaskForView(types.WorkerSchema, doc.ViewID)}, nil
	}
	return types.OutcomeOK, []types.Task{types.TaskForDocument(types.WorkerPrune, doc.ID)}, nil
}
