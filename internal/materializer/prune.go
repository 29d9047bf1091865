package materializer

import (
	"context"
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// Prune deletes stale views of a document that are no longer pinned by any
// other document's pinned relation(s), then cascades a prune task to every
// document a deleted view itself pinned (spec.md §4.4) — removing a view
// can free up one of its own pinned relation targets to be pruned in turn.
func (m *Materializer) Prune(ctx context.Context, input types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
	all, err := m.store.GetAllDocumentViewIDs(ctx, input.DocumentID)
	if err != nil {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: listing views of %s: %w", input.DocumentID, err)
	}

	views := make(map[string]*types.DocumentView, len(all))
	for _, v := range all {
		dv, err := m.store.GetDocumentByViewID(ctx, v)
		if err != nil {
			return types.OutcomeFailure, nil, fmt.Errorf("materializer: loading view %s: %w", v, err)
		}
		views[v.String()] = dv
	}

	removed, err := m.store.PruneDocumentViews(ctx, input.DocumentID)
	if err != nil {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: pruning %s: %w", input.DocumentID, err)
	}

	cascadeTargets := make(map[types.DocumentID]bool)
	for _, v := range removed {
		dv, ok := views[v.String()]
		if !ok {
			continue
		}
		for _, f := range dv.Fields {
			if !f.Kind.IsRelation() || !f.Kind.IsPinned() {
				continue
			}
			for _, pinned := range f.PinnedViews {
				target, err := m.store.GetDocumentByViewID(ctx, pinned)
				if err != nil {
					continue // already gone or never materialized; nothing to cascade to
				}
				cascadeTargets[target.DocumentID] = true
			}
		}
	}

	var next []types.Task
	for doc := range cascadeTargets {
		next = append(next, types.TaskForDocument(types.WorkerPrune, doc))
	}
	return types.OutcomeOK, next, nil
}
