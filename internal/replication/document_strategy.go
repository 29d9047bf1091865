package replication

import (
	"context"
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/operation"
	"github.com/p2panda-go/bamboo-node/internal/schemaprovider"
	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// DocumentViewStrategy diffs by materialized document view rather than by
// raw log height (spec.md §4.6 "Document-view-id strategy"). Where the
// log-height strategy resumes a specific (public_key, log_id, seq_num), this
// strategy resumes at the document level: any document whose view the peer
// doesn't report is resent in full (every operation of that document), which
// is simpler than computing the exact missing operation index and stays
// correct by the publish path's re-publish idempotence.
type DocumentViewStrategy struct {
	store    store.Store
	provider *schemaprovider.Provider
	ingester EntryIngester
}

// NewDocumentViewStrategy creates a document-view-id strategy.
func NewDocumentViewStrategy(st store.Store, provider *schemaprovider.Provider, ingester EntryIngester) *DocumentViewStrategy {
	return &DocumentViewStrategy{store: st, provider: provider, ingester: ingester}
}

func (s *DocumentViewStrategy) InitialMessages(ctx context.Context, sessionID uint64, target types.TargetSet) ([]any, error) {
	var docs []docView
	for _, schemaID := range target {
		page, err := s.store.GetDocumentsBySchema(ctx, store.PageRequest{SchemaID: schemaID, First: 1 << 20})
		if err != nil {
			return nil, fmt.Errorf("replication: listing documents for %s: %w", schemaID, err)
		}
		for _, d := range page.Documents {
			docs = append(docs, docView{DocumentID: d.ID, ViewID: d.ViewID})
		}
	}
	return []any{HaveDocuments{SessionID: sessionID, Documents: docs}}, nil
}

func (s *DocumentViewStrategy) HandleMessage(ctx context.Context, sessionID uint64, target types.TargetSet, msg any) ([]any, bool, error) {
	switch m := msg.(type) {
	case HaveDocuments:
		peerHas := make(map[types.DocumentID]types.ViewID, len(m.Documents))
		for _, d := range m.Documents {
			peerHas[d.DocumentID] = d.ViewID
		}

		targets, err := s.expandTargets(ctx, target)
		if err != nil {
			return nil, false, err
		}

		var out []any
		for docID, currentView := range targets {
			peerView, ok := peerHas[docID]
			if ok && peerView.Equal(currentView) {
				continue
			}
			entries, err := s.entriesForDocument(ctx, sessionID, docID)
			if err != nil {
				return nil, false, err
			}
			out = append(out, entries...)
		}
		out = append(out, SyncDone{SessionID: sessionID})
		return out, true, nil

	case Entry:
		op, err := s.ingester.Publish(ctx, m.EntryBytes, m.Payload)
		if err != nil {
			return nil, false, fmt.Errorf("replication: ingesting entry: %w", err)
		}
		if !target.Contains(op.SchemaID) && !s.isBlobSchema(op.SchemaID) {
			return nil, false, fmt.Errorf("replication: %w: schema %q", ErrUnmatchedTargetSet, op.SchemaID)
		}
		return nil, false, nil

	case SyncDone:
		return nil, true, nil

	default:
		return nil, false, fmt.Errorf("replication: document-view strategy received unexpected message %T", msg)
	}
}

// expandTargets returns documentID -> current view id for every document
// whose schema is in target, plus every blob/blob-piece document reachable
// from them through a blob_v1-typed relation field, since blob chains are
// implicit sub-targets even when not explicitly listed (spec.md §4.6).
func (s *DocumentViewStrategy) expandTargets(ctx context.Context, target types.TargetSet) (map[types.DocumentID]types.ViewID, error) {
	out := make(map[types.DocumentID]types.ViewID)
	var addDocuments func(schemaID string) error
	addDocuments = func(schemaID string) error {
		page, err := s.store.GetDocumentsBySchema(ctx, store.PageRequest{SchemaID: schemaID, First: 1 << 20})
		if err != nil {
			return fmt.Errorf("replication: listing documents for %s: %w", schemaID, err)
		}
		for _, d := range page.Documents {
			if _, seen := out[d.ID]; seen {
				continue
			}
			out[d.ID] = d.ViewID
			if s.isBlobSchema(d.SchemaID) {
				continue
			}
			for name, f := range d.Fields {
				if f.Kind.IsRelation() && s.relatesToBlob(d.SchemaID, name) {
					for _, rel := range f.Relations {
						if err := addDocumentByID(ctx, s.store, out, rel); err != nil {
							return err
						}
					}
					for _, view := range f.PinnedViews {
						if err := addDocumentByView(ctx, s.store, out, view); err != nil {
							return err
						}
					}
				}
			}
		}
		return nil
	}

	for _, schemaID := range target {
		if err := addDocuments(schemaID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func addDocumentByID(ctx context.Context, st store.Store, out map[types.DocumentID]types.ViewID, id types.DocumentID) error {
	if _, ok := out[id]; ok {
		return nil
	}
	d, err := st.GetDocument(ctx, id)
	if err != nil {
		return nil // not materialized locally yet; nothing to offer the peer
	}
	out[d.ID] = d.ViewID
	return nil
}

func addDocumentByView(ctx context.Context, st store.Store, out map[types.DocumentID]types.ViewID, view types.ViewID) error {
	d, err := st.GetDocumentByViewID(ctx, view)
	if err != nil {
		return nil
	}
	if _, ok := out[d.DocumentID]; ok {
		return nil
	}
	out[d.DocumentID] = view
	return nil
}

func (s *DocumentViewStrategy) isBlobSchema(schemaID string) bool {
	return schemaID == types.SchemaBlobV1 || schemaID == types.SchemaBlobPieceV1
}

// relatesToBlob reports whether field is declared by schemaID's schema as
// relating to blob_v1 (spec.md §4.6 "if a target document's schema relates
// to blob_v1").
func (s *DocumentViewStrategy) relatesToBlob(schemaID, fieldName string) bool {
	schema, ok := s.provider.Get(schemaID)
	if !ok {
		return false
	}
	field, ok := schema.FieldByName(fieldName)
	return ok && field.RelationSchemaID == types.SchemaBlobV1
}

func (s *DocumentViewStrategy) entriesForDocument(ctx context.Context, sessionID uint64, docID types.DocumentID) ([]any, error) {
	ops, err := s.store.GetOperationsByDocumentID(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("replication: loading operations for %s: %w", docID, err)
	}
	var out []any
	for _, op := range ops {
		e, err := s.entryForOperation(ctx, op)
		if err != nil {
			return nil, err
		}
		payload, err := operation.Encode(op)
		if err != nil {
			return nil, fmt.Errorf("replication: encoding operation %s: %w", op.ID, err)
		}
		out = append(out, Entry{SessionID: sessionID, EntryBytes: e.Raw, Payload: payload})
	}
	return out, nil
}

// entryForOperation finds the entry that carried op by scanning op.Author's
// log from its latest seq_num down to 1, since an Operation carries its
// author and log id but not its own seq_num.
func (s *DocumentViewStrategy) entryForOperation(ctx context.Context, op *types.Operation) (*types.Entry, error) {
	latest, err := s.store.GetLatestEntry(ctx, op.Author, op.LogID)
	if err != nil {
		return nil, fmt.Errorf("replication: loading log head for operation %s: %w", op.ID, err)
	}
	for seq := latest.SeqNum; seq >= 1; seq-- {
		e, err := s.store.GetEntryAt(ctx, op.Author, op.LogID, seq)
		if err != nil {
			return nil, fmt.Errorf("replication: loading entry %d for operation %s: %w", seq, op.ID, err)
		}
		if e.EntryHash == op.ID {
			return e, nil
		}
	}
	return nil, fmt.Errorf("replication: entry for operation %s not found in its own log", op.ID)
}
