// Package publish implements the single writer of entries (spec.md §4.2):
// every entry, whether signed locally by a GraphQL mutation or received
// from a replication peer, is admitted through Path.Publish. Grounded on
// the teacher's RPC handler idiom (internal/rpc/server_sync.go): a
// sequence of typed validation steps, each returning a specific sentinel
// error, ending in a single atomic store write and an event broadcast.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/bamboo"
	"github.com/p2panda-go/bamboo-node/internal/eventbus"
	"github.com/p2panda-go/bamboo-node/internal/operation"
	"github.com/p2panda-go/bamboo-node/internal/schemaprovider"
	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// Sentinel errors for the publish path's typed rejections (spec.md §4.2,
// §4.7's Validation/UnsupportedSchema classification).
var (
	ErrSchemaNotSupported = errors.New("publish: schema not supported by this node")
	ErrBadSignature       = errors.New("publish: signature verification failed")
	ErrBadPayloadHash     = errors.New("publish: payload hash or size mismatch")
	ErrStructure          = errors.New("publish: operation structure invalid")
	ErrDocumentMismatch   = errors.New("publish: previous operations disagree on document id")
	ErrLogBindingConflict = errors.New("publish: entry's log_id does not match the log bound to this document")
)

// Path is the single writer of entries, wired once at node startup and
// shared by the GraphQL mutation resolvers and the replication engine's
// ingest pipeline.
type Path struct {
	store    store.Store
	provider *schemaprovider.Provider
	bus      *eventbus.Bus
}

// New creates a publish path backed by st, validating against provider and
// broadcasting accepted operations on bus.
func New(st store.Store, provider *schemaprovider.Provider, bus *eventbus.Bus) *Path {
	return &Path{store: st, provider: provider, bus: bus}
}

// Publish runs a raw entry plus its operation payload through the full
// validation sequence (spec.md §4.2 steps 1-9) and, on success, returns the
// decoded operation. Re-publishing byte-identical entries is a no-op
// success; any divergence at the same (public_key, log_id, seq_num) is a
// hard failure, both per store.ErrDuplicateSeqNum's contract.
func (p *Path) Publish(ctx context.Context, entryRaw, payload []byte) (*types.Operation, error) {
	entry, err := bamboo.DecodeEntry(entryRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode entry: %v", ErrStructure, err)
	}

	if err := bamboo.VerifySignature(entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	if uint64(len(payload)) != entry.PayloadSize || bamboo.HashPayload(payload) != entry.PayloadHash {
		return nil, ErrBadPayloadHash
	}

	op, err := operation.Decode(payload, entry.EntryHash, entry.PublicKey, entry.LogID)
	if err != nil {
		return nil, fmt.Errorf("%w: decode operation: %v", ErrStructure, err)
	}

	schema, ok := p.provider.Get(op.SchemaID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotSupported, op.SchemaID)
	}
	if err := operation.ValidateAgainstSchema(op, &schema); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructure, err)
	}

	docID, err := p.resolveDocumentID(ctx, entry, op)
	if err != nil {
		return nil, err
	}

	// spec.md §4.2 step 7: (public_key, log_id) must be either unused or
	// already bound to (document_id, schema_id); GetOrAssignLog resolves
	// the log this author actually uses for docID (assigning one if this
	// is the document's first entry), which must agree with the log_id the
	// entry itself claims.
	boundLogID, err := p.store.GetOrAssignLog(ctx, entry.PublicKey, docID, op.SchemaID)
	if err != nil {
		return nil, fmt.Errorf("publish: binding log: %w", err)
	}
	if boundLogID != entry.LogID {
		return nil, fmt.Errorf("%w: entry claims log_id=%d, document %s is bound to log_id=%d", ErrLogBindingConflict, entry.LogID, docID, boundLogID)
	}

	if err := p.store.InsertEntry(ctx, entry, op); err != nil {
		if errors.Is(err, store.ErrDuplicateSeqNum) {
			if existing, gerr := p.store.GetEntryAt(ctx, entry.PublicKey, entry.LogID, entry.SeqNum); gerr == nil {
				if bytesEqual(existing.Raw, entry.Raw) {
					return op, nil // idempotent republish
				}
			}
		}
		return nil, fmt.Errorf("publish: %w", err)
	}

	if err := p.bus.Publish(ctx, eventbus.Event{Entry: entry, Operation: op, DocumentID: docID}); err != nil {
		return nil, fmt.Errorf("publish: broadcasting operation: %w", err)
	}

	return op, nil
}

// resolveDocumentID determines the operation's document id (spec.md §4.2
// step 6): the entry hash for CREATE, or the shared document id of every
// operation named in Previous for UPDATE/DELETE — all must agree.
func (p *Path) resolveDocumentID(ctx context.Context, entry *types.Entry, op *types.Operation) (types.DocumentID, error) {
	if op.Action == types.ActionCreate {
		return entry.EntryHash, nil
	}

	var docID types.DocumentID
	for i, prevOp := range op.Previous {
		resolved, err := p.store.ResolveDocumentID(ctx, prevOp)
		if err != nil {
			return types.DocumentID{}, fmt.Errorf("%w: previous operation %s not found: %v", ErrStructure, prevOp, err)
		}
		if i == 0 {
			docID = resolved
			continue
		}
		if resolved != docID {
			return types.DocumentID{}, ErrDocumentMismatch
		}
	}
	return docID, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
