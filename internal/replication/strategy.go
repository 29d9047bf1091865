package replication

import (
	"context"
	"fmt"
	"sort"

	"github.com/p2panda-go/bamboo-node/internal/operation"
	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// Strategy is the polymorphic sync behavior a session negotiates (spec.md
// §4.6 "A strategy is polymorphic over {initial_messages, handle_message}").
type Strategy interface {
	// InitialMessages returns the messages this side sends as soon as the
	// session is established.
	InitialMessages(ctx context.Context, sessionID uint64, target types.TargetSet) ([]any, error)
	// HandleMessage processes one inbound message (already session-scoped),
	// returning outbound replies and whether this side considers its part
	// of the session done.
	HandleMessage(ctx context.Context, sessionID uint64, target types.TargetSet, msg any) (replies []any, localDone bool, err error)
}

// EntryIngester is the narrow publish-path surface a strategy needs to
// admit received entries (spec.md §4.7).
type EntryIngester interface {
	Publish(ctx context.Context, entryRaw, payload []byte) (*types.Operation, error)
}

// LogHeightStrategy is the default strategy (spec.md §4.6): exchange
// per-(public_key,log_id) heights, then stream whatever the peer is behind
// on.
type LogHeightStrategy struct {
	store    store.Store
	ingester EntryIngester
}

// NewLogHeightStrategy creates a log-height strategy backed by st, feeding
// received entries through ingester.
func NewLogHeightStrategy(st store.Store, ingester EntryIngester) *LogHeightStrategy {
	return &LogHeightStrategy{store: st, ingester: ingester}
}

func (s *LogHeightStrategy) InitialMessages(ctx context.Context, sessionID uint64, target types.TargetSet) ([]any, error) {
	heights, err := localLogHeights(ctx, s.store, target)
	if err != nil {
		return nil, err
	}
	return []any{Have{SessionID: sessionID, LogHeights: heights}}, nil
}

func (s *LogHeightStrategy) HandleMessage(ctx context.Context, sessionID uint64, target types.TargetSet, msg any) ([]any, bool, error) {
	switch m := msg.(type) {
	case Have:
		entries, err := s.entriesPeerIsMissing(ctx, sessionID, target, m.LogHeights)
		if err != nil {
			return nil, false, err
		}
		var out []any
		for _, e := range entries {
			out = append(out, e)
		}
		out = append(out, SyncDone{SessionID: sessionID})
		return out, true, nil

	case Entry:
		op, err := s.ingester.Publish(ctx, m.EntryBytes, m.Payload)
		if err != nil {
			return nil, false, fmt.Errorf("replication: ingesting entry: %w", err)
		}
		if !target.Contains(op.SchemaID) {
			return nil, false, fmt.Errorf("replication: %w: schema %q", ErrUnmatchedTargetSet, op.SchemaID)
		}
		return nil, false, nil

	case SyncDone:
		return nil, true, nil

	default:
		return nil, false, fmt.Errorf("replication: log-height strategy received unexpected message %T", msg)
	}
}

// entriesPeerIsMissing streams every entry in our own logs under target
// that the peer's reported heights say they don't have (a log the peer
// does not report counts as height 0), author by author and each log in
// seq_num order.
func (s *LogHeightStrategy) entriesPeerIsMissing(ctx context.Context, sessionID uint64, target types.TargetSet, peerHeights []types.LogHeight) ([]Entry, error) {
	peerSeq := make(map[string]uint64)
	for _, lh := range peerHeights {
		for _, l := range lh.Logs {
			peerSeq[logKey(lh.PublicKey, l.LogID)] = l.SeqNum
		}
	}

	local, err := localLogHeights(ctx, s.store, target)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, lh := range local {
		for _, l := range lh.Logs {
			from := peerSeq[logKey(lh.PublicKey, l.LogID)] + 1
			for seq := from; seq <= l.SeqNum; seq++ {
				e, op, err := entryAndOperationPayload(ctx, s.store, lh.PublicKey, l.LogID, seq)
				if err != nil {
					return nil, err
				}
				entries = append(entries, Entry{SessionID: sessionID, EntryBytes: e.Raw, Payload: op})
			}
		}
	}
	return entries, nil
}

func logKey(pub types.PublicKey, logID uint64) string {
	return fmt.Sprintf("%s/%d", pub.String(), logID)
}

// localLogHeights computes our own log heights restricted to target,
// merging per-schema results per-author into a single LogHeight list.
func localLogHeights(ctx context.Context, st store.Store, target types.TargetSet) ([]types.LogHeight, error) {
	merged := make(map[string]*types.LogHeight)
	var order []string
	for _, schemaID := range target {
		rows, err := st.GetLogHeights(ctx, schemaID)
		if err != nil {
			return nil, fmt.Errorf("replication: loading log heights for %s: %w", schemaID, err)
		}
		for _, r := range rows {
			key := r.PublicKey.String()
			lh, ok := merged[key]
			if !ok {
				lh = &types.LogHeight{PublicKey: r.PublicKey}
				merged[key] = lh
				order = append(order, key)
			}
			for _, l := range r.Logs {
				lh.Logs = append(lh.Logs, types.LogSeq{LogID: l.LogID, SeqNum: l.SeqNum})
			}
		}
	}
	sort.Strings(order)
	out := make([]types.LogHeight, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	return out, nil
}

// entryAndOperationPayload re-encodes the stored entry's operation fields
// back into its original CBOR payload bytes so it can be re-sent
// byte-identically (the payload itself is not retained separately from the
// entry's raw bytes, since the entry only stores payload_hash/payload_size).
func entryAndOperationPayload(ctx context.Context, st store.Store, pub types.PublicKey, logID, seq uint64) (*types.Entry, []byte, error) {
	e, err := st.GetEntryAt(ctx, pub, logID, seq)
	if err != nil {
		return nil, nil, fmt.Errorf("replication: loading entry %s/%d/%d: %w", pub, logID, seq, err)
	}
	docID, err := st.ResolveDocumentID(ctx, e.EntryHash)
	if err != nil {
		return nil, nil, fmt.Errorf("replication: resolving document for entry: %w", err)
	}
	ops, err := st.GetOperationsByDocumentID(ctx, docID)
	if err != nil {
		return nil, nil, fmt.Errorf("replication: loading operations for re-send: %w", err)
	}
	for _, op := range ops {
		if op.ID == e.EntryHash {
			payload, err := operation.Encode(op)
			if err != nil {
				return nil, nil, fmt.Errorf("replication: re-encoding operation for re-send: %w", err)
			}
			return e, payload, nil
		}
	}
	return nil, nil, fmt.Errorf("replication: operation for entry %s not found", e.EntryHash)
}
