package sqlite

import (
	"context"

	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// GetOperationsByDocumentID returns every operation resolved to doc (its
// CREATE plus every UPDATE/DELETE written to a log bound to doc),
// in no particular order — the materializer's reduce worker is responsible
// for ordering them (spec.md §4.4).
func (s *Store) GetOperationsByDocumentID(ctx context.Context, doc types.DocumentID) ([]*types.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT operation_id, action, schema_id, previous, author, log_id FROM operations WHERE document_id = ?`,
		doc.String(),
	)
	if err != nil {
		return nil, wrapDBError("get operations by document", err)
	}
	defer rows.Close()

	var ops []*types.Operation
	for rows.Next() {
		var id, action, schemaID, previous, author string
		var logID uint64
		if err := rows.Scan(&id, &action, &schemaID, &previous, &author, &logID); err != nil {
			return nil, wrapDBError("get operations by document: scan", err)
		}
		op, err := s.hydrateOperation(ctx, id, action, schemaID, previous, author, logID)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("get operations by document: rows", err)
	}
	return ops, nil
}

// ResolveDocumentID returns the document an operation belongs to, looked up
// directly off its stored document_id column (populated for every
// operation, not only CREATE, since InsertEntry derives it from the
// already-bound log, not from walking Previous).
func (s *Store) ResolveDocumentID(ctx context.Context, op types.OperationID) (types.DocumentID, error) {
	var docID string
	err := s.db.QueryRowContext(ctx, `SELECT document_id FROM operations WHERE operation_id = ?`, op.String()).Scan(&docID)
	if err != nil {
		return types.DocumentID{}, wrapDBError("resolve document id", err)
	}
	return types.ParseHash(docID)
}

func (s *Store) hydrateOperation(ctx context.Context, id, action, schemaID, previous, author string, logID uint64) (*types.Operation, error) {
	opID, err := types.ParseHash(id)
	if err != nil {
		return nil, err
	}
	authorKey, err := types.ParsePublicKey(author)
	if err != nil {
		return nil, err
	}

	fieldRows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM operation_fields WHERE operation_id = ?`, id,
	)
	if err != nil {
		return nil, wrapDBError("hydrate operation: fields", err)
	}
	defer fieldRows.Close()

	fields := make(map[string]types.FieldValue)
	for fieldRows.Next() {
		var name, value string
		if err := fieldRows.Scan(&name, &value); err != nil {
			return nil, wrapDBError("hydrate operation: scan field", err)
		}
		fv, err := decodeFieldValue(value)
		if err != nil {
			return nil, err
		}
		fields[name] = fv
	}
	if err := fieldRows.Err(); err != nil {
		return nil, wrapDBError("hydrate operation: field rows", err)
	}

	return &types.Operation{
		ID:       opID,
		Action:   types.OperationAction(action),
		SchemaID: schemaID,
		Previous: decodeViewID(previous),
		Fields:   fields,
		Author:   authorKey,
		LogID:    logID,
	}, nil
}

// GetLogHeights returns, for every author with at least one log under
// schemaID, the highest known seq_num per log (spec.md §4.6 log-height
// replication strategy).
func (s *Store) GetLogHeights(ctx context.Context, schemaID string) ([]store.LogHeightsRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.public_key, l.log_id, COALESCE(MAX(e.seq_num), 0)
		FROM logs l
		LEFT JOIN entries e ON e.public_key = l.public_key AND e.log_id = l.log_id
		WHERE l.schema_id = ?
		GROUP BY l.public_key, l.log_id
		ORDER BY l.public_key, l.log_id`,
		schemaID,
	)
	if err != nil {
		return nil, wrapDBError("get log heights", err)
	}
	defer rows.Close()

	byAuthor := make(map[string]*store.LogHeightsRow)
	var order []string
	for rows.Next() {
		var pubHex string
		var logID, seqNum uint64
		if err := rows.Scan(&pubHex, &logID, &seqNum); err != nil {
			return nil, wrapDBError("get log heights: scan", err)
		}
		r, ok := byAuthor[pubHex]
		if !ok {
			pub, err := types.ParsePublicKey(pubHex)
			if err != nil {
				return nil, err
			}
			r = &store.LogHeightsRow{PublicKey: pub}
			byAuthor[pubHex] = r
			order = append(order, pubHex)
		}
		r.Logs = append(r.Logs, types.LogSeq{LogID: logID, SeqNum: seqNum})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("get log heights: rows", err)
	}

	out := make([]store.LogHeightsRow, 0, len(order))
	for _, k := range order {
		out = append(out, *byAuthor[k])
	}
	return out, nil
}
