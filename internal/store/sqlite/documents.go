package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// InsertDocument writes a materialized document view, and — when isCurrent
// is set — updates the documents table's pointer to it (spec.md §4.4
// "reduce" worker output). Writing both in one transaction keeps a
// document's current view id always resolvable to a row in document_views.
func (s *Store) InsertDocument(ctx context.Context, view *types.DocumentView, isCurrent bool) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		viewID := encodeViewID(view.ViewID)
		_, err := conn.ExecContext(ctx, `
			INSERT INTO document_views (view_id, document_id, schema_id, owner, deleted, is_current)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(view_id) DO UPDATE SET is_current = excluded.is_current`,
			viewID, view.DocumentID.String(), view.SchemaID, view.Owner.String(), boolToInt(view.Deleted), boolToInt(isCurrent),
		)
		if err != nil {
			return wrapDBError("insert document: view", err)
		}

		for name, v := range view.Fields {
			enc, err := encodeFieldValue(v)
			if err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO document_view_fields (view_id, name, value) VALUES (?, ?, ?)
				ON CONFLICT(view_id, name) DO UPDATE SET value = excluded.value`,
				viewID, name, enc,
			); err != nil {
				return wrapDBError("insert document: field", err)
			}
		}

		if !isCurrent {
			return nil
		}
		_, err = conn.ExecContext(ctx, `
			INSERT INTO documents (document_id, view_id, schema_id, owner, deleted) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(document_id) DO UPDATE SET view_id = excluded.view_id, deleted = excluded.deleted`,
			view.DocumentID.String(), viewID, view.SchemaID, view.Owner.String(), boolToInt(view.Deleted),
		)
		if err != nil {
			return wrapDBError("insert document: current pointer", err)
		}
		return nil
	})
}

func (s *Store) loadViewFields(ctx context.Context, viewID string) (map[string]types.FieldValue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM document_view_fields WHERE view_id = ?`, viewID)
	if err != nil {
		return nil, wrapDBError("load view fields", err)
	}
	defer rows.Close()

	fields := make(map[string]types.FieldValue)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, wrapDBError("load view fields: scan", err)
		}
		fv, err := decodeFieldValue(value)
		if err != nil {
			return nil, err
		}
		fields[name] = fv
	}
	return fields, rows.Err()
}

// GetDocument returns the current materialized document.
func (s *Store) GetDocument(ctx context.Context, doc types.DocumentID) (*types.Document, error) {
	var viewID, schemaID, owner string
	var deleted int
	err := s.db.QueryRowContext(ctx,
		`SELECT view_id, schema_id, owner, deleted FROM documents WHERE document_id = ?`, doc.String(),
	).Scan(&viewID, &schemaID, &owner, &deleted)
	if err != nil {
		return nil, wrapDBError("get document", err)
	}
	ownerKey, err := types.ParsePublicKey(owner)
	if err != nil {
		return nil, err
	}
	fields, err := s.loadViewFields(ctx, viewID)
	if err != nil {
		return nil, err
	}
	return &types.Document{
		ID:       doc,
		ViewID:   decodeViewID(viewID),
		SchemaID: schemaID,
		Owner:    ownerKey,
		Fields:   fields,
		Deleted:  deleted != 0,
	}, nil
}

// GetDocumentByViewID returns a specific, possibly non-current, document
// view (spec.md §4.8 "document(viewId: ...)").
func (s *Store) GetDocumentByViewID(ctx context.Context, view types.ViewID) (*types.DocumentView, error) {
	viewID := encodeViewID(view)
	var docID, schemaID, owner string
	var deleted int
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, schema_id, owner, deleted FROM document_views WHERE view_id = ?`, viewID,
	).Scan(&docID, &schemaID, &owner, &deleted)
	if err != nil {
		return nil, wrapDBError("get document by view", err)
	}
	doc, err := types.ParseHash(docID)
	if err != nil {
		return nil, err
	}
	ownerKey, err := types.ParsePublicKey(owner)
	if err != nil {
		return nil, err
	}
	fields, err := s.loadViewFields(ctx, viewID)
	if err != nil {
		return nil, err
	}
	return &types.DocumentView{
		ViewID:     view,
		DocumentID: doc,
		SchemaID:   schemaID,
		Owner:      ownerKey,
		Fields:     fields,
		Deleted:    deleted != 0,
	}, nil
}

// GetAllDocumentViewIDs returns every view id ever materialized for doc,
// current or pinned-only (spec.md §4.4 "prune" worker input).
func (s *Store) GetAllDocumentViewIDs(ctx context.Context, doc types.DocumentID) ([]types.ViewID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT view_id FROM document_views WHERE document_id = ?`, doc.String())
	if err != nil {
		return nil, wrapDBError("get all document view ids", err)
	}
	defer rows.Close()

	var out []types.ViewID
	for rows.Next() {
		var viewID string
		if err := rows.Scan(&viewID); err != nil {
			return nil, wrapDBError("get all document view ids: scan", err)
		}
		out = append(out, decodeViewID(viewID))
	}
	return out, rows.Err()
}

// PruneDocumentViews deletes every non-current view of doc that is not
// referenced by any pinned relation field elsewhere in the store, and
// returns the view ids it removed (spec.md §4.4 "prune" worker).
func (s *Store) PruneDocumentViews(ctx context.Context, doc types.DocumentID) ([]types.ViewID, error) {
	var removed []types.ViewID
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		var currentView string
		err := conn.QueryRowContext(ctx, `SELECT view_id FROM documents WHERE document_id = ?`, doc.String()).Scan(&currentView)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return wrapDBError("prune: current view", err)
		}

		pinned, err := pinnedViewIDs(ctx, conn)
		if err != nil {
			return err
		}

		rows, err := conn.QueryContext(ctx, `SELECT view_id FROM document_views WHERE document_id = ?`, doc.String())
		if err != nil {
			return wrapDBError("prune: list views", err)
		}
		var candidates []string
		for rows.Next() {
			var viewID string
			if err := rows.Scan(&viewID); err != nil {
				rows.Close()
				return wrapDBError("prune: scan", err)
			}
			candidates = append(candidates, viewID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return wrapDBError("prune: rows", err)
		}
		rows.Close()

		for _, viewID := range candidates {
			if viewID == currentView || pinned[viewID] {
				continue
			}
			if _, err := conn.ExecContext(ctx, `DELETE FROM document_view_fields WHERE view_id = ?`, viewID); err != nil {
				return wrapDBError("prune: delete fields", err)
			}
			if _, err := conn.ExecContext(ctx, `DELETE FROM document_views WHERE view_id = ?`, viewID); err != nil {
				return wrapDBError("prune: delete view", err)
			}
			removed = append(removed, decodeViewID(viewID))
		}
		return nil
	})
	return removed, err
}

// pinnedViewIDs returns the set of view id strings referenced by any
// PinnedRelation/PinnedRelationList field across the whole store, in
// either the operation log or already-materialized views.
func pinnedViewIDs(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	pinned := make(map[string]bool)
	for _, table := range []string{"operation_fields", "document_view_fields"} {
		rows, err := conn.QueryContext(ctx, fmt.Sprintf(`SELECT value FROM %s`, table))
		if err != nil {
			return nil, wrapDBError("pinned view ids: "+table, err)
		}
		for rows.Next() {
			var value string
			if err := rows.Scan(&value); err != nil {
				rows.Close()
				return nil, wrapDBError("pinned view ids: scan", err)
			}
			fv, err := decodeFieldValue(value)
			if err != nil {
				continue // a malformed row never pins anything; skip rather than abort pruning
			}
			for _, v := range fv.PinnedViews {
				pinned[v.String()] = true
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, wrapDBError("pinned view ids: rows", err)
		}
		rows.Close()
	}
	return pinned, nil
}

// GetDocumentsBySchema returns a cursor-paginated page of current
// documents for schemaID, ordered by document_id (spec.md §4.8 collection
// query). The opaque cursor is a base64 document id.
func (s *Store) GetDocumentsBySchema(ctx context.Context, req store.PageRequest) (*store.Page, error) {
	first := req.First
	if first <= 0 {
		first = 25
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE schema_id = ? AND deleted = 0`, req.SchemaID,
	).Scan(&total); err != nil {
		return nil, wrapDBError("get documents by schema: count", err)
	}

	args := []any{req.SchemaID}
	query := `SELECT document_id FROM documents WHERE schema_id = ? AND deleted = 0`
	if req.After != "" {
		after, err := decodeCursor(req.After)
		if err != nil {
			return nil, fmt.Errorf("get documents by schema: %w", err)
		}
		query += ` AND document_id > ?`
		args = append(args, after)
	}
	query += ` ORDER BY document_id ASC LIMIT ?`
	args = append(args, first+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("get documents by schema: query", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("get documents by schema: scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("get documents by schema: rows", err)
	}

	hasNext := len(ids) > first
	if hasNext {
		ids = ids[:first]
	}

	page := &store.Page{TotalCount: total, HasNextPage: hasNext}
	for _, id := range ids {
		docHash, err := types.ParseHash(id)
		if err != nil {
			return nil, err
		}
		doc, err := s.GetDocument(ctx, docHash)
		if err != nil {
			return nil, err
		}
		page.Documents = append(page.Documents, doc)
	}
	if len(ids) > 0 {
		page.EndCursor = encodeCursor(ids[len(ids)-1])
	}
	return page, nil
}

func encodeCursor(documentID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(documentID))
}

func decodeCursor(cursor string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("invalid cursor: %w", err)
	}
	return string(b), nil
}
