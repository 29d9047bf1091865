package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/bamboo"
	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// InsertEntry appends an entry and its decoded operation atomically: the
// entry row, the operation row, and its field rows all land in one
// IMMEDIATE transaction, so a crash between them can never leave the log
// ahead of the operation table (spec.md §4.1/§4.2).
func (s *Store) InsertEntry(ctx context.Context, e *types.Entry, op *types.Operation) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		var existingSeq sql.NullInt64
		err := conn.QueryRowContext(ctx,
			`SELECT seq_num FROM entries WHERE public_key = ? AND log_id = ? AND seq_num = ?`,
			e.PublicKey.String(), e.LogID, e.SeqNum,
		).Scan(&existingSeq)
		if err == nil {
			return store.ErrDuplicateSeqNum
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return wrapDBError("insert entry: check duplicate", err)
		}

		if e.SeqNum > 1 {
			prev, err := getEntryAt(ctx, conn, e.PublicKey, e.LogID, e.SeqNum-1)
			if err != nil {
				return fmt.Errorf("%w: previous entry missing", store.ErrLinkMismatch)
			}
			if prev.EntryHash != e.Backlink {
				return fmt.Errorf("%w: backlink does not match previous entry", store.ErrLinkMismatch)
			}
			if e.HasSkiplink {
				skipSeq := bamboo.Lipmaa(e.SeqNum)
				skip, err := getEntryAt(ctx, conn, e.PublicKey, e.LogID, skipSeq)
				if err != nil {
					return fmt.Errorf("%w: skiplink target missing", store.ErrLinkMismatch)
				}
				if skip.EntryHash != e.Skiplink {
					return fmt.Errorf("%w: skiplink does not match target entry", store.ErrLinkMismatch)
				}
			}
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO entries (
				public_key, log_id, seq_num, entry_hash, backlink, skiplink,
				has_backlink, has_skiplink, payload_size, payload_hash, signature, raw
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.PublicKey.String(), e.LogID, e.SeqNum, e.EntryHash.String(),
			e.Backlink.String(), e.Skiplink.String(), boolToInt(e.HasBacklink), boolToInt(e.HasSkiplink),
			e.PayloadSize, e.PayloadHash.String(), e.Signature[:], e.Raw,
		)
		if err != nil {
			return wrapDBError("insert entry: insert row", err)
		}

		// Every entry's (public_key, log_id) is already bound to a document
		// by GetOrAssignLog before InsertEntry is ever called (for CREATE,
		// that binding is to the new document itself), so every operation
		// row — not only CREATE — can carry its document_id from the start.
		// This lets ResolveDocumentID answer for any operation id without
		// walking the previous-pointer chain.
		var docID string
		if err := conn.QueryRowContext(ctx,
			`SELECT document_id FROM logs WHERE public_key = ? AND log_id = ?`,
			e.PublicKey.String(), e.LogID,
		).Scan(&docID); err != nil {
			return wrapDBError("insert entry: resolve document id", err)
		}
		_, err = conn.ExecContext(ctx, `
			INSERT INTO operations (operation_id, action, schema_id, previous, author, log_id, document_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			op.ID.String(), string(op.Action), op.SchemaID, encodeViewID(op.Previous),
			op.Author.String(), op.LogID, docID,
		)
		if err != nil {
			return wrapDBError("insert entry: insert operation", err)
		}

		for name, v := range op.Fields {
			enc, err := encodeFieldValue(v)
			if err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx,
				`INSERT INTO operation_fields (operation_id, name, value) VALUES (?, ?, ?)`,
				op.ID.String(), name, enc,
			); err != nil {
				return wrapDBError("insert entry: insert field", err)
			}
		}

		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func getEntryAt(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, pub types.PublicKey, logID, seqNum uint64) (*types.Entry, error) {
	var (
		entryHash, backlink, skiplink, payloadHash string
		hasBacklink, hasSkiplink                   int
		payloadSize                                uint64
		signature, raw                              []byte
	)
	row := q.QueryRowContext(ctx, `
		SELECT entry_hash, backlink, skiplink, has_backlink, has_skiplink,
		       payload_size, payload_hash, signature, raw
		FROM entries WHERE public_key = ? AND log_id = ? AND seq_num = ?`,
		pub.String(), logID, seqNum,
	)
	if err := row.Scan(&entryHash, &backlink, &skiplink, &hasBacklink, &hasSkiplink,
		&payloadSize, &payloadHash, &signature, &raw); err != nil {
		return nil, wrapDBError("get entry", err)
	}
	return entryFromRow(pub, logID, seqNum, entryHash, backlink, skiplink, hasBacklink, hasSkiplink, payloadSize, payloadHash, signature, raw)
}

func entryFromRow(pub types.PublicKey, logID, seqNum uint64, entryHash, backlink, skiplink string, hasBacklink, hasSkiplink int, payloadSize uint64, payloadHash string, signature, raw []byte) (*types.Entry, error) {
	eh, err := types.ParseHash(entryHash)
	if err != nil {
		return nil, err
	}
	ph, err := types.ParseHash(payloadHash)
	if err != nil {
		return nil, err
	}
	e := &types.Entry{
		PublicKey:   pub,
		LogID:       logID,
		SeqNum:      seqNum,
		EntryHash:   eh,
		HasBacklink: hasBacklink != 0,
		HasSkiplink: hasSkiplink != 0,
		PayloadSize: payloadSize,
		PayloadHash: ph,
		Raw:         raw,
	}
	if e.HasBacklink {
		if e.Backlink, err = types.ParseHash(backlink); err != nil {
			return nil, err
		}
	}
	if e.HasSkiplink {
		if e.Skiplink, err = types.ParseHash(skiplink); err != nil {
			return nil, err
		}
	}
	copy(e.Signature[:], signature)
	return e, nil
}

// GetEntryAt returns the entry at the given (public_key, log_id, seq_num).
func (s *Store) GetEntryAt(ctx context.Context, pub types.PublicKey, logID, seqNum uint64) (*types.Entry, error) {
	return getEntryAt(ctx, s.db, pub, logID, seqNum)
}

// GetLatestEntry returns the highest seq_num entry in a log, or
// store.ErrNotFound if the log is empty.
func (s *Store) GetLatestEntry(ctx context.Context, pub types.PublicKey, logID uint64) (*types.Entry, error) {
	var seqNum uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq_num FROM entries WHERE public_key = ? AND log_id = ? ORDER BY seq_num DESC LIMIT 1`,
		pub.String(), logID,
	).Scan(&seqNum)
	if err != nil {
		return nil, wrapDBError("get latest entry", err)
	}
	return getEntryAt(ctx, s.db, pub, logID, seqNum)
}

// NextLogID returns the next unused log id for an author (max + 1, or 0 if
// the author has no logs yet).
func (s *Store) NextLogID(ctx context.Context, pub types.PublicKey) (uint64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(log_id) FROM logs WHERE public_key = ?`, pub.String(),
	).Scan(&max)
	if err != nil {
		return 0, wrapDBError("next log id", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64) + 1, nil
}

// GetOrAssignLog returns the log id bound to (pub, doc, schemaID),
// assigning a fresh one if none exists yet. Returns store.ErrLogConflict
// if a log already exists for this author+document under a different
// schema id (spec.md §4.1 invariant: one log is one document, one schema).
func (s *Store) GetOrAssignLog(ctx context.Context, pub types.PublicKey, doc types.DocumentID, schemaID string) (uint64, error) {
	var logID uint64
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		var existingSchema string
		err := conn.QueryRowContext(ctx,
			`SELECT log_id, schema_id FROM logs WHERE public_key = ? AND document_id = ?`,
			pub.String(), doc.String(),
		).Scan(&logID, &existingSchema)
		if err == nil {
			if existingSchema != schemaID {
				return fmt.Errorf("%w: log for document %s already bound to schema %q", store.ErrLogConflict, doc, existingSchema)
			}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return wrapDBError("get or assign log: lookup", err)
		}

		var max sql.NullInt64
		if err := conn.QueryRowContext(ctx, `SELECT MAX(log_id) FROM logs WHERE public_key = ?`, pub.String()).Scan(&max); err != nil {
			return wrapDBError("get or assign log: max", err)
		}
		logID = 0
		if max.Valid {
			logID = uint64(max.Int64) + 1
		}
		_, err = conn.ExecContext(ctx,
			`INSERT INTO logs (public_key, log_id, document_id, schema_id) VALUES (?, ?, ?, ?)`,
			pub.String(), logID, doc.String(), schemaID,
		)
		if err != nil {
			return wrapDBError("get or assign log: insert", err)
		}
		return nil
	})
	return logID, err
}

// GetLog returns the log binding for (pub, logID).
func (s *Store) GetLog(ctx context.Context, pub types.PublicKey, logID uint64) (*types.Log, error) {
	var docID, schemaID string
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, schema_id FROM logs WHERE public_key = ? AND log_id = ?`,
		pub.String(), logID,
	).Scan(&docID, &schemaID)
	if err != nil {
		return nil, wrapDBError("get log", err)
	}
	doc, err := types.ParseHash(docID)
	if err != nil {
		return nil, err
	}
	return &types.Log{PublicKey: pub, LogID: logID, DocumentID: doc, SchemaID: schemaID}, nil
}

// GetCertificatePool returns every entry a verifier needs to check the
// backlink/skiplink chain up to (pub, logID, seqNum): the direct
// predecessor plus every lipmaa-linked ancestor (spec.md §3 "Certificate
// pool").
func (s *Store) GetCertificatePool(ctx context.Context, pub types.PublicKey, logID, seqNum uint64) ([]*types.Entry, error) {
	seqNums := bamboo.CertificatePoolSeqNums(seqNum)
	out := make([]*types.Entry, 0, len(seqNums))
	for _, sn := range seqNums {
		e, err := getEntryAt(ctx, s.db, pub, logID, sn)
		if err != nil {
			return nil, fmt.Errorf("get certificate pool: ancestor seq %d: %w", sn, err)
		}
		out = append(out, e)
	}
	return out, nil
}
