// Package store defines the Store contract (spec.md §4.1): the exclusive
// owner of entry, log, operation, document, document-view, and task rows.
// Concrete backends live in subpackages (internal/store/sqlite).
package store

import (
	"context"
	"errors"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// Sentinel errors surfaced by Store methods, matching spec.md §4.1's
// contract annotations (Ok | DuplicateSeqNum | LinkMismatch, etc).
var (
	ErrDuplicateSeqNum = errors.New("store: duplicate seq_num for (public_key, log_id)")
	ErrLinkMismatch    = errors.New("store: backlink or skiplink does not resolve")
	ErrNotFound        = errors.New("store: not found")
	ErrLogConflict     = errors.New("store: log already bound to a different document/schema")
)

// LogHeightsRow is one author's logs, restricted to a schema, as returned
// by GetLogHeights (spec.md §4.1).
type LogHeightsRow struct {
	PublicKey types.PublicKey
	Logs      []types.LogSeq
}

// Page is a cursor-paginated slice of documents, used by the GraphQL
// collection queries (spec.md §4.8).
type Page struct {
	Documents   []*types.Document
	TotalCount  int
	HasNextPage bool
	EndCursor   string
}

// PageRequest describes a single collection query's pagination/order/
// filter parameters.
type PageRequest struct {
	SchemaID      string
	First         int
	After         string // opaque cursor, decodable only by the Store that produced it
	OrderBy       string // field name, or "DOCUMENT_ID"/"DOCUMENT_VIEW_ID"
	OrderAscending bool
}

// Store is the single writer and query surface for all durable node state
// (spec.md §4.1). Implementations must make insert_entry atomic with log
// head advancement and must treat insert_task/remove_task conflicts as a
// no-op, never an error.
type Store interface {
	// Entries and logs.

	InsertEntry(ctx context.Context, e *types.Entry, op *types.Operation) error
	GetEntryAt(ctx context.Context, pub types.PublicKey, logID, seqNum uint64) (*types.Entry, error)
	GetLatestEntry(ctx context.Context, pub types.PublicKey, logID uint64) (*types.Entry, error)
	NextLogID(ctx context.Context, pub types.PublicKey) (uint64, error)
	GetOrAssignLog(ctx context.Context, pub types.PublicKey, doc types.DocumentID, schemaID string) (uint64, error)
	GetLog(ctx context.Context, pub types.PublicKey, logID uint64) (*types.Log, error)
	GetCertificatePool(ctx context.Context, pub types.PublicKey, logID, seqNum uint64) ([]*types.Entry, error)

	// Operations and documents.

	GetOperationsByDocumentID(ctx context.Context, doc types.DocumentID) ([]*types.Operation, error)
	ResolveDocumentID(ctx context.Context, op types.OperationID) (types.DocumentID, error)
	InsertDocument(ctx context.Context, doc *types.DocumentView, isCurrent bool) error
	GetDocument(ctx context.Context, doc types.DocumentID) (*types.Document, error)
	GetDocumentByViewID(ctx context.Context, view types.ViewID) (*types.DocumentView, error)
	GetDocumentsBySchema(ctx context.Context, req PageRequest) (*Page, error)
	GetAllDocumentViewIDs(ctx context.Context, doc types.DocumentID) ([]types.ViewID, error)
	GetLogHeights(ctx context.Context, schemaID string) ([]LogHeightsRow, error)

	// Tasks.

	InsertTask(ctx context.Context, t types.Task) error
	RemoveTask(ctx context.Context, t types.Task) error
	GetTasks(ctx context.Context) ([]types.Task, error)

	// Pruning.

	PruneDocumentViews(ctx context.Context, doc types.DocumentID) ([]types.ViewID, error)

	Close() error
}
