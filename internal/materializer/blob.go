package materializer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// BlobWorker assembles blob_v1 documents into files on disk. It is only
// ever queued for views whose schema is blob_v1 (spec.md §4.4 "blob(view_id)
// (only when schema_id = blob_v1)").
type BlobWorker struct {
	store   interface {
		GetDocumentByViewID(ctx context.Context, view types.ViewID) (*types.DocumentView, error)
	}
	blobDir string
}

// NewBlobWorker creates a blob worker writing assembled files under dir.
func NewBlobWorker(st interface {
	GetDocumentByViewID(ctx context.Context, view types.ViewID) (*types.DocumentView, error)
}, dir string) *BlobWorker {
	return &BlobWorker{store: st, blobDir: dir}
}

// Blob is the tasks.WorkerFunc for the "blob" worker name: it concatenates
// the referenced blob_piece_v1 payloads in order into a file named by
// view_id under the blob directory.
func (w *BlobWorker) Blob(ctx context.Context, input types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
	if !input.IsViewInput {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: blob worker requires a view input")
	}

	view, err := w.store.GetDocumentByViewID(ctx, input.ViewID)
	if err != nil {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: loading blob view %s: %w", input.ViewID, err)
	}
	if view.SchemaID != types.SchemaBlobV1 {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: view %s is not a blob_v1 document", input.ViewID)
	}

	piecesValue, ok := view.Fields["pieces"]
	if !ok || piecesValue.Kind != types.FieldPinnedRelationList {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: blob %s missing pieces field", input.ViewID)
	}

	if err := os.MkdirAll(w.blobDir, 0o755); err != nil {
		return types.OutcomeCritical, nil, fmt.Errorf("materializer: creating blob directory: %w", err)
	}

	path := filepath.Join(w.blobDir, input.ViewID.String())
	f, err := os.Create(path)
	if err != nil {
		return types.OutcomeCritical, nil, fmt.Errorf("materializer: creating blob file: %w", err)
	}
	defer f.Close()

	for _, pieceView := range piecesValue.PinnedViews {
		piece, err := w.store.GetDocumentByViewID(ctx, pieceView)
		if err != nil {
			return types.OutcomeFailure, nil, fmt.Errorf("materializer: loading blob piece %s: %w", pieceView, err)
		}
		if piece.SchemaID != types.SchemaBlobPieceV1 {
			return types.OutcomeFailure, nil, fmt.Errorf("materializer: %s is not a blob_piece_v1 document", pieceView)
		}
		data, ok := piece.Fields["data"]
		if !ok || data.Kind != types.FieldBytes {
			return types.OutcomeFailure, nil, fmt.Errorf("materializer: blob piece %s missing data field", pieceView)
		}
		if _, err := f.Write(data.Bytes); err != nil {
			return types.OutcomeCritical, nil, fmt.Errorf("materializer: writing blob piece: %w", err)
		}
	}

	return types.OutcomeOK, nil, nil
}
