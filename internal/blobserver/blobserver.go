// Package blobserver exposes materialized blob_v1 documents over plain
// HTTP, the one part of the API surface that is not GraphQL (spec.md §6
// "GET /blobs/{document_id}[/{view_id}]").
package blobserver

import (
	"context"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// Store is the subset of store.Store the blob routes need.
type Store interface {
	GetDocument(ctx context.Context, doc types.DocumentID) (*types.Document, error)
	GetDocumentByViewID(ctx context.Context, view types.ViewID) (*types.DocumentView, error)
}

// Server serves assembled blob files from dir, named by view_id, the layout
// the materializer's blob worker writes to (internal/materializer/blob.go).
type Server struct {
	store Store
	dir   string
}

// New creates a blob server reading assembled files from dir.
func New(st Store, dir string) *Server {
	return &Server{store: st, dir: dir}
}

// Handler builds the mux this server answers on, following the teacher's
// prefix-route-then-TrimPrefix mux idiom (cmd/bd/web_server.go's
// "/api/issues/" handler).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/blobs/", s.serveBlob)
	return mux
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/blobs/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		http.Error(w, "document id required", http.StatusBadRequest)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	docIDRaw := parts[0]

	docID, err := types.ParseHash(docIDRaw)
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}

	var view *types.DocumentView
	if len(parts) == 2 && parts[1] != "" {
		view, err = s.resolvePinnedView(r.Context(), docID, parts[1])
	} else {
		view, err = s.resolveLatestView(r.Context(), docID)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if view.SchemaID != types.SchemaBlobV1 {
		http.Error(w, "not a blob document", http.StatusNotFound)
		return
	}

	mimeType := "application/octet-stream"
	if fv, ok := view.Fields["mime_type"]; ok && fv.Kind == types.FieldString && fv.Str != "" {
		mimeType = fv.Str
	}

	f, err := os.Open(path.Join(s.dir, view.ViewID.String()))
	if err != nil {
		http.Error(w, "blob not materialized", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", mimeType)
	http.ServeContent(w, r, view.ViewID.String(), modTimeOf(f), f)
}

func (s *Server) resolveLatestView(ctx context.Context, docID types.DocumentID) (*types.DocumentView, error) {
	d, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	return &types.DocumentView{
		ViewID: d.ViewID, DocumentID: d.ID, SchemaID: d.SchemaID,
		Owner: d.Owner, Fields: d.Fields, Deleted: d.Deleted,
	}, nil
}

func (s *Server) resolvePinnedView(ctx context.Context, docID types.DocumentID, viewIDRaw string) (*types.DocumentView, error) {
	view, err := parseViewIDString(viewIDRaw)
	if err != nil {
		return nil, err
	}
	dv, err := s.store.GetDocumentByViewID(ctx, view)
	if err != nil {
		return nil, err
	}
	if dv.DocumentID != docID {
		return nil, errNotFound{"view does not belong to document"}
	}
	return dv, nil
}

func parseViewIDString(s string) (types.ViewID, error) {
	segments := strings.Split(s, "_")
	ids := make([]types.Hash, 0, len(segments))
	for _, seg := range segments {
		h, err := types.ParseHash(seg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, h)
	}
	return types.NewViewID(ids), nil
}

type errNotFound struct{ msg string }

func (e errNotFound) Error() string { return e.msg }

func modTimeOf(f *os.File) time.Time {
	info, err := f.Stat()
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
