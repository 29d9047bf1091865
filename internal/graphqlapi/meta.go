package graphqlapi

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// docLike normalizes the two shapes Store returns for a materialized
// document (the current types.Document and a pinned types.DocumentView)
// into one value resolvers can share, since every field/meta resolver
// needs the same five attributes regardless of which one produced them.
type docLike struct {
	ID       types.DocumentID
	ViewID   types.ViewID
	SchemaID string
	Owner    types.PublicKey
	Fields   map[string]types.FieldValue
	Deleted  bool
}

func fromDocument(d *types.Document) docLike {
	return docLike{ID: d.ID, ViewID: d.ViewID, SchemaID: d.SchemaID, Owner: d.Owner, Fields: d.Fields, Deleted: d.Deleted}
}

func fromDocumentView(d *types.DocumentView) docLike {
	return docLike{ID: d.DocumentID, ViewID: d.ViewID, SchemaID: d.SchemaID, Owner: d.Owner, Fields: d.Fields, Deleted: d.Deleted}
}

// resolveByIDOrView fetches a document by documentId or viewId argument,
// matching spec.md §4.8's single-document query shape. Exactly one of the
// two arguments must be set.
func resolveByIDOrView(ctx context.Context, st store.Store, args map[string]any) (*docLike, error) {
	if raw, ok := args["viewId"].(string); ok && raw != "" {
		view, err := parseViewIDString(raw)
		if err != nil {
			return nil, err
		}
		dv, err := st.GetDocumentByViewID(ctx, view)
		if err != nil {
			return nil, err
		}
		d := fromDocumentView(dv)
		return &d, nil
	}
	if raw, ok := args["documentId"].(string); ok && raw != "" {
		id, err := types.ParseHash(raw)
		if err != nil {
			return nil, err
		}
		doc, err := st.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		d := fromDocument(doc)
		return &d, nil
	}
	return nil, fmt.Errorf("graphqlapi: one of documentId or viewId is required")
}

// parseViewIDString parses a view id's canonical underscore-joined hex
// form (types.ViewID.String) back into a ViewID.
func parseViewIDString(s string) (types.ViewID, error) {
	if s == "" {
		return nil, fmt.Errorf("graphqlapi: empty view id")
	}
	var ids []types.OperationID
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '_' {
			h, err := types.ParseHash(s[start:i])
			if err != nil {
				return nil, fmt.Errorf("graphqlapi: invalid view id %q: %w", s, err)
			}
			ids = append(ids, h)
			start = i + 1
		}
	}
	return types.NewViewID(ids), nil
}

// metaType is the shared `meta { documentId, viewId, owner }` object
// (spec.md §4.8), identical across every schema's document type.
var metaType = graphql.NewObject(graphql.ObjectConfig{
	Name: "DocumentMeta",
	Fields: graphql.Fields{
		"documentId": &graphql.Field{
			Type: graphql.NewNonNull(documentIDScalar),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				d := p.Source.(docLike)
				return d.ID.String(), nil
			},
		},
		"viewId": &graphql.Field{
			Type: graphql.NewNonNull(documentViewIDScalar),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				d := p.Source.(docLike)
				return d.ViewID.String(), nil
			},
		},
		"owner": &graphql.Field{
			Type: graphql.NewNonNull(publicKeyScalar),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				d := p.Source.(docLike)
				return d.Owner.String(), nil
			},
		},
		"deleted": &graphql.Field{
			Type: graphql.NewNonNull(graphql.Boolean),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				d := p.Source.(docLike)
				return d.Deleted, nil
			},
		},
	},
})

var orderDirectionEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "OrderDirection",
	Values: graphql.EnumValueConfigMap{
		"ASC":  {Value: true},
		"DESC": {Value: false},
	},
})
