package graphqlapi

import (
	"github.com/graphql-go/graphql"

	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// buildCollectionField assembles `all_<typeName>(first, after, orderBy,
// orderDirection, filter, meta)` returning the paginated connection shape
// from spec.md §4.8.
func (b *Builder) buildCollectionField(schema types.Schema, typeName string, docType, fieldsType *graphql.Object) *graphql.Field {
	orderByEnum := buildOrderByEnum(schema, typeName)
	filterInput := buildFilterInput(schema, typeName)

	edgeType := graphql.NewObject(graphql.ObjectConfig{
		Name: typeName + "Edge",
		Fields: graphql.Fields{
			"cursor": &graphql.Field{Type: graphql.NewNonNull(cursorScalar), Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(connectionEdge).cursor, nil
			}},
			"meta": &graphql.Field{Type: graphql.NewNonNull(metaType), Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(connectionEdge).doc, nil
			}},
			"fields": &graphql.Field{Type: graphql.NewNonNull(fieldsType), Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(connectionEdge).doc, nil
			}},
		},
	})

	connectionType := graphql.NewObject(graphql.ObjectConfig{
		Name: typeName + "Connection",
		Fields: graphql.Fields{
			"totalCount":  &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"hasNextPage": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"endCursor":   &graphql.Field{Type: cursorScalar},
			"documents":   &graphql.Field{Type: graphql.NewList(edgeType)},
		},
	})

	return &graphql.Field{
		Name: "all_" + typeName,
		Type: connectionType,
		Args: graphql.FieldConfigArgument{
			"first":          &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 25},
			"after":          &graphql.ArgumentConfig{Type: cursorScalar},
			"orderBy":        &graphql.ArgumentConfig{Type: orderByEnum},
			"orderDirection": &graphql.ArgumentConfig{Type: orderDirectionEnum, DefaultValue: true},
			"filter":         &graphql.ArgumentConfig{Type: filterInput},
			"meta":           &graphql.ArgumentConfig{Type: metaFilterInput},
		},
		Resolve: func(p graphql.ResolveParams) (any, error) {
			first, _ := p.Args["first"].(int)
			after, _ := p.Args["after"].(string)
			orderBy, _ := p.Args["orderBy"].(string)
			ascending, _ := p.Args["orderDirection"].(bool)

			page, err := b.store.GetDocumentsBySchema(p.Context, store.PageRequest{
				SchemaID:       schema.ID,
				First:          first,
				After:          after,
				OrderBy:        orderBy,
				OrderAscending: ascending,
			})
			if err != nil {
				return nil, err
			}

			filter, _ := p.Args["filter"].(map[string]any)
			metaFilter, _ := p.Args["meta"].(map[string]any)

			edges := make([]connectionEdge, 0, len(page.Documents))
			for _, d := range page.Documents {
				dl := fromDocument(d)
				if filter != nil && !matchesFilter(schema, dl, filter) {
					continue
				}
				if metaFilter != nil && !matchesMetaFilter(dl, metaFilter) {
					continue
				}
				edges = append(edges, connectionEdge{doc: dl, cursor: dl.ID.String()})
			}

			return connectionPage{
				TotalCount:  page.TotalCount,
				HasNextPage: page.HasNextPage,
				EndCursor:   page.EndCursor,
				Documents:   edges,
			}, nil
		},
	}
}

type connectionEdge struct {
	doc    docLike
	cursor string
}

type connectionPage struct {
	TotalCount  int
	HasNextPage bool
	EndCursor   string
	Documents   []connectionEdge
}

// metaFilterInput lets a collection query additionally restrict by owner
// or deleted state — the `meta` argument spec.md §4.8 lists alongside
// `filter` without detailing its shape. It has no document id filter.
var metaFilterInput = graphql.NewInputObject(graphql.InputObjectConfig{
	Name: "DocumentMetaFilter",
	Fields: graphql.InputObjectConfigFieldMap{
		"owner":   {Type: publicKeyScalar},
		"deleted": {Type: graphql.Boolean},
	},
})

func matchesMetaFilter(d docLike, filter map[string]any) bool {
	if owner, ok := filter["owner"].(string); ok && owner != "" && d.Owner.String() != owner {
		return false
	}
	if deleted, ok := filter["deleted"].(bool); ok && deleted != d.Deleted {
		return false
	}
	return true
}
