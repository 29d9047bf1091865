package graphqlapi

import (
	"context"
	"strings"

	"github.com/graphql-go/graphql"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// buildFieldsType assembles the `fields { ... }` object for one schema: one
// GraphQL field per schema field, scalar fields resolved straight from the
// decoded FieldValue and relation fields resolved back through Store into
// the related schema's own document type (spec.md §4.8).
func (b *Builder) buildFieldsType(schema types.Schema, typeName string, objectTypes map[string]*graphql.Object) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: typeName + "Fields",
		Fields: (graphql.FieldsThunk)(func() graphql.Fields {
			fields := graphql.Fields{}
			for _, sf := range schema.Fields {
				sf := sf
				fields[sf.Name] = b.buildSchemaFieldResolver(sf, objectTypes)
			}
			return fields
		}),
	})
}

func (b *Builder) buildSchemaFieldResolver(sf types.SchemaField, objectTypes map[string]*graphql.Object) *graphql.Field {
	if !sf.Kind.IsRelation() {
		out := graphqlScalarFor(sf.Kind)
		return &graphql.Field{
			Type: out,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				d := p.Source.(docLike)
				fv, ok := d.Fields[sf.Name]
				if !ok {
					return nil, nil
				}
				return scalarFieldValue(fv), nil
			},
		}
	}

	target := objectTypes[sf.RelationSchemaID]
	if sf.Kind.IsList() {
		return &graphql.Field{
			Type: graphql.NewList(target),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				d := p.Source.(docLike)
				fv, ok := d.Fields[sf.Name]
				if !ok {
					return nil, nil
				}
				return b.resolveRelationList(p.Context, fv, sf.Kind)
			},
		}
	}
	return &graphql.Field{
		Type: target,
		Resolve: func(p graphql.ResolveParams) (any, error) {
			d := p.Source.(docLike)
			fv, ok := d.Fields[sf.Name]
			if !ok {
				return nil, nil
			}
			return b.resolveRelationOne(p.Context, fv, sf.Kind)
		},
	}
}

func scalarFieldValue(fv types.FieldValue) any {
	switch fv.Kind {
	case types.FieldBool:
		return fv.Bool
	case types.FieldInt:
		return int(fv.Int)
	case types.FieldFloat:
		return fv.Float
	case types.FieldString:
		return fv.Str
	case types.FieldBytes:
		return fv.Bytes
	default:
		return nil
	}
}

func (b *Builder) resolveRelationOne(ctx context.Context, fv types.FieldValue, kind types.FieldKind) (any, error) {
	if kind.IsPinned() {
		if len(fv.PinnedViews) == 0 {
			return nil, nil
		}
		dv, err := b.store.GetDocumentByViewID(ctx, fv.PinnedViews[0])
		if err != nil {
			return nil, err
		}
		return fromDocumentView(dv), nil
	}
	if len(fv.Relations) == 0 {
		return nil, nil
	}
	doc, err := b.store.GetDocument(ctx, fv.Relations[0])
	if err != nil {
		return nil, err
	}
	return fromDocument(doc), nil
}

func (b *Builder) resolveRelationList(ctx context.Context, fv types.FieldValue, kind types.FieldKind) (any, error) {
	if kind.IsPinned() {
		out := make([]docLike, 0, len(fv.PinnedViews))
		for _, view := range fv.PinnedViews {
			dv, err := b.store.GetDocumentByViewID(ctx, view)
			if err != nil {
				return nil, err
			}
			out = append(out, fromDocumentView(dv))
		}
		return out, nil
	}
	out := make([]docLike, 0, len(fv.Relations))
	for _, id := range fv.Relations {
		doc, err := b.store.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, fromDocument(doc))
	}
	return out, nil
}

// buildOrderByEnum enumerates DOCUMENT_ID, DOCUMENT_VIEW_ID, and every
// scalar field name, matching spec.md §4.8's orderBy enum.
func buildOrderByEnum(schema types.Schema, typeName string) *graphql.Enum {
	values := graphql.EnumValueConfigMap{
		"DOCUMENT_ID":      {Value: "DOCUMENT_ID"},
		"DOCUMENT_VIEW_ID": {Value: "DOCUMENT_VIEW_ID"},
	}
	for _, sf := range schema.Fields {
		if sf.Kind.IsRelation() {
			continue
		}
		values[strings.ToUpper(sf.Name)] = &graphql.EnumValueConfig{Value: sf.Name}
	}
	return graphql.NewEnum(graphql.EnumConfig{
		Name:   typeName + "OrderBy",
		Values: values,
	})
}

// buildFilterInput builds a per-field equality filter input, applied
// in-memory over a fetched page. Scalar fields filter on their native
// GraphQL type; relation fields (pinned or not, single or list) filter by
// DocumentId equality against any document the field currently points at
// (spec.md §4.8: "per-field filter inputs per scalar kind ... and per
// relation kind"), the same equality-match shape as meta.owner below.
func buildFilterInput(schema types.Schema, typeName string) *graphql.InputObject {
	fields := graphql.InputObjectConfigFieldMap{}
	for _, sf := range schema.Fields {
		if sf.Kind.IsRelation() {
			fields[sf.Name] = &graphql.InputObjectFieldConfig{Type: documentIDScalar}
			continue
		}
		fields[sf.Name] = &graphql.InputObjectFieldConfig{Type: graphqlScalarFor(sf.Kind)}
	}
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   typeName + "Filter",
		Fields: fields,
	})
}

func matchesFilter(schema types.Schema, d docLike, filter map[string]any) bool {
	for _, sf := range schema.Fields {
		want, ok := filter[sf.Name]
		if !ok || want == nil {
			continue
		}
		got, ok := d.Fields[sf.Name]
		if !ok {
			return false
		}
		if !fieldValueEqual(got, want) {
			return false
		}
	}
	return true
}

func fieldValueEqual(fv types.FieldValue, want any) bool {
	switch fv.Kind {
	case types.FieldBool:
		v, ok := want.(bool)
		return ok && v == fv.Bool
	case types.FieldInt:
		v, ok := want.(int)
		return ok && int64(v) == fv.Int
	case types.FieldFloat:
		v, ok := want.(float64)
		return ok && v == fv.Float
	case types.FieldString:
		v, ok := want.(string)
		return ok && v == fv.Str
	default:
		if fv.Kind.IsRelation() {
			v, ok := want.(string)
			if !ok {
				return false
			}
			for _, rel := range fv.Relations {
				if rel.String() == v {
					return true
				}
			}
			return false
		}
		return false
	}
}
