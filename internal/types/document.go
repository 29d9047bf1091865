package types

// Document is the current materialized state of a document (spec.md §3
// "Document"): identified by its CREATE operation id, carrying the current
// view id (graph tips) and resolved field values.
type Document struct {
	ID       DocumentID
	ViewID   ViewID
	SchemaID string
	Owner    PublicKey
	Fields   map[string]FieldValue
	Deleted  bool
}

// DocumentView is a specific, possibly non-current, point-in-time state of
// a document, addressed by its ViewID (spec.md §3 "Document view"). A
// document may retain several views pinned by other documents' relations.
type DocumentView struct {
	ViewID     ViewID
	DocumentID DocumentID
	SchemaID   string
	Owner      PublicKey
	Fields     map[string]FieldValue
	Deleted    bool
}

// Schema describes an application or system schema assembled from a
// schema_definition document plus its schema_field_definition documents
// (spec.md §3 "Schema").
type Schema struct {
	ID          string
	Name        string
	Description string
	Fields      []SchemaField
}

// SchemaField is one ordered field of a Schema.
type SchemaField struct {
	Name string
	Kind FieldKind
	// RelationSchemaID is set when Kind.IsRelation(); it names the schema
	// the relation points at.
	RelationSchemaID string
}

// FieldByName returns the field with the given name, or (zero, false).
func (s *Schema) FieldByName(name string) (SchemaField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return SchemaField{}, false
}

// System schema ids (spec.md §9 EXPANSION "System schema catalogue").
const (
	SchemaDefinitionV1      = "schema_definition_v1"
	SchemaFieldDefinitionV1 = "schema_field_definition_v1"
	SchemaBlobV1            = "blob_v1"
	SchemaBlobPieceV1       = "blob_piece_v1"
)

// IsSystemSchema reports whether id names one of the built-in schemas.
func IsSystemSchema(id string) bool {
	switch id {
	case SchemaDefinitionV1, SchemaFieldDefinitionV1, SchemaBlobV1, SchemaBlobPieceV1:
		return true
	}
	return false
}
