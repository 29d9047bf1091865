package operation

import (
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// ValidateAgainstSchema checks that op's fields conform to schema: every
// schema field is present with the right kind, and no unknown fields are
// present (spec.md §3 Operation invariant: "fields conform to schema_id").
// DELETE operations carry no fields and are exempt.
func ValidateAgainstSchema(op *types.Operation, schema *types.Schema) error {
	if op.SchemaID != schema.ID {
		return fmt.Errorf("operation: schema_id %q does not match schema %q", op.SchemaID, schema.ID)
	}
	if op.Action == types.ActionDelete {
		if len(op.Fields) != 0 {
			return fmt.Errorf("operation: DELETE must not carry fields")
		}
		return nil
	}

	for name, want := range fieldsByName(schema) {
		got, ok := op.Fields[name]
		if !ok {
			if op.Action == types.ActionCreate {
				return fmt.Errorf("operation: CREATE missing required field %q", name)
			}
			continue // UPDATE may touch a subset of fields
		}
		if got.Kind != want.Kind {
			return fmt.Errorf("operation: field %q has kind %q, schema wants %q", name, got.Kind, want.Kind)
		}
		if want.Kind.IsRelation() && !want.Kind.IsList() {
			refs := len(got.Relations)
			if want.Kind.IsPinned() {
				refs = len(got.PinnedViews)
			}
			if refs != 1 {
				return fmt.Errorf("operation: field %q must reference exactly one document", name)
			}
		}
	}

	for name := range op.Fields {
		if _, ok := schema.FieldByName(name); !ok {
			return fmt.Errorf("operation: field %q is not declared by schema %q", name, schema.ID)
		}
	}
	return nil
}

func fieldsByName(schema *types.Schema) map[string]types.SchemaField {
	out := make(map[string]types.SchemaField, len(schema.Fields))
	for _, f := range schema.Fields {
		out[f.Name] = f
	}
	return out
}
