package materializer

import (
	"context"
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/operation"
	"github.com/p2panda-go/bamboo-node/internal/schemaprovider"
	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// SchemaWorker builds and installs application schemas from their
// materialized schema_definition_v1/schema_field_definition_v1 documents
// (spec.md §4.4). It needs the schema provider as well as Store, so it is
// kept separate from Materializer rather than added as a field every other
// worker would have to ignore.
type SchemaWorker struct {
	store    store.Store
	provider *schemaprovider.Provider
}

// NewSchemaWorker creates a schema worker installing into provider.
func NewSchemaWorker(st store.Store, provider *schemaprovider.Provider) *SchemaWorker {
	return &SchemaWorker{store: st, provider: provider}
}

// Schema is the tasks.WorkerFunc for the "schema" worker name. If view_id
// names a schema-definition view, it assembles the full Schema from the
// view plus its referenced field-definition views and installs it. If
// view_id names a field-definition view, it instead finds every
// schema-definition document that transitively references it and emits a
// schema task for each, so an edited field definition propagates.
func (w *SchemaWorker) Schema(ctx context.Context, input types.TaskInput) (types.WorkerOutcome, []types.Task, error) {
	view, err := w.store.GetDocumentByViewID(ctx, input.ViewID)
	if err != nil {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: loading schema view %s: %w", input.ViewID, err)
	}

	switch view.SchemaID {
	case types.SchemaDefinitionV1:
		return w.installSchemaDefinition(ctx, view)
	case types.SchemaFieldDefinitionV1:
		return w.propagateFieldDefinitionChange(ctx, input.ViewID)
	default:
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: view %s is not a schema document (schema_id=%s)", input.ViewID, view.SchemaID)
	}
}

func (w *SchemaWorker) installSchemaDefinition(ctx context.Context, view *types.DocumentView) (types.WorkerOutcome, []types.Task, error) {
	nameField, _ := fieldString(view.Fields, "name")
	descField, _ := fieldString(view.Fields, "description")

	fieldsValue, ok := view.Fields["fields"]
	if !ok || fieldsValue.Kind != types.FieldPinnedRelationList {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: schema definition %s missing pinned field list", view.ViewID)
	}

	schema := types.Schema{
		ID:          operation.ApplicationSchemaID(nameField, view.DocumentID),
		Name:        nameField,
		Description: descField,
	}
	for _, fv := range fieldsValue.PinnedViews {
		fieldView, err := w.store.GetDocumentByViewID(ctx, fv)
		if err != nil {
			return types.OutcomeFailure, nil, fmt.Errorf("materializer: loading field definition %s: %w", fv, err)
		}
		name, _ := fieldString(fieldView.Fields, "name")
		typ, _ := fieldString(fieldView.Fields, "type")
		schema.Fields = append(schema.Fields, types.SchemaField{Name: name, Kind: types.FieldKind(typ)})
	}

	w.provider.Update(schema)
	return types.OutcomeOK, nil, nil
}

// propagateFieldDefinitionChange finds every schema-definition document
// whose pinned "fields" list includes viewID and re-queues a schema task
// for each, so the schema is rebuilt with the edited field definition.
func (w *SchemaWorker) propagateFieldDefinitionChange(ctx context.Context, viewID types.ViewID) (types.WorkerOutcome, []types.Task, error) {
	page, err := w.store.GetDocumentsBySchema(ctx, store.PageRequest{SchemaID: types.SchemaDefinitionV1, First: 1 << 20})
	if err != nil {
		return types.OutcomeFailure, nil, fmt.Errorf("materializer: listing schema definitions: %w", err)
	}

	var next []types.Task
	for _, doc := range page.Documents {
		fieldsValue, ok := doc.Fields["fields"]
		if !ok {
			continue
		}
		for _, fv := range fieldsValue.PinnedViews {
			if fv.Equal(viewID) {
				next = append(next, types.TaskForView(types.WorkerSchema, doc.ViewID))
				break
			}
		}
	}
	return types.OutcomeOK, next, nil
}

func fieldString(fields map[string]types.FieldValue, name string) (string, bool) {
	v, ok := fields[name]
	if !ok || v.Kind != types.FieldString {
		return "", false
	}
	return v.Str, true
}
