package graphqlapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/p2panda-go/bamboo-node/internal/bamboo"
	"github.com/p2panda-go/bamboo-node/internal/operation"
	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// buildMutationField assembles the single `S.id(fields, previous?)`
// mutation spec.md §4.8 grants each schema: it signs and publishes an
// operation through the node's own key pair and publish path, returning
// the resulting entry hash.
func (b *Builder) buildMutationField(schema types.Schema) *graphql.Field {
	inputFields := graphql.InputObjectConfigFieldMap{}
	for _, sf := range schema.Fields {
		inputFields[sf.Name] = &graphql.InputObjectFieldConfig{Type: mutationInputTypeFor(sf)}
	}
	inputType := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   sanitizeTypeName(schema.ID) + "Input",
		Fields: inputFields,
	})

	return &graphql.Field{
		Name: sanitizeTypeName(schema.ID),
		Type: entryHashScalar,
		Args: graphql.FieldConfigArgument{
			"fields":   &graphql.ArgumentConfig{Type: inputType},
			"previous": &graphql.ArgumentConfig{Type: graphql.NewList(entryHashScalar)},
			"deleted":  &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
		},
		Resolve: func(p graphql.ResolveParams) (any, error) {
			return b.publishMutation(p.Context, schema, p.Args)
		},
	}
}

func mutationInputTypeFor(sf types.SchemaField) graphql.Input {
	if !sf.Kind.IsRelation() {
		return graphqlScalarFor(sf.Kind)
	}
	scalar := graphql.Input(documentIDScalar)
	if sf.Kind.IsPinned() {
		scalar = documentViewIDScalar
	}
	if sf.Kind.IsList() {
		return graphql.NewList(scalar)
	}
	return scalar
}

func (b *Builder) publishMutation(ctx context.Context, schema types.Schema, args map[string]any) (string, error) {
	previousRaw, _ := args["previous"].([]any)
	deleted, _ := args["deleted"].(bool)

	var previous types.ViewID
	for _, raw := range previousRaw {
		s, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("graphqlapi: previous must be a list of entry hashes")
		}
		h, err := types.ParseHash(s)
		if err != nil {
			return "", fmt.Errorf("graphqlapi: invalid previous operation id %q: %w", s, err)
		}
		previous = append(previous, h)
	}
	previous = types.NewViewID(previous)

	action := types.ActionCreate
	switch {
	case deleted:
		action = types.ActionDelete
	case len(previous) > 0:
		action = types.ActionUpdate
	}

	fields, err := decodeMutationFields(schema, args["fields"], action)
	if err != nil {
		return "", err
	}

	op := &types.Operation{Action: action, SchemaID: schema.ID, Previous: previous, Fields: fields, Author: b.identity.Public}
	if err := op.Validate(); err != nil {
		return "", err
	}

	logID, seqNum, backlink, skiplink, hasBacklink, hasSkiplink, err := b.nextLogPosition(ctx, schema, op, previous)
	if err != nil {
		return "", err
	}

	payload, err := operation.Encode(op)
	if err != nil {
		return "", fmt.Errorf("graphqlapi: encoding operation: %w", err)
	}

	entry := &types.Entry{
		PublicKey:   b.identity.Public,
		LogID:       logID,
		SeqNum:      seqNum,
		PayloadSize: uint64(len(payload)),
		PayloadHash: bamboo.HashPayload(payload),
		HasBacklink: hasBacklink,
		Backlink:    backlink,
		HasSkiplink: hasSkiplink,
		Skiplink:    skiplink,
	}
	raw, _, err := bamboo.EncodeEntry(entry, b.identity.Private)
	if err != nil {
		return "", fmt.Errorf("graphqlapi: signing entry: %w", err)
	}

	published, err := b.publisher.Publish(ctx, raw, payload)
	if err != nil {
		return "", err
	}
	return published.ID.String(), nil
}

// nextLogPosition resolves which (log_id, seq_num, backlink, skiplink) the
// new entry must carry: a fresh log for CREATE, or the existing log of the
// document named by previous for UPDATE/DELETE (spec.md §4.8's
// `nextArgs`-style allocation, inlined here for the mutation's own author).
func (b *Builder) nextLogPosition(ctx context.Context, schema types.Schema, op *types.Operation, previous types.ViewID) (logID, seqNum uint64, backlink, skiplink types.Hash, hasBacklink, hasSkiplink bool, err error) {
	var docID types.DocumentID
	if op.Action == types.ActionCreate {
		logID, err = b.store.NextLogID(ctx, b.identity.Public)
		if err != nil {
			return 0, 0, types.Hash{}, types.Hash{}, false, false, err
		}
		return logID, 1, types.Hash{}, types.Hash{}, false, false, nil
	}

	docID, err = b.store.ResolveDocumentID(ctx, previous[0])
	if err != nil {
		return 0, 0, types.Hash{}, types.Hash{}, false, false, fmt.Errorf("graphqlapi: resolving previous: %w", err)
	}
	logID, err = b.store.GetOrAssignLog(ctx, b.identity.Public, docID, schema.ID)
	if err != nil {
		return 0, 0, types.Hash{}, types.Hash{}, false, false, err
	}
	latest, err := b.store.GetLatestEntry(ctx, b.identity.Public, logID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, 0, types.Hash{}, types.Hash{}, false, false, fmt.Errorf("graphqlapi: no prior entry on log %d to extend", logID)
		}
		return 0, 0, types.Hash{}, types.Hash{}, false, false, err
	}

	seqNum = latest.SeqNum + 1
	backlink = latest.EntryHash
	hasBacklink = true
	if !bamboo.SkiplinkOmitted(seqNum) {
		skipEntry, err := b.store.GetEntryAt(ctx, b.identity.Public, logID, bamboo.Lipmaa(seqNum))
		if err != nil {
			return 0, 0, types.Hash{}, types.Hash{}, false, false, fmt.Errorf("graphqlapi: resolving skiplink: %w", err)
		}
		skiplink = skipEntry.EntryHash
		hasSkiplink = true
	}
	return logID, seqNum, backlink, skiplink, hasBacklink, hasSkiplink, nil
}

func decodeMutationFields(schema types.Schema, raw any, action types.OperationAction) (map[string]types.FieldValue, error) {
	if action == types.ActionDelete {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("graphqlapi: fields argument is required")
	}

	out := make(map[string]types.FieldValue, len(m))
	for _, sf := range schema.Fields {
		v, present := m[sf.Name]
		if !present || v == nil {
			continue
		}
		fv, err := decodeMutationField(sf, v)
		if err != nil {
			return nil, err
		}
		out[sf.Name] = fv
	}
	return out, nil
}

func decodeMutationField(sf types.SchemaField, v any) (types.FieldValue, error) {
	fv := types.FieldValue{Kind: sf.Kind}
	switch sf.Kind {
	case types.FieldBool:
		fv.Bool, _ = v.(bool)
	case types.FieldInt:
		n, _ := v.(int)
		fv.Int = int64(n)
	case types.FieldFloat:
		fv.Float, _ = v.(float64)
	case types.FieldString:
		fv.Str, _ = v.(string)
	case types.FieldBytes:
		b, _ := v.([]byte)
		fv.Bytes = b
	case types.FieldRelation:
		id, err := parseRelationHash(v)
		if err != nil {
			return fv, err
		}
		fv.Relations = []types.DocumentID{id}
	case types.FieldRelationList:
		ids, err := parseRelationHashList(v)
		if err != nil {
			return fv, err
		}
		fv.Relations = ids
	case types.FieldPinnedRelation:
		view, err := parseViewArg(v)
		if err != nil {
			return fv, err
		}
		fv.PinnedViews = []types.ViewID{view}
	case types.FieldPinnedRelationList:
		views, err := parseViewArgList(v)
		if err != nil {
			return fv, err
		}
		fv.PinnedViews = views
	default:
		return fv, fmt.Errorf("graphqlapi: unsupported field kind %q", sf.Kind)
	}
	return fv, nil
}

func parseRelationHash(v any) (types.Hash, error) {
	s, ok := v.(string)
	if !ok {
		return types.Hash{}, fmt.Errorf("graphqlapi: relation field expects a document id string")
	}
	return types.ParseHash(s)
}

func parseRelationHashList(v any) ([]types.Hash, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("graphqlapi: relation list field expects a list of document ids")
	}
	out := make([]types.Hash, 0, len(items))
	for _, item := range items {
		h, err := parseRelationHash(item)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func parseViewArg(v any) (types.ViewID, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("graphqlapi: pinned relation field expects a view id string")
	}
	return parseViewIDString(s)
}

func parseViewArgList(v any) ([]types.ViewID, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("graphqlapi: pinned relation list field expects a list of view ids")
	}
	out := make([]types.ViewID, 0, len(items))
	for _, item := range items {
		view, err := parseViewArg(item)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}
