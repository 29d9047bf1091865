package materializer_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/bamboo"
	"github.com/p2panda-go/bamboo-node/internal/materializer"
	"github.com/p2panda-go/bamboo-node/internal/operation"
	"github.com/p2panda-go/bamboo-node/internal/schemaprovider"
	"github.com/p2panda-go/bamboo-node/internal/store/sqlite"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newAuthor(t *testing.T) (ed25519.PrivateKey, types.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk types.PublicKey
	copy(pk[:], pub)
	return priv, pk
}

// signEntry encodes and signs op for (pub, logID, seqNum) without touching
// the store, returning the entry and the operation with its id filled in.
func signEntry(t *testing.T, priv ed25519.PrivateKey, pub types.PublicKey, logID, seqNum uint64, prev *types.Entry, op *types.Operation) (*types.Entry, *types.Operation) {
	t.Helper()
	op.Author = pub
	op.LogID = logID

	payload, err := operation.Encode(op)
	require.NoError(t, err)

	e := &types.Entry{
		PublicKey:   pub,
		LogID:       logID,
		SeqNum:      seqNum,
		PayloadSize: uint64(len(payload)),
		PayloadHash: bamboo.HashPayload(payload),
	}
	if seqNum > 1 {
		e.HasBacklink = true
		e.Backlink = prev.EntryHash
	}
	raw, hash, err := bamboo.EncodeEntry(e, priv)
	require.NoError(t, err)
	e.Raw = raw
	e.EntryHash = hash
	op.ID = hash

	return e, op
}

func TestReduceFoldsCreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	priv, pub := newAuthor(t)

	// A CREATE's log id must be chosen before the entry is signed (the
	// log id is part of the signed payload); the (author, log) binding to
	// its document is only known once the entry hash is computed, so the
	// order is: pick NextLogID, sign, then bind with GetOrAssignLog. Later
	// operations on the same document reuse the same log.
	logID, err := st.NextLogID(ctx, pub)
	require.NoError(t, err)

	create := &types.Operation{
		Action:   types.ActionCreate,
		SchemaID: "msg_0020aaa",
		Fields:   map[string]types.FieldValue{"text": {Kind: types.FieldString, Str: "hello"}},
	}
	e1, op1 := signEntry(t, priv, pub, logID, 1, nil, create)

	_, err = st.GetOrAssignLog(ctx, pub, op1.ID, "msg_0020aaa")
	require.NoError(t, err)
	require.NoError(t, st.InsertEntry(ctx, e1, op1))

	update := &types.Operation{
		Action:   types.ActionUpdate,
		SchemaID: "msg_0020aaa",
		Previous: types.NewViewID([]types.OperationID{op1.ID}),
		Fields:   map[string]types.FieldValue{"text": {Kind: types.FieldString, Str: "world"}},
	}
	e2, op2 := signEntry(t, priv, pub, logID, 2, e1, update)

	_, err = st.GetOrAssignLog(ctx, pub, op1.ID, "msg_0020aaa") // idempotent: same log, same document
	require.NoError(t, err)
	require.NoError(t, st.InsertEntry(ctx, e2, op2))

	m := materializer.New(st)
	outcome, next, err := m.Reduce(ctx, types.TaskForDocument(types.WorkerReduce, op1.ID).Input)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeOK, outcome)
	require.Len(t, next, 1)
	require.Equal(t, types.WorkerDependency, next[0].Worker)

	doc, err := st.GetDocument(ctx, op1.ID)
	require.NoError(t, err)
	require.Equal(t, "world", doc.Fields["text"].Str)
	require.False(t, doc.Deleted)
}

func TestDependencyEmitsPruneWhenResolved(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	m := materializer.New(st)

	docID := types.Hash{5}
	view := types.NewViewID([]types.OperationID{docID})
	require.NoError(t, st.InsertDocument(ctx, &types.DocumentView{
		ViewID: view, DocumentID: docID, SchemaID: "msg_0020aaa",
		Fields: map[string]types.FieldValue{"text": {Kind: types.FieldString, Str: "hi"}},
	}, true))

	outcome, next, err := m.Dependency(ctx, types.TaskForDocument(types.WorkerDependency, docID).Input)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeOK, outcome)
	require.Len(t, next, 1)
	require.Equal(t, types.WorkerPrune, next[0].Worker)
}

func TestDependencyEmitsReduceForMissingRelation(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	m := materializer.New(st)

	docID := types.Hash{6}
	target := types.Hash{7}
	view := types.NewViewID([]types.OperationID{docID})
	require.NoError(t, st.InsertDocument(ctx, &types.DocumentView{
		ViewID: view, DocumentID: docID, SchemaID: "msg_0020aaa",
		Fields: map[string]types.FieldValue{
			"parent": {Kind: types.FieldRelation, Relations: []types.DocumentID{target}},
		},
	}, true))

	outcome, next, err := m.Dependency(ctx, types.TaskForDocument(types.WorkerDependency, docID).Input)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeOK, outcome)
	require.Len(t, next, 1)
	require.Equal(t, types.WorkerReduce, next[0].Worker)
	require.Equal(t, target, next[0].Input.DocumentID)
}

func TestSchemaWorkerInstallsSchemaDefinition(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	provider := schemaprovider.New(nil)
	w := materializer.NewSchemaWorker(st, provider)

	fieldDefID := types.Hash{9}
	fieldView := types.NewViewID([]types.OperationID{fieldDefID})
	require.NoError(t, st.InsertDocument(ctx, &types.DocumentView{
		ViewID: fieldView, DocumentID: fieldDefID, SchemaID: types.SchemaFieldDefinitionV1,
		Fields: map[string]types.FieldValue{
			"name": {Kind: types.FieldString, Str: "text"},
			"type": {Kind: types.FieldString, Str: string(types.FieldString)},
		},
	}, true))

	schemaDefID := types.Hash{10}
	schemaView := types.NewViewID([]types.OperationID{schemaDefID})
	require.NoError(t, st.InsertDocument(ctx, &types.DocumentView{
		ViewID: schemaView, DocumentID: schemaDefID, SchemaID: types.SchemaDefinitionV1,
		Fields: map[string]types.FieldValue{
			"name":        {Kind: types.FieldString, Str: "note"},
			"description": {Kind: types.FieldString, Str: "a note"},
			"fields":      {Kind: types.FieldPinnedRelationList, PinnedViews: []types.ViewID{fieldView}},
		},
	}, true))

	outcome, next, err := w.Schema(ctx, types.TaskForView(types.WorkerSchema, schemaView).Input)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeOK, outcome)
	require.Empty(t, next)

	installed, ok := provider.Get(operation.ApplicationSchemaID("note", schemaDefID))
	require.True(t, ok)
	require.Equal(t, "note", installed.Name)
	require.Len(t, installed.Fields, 1)
	require.Equal(t, "text", installed.Fields[0].Name)
}

func TestPruneRemovesUnpinnedOldView(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	m := materializer.New(st)

	child := types.Hash{20}
	oldChildView := types.NewViewID([]types.OperationID{{20, 1}})
	newChildView := types.NewViewID([]types.OperationID{{20, 2}})
	require.NoError(t, st.InsertDocument(ctx, &types.DocumentView{
		ViewID: oldChildView, DocumentID: child, SchemaID: "child", Fields: map[string]types.FieldValue{},
	}, false))
	require.NoError(t, st.InsertDocument(ctx, &types.DocumentView{
		ViewID: newChildView, DocumentID: child, SchemaID: "child", Fields: map[string]types.FieldValue{},
	}, true))

	parent := types.Hash{21}
	parentView := types.NewViewID([]types.OperationID{parent})
	require.NoError(t, st.InsertDocument(ctx, &types.DocumentView{
		ViewID: parentView, DocumentID: parent, SchemaID: "parent",
		Fields: map[string]types.FieldValue{
			"child": {Kind: types.FieldPinnedRelation, PinnedViews: []types.ViewID{newChildView}},
		},
	}, true))

	// oldChildView is unpinned by anything and gets removed; it pins no
	// view itself, so pruning child produces no cascade targets.
	_, next, err := m.Prune(ctx, types.TaskForDocument(types.WorkerPrune, child).Input)
	require.NoError(t, err)
	require.Empty(t, next)

	all, err := st.GetAllDocumentViewIDs(ctx, child)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Equal(newChildView))
}
