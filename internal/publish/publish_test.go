package publish_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/bamboo"
	"github.com/p2panda-go/bamboo-node/internal/eventbus"
	"github.com/p2panda-go/bamboo-node/internal/operation"
	"github.com/p2panda-go/bamboo-node/internal/publish"
	"github.com/p2panda-go/bamboo-node/internal/schemaprovider"
	"github.com/p2panda-go/bamboo-node/internal/store/sqlite"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

const testSchemaID = "msg_0020aaa"

func testSchema() types.Schema {
	return types.Schema{
		ID:     testSchemaID,
		Name:   "message",
		Fields: []types.SchemaField{{Name: "text", Kind: types.FieldString}},
	}
}

func buildEntryPayload(t *testing.T, priv ed25519.PrivateKey, pub types.PublicKey, logID, seqNum uint64, prev *types.Entry, op *types.Operation) ([]byte, []byte) {
	t.Helper()
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
	return raw, payload
}

func newPath(t *testing.T) (*publish.Path, *sqlite.Store, *schemaprovider.Provider, <-chan eventbus.Event) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	provider := schemaprovider.New(nil)
	provider.Update(testSchema())

	bus := eventbus.New()
	ch, unsubscribe := bus.Subscribe(4)
	t.Cleanup(unsubscribe)

	return publish.New(st, provider, bus), st, provider, ch
}

func TestPublishAcceptsWellFormedCreate(t *testing.T) {
	ctx := context.Background()
	path, st, _, ch := newPath(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk types.PublicKey
	copy(pk[:], pub)

	create := &types.Operation{Action: types.ActionCreate, SchemaID: testSchemaID, Fields: map[string]types.FieldValue{
		"text": {Kind: types.FieldString, Str: "hi"},
	}}
	entryRaw, payload := buildEntryPayload(t, priv, pk, 0, 1, nil, create)

	op, err := path.Publish(ctx, entryRaw, payload)
	require.NoError(t, err)
	require.Equal(t, types.ActionCreate, op.Action)

	select {
	case ev := <-ch:
		require.Equal(t, op.ID, ev.DocumentID)
	default:
		t.Fatal("expected a broadcast NewOperation event")
	}

	stored, err := st.GetEntryAt(ctx, pk, 0, 1)
	require.NoError(t, err)
	require.Equal(t, entryRaw, stored.Raw)
}

func TestPublishRejectsTamperedSignature(t *testing.T) {
	ctx := context.Background()
	path, _, _, _ := newPath(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk types.PublicKey
	copy(pk[:], pub)

	create := &types.Operation{Action: types.ActionCreate, SchemaID: testSchemaID, Fields: map[string]types.FieldValue{
		"text": {Kind: types.FieldString, Str: "hi"},
	}}
	entryRaw, payload := buildEntryPayload(t, priv, pk, 0, 1, nil, create)
	entryRaw[0] ^= 0xff

	_, err = path.Publish(ctx, entryRaw, payload)
	require.Error(t, err)
}

func TestPublishRejectsUnsupportedSchema(t *testing.T) {
	ctx := context.Background()
	path, _, _, _ := newPath(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk types.PublicKey
	copy(pk[:], pub)

	create := &types.Operation{Action: types.ActionCreate, SchemaID: "unknown_0020bbb", Fields: nil}
	entryRaw, payload := buildEntryPayload(t, priv, pk, 0, 1, nil, create)

	_, err = path.Publish(ctx, entryRaw, payload)
	require.ErrorIs(t, err, publish.ErrSchemaNotSupported)
}

func TestPublishRejectsLogBindingConflict(t *testing.T) {
	ctx := context.Background()
	path, _, _, ch := newPath(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk types.PublicKey
	copy(pk[:], pub)

	first := &types.Operation{Action: types.ActionCreate, SchemaID: testSchemaID, Fields: map[string]types.FieldValue{
		"text": {Kind: types.FieldString, Str: "first"},
	}}
	entryRaw, payload := buildEntryPayload(t, priv, pk, 0, 1, nil, first)
	_, err = path.Publish(ctx, entryRaw, payload)
	require.NoError(t, err)
	<-ch // drain the first broadcast

	// A second, distinct CREATE (different document, since the entry hash
	// differs) wrongly reuses log_id 0 instead of the next log available to
	// this author; the store would assign log_id 1 to this new document.
	second := &types.Operation{Action: types.ActionCreate, SchemaID: testSchemaID, Fields: map[string]types.FieldValue{
		"text": {Kind: types.FieldString, Str: "second"},
	}}
	entryRaw2, payload2 := buildEntryPayload(t, priv, pk, 0, 1, nil, second)

	_, err = path.Publish(ctx, entryRaw2, payload2)
	require.ErrorIs(t, err, publish.ErrLogBindingConflict)
}

func TestPublishIsIdempotentOnByteIdenticalRepublish(t *testing.T) {
	ctx := context.Background()
	path, _, _, ch := newPath(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk types.PublicKey
	copy(pk[:], pub)

	create := &types.Operation{Action: types.ActionCreate, SchemaID: testSchemaID, Fields: map[string]types.FieldValue{
		"text": {Kind: types.FieldString, Str: "hi"},
	}}
	entryRaw, payload := buildEntryPayload(t, priv, pk, 0, 1, nil, create)

	_, err = path.Publish(ctx, entryRaw, payload)
	require.NoError(t, err)
	<-ch // drain the first broadcast

	op2, err := path.Publish(ctx, entryRaw, payload)
	require.NoError(t, err)
	require.NotNil(t, op2)

	select {
	case <-ch:
		t.Fatal("idempotent republish must not re-broadcast")
	default:
	}
}
