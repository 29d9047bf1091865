package replication_test

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/bamboo"
	"github.com/p2panda-go/bamboo-node/internal/eventbus"
	"github.com/p2panda-go/bamboo-node/internal/operation"
	"github.com/p2panda-go/bamboo-node/internal/publish"
	"github.com/p2panda-go/bamboo-node/internal/replication"
	"github.com/p2panda-go/bamboo-node/internal/schemaprovider"
	"github.com/p2panda-go/bamboo-node/internal/store/sqlite"
	"github.com/p2panda-go/bamboo-node/internal/transport"
	"github.com/p2panda-go/bamboo-node/internal/transport/loopback"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

const engineTestSchemaID = "msg_0020aaa"

func engineTestSchema() types.Schema {
	return types.Schema{ID: engineTestSchemaID, Name: "message", Fields: []types.SchemaField{{Name: "text", Kind: types.FieldString}}}
}

func newEngineNode(t *testing.T, net *loopback.Network, id string) (*replication.Engine, *sqlite.Store, *publish.Path) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	provider := schemaprovider.New(nil)
	provider.Update(engineTestSchema())

	bus := eventbus.New()
	path := publish.New(st, provider, bus)

	tr := net.Join(transport.PeerID(id))
	engine := replication.New(tr, st, provider, path)
	return engine, st, path
}

func signCreate(t *testing.T, priv ed25519.PrivateKey, pub types.PublicKey, logID, seqNum uint64, prev *types.Entry, text string) ([]byte, []byte, *types.Entry) {
	t.Helper()
	op := &types.Operation{Action: types.ActionCreate, SchemaID: engineTestSchemaID, Fields: map[string]types.FieldValue{
		"text": {Kind: types.FieldString, Str: text},
	}}
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
	return raw, payload, e
}

func TestLogHeightSyncConverges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := loopback.NewNetwork()
	engineA, stA, pathA := newEngineNode(t, net, "alice")
	engineB, stB, _ := newEngineNode(t, net, "bob")

	go engineA.Start(ctx)
	go engineB.Start(ctx)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk types.PublicKey
	copy(pk[:], pub)

	for logID := uint64(0); logID < 5; logID++ {
		raw, payload, _ := signCreate(t, priv, pk, logID, 1, nil, "hi")
		_, err := pathA.Publish(ctx, raw, payload)
		require.NoError(t, err)
	}

	require.NoError(t, engineA.Connect(ctx, "bob"))

	require.Eventually(t, func() bool {
		engineA.AnnounceNow()
		engineB.AnnounceNow()
		_, err := engineA.Open(ctx, "bob", types.ModeLogHeight)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := stB.GetEntryAt(ctx, pk, 4, 1)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	for logID := uint64(0); logID < 5; logID++ {
		want, err := stA.GetEntryAt(ctx, pk, logID, 1)
		require.NoError(t, err)
		got, err := stB.GetEntryAt(ctx, pk, logID, 1)
		require.NoError(t, err)
		require.Equal(t, want.Raw, got.Raw)
	}
}

func TestOpenFailsWithoutPriorAnnouncement(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	engineA, _, _ := newEngineNode(t, net, "alice")
	_, _, _ = newEngineNode(t, net, "bob")

	_, err := engineA.Open(ctx, "bob", types.ModeLogHeight)
	require.Error(t, err)
}
