package replication_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/replication"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

func TestSyncRequestRoundTrips(t *testing.T) {
	want := types.NewTargetSet([]string{"msg_0020aaa", "blob_v1"})
	b, err := replication.EncodeSyncRequest(replication.SyncRequest{
		SessionID: 7, Mode: types.ModeLogHeight, Target: want,
	})
	require.NoError(t, err)

	got, err := replication.Decode(b)
	require.NoError(t, err)
	req, ok := got.(replication.SyncRequest)
	require.True(t, ok)
	require.Equal(t, uint64(7), req.SessionID)
	require.Equal(t, types.ModeLogHeight, req.Mode)
	require.Equal(t, want, req.Target)
}

func TestAnnounceRoundTrips(t *testing.T) {
	b, err := replication.EncodeAnnounce(replication.Announce{
		ProtocolVersion: 1, Timestamp: 1234, SupportedSchemaIDs: []string{"a", "b"},
	})
	require.NoError(t, err)

	got, err := replication.Decode(b)
	require.NoError(t, err)
	ann, ok := got.(replication.Announce)
	require.True(t, ok)
	require.Equal(t, uint64(1), ann.ProtocolVersion)
	require.Equal(t, []string{"a", "b"}, ann.SupportedSchemaIDs)
}

func TestEntryRoundTrips(t *testing.T) {
	b, err := replication.EncodeEntry(replication.Entry{
		SessionID: 3, EntryBytes: []byte{1, 2, 3}, Payload: []byte{4, 5},
	})
	require.NoError(t, err)

	got, err := replication.Decode(b)
	require.NoError(t, err)
	e, ok := got.(replication.Entry)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, e.EntryBytes)
	require.Equal(t, []byte{4, 5}, e.Payload)
}

func TestDecodeRejectsUnknownMessageType(t *testing.T) {
	b, err := replication.EncodeSyncDone(replication.SyncDone{SessionID: 1})
	require.NoError(t, err)
	// Corrupt the message type tag (first CBOR element) to an unused value.
	b[1] = 0x0a

	_, err = replication.Decode(b)
	require.ErrorIs(t, err, replication.ErrUnsupportedMode)
}
