package bamboo

import (
	"crypto/ed25519"
	"testing"

	"github.com/p2panda-go/bamboo-node/internal/types"
	"github.com/stretchr/testify/require"
)

func mustKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}

func TestEncodeDecodeEntryFirstInLog(t *testing.T) {
	pub, priv := mustKeyPair(t)
	var pk types.PublicKey
	copy(pk[:], pub)

	payload := []byte(`{"action":"create"}`)
	e := &types.Entry{
		PublicKey:   pk,
		LogID:       0,
		SeqNum:      1,
		PayloadSize: uint64(len(payload)),
		PayloadHash: HashPayload(payload),
	}

	raw, hash, err := EncodeEntry(e, priv)
	require.NoError(t, err)

	decoded, err := DecodeEntry(raw)
	require.NoError(t, err)
	require.Equal(t, hash, decoded.EntryHash)
	require.False(t, decoded.HasBacklink)
	require.False(t, decoded.HasSkiplink)
	require.NoError(t, VerifySignature(decoded))
}

func TestEncodeDecodeEntryWithBackAndSkipLink(t *testing.T) {
	pub, priv := mustKeyPair(t)
	var pk types.PublicKey
	copy(pk[:], pub)

	payload := []byte(`{"action":"update"}`)
	var back, skip types.Hash
	back[0] = 1
	skip[0] = 2

	e := &types.Entry{
		PublicKey:   pk,
		LogID:       3,
		SeqNum:      5,
		Backlink:    back,
		HasBacklink: true,
		Skiplink:    skip,
		HasSkiplink: true,
		PayloadSize: uint64(len(payload)),
		PayloadHash: HashPayload(payload),
	}

	raw, _, err := EncodeEntry(e, priv)
	require.NoError(t, err)

	decoded, err := DecodeEntry(raw)
	require.NoError(t, err)
	require.True(t, decoded.HasBacklink)
	require.Equal(t, back, decoded.Backlink)
	require.True(t, decoded.HasSkiplink)
	require.Equal(t, skip, decoded.Skiplink)
	require.NoError(t, VerifySignature(decoded))
}

func TestEncodeRejectsSeqOneWithBacklink(t *testing.T) {
	_, priv := mustKeyPair(t)
	e := &types.Entry{SeqNum: 1, HasBacklink: true, Backlink: types.Hash{1}}
	_, _, err := EncodeEntry(e, priv)
	require.Error(t, err)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	pub, priv := mustKeyPair(t)
	var pk types.PublicKey
	copy(pk[:], pub)
	payload := []byte("x")
	e := &types.Entry{PublicKey: pk, SeqNum: 1, PayloadSize: 1, PayloadHash: HashPayload(payload)}
	raw, _, err := EncodeEntry(e, priv)
	require.NoError(t, err)

	_, err = DecodeEntry(append(raw, 0xff))
	require.Error(t, err)
}

func TestVerifySignatureRejectsTamperedBytes(t *testing.T) {
	pub, priv := mustKeyPair(t)
	var pk types.PublicKey
	copy(pk[:], pub)
	payload := []byte("x")
	e := &types.Entry{PublicKey: pk, SeqNum: 1, PayloadSize: 1, PayloadHash: HashPayload(payload)}
	raw, _, err := EncodeEntry(e, priv)
	require.NoError(t, err)

	tampered := append([]byte(nil), raw...)
	tampered[0] ^= 0xff
	decoded, err := DecodeEntry(tampered)
	require.NoError(t, err)
	require.ErrorIs(t, VerifySignature(decoded), types.ErrInvalidSignature)
}
