package operation_test

import (
	"testing"

	"github.com/p2panda-go/bamboo-node/internal/operation"
	"github.com/p2panda-go/bamboo-node/internal/types"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	op := &types.Operation{
		Action:   types.ActionCreate,
		SchemaID: "msg_0020aaa",
		Fields: map[string]types.FieldValue{
			"text": {Kind: types.FieldString, Str: "hi"},
		},
	}

	b, err := operation.Encode(op)
	require.NoError(t, err)

	id := types.Hash{9, 9, 9}
	decoded, err := operation.Decode(b, id, types.PublicKey{1}, 0)
	require.NoError(t, err)
	require.Equal(t, op.Action, decoded.Action)
	require.Equal(t, op.SchemaID, decoded.SchemaID)
	require.Equal(t, "hi", decoded.Fields["text"].Str)
	require.Equal(t, id, decoded.ID)
}

func TestEncodeDecodeIsDeterministic(t *testing.T) {
	op := &types.Operation{
		Action:   types.ActionUpdate,
		SchemaID: "msg_0020aaa",
		Previous: types.NewViewID([]types.OperationID{{2}, {1}}),
		Fields: map[string]types.FieldValue{
			"text": {Kind: types.FieldString, Str: "bye"},
		},
	}
	b1, err := operation.Encode(op)
	require.NoError(t, err)
	b2, err := operation.Encode(op)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestDecodeRejectsBadAction(t *testing.T) {
	op := &types.Operation{Action: "bogus", SchemaID: "x"}
	b, err := operation.Encode(op)
	require.NoError(t, err)
	_, err = operation.Decode(b, types.Hash{}, types.PublicKey{}, 0)
	require.Error(t, err)
}
