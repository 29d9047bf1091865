package types_test

import (
	"testing"

	"github.com/p2panda-go/bamboo-node/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicKeyRoundTrip(t *testing.T) {
	hex := "8b52d8a96946d6f264ef6b0b1d49e1b8b0ddaa82c9c4d2a27d3f4d23f8b4a240a"[:64]
	k, err := types.ParsePublicKey(hex)
	require.NoError(t, err)
	assert.Equal(t, hex, k.String())
}

func TestParsePublicKeyRejectsBadLength(t *testing.T) {
	_, err := types.ParsePublicKey("abcd")
	assert.Error(t, err)
}

func TestNewViewIDSortsAndDedups(t *testing.T) {
	var a, b, c types.Hash
	a[0] = 3
	b[0] = 1
	c[0] = 2

	v := types.NewViewID([]types.OperationID{a, b, c, b})
	require.Len(t, v, 3)
	assert.True(t, v[0].String() < v[1].String())
	assert.True(t, v[1].String() < v[2].String())
}

func TestViewIDEqual(t *testing.T) {
	var a, b types.Hash
	a[0] = 1
	b[0] = 2

	v1 := types.NewViewID([]types.OperationID{a, b})
	v2 := types.NewViewID([]types.OperationID{b, a})
	assert.True(t, v1.Equal(v2))

	v3 := types.NewViewID([]types.OperationID{a})
	assert.False(t, v1.Equal(v3))
}

func TestOperationValidate(t *testing.T) {
	tests := []struct {
		name    string
		op      types.Operation
		wantErr bool
	}{
		{
			name: "valid create",
			op:   types.Operation{Action: types.ActionCreate, SchemaID: "msg_0020aaa"},
		},
		{
			name:    "create with previous",
			op:      types.Operation{Action: types.ActionCreate, SchemaID: "msg_0020aaa", Previous: types.ViewID{types.Hash{1}}},
			wantErr: true,
		},
		{
			name:    "update without previous",
			op:      types.Operation{Action: types.ActionUpdate, SchemaID: "msg_0020aaa"},
			wantErr: true,
		},
		{
			name: "valid delete",
			op:   types.Operation{Action: types.ActionDelete, SchemaID: "msg_0020aaa", Previous: types.ViewID{types.Hash{1}}},
		},
		{
			name:    "missing schema",
			op:      types.Operation{Action: types.ActionCreate},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTargetSetIntersect(t *testing.T) {
	a := types.NewTargetSet([]string{"b", "a", "c"})
	b := types.NewTargetSet([]string{"c", "d", "a"})
	got := a.Intersect(b)
	assert.Equal(t, types.NewTargetSet([]string{"a", "c"}), got)
}

func TestTargetSetContains(t *testing.T) {
	ts := types.NewTargetSet([]string{"x", "a", "m"})
	assert.True(t, ts.Contains("a"))
	assert.True(t, ts.Contains("m"))
	assert.False(t, ts.Contains("z"))
}

func TestTaskDedupKey(t *testing.T) {
	doc := types.DocumentID{1, 2, 3}
	t1 := types.TaskForDocument(types.WorkerReduce, doc)
	t2 := types.TaskForDocument(types.WorkerReduce, doc)
	assert.Equal(t, t1.Input.DedupKey(types.WorkerReduce), t2.Input.DedupKey(types.WorkerReduce))

	view := types.NewViewID([]types.OperationID{doc})
	t3 := types.TaskForView(types.WorkerReduce, view)
	assert.NotEqual(t, t1.Input.DedupKey(types.WorkerReduce), t3.Input.DedupKey(types.WorkerReduce))
}
