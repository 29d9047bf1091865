package schemaprovider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/schemaprovider"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

func TestNewSeedsSystemSchemas(t *testing.T) {
	p := schemaprovider.New(nil)

	for _, id := range []string{
		types.SchemaDefinitionV1,
		types.SchemaFieldDefinitionV1,
		types.SchemaBlobV1,
		types.SchemaBlobPieceV1,
	} {
		_, ok := p.Get(id)
		assert.True(t, ok, "expected system schema %s to be seeded", id)
	}
}

func TestUpdateInstallsAndReportsChange(t *testing.T) {
	p := schemaprovider.New(nil)
	s := types.Schema{ID: "msg_0020aaa", Name: "message", Fields: []types.SchemaField{{Name: "text", Kind: types.FieldString}}}

	require.True(t, p.Update(s))
	require.False(t, p.Update(s)) // identical schema, no change

	got, ok := p.Get("msg_0020aaa")
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestUpdateRejectedByAllowList(t *testing.T) {
	allow := schemaprovider.NewAllowList([]string{"msg_0020aaa"})
	p := schemaprovider.New(allow)

	s := types.Schema{ID: "other_schema", Name: "other"}
	assert.False(t, p.Update(s))

	_, ok := p.Get("other_schema")
	assert.False(t, ok)

	// Still lets through schemas named on the allow-list and system schemas.
	assert.True(t, p.Update(types.Schema{ID: "msg_0020aaa", Name: "message"}))
	_, ok = p.Get(types.SchemaDefinitionV1)
	assert.True(t, ok)
}

func TestSubscribeReceivesInstalledSchema(t *testing.T) {
	p := schemaprovider.New(nil)
	ch, unsubscribe := p.Subscribe(4)
	defer unsubscribe()

	s := types.Schema{ID: "msg_0020aaa", Name: "message"}
	require.True(t, p.Update(s))

	select {
	case got := <-ch:
		assert.Equal(t, s.ID, got.ID)
	default:
		t.Fatal("expected a broadcast schema")
	}
}

func TestSupportedSchemaIDsIncludesSystemAndApplication(t *testing.T) {
	p := schemaprovider.New(nil)
	p.Update(types.Schema{ID: "msg_0020aaa", Name: "message"})

	ids := p.SupportedSchemaIDs()
	assert.Contains(t, ids, "msg_0020aaa")
	assert.Contains(t, ids, types.SchemaDefinitionV1)
}
