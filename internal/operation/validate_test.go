package operation_test

import (
	"testing"

	"github.com/p2panda-go/bamboo-node/internal/operation"
	"github.com/p2panda-go/bamboo-node/internal/types"
	"github.com/stretchr/testify/assert"
)

func msgSchema() *types.Schema {
	return &types.Schema{
		ID:   "msg_0020aaa",
		Name: "msg",
		Fields: []types.SchemaField{
			{Name: "text", Kind: types.FieldString},
		},
	}
}

func TestValidateAgainstSchemaCreateRequiresFields(t *testing.T) {
	op := &types.Operation{Action: types.ActionCreate, SchemaID: "msg_0020aaa"}
	err := operation.ValidateAgainstSchema(op, msgSchema())
	assert.Error(t, err)
}

func TestValidateAgainstSchemaRejectsUnknownField(t *testing.T) {
	op := &types.Operation{
		Action:   types.ActionCreate,
		SchemaID: "msg_0020aaa",
		Fields: map[string]types.FieldValue{
			"text":    {Kind: types.FieldString, Str: "hi"},
			"unknown": {Kind: types.FieldBool, Bool: true},
		},
	}
	assert.Error(t, operation.ValidateAgainstSchema(op, msgSchema()))
}

func TestValidateAgainstSchemaRejectsWrongKind(t *testing.T) {
	op := &types.Operation{
		Action:   types.ActionCreate,
		SchemaID: "msg_0020aaa",
		Fields:   map[string]types.FieldValue{"text": {Kind: types.FieldInt, Int: 1}},
	}
	assert.Error(t, operation.ValidateAgainstSchema(op, msgSchema()))
}

func TestValidateAgainstSchemaAcceptsValidCreate(t *testing.T) {
	op := &types.Operation{
		Action:   types.ActionCreate,
		SchemaID: "msg_0020aaa",
		Fields:   map[string]types.FieldValue{"text": {Kind: types.FieldString, Str: "hi"}},
	}
	assert.NoError(t, operation.ValidateAgainstSchema(op, msgSchema()))
}

func TestValidateAgainstSchemaDeleteRejectsFields(t *testing.T) {
	op := &types.Operation{
		Action:   types.ActionDelete,
		SchemaID: "msg_0020aaa",
		Previous: types.NewViewID([]types.OperationID{{1}}),
		Fields:   map[string]types.FieldValue{"text": {Kind: types.FieldString, Str: "hi"}},
	}
	assert.Error(t, operation.ValidateAgainstSchema(op, msgSchema()))
}
