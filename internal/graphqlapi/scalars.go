// Package graphqlapi rebuilds a GraphQL schema from the node's live set of
// schemas on every startup and every schema-provider change (spec.md
// §4.8). Grounded on the teacher's RPC layer for resolver/error idiom
// (internal/rpc/server_sync.go's typed-error-to-response mapping) and
// built on github.com/graphql-go/graphql, the one pack library whose
// runtime-assembled, immutable graphql.Schema value matches §4.8's "the
// builder never mutates an in-use schema" requirement.
package graphqlapi

import (
	"encoding/hex"
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// hexBytesScalar is the Bytes field scalar: lowercase hex on the wire.
var hexBytesScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "HexBytes",
	Description: "Byte string, encoded as lowercase hex.",
	Serialize: func(value any) any {
		b, ok := value.([]byte)
		if !ok {
			return nil
		}
		return hex.EncodeToString(b)
	},
	ParseValue: func(value any) any {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil
		}
		return b
	},
	ParseLiteral: func(valueAST ast.Value) any {
		lit, ok := valueAST.(*ast.StringValue)
		if !ok {
			return nil
		}
		b, err := hex.DecodeString(lit.Value)
		if err != nil {
			return nil
		}
		return b
	},
})

// hexStringScalar backs PublicKey, DocumentId, DocumentViewId and EntryHash
// (spec.md §6: "hex" / "64-hex lowercase"). All four are plain strings on
// the wire; the distinction is documentation only, so one scalar
// implementation is parameterized by name rather than four near-identical
// ones.
func newHexStringScalar(name, description string) *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        name,
		Description: description,
		Serialize: func(value any) any {
			switch v := value.(type) {
			case string:
				return v
			case fmt.Stringer:
				return v.String()
			default:
				return nil
			}
		},
		ParseValue: func(value any) any {
			s, _ := value.(string)
			return s
		},
		ParseLiteral: func(valueAST ast.Value) any {
			lit, ok := valueAST.(*ast.StringValue)
			if !ok {
				return nil
			}
			return lit.Value
		},
	})
}

var (
	publicKeyScalar      = newHexStringScalar("PublicKey", "Ed25519 public key, 64 lowercase hex characters.")
	documentIDScalar     = newHexStringScalar("DocumentId", "Document identifier, the hex hash of its CREATE entry.")
	documentViewIDScalar = newHexStringScalar("DocumentViewId", "Document view identifier, an underscore-joined set of operation id hashes.")
	entryHashScalar      = newHexStringScalar("EntryHash", "Hex hash of an encoded entry.")
	cursorScalar         = newHexStringScalar("Cursor", "Opaque pagination cursor; monotone within a single query's order.")
)

// decimalStringScalar backs LogId and SeqNum: u64 values serialized as
// decimal strings so they survive round-tripping through JSON's float64
// (spec.md §6: "decimal strings to preserve u64").
func newDecimalStringScalar(name, description string) *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        name,
		Description: description,
		Serialize: func(value any) any {
			switch v := value.(type) {
			case uint64:
				return fmt.Sprintf("%d", v)
			case string:
				return v
			default:
				return nil
			}
		},
		ParseValue: func(value any) any {
			s, _ := value.(string)
			return s
		},
		ParseLiteral: func(valueAST ast.Value) any {
			lit, ok := valueAST.(*ast.StringValue)
			if !ok {
				return nil
			}
			return lit.Value
		},
	})
}

var (
	logIDScalar  = newDecimalStringScalar("LogId", "Log identifier, a u64 rendered as a decimal string.")
	seqNumScalar = newDecimalStringScalar("SeqNum", "Sequence number, a u64 rendered as a decimal string.")
)

// graphqlScalarFor maps a schema field's Kind to the plain (non-relation)
// GraphQL output type it serializes as (spec.md §3 field type list).
func graphqlScalarFor(kind types.FieldKind) graphql.Output {
	switch kind {
	case types.FieldBool:
		return graphql.Boolean
	case types.FieldInt:
		return graphql.Int
	case types.FieldFloat:
		return graphql.Float
	case types.FieldString:
		return graphql.String
	case types.FieldBytes:
		return hexBytesScalar
	default:
		return graphql.String
	}
}
