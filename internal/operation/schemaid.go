package operation

import (
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// ApplicationSchemaID formats a schema id the canonical way spec.md §6
// requires: "name_<hex-operation-id>", where the operation id is the
// schema_definition document's CREATE hash.
func ApplicationSchemaID(name string, schemaDefinitionDoc types.DocumentID) string {
	return fmt.Sprintf("%s_%s", name, schemaDefinitionDoc.String())
}
