package graphqlapi

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/graphql-go/graphql"

	"github.com/p2panda-go/bamboo-node/internal/bamboo"
	"github.com/p2panda-go/bamboo-node/internal/identity"
	"github.com/p2panda-go/bamboo-node/internal/schemaprovider"
	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// publisher is the subset of publish.Path the builder's mutation
// resolvers need, kept narrow so this package does not import publish
// directly (symmetric with replication.EntryIngester's own narrow view of
// the same method).
type publisher interface {
	Publish(ctx context.Context, entryRaw, payload []byte) (*types.Operation, error)
}

// Builder rebuilds a GraphQL schema from the node's live schema set on
// every call to Rebuild (spec.md §4.8: "On startup and on every
// schema_added broadcast, rebuild the GraphQL schema from scratch").
// Grounded on the teacher's internal/rpc request-dispatch idiom for
// wiring resolvers straight onto Store, generalized from JSON-RPC
// handlers to GraphQL field resolvers.
type Builder struct {
	store     store.Store
	provider  *schemaprovider.Provider
	publisher publisher
	identity  *identity.Identity
}

// New creates a schema builder. id is the node's own key pair, used to
// sign outgoing mutations.
func New(st store.Store, provider *schemaprovider.Provider, pub publisher, id *identity.Identity) *Builder {
	return &Builder{store: st, provider: provider, publisher: pub, identity: id}
}

var typeNameSanitizer = regexp.MustCompile(`[^_0-9A-Za-z]`)

// sanitizeTypeName maps a schema id (spec.md §6: "name_<hex-operation-id>"
// for application schemas, "blob_v1" etc for system ones) to a valid
// GraphQL name, which may only contain letters, digits and underscores.
func sanitizeTypeName(schemaID string) string {
	return typeNameSanitizer.ReplaceAllString(schemaID, "_")
}

// Rebuild produces a brand new, immutable *graphql.Schema reflecting
// every schema currently known to the provider. The caller (Gateway) is
// responsible for atomically swapping it in; Rebuild itself never mutates
// a schema already in use.
func (b *Builder) Rebuild() (*graphql.Schema, error) {
	schemas := b.provider.All()

	objectTypes := make(map[string]*graphql.Object, len(schemas))
	typeNames := make(map[string]string, len(schemas))
	for _, schema := range schemas {
		typeName := sanitizeTypeName(schema.ID)
		typeNames[schema.ID] = typeName
		objectTypes[schema.ID] = graphql.NewObject(graphql.ObjectConfig{
			Name:   typeName,
			Fields: graphql.Fields{},
		})
	}

	queryFields := graphql.Fields{
		"nextArgs": b.buildNextArgsField(),
	}
	mutationFields := graphql.Fields{}

	for _, schema := range schemas {
		schema := schema
		typeName := typeNames[schema.ID]
		docType := objectTypes[schema.ID]
		fieldsType := b.buildFieldsType(schema, typeName, objectTypes)

		docType.AddFieldConfig("meta", &graphql.Field{
			Type: graphql.NewNonNull(metaType),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source, nil
			},
		})
		docType.AddFieldConfig("fields", &graphql.Field{
			Type: graphql.NewNonNull(fieldsType),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source, nil
			},
		})

		queryFields[typeName] = &graphql.Field{
			Name: typeName,
			Type: docType,
			Args: graphql.FieldConfigArgument{
				"documentId": &graphql.ArgumentConfig{Type: documentIDScalar},
				"viewId":     &graphql.ArgumentConfig{Type: documentViewIDScalar},
			},
			Resolve: func(p graphql.ResolveParams) (any, error) {
				d, err := resolveByIDOrView(p.Context, b.store, p.Args)
				if err != nil {
					return nil, err
				}
				return *d, nil
			},
		}
		queryFields["all_"+typeName] = b.buildCollectionField(schema, typeName, docType, fieldsType)
		mutationFields[typeName] = b.buildMutationField(schema)
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queryFields})
	schemaConfig := graphql.SchemaConfig{Query: queryType}
	if len(mutationFields) > 0 {
		schemaConfig.Mutation = graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mutationFields})
	}

	built, err := graphql.NewSchema(schemaConfig)
	if err != nil {
		return nil, fmt.Errorf("graphqlapi: building schema: %w", err)
	}
	return &built, nil
}

// buildNextArgsField resolves the log position a caller's next entry for
// publicKey (optionally extending viewId) must use (spec.md §4.8
// "nextArgs").
func (b *Builder) buildNextArgsField() *graphql.Field {
	nextArgsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "NextArgs",
		Fields: graphql.Fields{
			"logId":    &graphql.Field{Type: graphql.NewNonNull(logIDScalar)},
			"seqNum":   &graphql.Field{Type: graphql.NewNonNull(seqNumScalar)},
			"backlink": &graphql.Field{Type: entryHashScalar},
			"skiplink": &graphql.Field{Type: entryHashScalar},
		},
	})

	return &graphql.Field{
		Name: "nextArgs",
		Type: graphql.NewNonNull(nextArgsType),
		Args: graphql.FieldConfigArgument{
			"publicKey": &graphql.ArgumentConfig{Type: graphql.NewNonNull(publicKeyScalar)},
			"viewId":    &graphql.ArgumentConfig{Type: documentViewIDScalar},
		},
		Resolve: func(p graphql.ResolveParams) (any, error) {
			return b.resolveNextArgs(p.Context, p.Args)
		},
	}
}

// resolveNextArgs returns a map rather than a struct so an absent
// backlink/skiplink serializes as GraphQL null instead of requiring
// pointer-unwrapping in the scalar's Serialize function.
func (b *Builder) resolveNextArgs(ctx context.Context, args map[string]any) (map[string]any, error) {
	pubHex, _ := args["publicKey"].(string)
	pub, err := types.ParsePublicKey(pubHex)
	if err != nil {
		return nil, fmt.Errorf("graphqlapi: invalid public key: %w", err)
	}

	viewIDRaw, _ := args["viewId"].(string)
	if viewIDRaw == "" {
		logID, err := b.store.NextLogID(ctx, pub)
		if err != nil {
			return nil, err
		}
		return map[string]any{"logId": logID, "seqNum": uint64(1), "backlink": nil, "skiplink": nil}, nil
	}

	view, err := parseViewIDString(viewIDRaw)
	if err != nil {
		return nil, err
	}
	dv, err := b.store.GetDocumentByViewID(ctx, view)
	if err != nil {
		return nil, err
	}
	logID, err := b.store.GetOrAssignLog(ctx, pub, dv.DocumentID, dv.SchemaID)
	if err != nil {
		return nil, err
	}
	latest, err := b.store.GetLatestEntry(ctx, pub, logID)
	if err != nil {
		return nil, err
	}

	seqNum := latest.SeqNum + 1
	result := map[string]any{
		"logId":    logID,
		"seqNum":   seqNum,
		"backlink": latest.EntryHash.String(),
		"skiplink": nil,
	}
	if !bamboo.SkiplinkOmitted(seqNum) {
		skipEntry, err := b.store.GetEntryAt(ctx, pub, logID, bamboo.Lipmaa(seqNum))
		if err != nil {
			return nil, err
		}
		result["skiplink"] = skipEntry.EntryHash.String()
	}
	return result, nil
}

// Gateway holds the most recently built schema behind an atomic pointer so
// concurrent GraphQL requests always see one complete, consistent schema
// even while a rebuild is in flight (spec.md §8 "Dynamic GraphQL schema:
// ... the HTTP handler holds a shared reference that is atomically
// replaced").
type Gateway struct {
	builder *Builder
	current atomic.Pointer[graphql.Schema]
}

// NewGateway creates a gateway and performs the first Rebuild.
func NewGateway(b *Builder) (*Gateway, error) {
	g := &Gateway{builder: b}
	if err := g.Rebuild(); err != nil {
		return nil, err
	}
	return g, nil
}

// Rebuild builds a fresh schema and atomically swaps it in.
func (g *Gateway) Rebuild() error {
	schema, err := g.builder.Rebuild()
	if err != nil {
		return err
	}
	g.current.Store(schema)
	return nil
}

// Schema returns the schema in effect for a new request.
func (g *Gateway) Schema() *graphql.Schema {
	return g.current.Load()
}
