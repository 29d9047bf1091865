// Package schemaprovider holds the node's live view of installed schemas
// (spec.md §4.5): a map guarded by a mutex, seeded at boot with the system
// schemas plus whatever application schemas Store has already materialized,
// and a broadcast of every successful install so the API builder
// (internal/graphqlapi) knows to rebuild. Grounded on the teacher's
// internal/storage/factory provider-wrapping-a-backend pattern and the
// Register/Subscribe shape of internal/eventbus.
package schemaprovider

import (
	"sync"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// systemSchemas is the fixed catalogue every node understands regardless of
// allow-list configuration (SPEC_FULL.md §3 "System schema catalogue").
var systemSchemas = []types.Schema{
	{
		ID:   types.SchemaDefinitionV1,
		Name: "schema_definition_v1",
		Fields: []types.SchemaField{
			{Name: "name", Kind: types.FieldString},
			{Name: "description", Kind: types.FieldString},
			{Name: "fields", Kind: types.FieldPinnedRelationList, RelationSchemaID: types.SchemaFieldDefinitionV1},
		},
	},
	{
		ID:   types.SchemaFieldDefinitionV1,
		Name: "schema_field_definition_v1",
		Fields: []types.SchemaField{
			{Name: "name", Kind: types.FieldString},
			{Name: "type", Kind: types.FieldString},
		},
	},
	{
		ID:   types.SchemaBlobV1,
		Name: "blob_v1",
		Fields: []types.SchemaField{
			{Name: "length", Kind: types.FieldInt},
			{Name: "mime_type", Kind: types.FieldString},
			{Name: "pieces", Kind: types.FieldPinnedRelationList, RelationSchemaID: types.SchemaBlobPieceV1},
		},
	},
	{
		ID:   types.SchemaBlobPieceV1,
		Name: "blob_piece_v1",
		Fields: []types.SchemaField{
			{Name: "data", Kind: types.FieldBytes},
		},
	},
}

// AllowList filters which application schemas are admitted. A nil AllowList
// admits everything. Rejected schemas are silently not installed; their
// documents remain in Store so enabling the schema later backfills the API
// (spec.md §4.5).
type AllowList struct {
	allowed map[string]bool
}

// NewAllowList builds an allow-list from a set of schema ids. System
// schemas are always implicitly allowed.
func NewAllowList(ids []string) *AllowList {
	if ids == nil {
		return nil
	}
	al := &AllowList{allowed: make(map[string]bool, len(ids))}
	for _, id := range ids {
		al.allowed[id] = true
	}
	return al
}

func (al *AllowList) permits(schemaID string) bool {
	if al == nil {
		return true
	}
	if types.IsSystemSchema(schemaID) {
		return true
	}
	return al.allowed[schemaID]
}

// Provider is the node's live schema table.
type Provider struct {
	mu        sync.RWMutex
	schemas   map[string]types.Schema
	allowList *AllowList

	subMu       sync.Mutex
	subscribers []chan types.Schema
}

// New creates a Provider seeded with the system schema catalogue.
func New(allowList *AllowList) *Provider {
	p := &Provider{
		schemas:   make(map[string]types.Schema, len(systemSchemas)),
		allowList: allowList,
	}
	for _, s := range systemSchemas {
		p.schemas[s.ID] = s
	}
	return p
}

// Get returns the installed schema for id, or (zero, false).
func (p *Provider) Get(id string) (types.Schema, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.schemas[id]
	return s, ok
}

// All returns every currently installed schema, system and application.
func (p *Provider) All() []types.Schema {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Schema, 0, len(p.schemas))
	for _, s := range p.schemas {
		out = append(out, s)
	}
	return out
}

// SupportedSchemaIDs returns the ids of every installed schema, the set
// announced to peers during replication gossip (spec.md §4.6).
func (p *Provider) SupportedSchemaIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.schemas))
	for id := range p.schemas {
		out = append(out, id)
	}
	return out
}

// Update installs or replaces a schema, returning whether this changed
// anything already installed under that id. A schema rejected by the
// allow-list is not installed and Update reports false with no error — the
// caller (the materializer's schema worker) still leaves the underlying
// documents in Store.
func (p *Provider) Update(s types.Schema) (wasUpdate bool) {
	if !p.allowList.permits(s.ID) {
		return false
	}

	p.mu.Lock()
	existing, had := p.schemas[s.ID]
	changed := !had || !schemasEqual(existing, s)
	if changed {
		p.schemas[s.ID] = s
	}
	p.mu.Unlock()

	if changed {
		p.broadcast(s)
	}
	return changed
}

// Subscribe registers a channel that receives every schema successfully
// installed via Update from now on. The returned func unsubscribes.
func (p *Provider) Subscribe(bufferSize int) (<-chan types.Schema, func()) {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ch := make(chan types.Schema, bufferSize)

	p.subMu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.subMu.Unlock()

	unsubscribe := func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		for i, s := range p.subscribers {
			if s == ch {
				p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

func (p *Provider) broadcast(s types.Schema) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

func schemasEqual(a, b types.Schema) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Description != b.Description {
		return false
	}
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			return false
		}
	}
	return true
}
