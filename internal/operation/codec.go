// Package operation encodes/decodes the CBOR operation payload carried by
// entries and validates its structure against a schema (spec.md §4.2 steps
// 3-4, §6 "Operation encoding").
package operation

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// wireOperation is the CBOR map shape on the wire: action, version, schema,
// optional previous, optional fields (spec.md §6).
type wireOperation struct {
	Action   string          `cbor:"action"`
	Version  uint64          `cbor:"version"`
	Schema   string          `cbor:"schema"`
	Previous [][32]byte      `cbor:"previous,omitempty"`
	Fields   map[string]wireField `cbor:"fields,omitempty"`
}

type wireField struct {
	Kind        string     `cbor:"kind"`
	Bool        bool       `cbor:"bool,omitempty"`
	Int         int64      `cbor:"int,omitempty"`
	Float       float64    `cbor:"float,omitempty"`
	Str         string     `cbor:"str,omitempty"`
	Bytes       []byte     `cbor:"bytes,omitempty"`
	Relations   [][32]byte `cbor:"relations,omitempty"`
	PinnedViews [][][32]byte `cbor:"pinned_views,omitempty"`
}

const wireVersion = 1

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Encode serializes op into its canonical CBOR wire form.
func Encode(op *types.Operation) ([]byte, error) {
	w := wireOperation{
		Action:  string(op.Action),
		Version: wireVersion,
		Schema:  op.SchemaID,
	}
	for _, id := range op.Previous {
		w.Previous = append(w.Previous, id)
	}
	if len(op.Fields) > 0 {
		w.Fields = make(map[string]wireField, len(op.Fields))
		for name, v := range op.Fields {
			wf := wireField{Kind: string(v.Kind), Bool: v.Bool, Int: v.Int, Float: v.Float, Str: v.Str, Bytes: v.Bytes}
			for _, rel := range v.Relations {
				wf.Relations = append(wf.Relations, rel)
			}
			for _, view := range v.PinnedViews {
				var raw [][32]byte
				for _, id := range view {
					raw = append(raw, id)
				}
				wf.PinnedViews = append(wf.PinnedViews, raw)
			}
			w.Fields[name] = wf
		}
	}
	b, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("operation: encode: %w", err)
	}
	return b, nil
}

// Decode parses CBOR operation bytes into an Operation. id is the entry
// hash (spec.md §3: operation_id = entry_hash); author/logID are supplied
// by the caller from the carrying entry.
func Decode(b []byte, id types.OperationID, author types.PublicKey, logID uint64) (*types.Operation, error) {
	var w wireOperation
	if err := cbor.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("operation: %w: %v", types.ErrMalformedEntry, err)
	}
	if w.Version != wireVersion {
		return nil, fmt.Errorf("operation: unsupported version %d", w.Version)
	}

	op := &types.Operation{
		ID:       id,
		Action:   types.OperationAction(w.Action),
		SchemaID: w.Schema,
		Author:   author,
		LogID:    logID,
	}
	for _, raw := range w.Previous {
		op.Previous = append(op.Previous, types.Hash(raw))
	}
	op.Previous = types.NewViewID(op.Previous)

	if len(w.Fields) > 0 {
		op.Fields = make(map[string]types.FieldValue, len(w.Fields))
		for name, wf := range w.Fields {
			fv := types.FieldValue{Kind: types.FieldKind(wf.Kind), Bool: wf.Bool, Int: wf.Int, Float: wf.Float, Str: wf.Str, Bytes: wf.Bytes}
			for _, rel := range wf.Relations {
				fv.Relations = append(fv.Relations, types.Hash(rel))
			}
			for _, view := range wf.PinnedViews {
				var ids []types.OperationID
				for _, raw := range view {
					ids = append(ids, types.Hash(raw))
				}
				fv.PinnedViews = append(fv.PinnedViews, types.NewViewID(ids))
			}
			op.Fields[name] = fv
		}
	}

	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}
