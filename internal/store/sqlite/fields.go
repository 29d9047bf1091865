package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// fieldRow is the JSON shape stored in the operation_fields.value and
// document_view_fields.value columns: one row per named field, carrying
// only the accessor that matches Kind.
type fieldRow struct {
	Kind        types.FieldKind `json:"kind"`
	Bool        bool            `json:"bool,omitempty"`
	Int         int64           `json:"int,omitempty"`
	Float       float64         `json:"float,omitempty"`
	Str         string          `json:"str,omitempty"`
	Bytes       []byte          `json:"bytes,omitempty"`
	Relations   []string        `json:"relations,omitempty"`
	PinnedViews []string        `json:"pinned_views,omitempty"`
}

func encodeFieldValue(v types.FieldValue) (string, error) {
	row := fieldRow{
		Kind:  v.Kind,
		Bool:  v.Bool,
		Int:   v.Int,
		Float: v.Float,
		Str:   v.Str,
		Bytes: v.Bytes,
	}
	for _, r := range v.Relations {
		row.Relations = append(row.Relations, r.String())
	}
	for _, pv := range v.PinnedViews {
		row.PinnedViews = append(row.PinnedViews, pv.String())
	}
	b, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode field value: %w", err)
	}
	return string(b), nil
}

func decodeFieldValue(s string) (types.FieldValue, error) {
	var row fieldRow
	if err := json.Unmarshal([]byte(s), &row); err != nil {
		return types.FieldValue{}, fmt.Errorf("sqlite: decode field value: %w", err)
	}
	v := types.FieldValue{
		Kind:  row.Kind,
		Bool:  row.Bool,
		Int:   row.Int,
		Float: row.Float,
		Str:   row.Str,
		Bytes: row.Bytes,
	}
	for _, r := range row.Relations {
		h, err := types.ParseHash(r)
		if err != nil {
			return types.FieldValue{}, fmt.Errorf("sqlite: decode relation: %w", err)
		}
		v.Relations = append(v.Relations, h)
	}
	for _, pv := range row.PinnedViews {
		v.PinnedViews = append(v.PinnedViews, parseViewIDString(pv))
	}
	return v, nil
}

// parseViewIDString splits a "_"-joined hex view id string back into a
// ViewID. Malformed hex segments are dropped rather than erroring, since
// this only runs over values this same package previously encoded.
func parseViewIDString(s string) types.ViewID {
	if s == "" {
		return nil
	}
	var ids []types.OperationID
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '_' {
			if h, err := types.ParseHash(s[start:i]); err == nil {
				ids = append(ids, h)
			}
			start = i + 1
		}
	}
	return types.NewViewID(ids)
}

func encodeViewID(v types.ViewID) string { return v.String() }

func decodeViewID(s string) types.ViewID { return parseViewIDString(s) }
