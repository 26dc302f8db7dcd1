package pagedoc

import (
	"encoding/json"
	"sort"
)

// Kind tags a node of a decoded JSON tree.
type Kind int

const (
	KindLeaf Kind = iota
	KindArray
	KindRecord
)

// KindOf classifies v. Anything that is not a JSON array or object is a leaf.
func KindOf(v any) Kind {
	switch v.(type) {
	case []any:
		return KindArray
	case map[string]any:
		return KindRecord
	default:
		return KindLeaf
	}
}

// Visitor is called for every record reached by Walk, before its children.
type Visitor func(record map[string]any)

// Walk visits v depth-first in document order: array elements by index and
// record keys in sorted order, so traversal is reproducible.
func Walk(v any, visit Visitor) {
	switch KindOf(v) {
	case KindArray:
		for _, el := range v.([]any) {
			Walk(el, visit)
		}
	case KindRecord:
		rec := v.(map[string]any)
		visit(rec)
		for _, k := range sortedKeys(rec) {
			Walk(rec[k], visit)
		}
	}
}

// asBlock reports whether rec is shaped like {type: string, props: object}.
func asBlock(rec map[string]any) (string, map[string]any, bool) {
	typ, ok := rec["type"].(string)
	if !ok {
		return "", nil, false
	}
	props, ok := rec["props"].(map[string]any)
	if !ok {
		return "", nil, false
	}
	return typ, props, true
}

func sortedKeys(rec map[string]any) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneRecord(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = cloneValue(el)
		}
		return out
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return v
	}
}

func cloneRecord(rec map[string]any) map[string]any {
	if rec == nil {
		return nil
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = cloneValue(v)
	}
	return out
}
