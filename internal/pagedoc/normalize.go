package pagedoc

import (
	"encoding/json"

	"github.com/google/uuid"
)

// IDFunc generates a fresh block identifier for a block of the given type.
type IDFunc func(blockType string) string

// NewBlockID is the default IDFunc: "<type>-<uuid>".
func NewBlockID(blockType string) string {
	if blockType == "" {
		return uuid.NewString()
	}
	return blockType + "-" + uuid.NewString()
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithTemplate sets the document returned for non-object candidates.
func WithTemplate(doc *Document) Option {
	return func(n *Normalizer) {
		if doc != nil {
			n.template = doc.Clone()
		}
	}
}

// WithIDFunc overrides block id generation.
func WithIDFunc(fn IDFunc) Option {
	return func(n *Normalizer) {
		if fn != nil {
			n.newID = fn
		}
	}
}

// Normalizer repairs untrusted page-content candidates into Documents.
type Normalizer struct {
	template *Document
	newID    IDFunc
}

// NewNormalizer creates a Normalizer. Without options it uses the blank
// template and NewBlockID.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		template: Empty(),
		newID:    NewBlockID,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var defaultNormalizer = NewNormalizer()

// Normalize repairs candidate with the default normalizer.
func Normalize(candidate any) *Document {
	return defaultNormalizer.Normalize(candidate)
}

// Template returns a copy of the normalizer's template document.
func (n *Normalizer) Template() *Document {
	return n.template.Clone()
}

// Normalize never fails: a candidate that is not a JSON object yields a copy
// of the template. The candidate itself is never modified.
func (n *Normalizer) Normalize(candidate any) *Document {
	switch c := candidate.(type) {
	case *Document:
		if c == nil {
			return n.Template()
		}
		candidate = c.Value()
	case json.RawMessage:
		var v any
		if err := json.Unmarshal(c, &v); err != nil {
			return n.Template()
		}
		candidate = v
	}

	rec, ok := candidate.(map[string]any)
	if !ok {
		return n.Template()
	}
	rec = cloneRecord(rec)

	doc := &Document{
		Root:    Root{Props: rootProps(rec["root"])},
		Content: []Block{},
		Zones:   map[string][]Block{},
	}

	content := blockRecords(rec["content"])
	var zoneNames []string
	zones := map[string][]map[string]any{}
	if zrec, ok := rec["zones"].(map[string]any); ok {
		for _, name := range sortedKeys(zrec) {
			if _, isArray := zrec[name].([]any); !isArray {
				continue
			}
			zoneNames = append(zoneNames, name)
			zones[name] = blockRecords(zrec[name])
		}
	}

	// Content first, then zones by name; ids are assigned in this order.
	seen := make(map[string]struct{})
	assign := func(node map[string]any) {
		typ, props, ok := asBlock(node)
		if !ok {
			return
		}
		id, _ := props["id"].(string)
		if _, dup := seen[id]; id == "" || dup {
			id = n.uniqueID(typ, seen)
			props["id"] = id
		}
		seen[id] = struct{}{}
	}
	for _, node := range content {
		Walk(node, assign)
	}
	for _, name := range zoneNames {
		for _, node := range zones[name] {
			Walk(node, assign)
		}
	}

	doc.Content = toBlocks(content)
	for _, name := range zoneNames {
		doc.Zones[name] = toBlocks(zones[name])
	}
	return doc
}

func (n *Normalizer) uniqueID(blockType string, seen map[string]struct{}) string {
	for {
		id := n.newID(blockType)
		if _, dup := seen[id]; id != "" && !dup {
			return id
		}
	}
}

func rootProps(v any) RootProps {
	var out RootProps
	root, _ := v.(map[string]any)
	props, _ := root["props"].(map[string]any)
	for k, val := range props {
		switch k {
		case "title":
			out.Title, _ = val.(string)
		case "description":
			out.Description, _ = val.(string)
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]any)
			}
			out.Extra[k] = val
		}
	}
	return out
}

// blockRecords keeps the block-shaped entries of a JSON array.
func blockRecords(v any) []map[string]any {
	arr, _ := v.([]any)
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		rec, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if _, _, ok := asBlock(rec); ok {
			out = append(out, rec)
		}
	}
	return out
}

func toBlocks(records []map[string]any) []Block {
	out := make([]Block, 0, len(records))
	for _, rec := range records {
		typ, props, _ := asBlock(rec)
		out = append(out, Block{Type: typ, Props: props})
	}
	return out
}
