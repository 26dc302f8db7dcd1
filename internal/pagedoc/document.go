// Package pagedoc defines the canonical page-content document edited by the
// funnel page builder and the normalizer that repairs untrusted candidates
// into it.
package pagedoc

import (
	"encoding/json"
	"fmt"
)

// Block is one content element of a page (hero, paragraph, image, ...).
// Props["id"] holds the block's stable identifier.
type Block struct {
	Type  string         `json:"type"`
	Props map[string]any `json:"props"`
}

// ID returns the block identifier, or "" when the block has none.
func (b Block) ID() string {
	id, _ := b.Props["id"].(string)
	return id
}

func (b Block) value() map[string]any {
	return map[string]any{
		"type":  b.Type,
		"props": cloneRecord(b.Props),
	}
}

// RootProps are the page-level properties. Title and Description are always
// present; any other keys the backend sent are kept in Extra.
type RootProps struct {
	Title       string
	Description string
	Extra       map[string]any
}

// Root wraps the page-level properties.
type Root struct {
	Props RootProps
}

// Document is the page-content document. It is replaced wholesale on every
// change and never mutated in place by the generation flow.
type Document struct {
	Root    Root
	Content []Block
	Zones   map[string][]Block
}

// Empty returns the blank template document.
func Empty() *Document {
	return &Document{
		Content: []Block{},
		Zones:   map[string][]Block{},
	}
}

// BlockCount returns the number of top-level blocks in content and all zones.
func (d *Document) BlockCount() int {
	if d == nil {
		return 0
	}
	n := len(d.Content)
	for _, blocks := range d.Zones {
		n += len(blocks)
	}
	return n
}

// Value converts the document back into its generic JSON tree. The result
// shares nothing with d.
func (d *Document) Value() map[string]any {
	if d == nil {
		d = Empty()
	}
	rootProps := make(map[string]any, len(d.Root.Props.Extra)+2)
	for k, v := range d.Root.Props.Extra {
		rootProps[k] = cloneValue(v)
	}
	rootProps["title"] = d.Root.Props.Title
	rootProps["description"] = d.Root.Props.Description

	content := make([]any, 0, len(d.Content))
	for _, b := range d.Content {
		content = append(content, b.value())
	}

	zones := make(map[string]any, len(d.Zones))
	for name, blocks := range d.Zones {
		zone := make([]any, 0, len(blocks))
		for _, b := range blocks {
			zone = append(zone, b.value())
		}
		zones[name] = zone
	}

	return map[string]any{
		"root":    map[string]any{"props": rootProps},
		"content": content,
		"zones":   zones,
	}
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		Root: Root{Props: RootProps{
			Title:       d.Root.Props.Title,
			Description: d.Root.Props.Description,
			Extra:       cloneRecord(d.Root.Props.Extra),
		}},
		Content: cloneBlocks(d.Content),
		Zones:   make(map[string][]Block, len(d.Zones)),
	}
	for name, blocks := range d.Zones {
		out.Zones[name] = cloneBlocks(blocks)
	}
	return out
}

// MarshalJSON encodes the document in the page builder's wire shape.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Value())
}

// UnmarshalJSON decodes data and normalizes the result.
func (d *Document) UnmarshalJSON(data []byte) error {
	doc, err := Parse(data)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// Parse decodes data and normalizes it with the default normalizer.
// Undecodable input yields the template document together with the error.
func Parse(data []byte) (*Document, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Normalize(nil), fmt.Errorf("failed to decode page document: %w", err)
	}
	return Normalize(v), nil
}

func cloneBlocks(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = Block{Type: b.Type, Props: cloneRecord(b.Props)}
	}
	return out
}
