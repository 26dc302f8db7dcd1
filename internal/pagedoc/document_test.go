package pagedoc

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestDocument_MarshalJSON(t *testing.T) {
	doc := Empty()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"content":[],"root":{"props":{"description":"","title":""}},"zones":{}}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(`{"root":{"props":{"title":"Spring sale"}},"content":[{"type":"Hero","props":{"id":"hero"}}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Root.Props.Title != "Spring sale" {
		t.Errorf("title = %q", doc.Root.Props.Title)
	}
	if len(doc.Content) != 1 || doc.Content[0].ID() != "hero" {
		t.Errorf("content = %+v", doc.Content)
	}

	doc, err = Parse([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !reflect.DeepEqual(doc, Empty()) {
		t.Errorf("invalid JSON should yield template, got %+v", doc)
	}
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := Normalize(map[string]any{
		"root": map[string]any{"props": map[string]any{"theme": map[string]any{"color": "red"}}},
		"content": []any{
			map[string]any{"type": "Hero", "props": map[string]any{"id": "h", "tags": []any{"a"}}},
		},
		"zones": map[string]any{"side": []any{map[string]any{"type": "Text", "props": map[string]any{"id": "t"}}}},
	})

	clone := doc.Clone()
	clone.Content[0].Props["tags"].([]any)[0] = "changed"
	clone.Root.Props.Extra["theme"].(map[string]any)["color"] = "blue"
	clone.Zones["side"][0].Props["id"] = "other"

	if doc.Content[0].Props["tags"].([]any)[0] != "a" {
		t.Error("content props shared with clone")
	}
	if doc.Root.Props.Extra["theme"].(map[string]any)["color"] != "red" {
		t.Error("root extra shared with clone")
	}
	if doc.Zones["side"][0].ID() != "t" {
		t.Error("zone blocks shared with clone")
	}
}

func TestDocument_BlockCount(t *testing.T) {
	doc := &Document{
		Content: []Block{{Type: "A"}, {Type: "B"}},
		Zones:   map[string][]Block{"x": {{Type: "C"}}, "y": {}},
	}
	if got := doc.BlockCount(); got != 3 {
		t.Errorf("BlockCount() = %d, want 3", got)
	}

	var nilDoc *Document
	if got := nilDoc.BlockCount(); got != 0 {
		t.Errorf("nil BlockCount() = %d, want 0", got)
	}
}
