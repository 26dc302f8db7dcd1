package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNormalizeCommand(t *testing.T) {
	var out bytes.Buffer
	normalizeCmd.SetIn(strings.NewReader(`{"content":[{"type":"Hero","props":{"id":"h"}},{"type":"Hero","props":{"id":"h"}},"junk"]}`))
	normalizeCmd.SetOut(&out)
	defer func() {
		normalizeCmd.SetIn(nil)
		normalizeCmd.SetOut(nil)
	}()

	if err := runNormalize(normalizeCmd, nil); err != nil {
		t.Fatalf("runNormalize() error = %v", err)
	}

	var doc struct {
		Content []struct {
			Type  string         `json:"type"`
			Props map[string]any `json:"props"`
		} `json:"content"`
		Zones map[string]any `json:"zones"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if len(doc.Content) != 2 {
		t.Fatalf("content length = %d, want 2", len(doc.Content))
	}
	if doc.Content[0].Props["id"] == doc.Content[1].Props["id"] {
		t.Errorf("duplicate block ids survived normalization: %v", doc.Content[0].Props["id"])
	}
	if doc.Zones == nil {
		t.Error("zones should always be present")
	}
}

func TestNormalizeCommand_InvalidJSON(t *testing.T) {
	normalizeCmd.SetIn(strings.NewReader(`{`))
	defer normalizeCmd.SetIn(nil)

	if err := runNormalize(normalizeCmd, nil); err == nil {
		t.Error("runNormalize() expected error for invalid JSON")
	}
}
