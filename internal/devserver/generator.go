package devserver

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
)

// Result is what the fake model produces for one request.
type Result struct {
	Chunks []string
	// Err, when set, is sent as an error event instead of done.
	Err string

	AssistantMessage string
	PuckData         map[string]any
	DraftVersionID   string
	GeneratedImages  []funnel.GeneratedImage
}

// Generate answers a request deterministically apart from the version id: it
// appends a Hero block headed with the prompt to the current document.
//
// Prompts containing "[empty]" return a page without blocks and prompts
// containing "[fail]" return an error, so clients can exercise both paths.
func Generate(req *funnel.GenerateRequest) *Result {
	prompt := strings.TrimSpace(req.Prompt)
	res := &Result{Chunks: chunk("Working on: " + prompt)}

	if strings.Contains(prompt, "[fail]") {
		res.Err = "the model refused this prompt"
		return res
	}

	doc := req.CurrentPuckData.Value()
	if strings.Contains(prompt, "[empty]") {
		doc["content"] = []any{}
		doc["zones"] = map[string]any{}
	} else {
		content, _ := doc["content"].([]any)
		doc["content"] = append(content, map[string]any{
			"type": "Hero",
			"props": map[string]any{
				"headline":    headline(prompt),
				"subheadline": "Generated by the development backend",
			},
		})
	}

	res.PuckData = doc
	res.AssistantMessage = "Added a hero section."
	res.DraftVersionID = uuid.NewString()

	if req.GenerateImages && req.MaxImages > 0 {
		res.GeneratedImages = []funnel.GeneratedImage{{
			URL:    "https://images.example.test/hero.png",
			Alt:    headline(prompt),
			Prompt: prompt,
		}}
	}
	return res
}

// doneBody renders the non-streaming response, which is the done event
// without its type.
func (r *Result) doneBody() map[string]any {
	body := map[string]any{
		"assistantMessage": r.AssistantMessage,
		"puckData":         r.PuckData,
		"draftVersionId":   r.DraftVersionID,
	}
	if len(r.GeneratedImages) > 0 {
		body["generatedImages"] = r.GeneratedImages
	}
	return body
}

func (r *Result) rawJSON() string {
	b, err := json.Marshal(r.PuckData)
	if err != nil {
		return ""
	}
	return string(b)
}

func headline(prompt string) string {
	if prompt == "" {
		return "Welcome"
	}
	r := []rune(prompt)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

// chunk splits text into word-sized pieces that concatenate back to text.
func chunk(text string) []string {
	var out []string
	for len(text) > 0 {
		i := strings.IndexByte(text[1:], ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}
