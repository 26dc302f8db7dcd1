package draft

import (
	"bytes"
	"encoding/json"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
)

// EventType is the discriminator of a stream event.
type EventType string

const (
	EventText  EventType = "text"
	EventRaw   EventType = "raw"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// Event is one decoded stream event. Only the fields of its Type are set.
type Event struct {
	Type    EventType
	Text    string
	Message string
	Done    *DonePayload
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventError || e.Type == EventDone
}

// DonePayload is the body of a done event. PuckData is kept raw because it is
// validated and normalized by the interpreter.
type DonePayload struct {
	AssistantMessage string
	PuckData         json.RawMessage
	DraftVersionID   string
	GeneratedImages  []funnel.GeneratedImage
}

const defaultErrorMessage = "AI generation failed"

// ParseEvent classifies a decoded JSON payload. Payloads that are not objects,
// carry no string type, or have an unknown type report false and are ignored.
func ParseEvent(raw json.RawMessage) (Event, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Event{}, false
	}

	typ, ok := stringField(fields, "type")
	if !ok {
		return Event{}, false
	}

	switch EventType(typ) {
	case EventText, EventRaw:
		text, ok := stringField(fields, "text")
		if !ok {
			return Event{}, false
		}
		return Event{Type: EventType(typ), Text: text}, true

	case EventError:
		msg, ok := stringField(fields, "message")
		if !ok || msg == "" {
			msg = defaultErrorMessage
		}
		return Event{Type: EventError, Message: msg}, true

	case EventDone:
		done := &DonePayload{PuckData: fields["puckData"]}
		done.AssistantMessage, _ = stringField(fields, "assistantMessage")
		done.DraftVersionID, _ = stringField(fields, "draftVersionId")
		done.GeneratedImages = parseImages(fields["generatedImages"])
		return Event{Type: EventDone, Done: done}, true
	}

	return Event{}, false
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// parseImages keeps only entries that are objects with a string url.
func parseImages(raw json.RawMessage) []funnel.GeneratedImage {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}

	images := make([]funnel.GeneratedImage, 0, len(items))
	for _, item := range items {
		var fields map[string]json.RawMessage
		if json.Unmarshal(item, &fields) != nil || fields == nil {
			continue
		}
		url, ok := stringField(fields, "url")
		if !ok || url == "" {
			continue
		}
		img := funnel.GeneratedImage{URL: url}
		img.Alt, _ = stringField(fields, "alt")
		img.Prompt, _ = stringField(fields, "prompt")
		img.BlockID, _ = stringField(fields, "blockId")
		images = append(images, img)
	}
	return images
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
