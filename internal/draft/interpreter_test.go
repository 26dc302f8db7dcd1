package draft

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustEvent(t *testing.T, payload string) Event {
	t.Helper()
	ev, ok := ParseEvent(json.RawMessage(payload))
	if !ok {
		t.Fatalf("ParseEvent(%s) rejected payload", payload)
	}
	return ev
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ok      bool
		want    EventType
	}{
		{name: "text", payload: `{"type":"text","text":"hi"}`, ok: true, want: EventText},
		{name: "raw", payload: `{"type":"raw","text":"{"}`, ok: true, want: EventRaw},
		{name: "error", payload: `{"type":"error","message":"boom"}`, ok: true, want: EventError},
		{name: "done", payload: `{"type":"done","puckData":{}}`, ok: true, want: EventDone},
		{name: "unknown type", payload: `{"type":"progress","pct":5}`},
		{name: "missing type", payload: `{"text":"hi"}`},
		{name: "non-string type", payload: `{"type":3}`},
		{name: "text without text", payload: `{"type":"text","text":42}`},
		{name: "array", payload: `[1,2]`},
		{name: "null", payload: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := ParseEvent(json.RawMessage(tt.payload))
			if ok != tt.ok {
				t.Fatalf("ParseEvent() ok = %v, want %v", ok, tt.ok)
			}
			if ok && ev.Type != tt.want {
				t.Errorf("ParseEvent() type = %s, want %s", ev.Type, tt.want)
			}
		})
	}
}

func TestParseEvent_DoneFields(t *testing.T) {
	ev := mustEvent(t, `{
		"type":"done",
		"assistantMessage":"Done!",
		"draftVersionId":"v-9",
		"puckData":{"content":[]},
		"generatedImages":[
			{"url":"https://img/1.png","alt":"one","blockId":"Hero-1"},
			{"alt":"no url"},
			"not an object",
			{"url":"https://img/2.png","prompt":"a cat"}
		]
	}`)

	d := ev.Done
	if d.AssistantMessage != "Done!" || d.DraftVersionID != "v-9" {
		t.Errorf("unexpected done payload: %+v", d)
	}
	if len(d.GeneratedImages) != 2 {
		t.Fatalf("GeneratedImages len = %d, want 2", len(d.GeneratedImages))
	}
	if d.GeneratedImages[0].BlockID != "Hero-1" || d.GeneratedImages[1].Prompt != "a cat" {
		t.Errorf("GeneratedImages = %+v", d.GeneratedImages)
	}
}

func TestParseEvent_ErrorDefaultMessage(t *testing.T) {
	ev := mustEvent(t, `{"type":"error"}`)
	if ev.Message != defaultErrorMessage {
		t.Errorf("Message = %q, want %q", ev.Message, defaultErrorMessage)
	}
}

func TestInterpreter_TextOrdering(t *testing.T) {
	it := NewInterpreter(nil)

	for _, p := range []string{
		`{"type":"text","text":"a"}`,
		`{"type":"raw","text":"<r1>"}`,
		`{"type":"text","text":"b"}`,
		`{"type":"raw","text":"<r2>"}`,
	} {
		if out, err := it.Apply(mustEvent(t, p)); out != nil || err != nil {
			t.Fatalf("Apply(%s) = %v, %v", p, out, err)
		}
	}
	if it.Text() != "ab" {
		t.Errorf("Text() = %q, want %q", it.Text(), "ab")
	}
	if it.Raw() != "<r1><r2>" {
		t.Errorf("Raw() = %q, want %q", it.Raw(), "<r1><r2>")
	}

	out, err := it.Apply(mustEvent(t, `{"type":"done","puckData":{"content":[{"type":"Hero","props":{}}]}}`))
	if err != nil {
		t.Fatalf("Apply(done) error = %v", err)
	}
	if out.AssistantMessage != "ab" {
		t.Errorf("AssistantMessage = %q, want streamed text", out.AssistantMessage)
	}
	if it.Text() != "ab" {
		t.Errorf("Text() after done = %q, want %q", it.Text(), "ab")
	}
}

func TestInterpreter_DoneValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
		kind    Kind
	}{
		{name: "missing puckData", payload: `{"type":"done"}`, wantErr: ErrMissingPuckData, kind: KindProtocol},
		{name: "null puckData", payload: `{"type":"done","puckData":null}`, wantErr: ErrMissingPuckData, kind: KindProtocol},
		{name: "array puckData", payload: `{"type":"done","puckData":[{"type":"Hero","props":{}}]}`, wantErr: ErrMissingPuckData, kind: KindProtocol},
		{name: "string puckData", payload: `{"type":"done","puckData":"page"}`, wantErr: ErrMissingPuckData, kind: KindProtocol},
		{name: "empty object", payload: `{"type":"done","puckData":{}}`, wantErr: ErrEmptyPage, kind: KindValidation},
		{
			name:    "zero blocks",
			payload: `{"type":"done","puckData":{"root":{"props":{}},"content":[],"zones":{}}}`,
			wantErr: ErrEmptyPage,
			kind:    KindValidation,
		},
		{
			name:    "only non-block entries",
			payload: `{"type":"done","puckData":{"content":[{"foo":1},"x"],"zones":{"a":[{"type":5}]}}}`,
			wantErr: ErrEmptyPage,
			kind:    KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := NewInterpreter(nil)
			out, err := it.Apply(mustEvent(t, tt.payload))
			if out != nil {
				t.Fatalf("Apply() outcome = %+v, want nil", out)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.wantErr)
			}
			if KindOf(err) != tt.kind {
				t.Errorf("KindOf() = %q, want %q", KindOf(err), tt.kind)
			}
			if err.Error() != tt.wantErr.Error() {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantErr.Error())
			}
		})
	}
}

func TestInterpreter_ZoneOnlyPageIsValid(t *testing.T) {
	it := NewInterpreter(nil)
	out, err := it.Apply(mustEvent(t, `{"type":"done","puckData":{"zones":{"cols":[{"type":"Text","props":{"id":"t"}}]}}}`))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Document.BlockCount() != 1 {
		t.Errorf("BlockCount() = %d, want 1", out.Document.BlockCount())
	}
	if out.AssistantMessage != DefaultAssistantMessage {
		t.Errorf("AssistantMessage = %q, want %q", out.AssistantMessage, DefaultAssistantMessage)
	}
}

func TestInterpreter_ErrorEvent(t *testing.T) {
	it := NewInterpreter(nil)
	it.Apply(mustEvent(t, `{"type":"text","text":"partial"}`))

	_, err := it.Apply(mustEvent(t, `{"type":"error","message":"model overloaded"}`))
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("Apply(error) = %v, want *Error", err)
	}
	if de.Kind != KindProtocol || de.Error() != "model overloaded" {
		t.Errorf("error = %+v", de)
	}
	if !it.Terminated() {
		t.Error("Terminated() = false after error event")
	}
}

func TestInterpreter_NothingAfterTerminal(t *testing.T) {
	it := NewInterpreter(nil)
	if _, err := it.Apply(mustEvent(t, `{"type":"done","puckData":{"content":[{"type":"Hero","props":{}}]},"assistantMessage":"ok"}`)); err != nil {
		t.Fatalf("Apply(done) error = %v", err)
	}

	for _, p := range []string{
		`{"type":"text","text":"late"}`,
		`{"type":"done","puckData":{"content":[{"type":"Text","props":{}}]}}`,
		`{"type":"error","message":"late"}`,
	} {
		out, err := it.Apply(mustEvent(t, p))
		if out != nil || !errors.Is(err, ErrTerminated) {
			t.Errorf("Apply(%s) = %v, %v; want ErrTerminated", p, out, err)
		}
	}
	if it.Text() != "" {
		t.Errorf("Text() = %q, late text was applied", it.Text())
	}
}
