package draft

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
	"github.com/tjfontaine/funnel-draftkit/internal/pagedoc"
)

// DefaultAssistantMessage is recorded when a done event carries no message
// and no text was streamed.
const DefaultAssistantMessage = "Draft updated."

// Outcome is the validated result of a done event.
type Outcome struct {
	Document         *pagedoc.Document
	AssistantMessage string
	VersionID        string
	Images           []funnel.GeneratedImage
}

// Interpreter applies the events of one stream in arrival order.
type Interpreter struct {
	normalizer *pagedoc.Normalizer
	text       strings.Builder
	raw        strings.Builder
	terminated bool
}

// NewInterpreter returns an interpreter that normalizes done documents with n,
// or with the default normalizer when n is nil.
func NewInterpreter(n *pagedoc.Normalizer) *Interpreter {
	if n == nil {
		n = pagedoc.NewNormalizer()
	}
	return &Interpreter{normalizer: n}
}

// Apply consumes one event. It returns a non-nil Outcome for a successful
// done, an error for an error event or an invalid done, and (nil, nil) for
// everything else.
func (it *Interpreter) Apply(ev Event) (*Outcome, error) {
	if it.terminated {
		return nil, ErrTerminated
	}

	switch ev.Type {
	case EventText:
		it.text.WriteString(ev.Text)
	case EventRaw:
		it.raw.WriteString(ev.Text)
	case EventError:
		it.terminated = true
		return nil, &Error{Kind: KindProtocol, Message: ev.Message}
	case EventDone:
		it.terminated = true
		return it.done(ev.Done)
	}
	return nil, nil
}

func (it *Interpreter) done(p *DonePayload) (*Outcome, error) {
	if p == nil || !isJSONObject(p.PuckData) {
		return nil, protocolError(ErrMissingPuckData)
	}
	var candidate map[string]any
	if err := json.Unmarshal(p.PuckData, &candidate); err != nil {
		return nil, protocolError(ErrMissingPuckData)
	}

	doc := it.normalizer.Normalize(candidate)
	if doc.BlockCount() == 0 {
		return nil, validationError(ErrEmptyPage)
	}

	msg := strings.TrimSpace(p.AssistantMessage)
	if msg == "" {
		msg = strings.TrimSpace(it.text.String())
	}
	if msg == "" {
		msg = DefaultAssistantMessage
	}

	return &Outcome{
		Document:         doc,
		AssistantMessage: msg,
		VersionID:        p.DraftVersionID,
		Images:           p.GeneratedImages,
	}, nil
}

// Text returns a snapshot of the streamed assistant text.
func (it *Interpreter) Text() string { return it.text.String() }

// Raw returns a snapshot of the raw model output.
func (it *Interpreter) Raw() string { return it.raw.String() }

// Terminated reports whether a done or error event was applied.
func (it *Interpreter) Terminated() bool { return it.terminated }
