package devserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
	"github.com/tjfontaine/funnel-draftkit/internal/draft"
	"github.com/tjfontaine/funnel-draftkit/internal/pagedoc"
)

var testPage = funnel.PageRef{FunnelID: "f1", PageID: "p1"}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *funnel.Client) {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(New(opts).Router)
	t.Cleanup(ts.Close)
	return ts, funnel.NewClient(ts.URL, funnel.WithHTTPClient(ts.Client()))
}

func collect(t *testing.T, s funnel.Stream) []draft.Event {
	t.Helper()
	defer s.Close()
	var events []draft.Event
	for {
		p, err := s.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		ev, ok := draft.ParseEvent(p)
		if !ok {
			t.Fatalf("unparseable event %s", p)
		}
		events = append(events, ev)
	}
}

func request(prompt string) *funnel.GenerateRequest {
	return &funnel.GenerateRequest{
		Prompt:          prompt,
		CurrentPuckData: pagedoc.Empty(),
		GenerateImages:  true,
		MaxImages:       1,
	}
}

func TestServer_Stream(t *testing.T) {
	_, client := newTestServer(t, Options{})

	stream, err := client.StartGeneration(context.Background(), testPage, request("add a hero"))
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}
	events := collect(t, stream)

	var text strings.Builder
	for _, ev := range events[:len(events)-1] {
		if ev.Type == draft.EventText {
			text.WriteString(ev.Text)
		}
	}
	if text.String() != "Working on: add a hero" {
		t.Errorf("streamed text = %q", text.String())
	}

	last := events[len(events)-1]
	if last.Type != draft.EventDone {
		t.Fatalf("last event = %s, want done", last.Type)
	}
	if last.Done.DraftVersionID == "" || len(last.Done.GeneratedImages) != 1 {
		t.Errorf("done payload = %+v", last.Done)
	}

	out, err := draft.NewInterpreter(nil).Apply(last)
	if err != nil {
		t.Fatalf("Apply(done) error = %v", err)
	}
	hero := out.Document.Content[0]
	if hero.Type != "Hero" || hero.Props["headline"] != "Add a hero" {
		t.Errorf("hero block = %+v", hero)
	}
}

func TestServer_DisableStreamFallsBack(t *testing.T) {
	_, client := newTestServer(t, Options{DisableStream: true})

	stream, err := client.StartGeneration(context.Background(), testPage, request("add a hero"))
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}
	events := collect(t, stream)
	if len(events) != 1 || events[0].Type != draft.EventDone {
		t.Fatalf("events = %+v, want a single done", events)
	}
	if events[0].Done.AssistantMessage != "Added a hero section." {
		t.Errorf("AssistantMessage = %q", events[0].Done.AssistantMessage)
	}
}

func TestServer_Errors(t *testing.T) {
	ts, client := newTestServer(t, Options{})

	_, err := client.StartGeneration(context.Background(), testPage, request("   "))
	var httpErr *funnel.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("StartGeneration(blank) error = %v, want 400", err)
	}
	if httpErr.Message != "prompt is required" {
		t.Errorf("Message = %q", httpErr.Message)
	}

	resp, err := http.Post(ts.URL+"/funnels/f1/pages/p1/ai/generate", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	stream, err := client.StartGeneration(context.Background(), testPage, request("please [fail]"))
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}
	events := collect(t, stream)
	if last := events[len(events)-1]; last.Type != draft.EventError || last.Message == "" {
		t.Errorf("last event = %+v, want error", last)
	}
}

func TestServer_EditorRoundTrip(t *testing.T) {
	for _, disable := range []bool{false, true} {
		_, client := newTestServer(t, Options{DisableStream: disable})
		ed := draft.NewEditor(client, testPage)

		for _, prompt := range []string{"add a hero", "add another"} {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := ed.Generate(prompt).Wait(ctx)
			cancel()
			if err != nil {
				t.Fatalf("disableStream=%v Generate(%q) error = %v", disable, prompt, err)
			}
		}

		st := ed.Snapshot()
		if st.Document.BlockCount() != 2 {
			t.Errorf("disableStream=%v BlockCount() = %d, want 2", disable, st.Document.BlockCount())
		}
		if st.Document.Content[0].ID() == st.Document.Content[1].ID() {
			t.Error("block ids are not unique")
		}
		if len(st.Images) != 1 {
			t.Errorf("Images = %+v", st.Images)
		}
	}

	_, client := newTestServer(t, Options{})
	ed := draft.NewEditor(client, testPage)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ed.Generate("[empty] page").Wait(ctx); !errors.Is(err, draft.ErrEmptyPage) {
		t.Errorf("Generate([empty]) error = %v, want ErrEmptyPage", err)
	}
}

func TestServer_StreamTimeoutEndsStream(t *testing.T) {
	_, client := newTestServer(t, Options{ChunkDelay: 200 * time.Millisecond, StreamTimeout: 50 * time.Millisecond})
	ed := draft.NewEditor(client, testPage)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := ed.Generate("add a hero").Wait(ctx)
	if !errors.Is(err, draft.ErrStreamEnded) {
		t.Fatalf("Generate() error = %v, want ErrStreamEnded", err)
	}
	if st := ed.Snapshot(); st.Status != draft.StatusFailed || st.Input != "add a hero" {
		t.Errorf("state after cut-off stream: status=%v input=%q", st.Status, st.Input)
	}
}

func TestChunk(t *testing.T) {
	tests := []string{"", "one", "two words", "Working on: add a hero"}
	for _, text := range tests {
		if got := strings.Join(chunk(text), ""); got != text {
			t.Errorf("chunk(%q) joined = %q", text, got)
		}
	}
	if n := len(chunk("a b c")); n != 3 {
		t.Errorf("len(chunk(a b c)) = %d, want 3", n)
	}
}
