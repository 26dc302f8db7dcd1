// Package draft runs AI draft generations for a funnel page and reconciles
// their results into the editor's working document.
package draft

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
	"github.com/tjfontaine/funnel-draftkit/internal/cache"
	"github.com/tjfontaine/funnel-draftkit/internal/pagedoc"
	"github.com/tjfontaine/funnel-draftkit/internal/storage"
	"github.com/tjfontaine/funnel-draftkit/internal/tokens"
)

// Generator starts a generation stream. *funnel.Client implements it.
type Generator interface {
	StartGeneration(ctx context.Context, page funnel.PageRef, req *funnel.GenerateRequest) (funnel.Stream, error)
}

// Notifier surfaces a failed generation to the user.
type Notifier interface {
	Notify(ctx context.Context, page funnel.PageRef, err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, page funnel.PageRef, err error)

func (f NotifierFunc) Notify(ctx context.Context, page funnel.PageRef, err error) {
	f(ctx, page, err)
}

// Status is the editor's generation status.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusFailed     Status = "failed"
)

// State is an immutable snapshot of the editor.
type State struct {
	// Revision increases with every change and orders snapshots delivered to
	// observers from different goroutines.
	Revision   uint64
	Page       funnel.PageRef
	Status     Status
	Document   *pagedoc.Document
	VersionID  string
	Messages   []funnel.Message
	Input      string
	StreamText string
	RawText    string
	Images     []funnel.GeneratedImage
	Err        error
}

// Option configures an Editor.
type Option func(*Editor)

func WithStore(store storage.DraftStore) Option {
	return func(e *Editor) { e.store = store }
}

func WithInvalidator(inv cache.Invalidator) Option {
	return func(e *Editor) { e.invalidator = inv }
}

func WithNotifier(n Notifier) Option {
	return func(e *Editor) { e.notifier = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Editor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithNormalizer(n *pagedoc.Normalizer) Option {
	return func(e *Editor) {
		if n != nil {
			e.normalizer = n
		}
	}
}

// WithHistoryBudget trims the prior messages sent with each request.
func WithHistoryBudget(b *tokens.Budget) Option {
	return func(e *Editor) { e.budget = b }
}

// WithImages controls image generation for every request.
func WithImages(generate bool, max int) Option {
	return func(e *Editor) {
		e.generateImages = generate
		e.maxImages = max
	}
}

// WithObserver registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not block.
func WithObserver(fn func(State)) Option {
	return func(e *Editor) {
		if fn != nil {
			e.observers = append(e.observers, fn)
		}
	}
}

const tracerName = "github.com/tjfontaine/funnel-draftkit/internal/draft"

// Editor owns the working document of one page and runs at most one
// generation for it at a time.
type Editor struct {
	gen            Generator
	normalizer     *pagedoc.Normalizer
	store          storage.DraftStore
	invalidator    cache.Invalidator
	notifier       Notifier
	budget         *tokens.Budget
	logger         *slog.Logger
	tracer         trace.Tracer
	observers      []func(State)
	generateImages bool
	maxImages      int

	mu         sync.Mutex
	generation uint64
	active     *Session
	state      State
}

// NewEditor returns an idle editor for page holding the template document.
func NewEditor(gen Generator, page funnel.PageRef, opts ...Option) *Editor {
	e := &Editor{
		gen:            gen,
		normalizer:     pagedoc.NewNormalizer(),
		invalidator:    cache.Nop{},
		logger:         slog.Default(),
		tracer:         otel.Tracer(tracerName),
		generateImages: true,
		maxImages:      4,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = NotifierFunc(e.logNotify)
	}

	e.state = State{
		Page:     page,
		Status:   StatusIdle,
		Document: e.normalizer.Template(),
		Messages: []funnel.Message{},
	}
	return e
}

func (e *Editor) logNotify(_ context.Context, page funnel.PageRef, err error) {
	e.logger.Warn("generation failed",
		slog.String("page", page.String()),
		slog.String("error", err.Error()))
}

// Snapshot returns the current state.
func (e *Editor) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Editor) snapshotLocked() State {
	s := e.state
	s.Document = e.state.Document.Clone()
	s.Messages = append([]funnel.Message{}, e.state.Messages...)
	s.Images = append([]funnel.GeneratedImage(nil), e.state.Images...)
	return s
}

// changedLocked bumps the revision and returns the snapshot to publish once
// the lock is released.
func (e *Editor) changedLocked() State {
	e.state.Revision++
	return e.snapshotLocked()
}

func (e *Editor) emit(s State) {
	for _, fn := range e.observers {
		fn(s)
	}
}

// SetInput stores the text of the prompt input.
func (e *Editor) SetInput(text string) {
	e.mu.Lock()
	e.state.Input = text
	snap := e.changedLocked()
	e.mu.Unlock()
	e.emit(snap)
}

// Busy reports whether a generation is in flight.
func (e *Editor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

// Generate starts a generation for prompt. See GenerateContext.
func (e *Editor) Generate(prompt string) *Session {
	return e.GenerateContext(context.Background(), prompt)
}

// GenerateContext starts a generation for prompt and returns immediately.
// It returns nil when the trimmed prompt is empty or the editor has no page.
// Any generation already in flight is cancelled and its later events are
// ignored. Cancelling ctx cancels the generation silently.
func (e *Editor) GenerateContext(ctx context.Context, prompt string) *Session {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}

	e.mu.Lock()
	page := e.state.Page
	if !page.Valid() {
		e.mu.Unlock()
		return nil
	}

	e.cancelActiveLocked()
	e.generation++

	prior := append([]funnel.Message{}, e.state.Messages...)
	if e.budget != nil {
		prior = e.budget.Trim(prior)
	}
	req := &funnel.GenerateRequest{
		Prompt:          prompt,
		Messages:        prior,
		CurrentPuckData: e.state.Document.Clone(),
		GenerateImages:  e.generateImages,
		MaxImages:       e.maxImages,
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:     e.generation,
		Prompt: prompt,
		Page:   page,
		editor: e,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.active = s

	e.state.Messages = append(e.state.Messages, funnel.Message{Role: funnel.RoleUser, Content: prompt})
	e.state.Status = StatusGenerating
	e.state.Input = ""
	e.state.StreamText = ""
	e.state.RawText = ""
	e.state.Images = nil
	e.state.Err = nil
	snap := e.changedLocked()
	e.mu.Unlock()

	e.logger.Info("generation started",
		slog.String("page", page.String()),
		slog.Uint64("generation", s.ID),
		slog.Int("history", len(prior)))
	e.emit(snap)

	go e.run(sctx, s, req)
	return s
}

// Cancel aborts the in-flight generation, if any. Partial text is discarded
// and no error is reported.
func (e *Editor) Cancel() {
	e.mu.Lock()
	if e.active == nil {
		e.mu.Unlock()
		return
	}
	e.cancelActiveLocked()
	snap := e.changedLocked()
	e.mu.Unlock()
	e.emit(snap)
}

func (e *Editor) cancelSession(s *Session) {
	e.mu.Lock()
	if e.active != s {
		e.mu.Unlock()
		s.cancel()
		return
	}
	e.cancelActiveLocked()
	snap := e.changedLocked()
	e.mu.Unlock()
	e.emit(snap)
}

func (e *Editor) cancelActiveLocked() {
	if e.active == nil {
		return
	}
	e.logger.Debug("cancelling generation", slog.Uint64("generation", e.active.ID))
	e.active.cancel()
	e.active = nil
	e.state.Status = StatusIdle
	e.state.StreamText = ""
	e.state.RawText = ""
}

func (e *Editor) run(ctx context.Context, s *Session, req *funnel.GenerateRequest) {
	defer close(s.done)
	defer s.cancel()

	ctx, span := e.tracer.Start(ctx, "draft.generate", trace.WithAttributes(
		attribute.String("funnel.id", s.Page.FunnelID),
		attribute.String("page.id", s.Page.PageID),
		attribute.Int64("draft.generation", int64(s.ID)),
	))
	defer span.End()

	out, err := e.consume(ctx, s, req)
	if ctx.Err() != nil {
		out, err = nil, ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if err != nil {
		s.err = err
		e.fail(ctx, s, err)
		return
	}
	if !e.apply(ctx, s, out) {
		s.err = context.Canceled
		return
	}
	s.outcome = out
}

func (e *Editor) consume(ctx context.Context, s *Session, req *funnel.GenerateRequest) (*Outcome, error) {
	stream, err := e.gen.StartGeneration(ctx, s.Page, req)
	if err != nil {
		return nil, transportError(err)
	}
	defer stream.Close()

	interp := NewInterpreter(e.normalizer)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil, protocolError(ErrStreamEnded)
		}
		if err != nil {
			return nil, transportError(err)
		}

		ev, ok := ParseEvent(payload)
		if !ok {
			e.logger.Debug("ignoring stream event", slog.String("payload", string(payload)))
			continue
		}

		out, err := interp.Apply(ev)
		if err != nil || out != nil {
			return out, err
		}
		e.progress(s, interp.Text(), interp.Raw())
	}
}

func (e *Editor) progress(s *Session, text, raw string) {
	e.mu.Lock()
	if e.active != s {
		e.mu.Unlock()
		return
	}
	if e.state.StreamText == text && e.state.RawText == raw {
		e.mu.Unlock()
		return
	}
	e.state.StreamText = text
	e.state.RawText = raw
	snap := e.changedLocked()
	e.mu.Unlock()
	e.emit(snap)
}

// apply swaps out into the editor and reports whether s was still the active
// session.
func (e *Editor) apply(ctx context.Context, s *Session, out *Outcome) bool {
	versionID := out.VersionID
	if versionID == "" {
		versionID = "local-" + uuid.NewString()
	}
	assistant := funnel.Message{Role: funnel.RoleAssistant, Content: out.AssistantMessage}

	e.mu.Lock()
	if e.active != s {
		e.mu.Unlock()
		e.logger.Debug("dropping result of superseded generation", slog.Uint64("generation", s.ID))
		return false
	}
	e.active = nil
	e.state.Document = out.Document
	e.state.VersionID = versionID
	e.state.Messages = append(e.state.Messages, assistant)
	e.state.Images = out.Images
	e.state.Status = StatusIdle
	snap := e.changedLocked()
	e.mu.Unlock()

	e.logger.Info("generation applied",
		slog.String("page", s.Page.String()),
		slog.String("version_id", versionID),
		slog.Int("blocks", out.Document.BlockCount()),
		slog.Int("images", len(out.Images)))
	e.emit(snap)

	bg := context.WithoutCancel(ctx)
	if err := e.invalidator.Invalidate(bg, cache.PageDetail(s.Page), cache.FunnelDetail(s.Page.FunnelID)); err != nil {
		e.logger.Warn("cache invalidation failed", slog.String("error", err.Error()))
	}

	if e.store == nil {
		return true
	}
	draft := &storage.Draft{
		VersionID: versionID,
		Page:      s.Page,
		Document:  out.Document,
		Source:    storage.SourceAI,
	}
	if err := e.store.SaveDraft(bg, draft); err != nil {
		e.logger.Warn("failed to persist draft", slog.String("version_id", versionID), slog.String("error", err.Error()))
	}
	e.persistMessages(bg, s.Page, funnel.Message{Role: funnel.RoleUser, Content: s.Prompt}, assistant)
	return true
}

func (e *Editor) fail(ctx context.Context, s *Session, err error) {
	if errors.Is(err, context.Canceled) {
		e.mu.Lock()
		if e.active == s {
			e.active = nil
			e.state.Status = StatusIdle
			e.state.StreamText = ""
			e.state.RawText = ""
			snap := e.changedLocked()
			e.mu.Unlock()
			e.emit(snap)
			return
		}
		e.mu.Unlock()
		return
	}

	assistant := funnel.Message{Role: funnel.RoleAssistant, Content: "Generation failed: " + err.Error()}

	e.mu.Lock()
	if e.active != s {
		e.mu.Unlock()
		e.logger.Debug("dropping failure of superseded generation",
			slog.Uint64("generation", s.ID),
			slog.String("error", err.Error()))
		return
	}
	e.active = nil
	e.state.Status = StatusFailed
	e.state.Err = err
	e.state.Input = s.Prompt
	e.state.StreamText = ""
	e.state.RawText = ""
	e.state.Messages = append(e.state.Messages, assistant)
	snap := e.changedLocked()
	e.mu.Unlock()

	e.logger.Warn("generation failed",
		slog.String("page", s.Page.String()),
		slog.Uint64("generation", s.ID),
		slog.String("kind", string(KindOf(err))),
		slog.String("error", err.Error()))
	e.emit(snap)

	bg := context.WithoutCancel(ctx)
	e.notifier.Notify(bg, s.Page, err)
	e.persistMessages(bg, s.Page, funnel.Message{Role: funnel.RoleUser, Content: s.Prompt}, assistant)
}

func (e *Editor) persistMessages(ctx context.Context, page funnel.PageRef, msgs ...funnel.Message) {
	if e.store == nil {
		return
	}
	if err := e.store.AppendMessages(ctx, page, msgs...); err != nil {
		e.logger.Warn("failed to persist transcript", slog.String("error", err.Error()))
	}
}

// SetDocument normalizes candidate and makes it the working document.
func (e *Editor) SetDocument(candidate any) error {
	doc := e.normalizer.Normalize(candidate)

	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return ErrBusy
	}
	e.state.Document = doc
	snap := e.changedLocked()
	e.mu.Unlock()
	e.emit(snap)
	return nil
}

// SaveDraft persists the working document as a new manual version and
// returns its version id.
func (e *Editor) SaveDraft(ctx context.Context) (string, error) {
	if e.store == nil {
		return "", ErrNoStore
	}

	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return "", ErrBusy
	}
	if !e.state.Page.Valid() {
		e.mu.Unlock()
		return "", ErrNoPage
	}
	draft := &storage.Draft{
		VersionID: uuid.NewString(),
		Page:      e.state.Page,
		Document:  e.state.Document.Clone(),
		Source:    storage.SourceManual,
	}
	e.mu.Unlock()

	if err := e.store.SaveDraft(ctx, draft); err != nil {
		return "", fmt.Errorf("failed to save draft: %w", err)
	}

	e.mu.Lock()
	if e.state.Page == draft.Page {
		e.state.VersionID = draft.VersionID
	}
	snap := e.changedLocked()
	e.mu.Unlock()
	e.emit(snap)

	return draft.VersionID, nil
}

// LoadDraft replaces the working document with a stored version of this page.
func (e *Editor) LoadDraft(ctx context.Context, versionID string) error {
	if e.store == nil {
		return ErrNoStore
	}
	if e.Busy() {
		return ErrBusy
	}

	d, err := e.store.GetDraft(ctx, versionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return ErrBusy
	}
	if d.Page != e.state.Page {
		e.mu.Unlock()
		return fmt.Errorf("draft %s belongs to page %s", versionID, d.Page)
	}
	e.state.Document = e.normalizer.Normalize(d.Document)
	e.state.VersionID = d.VersionID
	snap := e.changedLocked()
	e.mu.Unlock()
	e.emit(snap)
	return nil
}

// Reset cancels any in-flight generation and targets page. Switching to a
// different page clears the transcript and loads the template document.
func (e *Editor) Reset(page funnel.PageRef) {
	e.mu.Lock()
	e.cancelActiveLocked()
	if page != e.state.Page {
		e.state = State{
			Revision: e.state.Revision,
			Page:     page,
			Status:   StatusIdle,
			Document: e.normalizer.Template(),
			Messages: []funnel.Message{},
		}
	}
	snap := e.changedLocked()
	e.mu.Unlock()
	e.emit(snap)
}

// Open resets the editor to page and restores its latest stored draft and
// transcript when a store is configured.
func (e *Editor) Open(ctx context.Context, page funnel.PageRef) error {
	e.Reset(page)
	if e.store == nil || !page.Valid() {
		return nil
	}

	msgs, err := e.store.Transcript(ctx, page)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}
	latest, err := e.store.LatestDraft(ctx, page)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load latest draft: %w", err)
	}

	e.mu.Lock()
	if e.state.Page != page || e.active != nil {
		e.mu.Unlock()
		return nil
	}
	e.state.Messages = msgs
	if latest != nil {
		e.state.Document = e.normalizer.Normalize(latest.Document)
		e.state.VersionID = latest.VersionID
	}
	snap := e.changedLocked()
	e.mu.Unlock()
	e.emit(snap)
	return nil
}

// Close cancels any in-flight generation.
func (e *Editor) Close() {
	e.Cancel()
}

// Session is one generation started by Generate.
type Session struct {
	ID     uint64
	Prompt string
	Page   funnel.PageRef

	editor  *Editor
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	outcome *Outcome
}

// Done is closed when the session goroutine exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session finishes or ctx is done. It returns the
// session's error, context.Canceled for cancelled sessions.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome returns the applied result after a successful Wait.
func (s *Session) Outcome() *Outcome {
	select {
	case <-s.done:
		return s.outcome
	default:
		return nil
	}
}

// Cancel aborts this session. It has no effect once the session finished.
func (s *Session) Cancel() {
	s.editor.cancelSession(s)
}
