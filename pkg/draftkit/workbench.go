// Package draftkit is the public API for embedding AI page draft generation.
//
//	wb, err := draftkit.New(
//	    draftkit.WithBackend("https://api.example.com/api", funnel.StaticToken(token)),
//	    draftkit.WithSQLite("./drafts.db"),
//	)
//	ed, err := wb.Open(ctx, funnel.PageRef{FunnelID: "f1", PageID: "p1"})
//	ed.Generate("add a hero")
package draftkit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
	"github.com/tjfontaine/funnel-draftkit/internal/cache"
	"github.com/tjfontaine/funnel-draftkit/internal/config"
	"github.com/tjfontaine/funnel-draftkit/internal/draft"
	"github.com/tjfontaine/funnel-draftkit/internal/storage"
	"github.com/tjfontaine/funnel-draftkit/internal/storage/memory"
	"github.com/tjfontaine/funnel-draftkit/internal/tokens"
)

// Re-exported types for external consumers.
type (
	PageRef  = funnel.PageRef
	Editor   = draft.Editor
	Session  = draft.Session
	State    = draft.State
	CacheKey = cache.Key
)

// Workbench owns one editor per page and the infrastructure they share.
type Workbench struct {
	client       draft.Generator
	baseURL      string
	tokens       funnel.TokenProvider
	httpClient   *http.Client
	store        storage.DraftStore
	storeSet     bool
	invalidator  cache.Invalidator
	bus          *cache.Bus
	redisAddr    string
	redisChannel string
	notifier     draft.Notifier
	observer     func(draft.State)
	logger       *slog.Logger

	mu             sync.Mutex
	budget         *tokens.Budget
	generateImages bool
	maxImages      int
	editors        map[funnel.PageRef]*draft.Editor
}

// New creates a Workbench. A backend is required; storage defaults to memory
// and invalidation to the in-process bus.
func New(opts ...Option) (*Workbench, error) {
	w := &Workbench{
		logger:         slog.Default(),
		generateImages: true,
		maxImages:      4,
		editors:        make(map[funnel.PageRef]*draft.Editor),
	}

	for _, opt := range opts {
		if err := opt(w); err != nil {
			w.Close()
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if w.client == nil && w.baseURL != "" {
		w.client = w.newClient()
	}
	if w.client == nil {
		w.Close()
		return nil, fmt.Errorf("backend required (use WithBackend or WithConfig)")
	}
	if w.redisAddr != "" {
		pub, err := cache.NewRedisPublisher(context.Background(), w.redisAddr, w.redisChannel, w.logger)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("create redis invalidator: %w", err)
		}
		w.invalidator = pub
	}
	if !w.storeSet {
		w.store = memory.New()
	}
	if w.store == nil {
		w.logger.Info("draft storage disabled, drafts are not persisted")
	}
	if w.invalidator == nil {
		w.bus = cache.NewBus()
		w.invalidator = w.bus
	}

	return w, nil
}

func (w *Workbench) newClient() *funnel.Client {
	opts := []funnel.ClientOption{funnel.WithLogger(w.logger)}
	if w.httpClient != nil {
		opts = append(opts, funnel.WithHTTPClient(w.httpClient))
	}
	if w.tokens != nil {
		opts = append(opts, funnel.WithTokenProvider(w.tokens))
	}
	return funnel.NewClient(w.baseURL, opts...)
}

// NewFromConfig builds a Workbench from a loaded configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Workbench, error) {
	all := append([]Option{WithConfig(cfg)}, opts...)
	return New(all...)
}

// Editor returns the editor for page, creating it on first use.
func (w *Workbench) Editor(page funnel.PageRef) *draft.Editor {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ed, ok := w.editors[page]; ok {
		return ed
	}

	opts := []draft.Option{
		draft.WithLogger(w.logger.With(slog.String("page", page.String()))),
		draft.WithInvalidator(w.invalidator),
		draft.WithImages(w.generateImages, w.maxImages),
	}
	if w.store != nil {
		opts = append(opts, draft.WithStore(w.store))
	}
	if w.notifier != nil {
		opts = append(opts, draft.WithNotifier(w.notifier))
	}
	if w.observer != nil {
		opts = append(opts, draft.WithObserver(w.observer))
	}
	if w.budget != nil {
		opts = append(opts, draft.WithHistoryBudget(w.budget))
	}

	ed := draft.NewEditor(w.client, page, opts...)
	w.editors[page] = ed
	return ed
}

// Open returns the editor for page with its latest stored draft and
// transcript restored.
func (w *Workbench) Open(ctx context.Context, page funnel.PageRef) (*draft.Editor, error) {
	if !page.Valid() {
		return nil, fmt.Errorf("invalid page reference %q", page.String())
	}
	ed := w.Editor(page)
	if ed.Busy() {
		return ed, nil
	}
	if err := ed.Open(ctx, page); err != nil {
		return nil, err
	}
	return ed, nil
}

// Generate starts a generation on page's editor.
func (w *Workbench) Generate(ctx context.Context, page funnel.PageRef, prompt string) *draft.Session {
	return w.Editor(page).GenerateContext(ctx, prompt)
}

// Subscribe registers h for invalidations when the in-process bus is in use.
// It returns false for other invalidators.
func (w *Workbench) Subscribe(h cache.Handler) (func(), bool) {
	if w.bus == nil {
		return func() {}, false
	}
	return w.bus.Subscribe(h), true
}

// Store returns the configured draft store, or nil.
func (w *Workbench) Store() storage.DraftStore {
	return w.store
}

// ApplyGeneration updates generation settings for editors created from now
// on. It is the hot-reload hook for config.Watch.
func (w *Workbench) ApplyGeneration(cfg config.GenerationConfig) error {
	var budget *tokens.Budget
	if cfg.HistoryTokenBudget > 0 {
		counter, err := tokens.NewTiktokenCounter(cfg.TokenizerModel)
		if err != nil {
			return err
		}
		budget = tokens.NewBudget(counter, cfg.HistoryTokenBudget)
	}

	w.mu.Lock()
	w.generateImages = cfg.GenerateImages
	w.maxImages = cfg.MaxImages
	w.budget = budget
	w.mu.Unlock()

	w.logger.Info("generation settings updated",
		slog.Bool("generate_images", cfg.GenerateImages),
		slog.Int("max_images", cfg.MaxImages),
		slog.Int("history_token_budget", cfg.HistoryTokenBudget))
	return nil
}

// Close cancels every in-flight generation and releases storage and the
// invalidator.
func (w *Workbench) Close() error {
	w.mu.Lock()
	editors := w.editors
	w.editors = make(map[funnel.PageRef]*draft.Editor)
	w.mu.Unlock()

	for _, ed := range editors {
		ed.Close()
	}

	if w.store != nil {
		if err := w.store.Close(); err != nil {
			w.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}
	if w.invalidator != nil {
		if err := w.invalidator.Close(); err != nil {
			w.logger.Error("failed to close invalidator", slog.String("error", err.Error()))
		}
	}
	return nil
}
