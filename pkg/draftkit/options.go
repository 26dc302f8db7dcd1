package draftkit

import (
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
	"github.com/tjfontaine/funnel-draftkit/internal/cache"
	"github.com/tjfontaine/funnel-draftkit/internal/config"
	"github.com/tjfontaine/funnel-draftkit/internal/draft"
	"github.com/tjfontaine/funnel-draftkit/internal/storage"
	"github.com/tjfontaine/funnel-draftkit/internal/storage/memory"
	"github.com/tjfontaine/funnel-draftkit/internal/storage/sqlite"
	"github.com/tjfontaine/funnel-draftkit/internal/tokens"
)

// Option is a functional option for configuring a Workbench.
type Option func(*Workbench) error

// WithConfig wires the backend client, storage, invalidation and generation
// settings from a loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(w *Workbench) error {
		if cfg.Backend.BaseURL != "" {
			w.client = nil
			w.baseURL = cfg.Backend.BaseURL
			w.tokens = funnel.StaticToken(cfg.Backend.Token)
			w.httpClient = &http.Client{
				Transport: otelhttp.NewTransport(http.DefaultTransport),
				Timeout:   cfg.Backend.Timeout,
			}
		}

		var opt Option
		switch cfg.Storage.Type {
		case "sqlite":
			opt = WithSQLite(cfg.Storage.SQLite.Path)
		case "memory":
			opt = WithMemoryStore()
		case "none":
			opt = WithStore(nil)
		default:
			return fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
		}
		if err := opt(w); err != nil {
			return err
		}

		switch cfg.Invalidation.Driver {
		case "redis":
			opt = WithRedisInvalidation(cfg.Invalidation.Redis.Addr, cfg.Invalidation.Redis.Channel)
		default:
			opt = WithDirectInvalidation()
		}
		if err := opt(w); err != nil {
			return err
		}

		if cfg.Generation.HistoryTokenBudget > 0 {
			if err := WithHistoryBudget(cfg.Generation.TokenizerModel, cfg.Generation.HistoryTokenBudget)(w); err != nil {
				return err
			}
		}

		w.generateImages = cfg.Generation.GenerateImages
		w.maxImages = cfg.Generation.MaxImages
		return nil
	}
}

// WithBackend talks to the backend at baseURL. tokens may be nil for
// unauthenticated backends.
func WithBackend(baseURL string, tokens funnel.TokenProvider) Option {
	return func(w *Workbench) error {
		if baseURL == "" {
			return fmt.Errorf("backend base url cannot be empty")
		}
		w.client = nil
		w.baseURL = baseURL
		w.tokens = tokens
		w.httpClient = nil
		return nil
	}
}

// WithGenerator replaces the backend client, mainly for tests.
func WithGenerator(gen draft.Generator) Option {
	return func(w *Workbench) error {
		w.client = gen
		w.baseURL = ""
		return nil
	}
}

// WithMemoryStore keeps drafts and transcripts in memory (default).
func WithMemoryStore() Option {
	return func(w *Workbench) error {
		w.store = memory.New()
		w.storeSet = true
		return nil
	}
}

// WithSQLite persists drafts and transcripts in a SQLite database.
func WithSQLite(path string) Option {
	return func(w *Workbench) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		w.store = store
		w.storeSet = true
		return nil
	}
}

// WithStore sets a custom draft store. A nil store disables persistence.
func WithStore(store storage.DraftStore) Option {
	return func(w *Workbench) error {
		w.store = store
		w.storeSet = true
		return nil
	}
}

// WithDirectInvalidation delivers invalidations to in-process subscribers
// (default).
func WithDirectInvalidation() Option {
	return func(w *Workbench) error {
		bus := cache.NewBus()
		w.bus = bus
		w.invalidator = bus
		w.redisAddr = ""
		return nil
	}
}

// WithRedisInvalidation publishes invalidations over Redis pub/sub. The
// connection is checked when New runs.
func WithRedisInvalidation(addr, channel string) Option {
	return func(w *Workbench) error {
		if addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		w.bus = nil
		w.invalidator = nil
		w.redisAddr = addr
		w.redisChannel = channel
		return nil
	}
}

// WithInvalidator sets a custom invalidator.
func WithInvalidator(inv cache.Invalidator) Option {
	return func(w *Workbench) error {
		w.bus, _ = inv.(*cache.Bus)
		w.invalidator = inv
		w.redisAddr = ""
		return nil
	}
}

// WithHistoryBudget caps prior conversation sent with each request at max
// tokens of model's encoding.
func WithHistoryBudget(model string, max int) Option {
	return func(w *Workbench) error {
		counter, err := tokens.NewTiktokenCounter(model)
		if err != nil {
			return fmt.Errorf("create token counter: %w", err)
		}
		w.budget = tokens.NewBudget(counter, max)
		return nil
	}
}

// WithImages controls image generation.
func WithImages(generate bool, max int) Option {
	return func(w *Workbench) error {
		w.generateImages = generate
		w.maxImages = max
		return nil
	}
}

// WithNotifier sets how failed generations reach the user.
func WithNotifier(n draft.Notifier) Option {
	return func(w *Workbench) error {
		w.notifier = n
		return nil
	}
}

// WithObserver receives every editor's state changes.
func WithObserver(fn func(draft.State)) Option {
	return func(w *Workbench) error {
		w.observer = fn
		return nil
	}
}

// WithLogger sets a custom logger. The backend client and the Redis publisher
// are built after all options ran, so they use it wherever it appears.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workbench) error {
		if logger != nil {
			w.logger = logger
		}
		return nil
	}
}
