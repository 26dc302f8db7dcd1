// Package devserver is a development backend implementing the page
// generation endpoints with a deterministic fake model.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
)

// Options configures the development backend.
type Options struct {
	Port int
	// DisableStream answers 404 on the streaming route so clients fall back
	// to the non-streaming endpoint.
	DisableStream bool
	// ChunkDelay is slept between streamed events.
	ChunkDelay time.Duration
	// StreamTimeout cuts a stream off without a done event once exceeded.
	StreamTimeout time.Duration
	Logger        *slog.Logger
}

type Server struct {
	Router *chi.Mux
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Router: chi.NewRouter(),
		opts:   opts,
		logger: logger,
	}

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "draftkit-devserver")
	})

	r.Route("/funnels/{funnelID}/pages/{pageID}/ai", func(r chi.Router) {
		r.With(TimeoutMiddleware(opts.StreamTimeout)).Post("/generate/stream", s.handleStream)
		r.Post("/generate", s.handleGenerate)
	})

	return s
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting dev backend",
			slog.Int("port", s.opts.Port),
			slog.Bool("stream_enabled", !s.opts.DisableStream))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (*funnel.GenerateRequest, bool) {
	page := funnel.PageRef{FunnelID: chi.URLParam(r, "funnelID"), PageID: chi.URLParam(r, "pageID")}
	addLogField(r.Context(), "page", page.String())

	var req funnel.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return nil, false
	}
	addLogField(r.Context(), "prompt", req.Prompt)
	return &req, true
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	res := Generate(req)
	if res.Err != "" {
		http.Error(w, res.Err, http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res.doneBody()); err != nil {
		addLogField(r.Context(), "error", err.Error())
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.DisableStream {
		http.NotFound(w, r)
		return
	}

	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event map[string]any) bool {
		data, err := json.Marshal(event)
		if err != nil {
			addLogField(r.Context(), "error", err.Error())
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()

		if s.opts.ChunkDelay > 0 {
			select {
			case <-time.After(s.opts.ChunkDelay):
			case <-r.Context().Done():
				return false
			}
		}
		return true
	}

	res := Generate(req)
	for _, c := range res.Chunks {
		if !send(map[string]any{"type": "text", "text": c}) {
			return
		}
	}

	if res.Err != "" {
		send(map[string]any{"type": "error", "message": res.Err})
		return
	}

	if raw := res.rawJSON(); raw != "" {
		if !send(map[string]any{"type": "raw", "text": raw}) {
			return
		}
	}

	done := res.doneBody()
	done["type"] = "done"
	send(done)
}
