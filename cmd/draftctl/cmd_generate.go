package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
	"github.com/tjfontaine/funnel-draftkit/internal/config"
	"github.com/tjfontaine/funnel-draftkit/internal/draft"
	"github.com/tjfontaine/funnel-draftkit/pkg/draftkit"
)

var (
	genFunnel  string
	genPage    string
	genPrompt  string
	genBaseURL string
	genWatch   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a page draft from a prompt",
	Long: `Sends a prompt to the generation backend, streams the assistant text to
stderr and prints the reconciled page document to stdout.

Without --prompt, prompts are read line by line from stdin. A line of the form
":page <funnel>/<page>" switches the target page.`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genFunnel, "funnel", "", "funnel id")
	generateCmd.Flags().StringVar(&genPage, "page", "", "page id")
	generateCmd.Flags().StringVarP(&genPrompt, "prompt", "m", "", "prompt (reads stdin when empty)")
	generateCmd.Flags().StringVar(&genBaseURL, "base-url", "", "backend base url (overrides config)")
	generateCmd.Flags().BoolVar(&genWatch, "watch", false, "reload generation settings when the config file changes")
	_ = generateCmd.MarkFlagRequired("funnel")
	_ = generateCmd.MarkFlagRequired("page")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, flush, err := loadConfig()
	if err != nil {
		return err
	}
	defer flush()

	if genBaseURL != "" {
		cfg.Backend.BaseURL = genBaseURL
	}
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend base url is required (backend.base_url or --base-url)")
	}

	stream := &streamPrinter{w: cmd.ErrOrStderr(), last: make(map[funnel.PageRef]string)}
	wb, err := draftkit.NewFromConfig(cfg,
		draftkit.WithLogger(logger),
		draftkit.WithObserver(stream.observe),
		draftkit.WithNotifier(draft.NotifierFunc(func(_ context.Context, page funnel.PageRef, err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[%s] generation failed: %v\n", page, err)
		})),
	)
	if err != nil {
		return err
	}
	defer wb.Close()

	page := funnel.PageRef{FunnelID: genFunnel, PageID: genPage}
	if _, err := wb.Open(ctx, page); err != nil {
		return err
	}

	if genPrompt != "" {
		return generateOnce(ctx, cmd.OutOrStdout(), wb, page, genPrompt)
	}

	if genWatch {
		err := config.Watch(ctx, configPath, logger, func(c *config.Config) {
			if err := wb.ApplyGeneration(c.Generation); err != nil {
				logger.Error("failed to apply generation settings", slog.String("error", err.Error()))
			}
		})
		if err != nil {
			return err
		}
	}

	return generateInteractive(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), wb, page)
}

func generateOnce(ctx context.Context, out io.Writer, wb *draftkit.Workbench, page funnel.PageRef, prompt string) error {
	sess := wb.Generate(ctx, page, prompt)
	if sess == nil {
		return fmt.Errorf("nothing to generate")
	}
	if err := sess.Wait(ctx); err != nil {
		return err
	}

	st := wb.Editor(page).Snapshot()
	if n := len(st.Messages); n > 0 {
		fmt.Fprintf(out, "# %s (version %s)\n", st.Messages[n-1].Content, st.VersionID)
	}
	return printJSON(out, st.Document)
}

func generateInteractive(ctx context.Context, in io.Reader, out io.Writer, wb *draftkit.Workbench, page funnel.PageRef) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if target, ok := strings.CutPrefix(line, ":page "); ok {
			next, err := parsePageRef(target)
			if err != nil {
				fmt.Fprintln(out, "#", err)
				continue
			}
			if _, err := wb.Open(ctx, next); err != nil {
				return err
			}
			page = next
			fmt.Fprintf(out, "# editing %s\n", page)
			continue
		}

		err := generateOnce(ctx, out, wb, page, line)
		if ctx.Err() != nil {
			return nil
		}
		// Failures were already reported by the notifier.
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("generation failed", slog.String("error", err.Error()))
		}
	}
	return scanner.Err()
}

func parsePageRef(s string) (funnel.PageRef, error) {
	funnelID, pageID, _ := strings.Cut(strings.TrimSpace(s), "/")
	page := funnel.PageRef{FunnelID: funnelID, PageID: pageID}
	if !page.Valid() {
		return page, fmt.Errorf("invalid page %q, want <funnel>/<page>", s)
	}
	return page, nil
}

// streamPrinter writes the growing assistant text of each page as it arrives.
type streamPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	last map[funnel.PageRef]string
}

func (p *streamPrinter) observe(st draft.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.last[st.Page]
	p.last[st.Page] = st.StreamText
	if st.StreamText == "" {
		if prev != "" {
			fmt.Fprintln(p.w)
		}
		return
	}
	if strings.HasPrefix(st.StreamText, prev) {
		fmt.Fprint(p.w, st.StreamText[len(prev):])
		return
	}
	fmt.Fprint(p.w, "\n"+st.StreamText)
}
