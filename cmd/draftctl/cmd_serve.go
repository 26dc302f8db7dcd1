package main

import (
	"github.com/spf13/cobra"

	"github.com/tjfontaine/funnel-draftkit/internal/devserver"
)

var (
	servePort     int
	serveNoStream bool
)

var serveDevCmd = &cobra.Command{
	Use:   "serve-dev",
	Short: "Run the development generation backend",
	Long: `Serves the page generation endpoints with a deterministic fake model.
Prompts containing [fail] produce an error event and [empty] an empty page.`,
	Args: cobra.NoArgs,
	RunE: runServeDev,
}

func init() {
	serveDevCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
	serveDevCmd.Flags().BoolVar(&serveNoStream, "no-stream", false, "answer 404 on the streaming route")
}

func runServeDev(cmd *cobra.Command, args []string) error {
	cfg, flush, err := loadConfig()
	if err != nil {
		return err
	}
	defer flush()

	opts := devserver.Options{
		Port:          cfg.DevServer.Port,
		DisableStream: cfg.DevServer.DisableStream || serveNoStream,
		Logger:        logger,
	}
	if servePort != 0 {
		opts.Port = servePort
	}

	return devserver.New(opts).Start(cmd.Context())
}
