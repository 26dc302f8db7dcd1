package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/funnel-draftkit/internal/pagedoc"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [file]",
	Short: "Normalize a page document",
	Long: `Reads a page document (or any JSON value) from file, or stdin when the
file is omitted or "-", and prints its normalized form.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNormalize,
}

func runNormalize(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var candidate any
	if err := json.NewDecoder(in).Decode(&candidate); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	return printJSON(cmd.OutOrStdout(), pagedoc.Normalize(candidate))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
