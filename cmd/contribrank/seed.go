package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "Load JSONL records into the store",
	Long: `Load repositories, opportunities and users from a JSONL file, one record per
line. Each record names its "type" and "id"; "delete": true removes the
entity. Embeddings may be given as an array of numbers or in the
comma-separated text encoding. With no file, records are read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()
		in = f
	}

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	stats, err := eng.Seed(ctx, in)
	if err != nil {
		return err
	}
	logger.Info("seed complete",
		slog.Any("records", stats.Records),
		slog.Int("deleted", stats.Deleted),
		slog.Duration("duration", stats.Duration))
	return printJSON(cmd.OutOrStdout(), stats)
}
