package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/contribrank/internal/config"
	"github.com/dshills/contribrank/internal/engine"
)

var (
	configPath string
	logLevel   string

	globalConfig *config.Config
	logger       *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "contribrank",
	Short: "Hybrid search and contribution matching over repositories, opportunities and users",
	Long: `contribrank ranks open source repositories, contribution opportunities and
contributor profiles by a weighted blend of embedding similarity and fuzzy
text similarity, and recommends opportunities to contributors.

All logging goes to stderr; stdout carries command output or, for serve,
the MCP protocol.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		level, err := config.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		globalConfig = cfg
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/contribrank/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}

// openEngine opens the engine described by the loaded configuration.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	eng, err := engine.Open(ctx, globalConfig, engine.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return eng, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
