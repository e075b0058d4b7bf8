package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/contribrank/internal/mcp"
	"github.com/dshills/contribrank/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio mode)",
	Long: `Start the Model Context Protocol server. Requests are read from stdin and
responses written to stdout until stdin closes or the process is interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("contribrank MCP server starting",
		slog.String("version", version),
		slog.String("build_mode", storage.BuildMode),
		slog.String("driver", storage.DriverName),
		slog.String("strategy", string(globalConfig.Store.Strategy)))

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("failed to close engine", slog.Any("error", err))
		}
	}()

	server := mcp.NewServer(eng, mcp.WithLogger(logger))
	logger.Info("MCP server ready, listening on stdio")
	err = server.Serve(ctx)
	if ctx.Err() != nil {
		logger.Info("shutting down gracefully")
		return nil
	}
	return err
}
