package cli

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/mcp"
	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/watcher"
)

var mcpWatch string

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server for AI agents",
	Long: `Start a Model Context Protocol (MCP) server so AI agents can use the index.

The server communicates via stdin/stdout using JSON-RPC 2.0 and provides tools for:
  - docrag_context: Retrieve relevant passages for a question
  - docrag_ingest:  Ingest a PDF file or directory
  - docrag_list:    List indexed documents
  - docrag_delete:  Remove a document

With --watch, a background watcher keeps the given directory in sync.

This command is typically launched by an agent, not run directly.`,
	Args: cobra.NoArgs,
	RunE: runMcpCmd,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpWatch, "watch", "", "directory to keep in sync while serving")
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol
	log.SetOutput(os.Stderr)

	cfg := config.Get()

	ctx, cancel := signalContext(func(sig os.Signal) {
		log.Info("Received signal, shutting down", "signal", sig)
	})
	defer cancel()

	sys, closeStore, err := openSystem(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if mcpWatch != "" {
		go startBackgroundWatcher(ctx, sys, cfg, mcpWatch)
	}

	server := mcp.NewServer(sys, cfg, mcp.WithVersion(version))
	return server.Run(ctx)
}

// startBackgroundWatcher keeps dir in sync until ctx is cancelled.
func startBackgroundWatcher(ctx context.Context, sys *rag.System, cfg *config.Config, dir string) {
	w, err := watcher.New(dir, sys, cfg,
		watcher.WithEventCallback(func(event, path string) {
			log.Debug("Background watcher event", "event", event, "path", path)
		}),
	)
	if err != nil {
		log.Error("Failed to create watcher", "error", err)
		return
	}

	log.Info("Starting background watcher", "path", w.Root())

	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error("Watcher error", "error", err)
	}
}
