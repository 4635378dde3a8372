package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/ui"
	"github.com/nickcecere/docrag/internal/watcher"
)

var watchNoInitial bool

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and keep its PDFs indexed",
	Long: `Watch a directory for PDF changes and keep the index in sync.

This command first ingests the directory (unchanged files are skipped), unless
--no-initial is given, then re-ingests PDFs as they change and removes
deleted ones from the index.

Examples:
  # Watch the current directory
  docrag watch

  # Watch a specific directory
  docrag watch ./papers

  # Skip the initial sync
  docrag watch --no-initial`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "skip initial sync")
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	cfg := config.Get()

	ctx, cancel := signalContext(func(os.Signal) {
		fmt.Println("\nShutting down...")
	})
	defer cancel()

	sys, closeStore, err := openSystem(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if !watchNoInitial {
		fmt.Println(ui.Header.Render("Initial Sync"))
		fmt.Printf("Path: %s\n\n", absPath)

		err := spin("Ingesting documents", func() error {
			_, err := sys.IngestDir(ctx, indexer.DirOptions{Path: absPath})
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("initial sync failed: %w", err)
		}

		p := sys.Indexer().Progress()
		fmt.Printf("Initial sync complete: %d ingested, %d unchanged, %d failed\n\n",
			p.ProcessedFiles, p.SkippedFiles, p.Errors)
	}

	w, err := watcher.New(absPath, sys, cfg,
		watcher.WithEventCallback(func(event, path string) {
			switch event {
			case watcher.EventIngest:
				fmt.Printf("%s %s\n", ui.Success.Render("ingested"), path)
			case watcher.EventDelete:
				fmt.Printf("%s %s\n", ui.Warning.Render("removed "), path)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	fmt.Println(ui.Header.Render("Watching for Changes"))
	fmt.Printf("Directory: %s\n", absPath)
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error("Watcher stopped", "error", err)
		return err
	}
	return nil
}
