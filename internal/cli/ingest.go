package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/fs"
	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/ui"
)

var (
	ingestID     string
	ingestSource string
	ingestMeta   []string
	ingestForce  bool
	ingestIgnore []string
	ingestDryRun bool
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf|dir>",
	Short: "Ingest PDF documents into the index",
	Long: `Ingest a PDF file, or every PDF under a directory.

This command will:
1. Extract the text layer of each PDF (OCR is used for scanned documents)
2. Split the text into overlapping word chunks
3. Generate embeddings for each chunk
4. Store the chunks and embeddings in the local database

A single file always replaces any previous version of the document. In a
directory, document ids are the paths relative to it and files whose
content is unchanged are skipped unless --force is given.

Examples:
  # Ingest one file with a chosen id and label
  docrag ingest manual.pdf --id router --source "Router manual"

  # Attach metadata
  docrag ingest manual.pdf --meta vendor=acme --meta year=2024

  # Ingest a directory
  docrag ingest ./papers

  # Preview what would be ingested
  docrag ingest ./papers --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document id for a single file (default: generated)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "label shown with retrieved chunks (default: the path)")
	ingestCmd.Flags().StringArrayVar(&ingestMeta, "meta", nil, "metadata as key=value (repeatable)")
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "re-ingest unchanged files in a directory")
	ingestCmd.Flags().StringSliceVarP(&ingestIgnore, "ignore", "i", nil, "additional patterns to ignore in a directory")
	ingestCmd.Flags().BoolVarP(&ingestDryRun, "dry-run", "d", false, "preview a directory without ingesting")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("path does not exist: %s", absPath)
	}

	meta, err := parseMeta(ingestMeta)
	if err != nil {
		return err
	}

	cfg := config.Get()

	if info.IsDir() && ingestDryRun {
		return runDryRun(absPath, cfg)
	}

	ctx, cancel := signalContext(func(os.Signal) {
		fmt.Println("\nInterrupted, cleaning up...")
	})
	defer cancel()

	sys, closeStore, err := openSystem(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if !info.IsDir() {
		var res *indexer.Result
		err := spin("Ingesting "+filepath.Base(absPath), func() error {
			var err error
			res, err = sys.IngestDocument(ctx, indexer.Document{
				ID:       ingestID,
				Path:     absPath,
				Source:   ingestSource,
				Metadata: meta,
				Force:    true,
			})
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println(ui.Warning.Render("Ingestion cancelled"))
				return nil
			}
			return fmt.Errorf("ingestion failed: %w", err)
		}

		fmt.Println(ui.Success.Render("Ingested!"))
		fmt.Println()
		fmt.Printf("  ID:       %s\n", res.DocumentID)
		fmt.Printf("  Source:   %s\n", res.Source)
		fmt.Printf("  Chunks:   %d\n", res.Chunks)
		fmt.Printf("  Text:     %d characters\n", res.Characters)
		fmt.Printf("  Duration: %s\n", res.Duration.Round(time.Millisecond))
		return nil
	}

	if ingestID != "" || ingestSource != "" {
		log.Warn("--id and --source are ignored for directories")
	}

	fmt.Println(ui.Header.Render("Ingesting " + filepath.Base(absPath)))
	fmt.Printf("Path: %s\n", absPath)
	fmt.Printf("Embeddings: %s\n", cfg.Embeddings.Provider)
	fmt.Println()

	startTime := time.Now()
	lastUpdate := time.Now()

	results, err := sys.IngestDir(ctx, indexer.DirOptions{
		Path:           absPath,
		IgnorePatterns: ingestIgnore,
		Metadata:       meta,
		Force:          ingestForce,
		OnProgress: func(p indexer.Progress) {
			if time.Since(lastUpdate) < 100*time.Millisecond {
				return
			}
			lastUpdate = time.Now()

			fmt.Printf("\r\033[K")
			if p.TotalFiles > 0 {
				done := p.ProcessedFiles + p.SkippedFiles + p.Errors
				pct := float64(done) / float64(p.TotalFiles) * 100
				fmt.Printf("Progress: %d/%d files (%.0f%%) | Chunks: %d | %s",
					done, p.TotalFiles, pct, p.TotalChunks,
					truncatePath(p.CurrentFile, 40))
			}
		},
	})

	fmt.Printf("\r\033[K")

	if err != nil {
		if ctx.Err() != nil {
			fmt.Println(ui.Warning.Render("Ingestion cancelled"))
			return nil
		}
		return fmt.Errorf("ingestion failed: %w", err)
	}

	p := sys.Indexer().Progress()
	fmt.Println(ui.Success.Render("Ingestion complete!"))
	fmt.Println()
	fmt.Printf("  Documents: %d ingested, %d unchanged, %d failed\n", p.ProcessedFiles, p.SkippedFiles, p.Errors)
	fmt.Printf("  Chunks:    %d\n", p.TotalChunks)
	fmt.Printf("  Total:     %d documents, %d chunks in index\n", len(sys.ListDocuments(ctx)), sys.Count(ctx))
	fmt.Printf("  Duration:  %s\n", time.Since(startTime).Round(time.Millisecond))

	if p.Errors > 0 && len(results) == 0 {
		return fmt.Errorf("no documents could be ingested")
	}
	return nil
}

// runDryRun shows what would be ingested without touching the index.
func runDryRun(path string, cfg *config.Config) error {
	fmt.Println(ui.Header.Render("Dry Run - Preview"))
	fmt.Printf("Path: %s\n\n", path)

	walker, err := fs.NewFileWalker(fs.WalkOptions{
		Root:           path,
		MaxFileSize:    cfg.RAG.MaxFileSize,
		IgnorePatterns: append(append([]string{}, cfg.Ignore...), ingestIgnore...),
		UseGitignore:   true,
		Extensions:     []string{".pdf"},
	})
	if err != nil {
		return fmt.Errorf("failed to create file walker: %w", err)
	}

	var files []fs.FileInfo
	err = walker.Walk(func(fi fs.FileInfo) error {
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	stats := walker.Stats()

	fmt.Printf("PDF files:     %d\n", len(files))
	fmt.Printf("Total size:    %s\n", formatBytes(stats.TotalBytes))
	fmt.Printf("Skipped:       %d files, %d directories\n", stats.FilesSkipped, stats.DirsSkipped)

	if len(files) > 0 {
		fmt.Println("\nFirst 10 files:")
		for i, f := range files {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(files)-10)
				break
			}
			fmt.Printf("  %s (%s)\n", f.RelPath, formatBytes(f.Size))
		}
	}

	return nil
}
