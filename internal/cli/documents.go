package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/index"
	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/ui"
)

var (
	listJSON  bool
	deleteYes bool
	deleteAll  bool
	deleteDrop bool
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed documents",
	Long:  `List every indexed document with its chunk count, oldest first.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete an indexed document",
	Long: `Delete a document and all of its chunks from the index.

Examples:
  docrag delete papers/report.pdf
  docrag delete --all --yes

  # After switching embedding models, discard the old vectors entirely
  docrag delete --all --drop`,
	Args: func(cmd *cobra.Command, args []string) error {
		if deleteAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runDelete,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "do not ask for confirmation")
	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "delete every document in the collection")
	deleteCmd.Flags().BoolVar(&deleteDrop, "drop", false, "with --all, drop the collection and its embedding model record")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext(nil)
	defer cancel()

	sys, closeStore, err := openSystem(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	docs := sys.ListDocuments(ctx)

	if listJSON {
		if docs == nil {
			docs = []index.DocumentSummary{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}

	if len(docs) == 0 {
		fmt.Println("No documents indexed.")
		fmt.Println("\nRun 'docrag ingest <file.pdf|dir>' to add some.")
		return nil
	}

	fmt.Println(ui.Header.Render("Indexed Documents"))
	fmt.Println()

	for _, d := range docs {
		fmt.Printf("%s\n", ui.Highlight.Render(d.DocumentID))
		fmt.Printf("  Source:   %s\n", d.Source)
		fmt.Printf("  Chunks:   %d\n", d.Chunks)
		if d.FileSize > 0 {
			fmt.Printf("  Size:     %s\n", formatBytes(d.FileSize))
		}
		fmt.Printf("  Indexed:  %s\n", formatTime(d.IndexedAt))
		fmt.Println()
	}

	fmt.Println(ui.Dim.Render(fmt.Sprintf("Total: %d documents, %d chunks", len(docs), sys.Count(ctx))))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext(nil)
	defer cancel()

	sys, closeStore, err := openSystem(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if deleteDrop && !deleteAll {
		return fmt.Errorf("--drop requires --all")
	}
	if deleteAll {
		return runDeleteAll(ctx, sys)
	}

	id := args[0]
	rec, err := sys.Index().Lookup(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Printf("Document '%s' is not indexed.\n", id)
		return nil
	}

	if !deleteYes && !confirm(fmt.Sprintf("Delete document '%s' (%s)?", id, rec.Source)) {
		fmt.Println("Cancelled.")
		return nil
	}

	if err := sys.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	fmt.Println(ui.Success.Render(fmt.Sprintf("Document '%s' deleted.", id)))
	return nil
}

func runDeleteAll(ctx context.Context, sys *rag.System) error {
	st, err := sys.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read index status: %w", err)
	}
	// EmbeddingModel is empty until the collection exists
	if st.EmbeddingModel == "" || (st.Documents == 0 && !deleteDrop) {
		fmt.Println("No documents indexed.")
		return nil
	}

	name := sys.Index().Name()
	prompt := fmt.Sprintf("Delete all %d documents from '%s'?", st.Documents, name)
	if deleteDrop {
		prompt = fmt.Sprintf("Drop collection '%s' (%d documents, %s %d dimensions)?",
			name, st.Documents, st.EmbeddingModel, st.EmbeddingDimensions)
	}
	if !deleteYes && !confirm(prompt) {
		fmt.Println("Cancelled.")
		return nil
	}

	if deleteDrop {
		if err := sys.Drop(ctx); err != nil {
			return err
		}
		fmt.Println(ui.Success.Render(fmt.Sprintf("Dropped collection '%s'.", name)))
		return nil
	}

	if err := sys.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear collection: %w", err)
	}

	fmt.Println(ui.Success.Render(fmt.Sprintf("Deleted %d documents.", st.Documents)))
	return nil
}

// confirm asks a yes/no question on stdin, defaulting to no.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.ToLower(strings.TrimSpace(answer)) == "y"
}
