package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/extract"
	"github.com/nickcecere/docrag/internal/llm"
	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/ui"
)

var (
	statusJSON   bool
	statusNoPing bool
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status and service health",
	Long: `Display information about the document index and its dependencies:
- Number of documents and chunks
- Embedding model and dimensions recorded for the collection
- Chunking and retrieval settings
- Whether the LLM endpoint answers and OCR tools are installed

Examples:
  docrag status
  docrag status --json
  docrag status --no-ping`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	statusCmd.Flags().BoolVar(&statusNoPing, "no-ping", false, "skip the LLM health check")
}

// health is the status output, index summary plus service checks.
type health struct {
	*rag.Status
	Database     string `json:"database"`
	LLMProvider  string `json:"llm_provider"`
	LLMModel     string `json:"llm_model,omitempty"`
	LLMHealthy   *bool  `json:"llm_healthy,omitempty"`
	LLMError     string `json:"llm_error,omitempty"`
	OCRAvailable bool   `json:"ocr_available"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext(nil)
	defer cancel()

	sys, closeStore, err := openSystem(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	st, err := sys.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read index status: %w", err)
	}

	ex := extract.NewPDFExtractor(extract.Options{
		OCREnabled:    cfg.OCR.Enabled,
		PopplerPath:   cfg.OCR.PopplerPath,
		TesseractPath: cfg.OCR.TesseractPath,
	}, nil)

	h := health{
		Status:       st,
		Database:     cfg.Database.Path,
		LLMProvider:  cfg.LLM.Provider,
		OCRAvailable: ex.OCRAvailable(),
	}
	if !statusNoPing {
		checkLLM(ctx, cfg, &h)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(h)
	}

	fmt.Println(ui.Header.Render("Index Status"))
	fmt.Println()

	fmt.Printf("%s %s\n", ui.Highlight.Render("Collection:"), ui.Bold.Render(st.Collection))
	if st.EmbeddingModel == "" {
		fmt.Printf("  %s\n", ui.Warning.Render("empty (nothing ingested yet)"))
	} else {
		fmt.Printf("  %s %s (%d dimensions)\n", ui.Dim.Render("Model:"), st.EmbeddingModel, st.EmbeddingDimensions)
		fmt.Printf("  %s %d documents, %d chunks, %s of PDFs\n", ui.Dim.Render("Indexed:"), st.Documents, st.Chunks, formatBytes(st.TotalSize))
	}
	fmt.Printf("  %s %d words, %d overlap\n", ui.Dim.Render("Chunking:"), st.ChunkSize, st.ChunkOverlap)
	fmt.Printf("  %s top %d, similarity threshold %.2f\n", ui.Dim.Render("Retrieval:"), st.SearchResults, st.SimilarityThreshold)
	fmt.Println()

	if len(st.Collections) > 1 {
		fmt.Println(ui.Dim.Render("Other collections:"))
		for _, c := range st.Collections {
			if c.Name == st.Collection {
				continue
			}
			fmt.Printf("  %s %s (%d dimensions)\n", c.Name, ui.Dim.Render(c.EmbeddingModel), c.EmbeddingDimensions)
		}
		fmt.Println()
	}

	fmt.Println(ui.Dim.Render("Services:"))
	fmt.Printf("  Database: %s (%s)\n", cfg.Database.Path, cfg.Database.Backend)
	fmt.Printf("  Embeddings: %s\n", cfg.Embeddings.Provider)

	llmState := ui.Dim.Render("not checked")
	switch {
	case h.LLMHealthy == nil:
	case *h.LLMHealthy:
		llmState = ui.Success.Render("healthy")
	default:
		llmState = ui.Error.Render("unreachable: " + h.LLMError)
	}
	fmt.Printf("  LLM: %s %s %s\n", h.LLMProvider, h.LLMModel, llmState)

	ocrState := ui.Success.Render("available")
	switch {
	case !cfg.OCR.Enabled:
		ocrState = ui.Dim.Render("disabled")
	case !h.OCRAvailable:
		ocrState = ui.Warning.Render("pdftoppm or tesseract not found")
	}
	fmt.Printf("  OCR: %s\n", ocrState)

	return nil
}

// checkLLM pings the configured chat endpoint.
func checkLLM(ctx context.Context, cfg *config.Config, h *health) {
	service, err := llm.NewService(cfg)
	ok := false
	h.LLMHealthy = &ok
	if err != nil {
		h.LLMError = err.Error()
		return
	}
	h.LLMModel = service.ModelName()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := service.Ping(ctx); err != nil {
		log.Debug("LLM health check failed", "error", err)
		h.LLMError = err.Error()
		return
	}
	ok = true
}
