package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `Display current configuration settings and config file locations.

Settings come from, lowest priority first: built-in defaults, the global
config file, a .docragrc.yaml found from the working directory upward, a .env
file and DOCRAG_* environment variables.

Examples:
  # Show current configuration
  docrag config

  # Show config file paths
  docrag config --path`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if configShowPath {
		fmt.Println(ui.SectionTitle.Render("Configuration Paths"))
		fmt.Println()
		fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
		fmt.Printf("Local config:  .docragrc.yaml (searched from cwd upward)\n")
		fmt.Printf("Active config: %s\n", config.ConfigFilePath())
		fmt.Printf("Database:      %s\n", cfg.Database.Path)
		return nil
	}

	fmt.Println(ui.SectionTitle.Render("Current Configuration"))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Embeddings:"))
	fmt.Printf("  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  Batch Size: %d\n", cfg.Embeddings.BatchSize)
	fmt.Printf("  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	fmt.Printf("  Ollama Model: %s\n", cfg.Embeddings.Ollama.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Printf("  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	fmt.Println()

	fmt.Println(ui.Bold.Render("LLM:"))
	fmt.Printf("  Provider: %s\n", cfg.LLM.Provider)
	fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
	fmt.Printf("  Max Tokens: %d\n", cfg.LLM.MaxTokens)
	fmt.Printf("  Ollama URL: %s\n", cfg.LLM.Ollama.URL)
	fmt.Printf("  Ollama Model: %s\n", cfg.LLM.Ollama.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.LLM.OpenAI.Model)
	fmt.Printf("  OpenAI Base URL: %s\n", cfg.LLM.OpenAI.BaseURL)
	fmt.Printf("  OpenAI API Key: %s\n", maskKey(cfg.LLM.OpenAI.APIKey))
	fmt.Println()

	fmt.Println(ui.Bold.Render("RAG:"))
	fmt.Printf("  Collection: %s\n", cfg.RAG.Collection)
	fmt.Printf("  Chunk Size: %d words\n", cfg.RAG.ChunkSize)
	fmt.Printf("  Chunk Overlap: %d words\n", cfg.RAG.ChunkOverlap)
	fmt.Printf("  Min Chunk Chars: %d\n", cfg.RAG.MinChunkChars)
	fmt.Printf("  Search Results: %d\n", cfg.RAG.SearchResults)
	fmt.Printf("  Similarity Threshold: %.2f\n", cfg.RAG.SimilarityThreshold)
	fmt.Printf("  Max File Size: %s\n", formatBytes(cfg.RAG.MaxFileSize))
	fmt.Println()

	fmt.Println(ui.Bold.Render("OCR:"))
	fmt.Printf("  Enabled: %t\n", cfg.OCR.Enabled)
	fmt.Printf("  DPI: %d\n", cfg.OCR.DPI)
	fmt.Printf("  Language: %s\n", cfg.OCR.Language)
	if cfg.OCR.PopplerPath != "" {
		fmt.Printf("  Poppler Path: %s\n", cfg.OCR.PopplerPath)
	}
	if cfg.OCR.TesseractPath != "" {
		fmt.Printf("  Tesseract Path: %s\n", cfg.OCR.TesseractPath)
	}
	fmt.Println()

	fmt.Println(ui.Bold.Render("Database:"))
	fmt.Printf("  Backend: %s\n", cfg.Database.Backend)
	fmt.Printf("  Path: %s\n", cfg.Database.Path)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Watch:"))
	fmt.Printf("  Debounce: %s\n", cfg.Watch.Debounce)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Ignore Patterns:"))
	fmt.Printf("  %d patterns configured\n", len(cfg.Ignore))

	return nil
}

// maskKey hides all but the last four characters of a secret.
func maskKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 4:
		return "****"
	default:
		return "****" + key[len(key)-4:]
	}
}
