package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider = "ollama"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultOllamaEmbedModel  = "all-minilm"
	DefaultOpenAIEmbedModel  = "text-embedding-3-small"
	DefaultEmbedBatchSize    = 32

	// LLM defaults (LM Studio speaks the OpenAI protocol)
	DefaultLLMProvider    = "openai"
	DefaultLMStudioURL    = "http://localhost:1234/v1"
	DefaultOpenAILLMModel = "local-model"
	DefaultOllamaLLMModel = "llama3"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 1000

	// Retrieval defaults
	DefaultCollection          = "documents"
	DefaultChunkSize           = 1000
	DefaultChunkOverlap        = 200
	DefaultMinChunkChars       = 20
	DefaultSearchResults       = 3
	DefaultSimilarityThreshold = 0.7
	DefaultMaxFileSize         = 20 << 20 // 20MB

	// OCR defaults
	DefaultOCRDPI      = 200
	DefaultOCRLanguage = "eng"

	// Database
	DefaultBackend    = "sqlite"
	DefaultDBFileName = "docrag.db"

	DefaultWatchDebounce = 2 * time.Second
)

// legacyEnv maps config keys to the environment names used by earlier
// deployments of the service.
var legacyEnv = map[string]string{
	"database.path":            "CHROMA_DB_PATH",
	"rag.collection":           "RAG_COLLECTION",
	"embeddings.ollama.model":  "EMBEDDING_MODEL",
	"rag.chunk_size":           "RAG_CHUNK_SIZE",
	"rag.chunk_overlap":        "RAG_CHUNK_OVERLAP",
	"rag.similarity_threshold": "RAG_SIMILARITY_THRESHOLD",
	"rag.search_results":       "RAG_SEARCH_RESULTS",
	"ocr.dpi":                  "RAG_OCR_DPI",
	"ocr.poppler_path":         "POPPLER_PATH",
	"llm.openai.base_url":      "LMSTUDIO_BASE_URL",
	"llm.openai.model":         "LMSTUDIO_MODEL",
	"llm.temperature":          "LMSTUDIO_TEMPERATURE",
	"llm.max_tokens":           "LMSTUDIO_MAX_TOKENS",
}

// DefaultIgnorePatterns returns the patterns skipped when walking a directory of documents.
func DefaultIgnorePatterns() []string {
	return []string{
		".git/",
		".svn/",
		".hg/",
		"node_modules/",
		".venv/",
		"venv/",
		"__pycache__/",
		".DS_Store",
		"Thumbs.db",
		"~*",
		".~lock.*",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/docrag"
	}
	return filepath.Join(home, ".config", "docrag")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/docrag"
	}
	return filepath.Join(home, ".local", "share", "docrag")
}

// DefaultDatabasePath returns the default database file path.
func DefaultDatabasePath() string {
	return filepath.Join(DefaultDataDir(), DefaultDBFileName)
}
