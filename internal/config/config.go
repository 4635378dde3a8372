// Package config handles configuration loading and validation for docrag.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete docrag configuration.
type Config struct {
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Database   DatabaseConfig   `mapstructure:"database"`
	RAG        RAGConfig        `mapstructure:"rag"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Watch      WatchConfig      `mapstructure:"watch"`
	Ignore     []string         `mapstructure:"ignore"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider  string            `mapstructure:"provider"`
	BatchSize int               `mapstructure:"batch_size"`
	Ollama    OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI    OpenAIEmbedConfig `mapstructure:"openai"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI-compatible embeddings.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// DatabaseConfig configures the vector store.
type DatabaseConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// RAGConfig configures chunking and retrieval.
type RAGConfig struct {
	Collection    string `mapstructure:"collection"`
	ChunkSize     int    `mapstructure:"chunk_size"`
	ChunkOverlap  int    `mapstructure:"chunk_overlap"`
	MinChunkChars int    `mapstructure:"min_chunk_chars"`
	SearchResults int    `mapstructure:"search_results"`
	// SimilarityThreshold is loaded and reported but retrieval does not filter on it.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MaxFileSize         int64   `mapstructure:"max_file_size"`
}

// OCRConfig configures the scanned-document fallback.
type OCRConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DPI           int    `mapstructure:"dpi"`
	Language      string `mapstructure:"language"`
	PopplerPath   string `mapstructure:"poppler_path"`
	TesseractPath string `mapstructure:"tesseract_path"`
}

// LLMConfig configures the chat model used by ask.
type LLMConfig struct {
	Provider    string          `mapstructure:"provider"`
	Temperature float64         `mapstructure:"temperature"`
	MaxTokens   int             `mapstructure:"max_tokens"`
	Ollama      OllamaLLMConfig `mapstructure:"ollama"`
	OpenAI      OpenAILLMConfig `mapstructure:"openai"`
}

// OllamaLLMConfig configures Ollama LLM.
type OllamaLLMConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAILLMConfig configures an OpenAI-compatible chat endpoint.
type OpenAILLMConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider:  DefaultEmbeddingProvider,
			BatchSize: DefaultEmbedBatchSize,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
		},
		Database: DatabaseConfig{
			Backend: DefaultBackend,
			Path:    DefaultDatabasePath(),
		},
		RAG: RAGConfig{
			Collection:          DefaultCollection,
			ChunkSize:           DefaultChunkSize,
			ChunkOverlap:        DefaultChunkOverlap,
			MinChunkChars:       DefaultMinChunkChars,
			SearchResults:       DefaultSearchResults,
			SimilarityThreshold: DefaultSimilarityThreshold,
			MaxFileSize:         DefaultMaxFileSize,
		},
		OCR: OCRConfig{
			Enabled:  true,
			DPI:      DefaultOCRDPI,
			Language: DefaultOCRLanguage,
		},
		LLM: LLMConfig{
			Provider:    DefaultLLMProvider,
			Temperature: DefaultTemperature,
			MaxTokens:   DefaultMaxTokens,
			Ollama: OllamaLLMConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaLLMModel,
			},
			OpenAI: OpenAILLMConfig{
				Model:   DefaultOpenAILLMModel,
				BaseURL: DefaultLMStudioURL,
			},
		},
		Watch: WatchConfig{
			Debounce: DefaultWatchDebounce,
		},
		Ignore: DefaultIgnorePatterns(),
	}
}

// Load reads configuration from .env, the config file and environment variables.
func Load(configFile string) error {
	// A missing .env is the normal case
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug("Could not load .env", "error", err)
	}

	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	viper.SetEnvPrefix("DOCRAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindLegacyEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configFile == "" && os.IsNotExist(err)) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	if mb := os.Getenv("UPLOAD_MAX_MB"); mb != "" && os.Getenv("DOCRAG_RAG_MAX_FILE_SIZE") == "" {
		if n, err := cast.ToInt64E(mb); err == nil && n > 0 {
			cfg.RAG.MaxFileSize = n << 20
		} else {
			log.Warn("Ignoring invalid UPLOAD_MAX_MB", "value", mb)
		}
	}

	loadAPIKeysFromEnv()

	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	// Embeddings
	viper.SetDefault("embeddings.provider", DefaultEmbeddingProvider)
	viper.SetDefault("embeddings.batch_size", DefaultEmbedBatchSize)
	viper.SetDefault("embeddings.ollama.url", DefaultOllamaURL)
	viper.SetDefault("embeddings.ollama.model", DefaultOllamaEmbedModel)
	viper.SetDefault("embeddings.openai.model", DefaultOpenAIEmbedModel)

	// Database
	viper.SetDefault("database.backend", DefaultBackend)
	viper.SetDefault("database.path", DefaultDatabasePath())

	// Retrieval
	viper.SetDefault("rag.collection", DefaultCollection)
	viper.SetDefault("rag.chunk_size", DefaultChunkSize)
	viper.SetDefault("rag.chunk_overlap", DefaultChunkOverlap)
	viper.SetDefault("rag.min_chunk_chars", DefaultMinChunkChars)
	viper.SetDefault("rag.search_results", DefaultSearchResults)
	viper.SetDefault("rag.similarity_threshold", DefaultSimilarityThreshold)
	viper.SetDefault("rag.max_file_size", DefaultMaxFileSize)

	// OCR
	viper.SetDefault("ocr.enabled", true)
	viper.SetDefault("ocr.dpi", DefaultOCRDPI)
	viper.SetDefault("ocr.language", DefaultOCRLanguage)
	viper.SetDefault("ocr.poppler_path", "")
	viper.SetDefault("ocr.tesseract_path", "")

	// LLM
	viper.SetDefault("llm.provider", DefaultLLMProvider)
	viper.SetDefault("llm.temperature", DefaultTemperature)
	viper.SetDefault("llm.max_tokens", DefaultMaxTokens)
	viper.SetDefault("llm.ollama.url", DefaultOllamaURL)
	viper.SetDefault("llm.ollama.model", DefaultOllamaLLMModel)
	viper.SetDefault("llm.openai.model", DefaultOpenAILLMModel)
	viper.SetDefault("llm.openai.base_url", DefaultLMStudioURL)

	viper.SetDefault("watch.debounce", DefaultWatchDebounce)

	viper.SetDefault("ignore", DefaultIgnorePatterns())
}

// bindLegacyEnv lets the old environment names override the defaults.
// The DOCRAG_ form takes precedence when both are set.
func bindLegacyEnv() {
	for key, legacy := range legacyEnv {
		envName := "DOCRAG_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := viper.BindEnv(key, envName, legacy); err != nil {
			log.Debug("Failed to bind env", "key", key, "error", err)
		}
	}
}

// Validate checks the configuration for values the pipeline cannot work with.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("%w: unsupported embedding provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}
	switch c.Database.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("%w: unsupported database backend %q", ErrInvalidConfig, c.Database.Backend)
	}
	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("%w: unsupported llm provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must not be negative, got %d", ErrInvalidConfig, c.RAG.ChunkOverlap)
	}
	if c.RAG.SearchResults <= 0 {
		return fmt.Errorf("%w: search_results must be positive, got %d", ErrInvalidConfig, c.RAG.SearchResults)
	}
	if strings.TrimSpace(c.RAG.Collection) == "" {
		return fmt.Errorf("%w: collection name is empty", ErrInvalidConfig)
	}
	if c.OCR.DPI < 50 || c.OCR.DPI > 1200 {
		return fmt.Errorf("%w: ocr dpi must be between 50 and 1200, got %d", ErrInvalidConfig, c.OCR.DPI)
	}
	return nil
}

// findRCFile searches for .docragrc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, ".docragrc.yaml")
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadAPIKeysFromEnv loads API keys from environment variables if not already set.
func loadAPIKeysFromEnv() {
	if cfg.Embeddings.OpenAI.APIKey == "" {
		cfg.Embeddings.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.OpenAI.APIKey == "" {
		cfg.LLM.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
