package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/docrag/internal/config"
)

// TestNewService tests the factory function.
func TestNewService(t *testing.T) {
	t.Run("creates Ollama service", func(t *testing.T) {
		cfg := &config.Config{
			LLM: config.LLMConfig{
				Provider: "ollama",
				Ollama: config.OllamaLLMConfig{
					URL:   "http://localhost:11434",
					Model: "llama3",
				},
			},
		}

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, "llama3", svc.ModelName())
	})

	t.Run("creates OpenAI service", func(t *testing.T) {
		cfg := &config.Config{
			LLM: config.LLMConfig{
				Provider: "openai",
				OpenAI: config.OpenAILLMConfig{
					APIKey: "sk-test",
					Model:  "gpt-4",
				},
			},
		}

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, svc.Provider())
		assert.Equal(t, "gpt-4", svc.ModelName())
	})

	t.Run("defaults to LM Studio", func(t *testing.T) {
		svc, err := NewService(config.DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, svc.Provider())
		assert.Equal(t, "local-model", svc.ModelName())
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		cfg := &config.Config{LLM: config.LLMConfig{Provider: "anthropic"}}

		_, err := NewService(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported LLM provider")
	})
}

// TestNewOllamaService tests Ollama service creation.
func TestNewOllamaService(t *testing.T) {
	t.Run("with default URL", func(t *testing.T) {
		svc, err := NewOllamaService("", "llama3")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:11434", svc.baseURL)
		assert.Equal(t, "llama3", svc.model)
	})

	t.Run("with custom URL", func(t *testing.T) {
		svc, err := NewOllamaService("http://custom:8080/", "mistral")
		require.NoError(t, err)
		assert.Equal(t, "http://custom:8080", svc.baseURL)
	})
}

// TestNewOpenAIService tests OpenAI service creation.
func TestNewOpenAIService(t *testing.T) {
	t.Run("requires API key without base URL", func(t *testing.T) {
		_, err := NewOpenAIService("", "gpt-4", "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "API key")
	})

	t.Run("local server needs no key", func(t *testing.T) {
		svc, err := NewOpenAIService("", "local-model", "http://localhost:1234/v1")
		require.NoError(t, err)
		assert.Equal(t, "local-model", svc.model)
	})

	t.Run("with valid API key", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "gpt-4", "")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4", svc.model)
	})
}

// mockOllamaServer creates a test server that simulates Ollama's chat API.
// The last request body is stored in got.
func mockOllamaServer(t *testing.T, response string, got *ollamaChatRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
			return
		case "/api/chat":
		default:
			http.NotFound(w, r)
			return
		}

		assert.Equal(t, "POST", r.Method)

		var req ollamaChatRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		if got != nil {
			*got = req
		}

		w.Header().Set("Content-Type", "application/json")
		if req.Stream {
			for _, word := range strings.SplitAfter(response, " ") {
				json.NewEncoder(w).Encode(ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: word},
				})
			}
			json.NewEncoder(w).Encode(ollamaChatResponse{Done: true})
			return
		}

		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{
				Role:    "assistant",
				Content: response,
			},
			Done: true,
		})
	}))
}

// TestOllamaComplete tests Ollama completion.
func TestOllamaComplete(t *testing.T) {
	var got ollamaChatRequest
	server := mockOllamaServer(t, "Hello! How can I help you?", &got)
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "llama3")
	require.NoError(t, err)

	messages := []Message{
		{Role: "user", Content: "Hello"},
	}

	response, err := svc.Complete(context.Background(), messages, CompletionOptions{Temperature: 0.2, MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help you?", response)

	assert.Equal(t, "llama3", got.Model)
	assert.False(t, got.Stream)
	require.NotNil(t, got.Options)
	assert.Equal(t, 0.2, got.Options.Temperature)
	assert.Equal(t, 64, got.Options.NumPredict)
}

// TestOllamaCompleteStream tests streamed Ollama completion.
func TestOllamaCompleteStream(t *testing.T) {
	server := mockOllamaServer(t, "streamed answer text", nil)
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "llama3")
	require.NoError(t, err)

	contentCh, errCh := svc.CompleteStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, DefaultCompletionOptions())

	var sb strings.Builder
	for part := range contentCh {
		sb.WriteString(part)
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "streamed answer text", sb.String())
}

// TestOllamaCompleteError tests error handling.
func TestOllamaCompleteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not found"))
	}))
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "llama3")
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), []Message{{Role: "user", Content: "test"}}, DefaultCompletionOptions())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	assert.Error(t, svc.Ping(context.Background()))
}

func TestOllamaPing(t *testing.T) {
	server := mockOllamaServer(t, "", nil)
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "llama3")
	require.NoError(t, err)
	assert.NoError(t, svc.Ping(context.Background()))

	down, err := NewOllamaService("http://127.0.0.1:1", "llama3")
	require.NoError(t, err)
	assert.Error(t, down.Ping(context.Background()))
}

// mockOpenAIServer simulates an OpenAI-compatible server such as LM Studio.
func mockOpenAIServer(t *testing.T, answer string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/models":
			w.Write([]byte(`{"object":"list","data":[{"id":"local-model","object":"model","created":0,"owned_by":"me"}]}`))
		case "/chat/completions":
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "local-model", req["model"])

			json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 0,
				"model":   "local-model",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": answer},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOpenAICompatibleComplete(t *testing.T) {
	server := mockOpenAIServer(t, "Answer from the local model.")
	defer server.Close()

	svc, err := NewOpenAIService("", "local-model", server.URL)
	require.NoError(t, err)

	answer, err := svc.Complete(context.Background(), []Message{
		{Role: "system", Content: FallbackPrompt},
		{Role: "user", Content: "hello"},
	}, DefaultCompletionOptions())
	require.NoError(t, err)
	assert.Equal(t, "Answer from the local model.", answer)

	assert.NoError(t, svc.Ping(context.Background()))
}

// TestDefaultCompletionOptions tests default options.
func TestDefaultCompletionOptions(t *testing.T) {
	opts := DefaultCompletionOptions()
	assert.Equal(t, 0.7, opts.Temperature)
	assert.Equal(t, 1000, opts.MaxTokens)
	assert.False(t, opts.Stream)
}

func TestCompletionOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Temperature = 0.1
	cfg.LLM.MaxTokens = 256

	opts := CompletionOptionsFromConfig(cfg)
	assert.Equal(t, 0.1, opts.Temperature)
	assert.Equal(t, 256, opts.MaxTokens)

	cfg.LLM.MaxTokens = 0
	assert.Equal(t, 1000, CompletionOptionsFromConfig(cfg).MaxTokens)
}

func TestSystemPrompt(t *testing.T) {
	block := "Document: a.pdf\nRelevance: 0.1234\nContent: solar panels\n" + strings.Repeat("-", 50)

	prompt := SystemPrompt("", block)
	assert.True(t, strings.HasPrefix(prompt, DefaultRole))
	assert.Contains(t, prompt, "Context from documents:\n"+block+"\n")
	assert.Contains(t, prompt, "say so clearly")

	custom := SystemPrompt("You are a solar installer.", block)
	assert.True(t, strings.HasPrefix(custom, "You are a solar installer.\n\n"))

	assert.Equal(t, FallbackPrompt, SystemPrompt("", ""))
	assert.Equal(t, FallbackPrompt, SystemPrompt("ignored", "  \n"))
}

// TestQAService tests Q&A functionality.
func TestQAService(t *testing.T) {
	var got ollamaChatRequest
	server := mockOllamaServer(t, "Panels use photovoltaic cells.", &got)
	defer server.Close()

	llmSvc, err := NewOllamaService(server.URL, "llama3")
	require.NoError(t, err)

	qaSvc := NewQAService(llmSvc)

	block := "Document: solar.pdf\nRelevance: 0.2000\nContent: photovoltaic cells made of silicon\n" + strings.Repeat("-", 50)
	opts := QAOptionsFromCompletion(DefaultCompletionOptions())
	opts.Role = "You are a solar installer."

	answer, err := qaSvc.Answer(context.Background(), "How do panels work?", block, opts)
	require.NoError(t, err)

	assert.Equal(t, "Panels use photovoltaic cells.", answer.Answer)
	assert.True(t, answer.UsedContext)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.True(t, strings.HasPrefix(got.Messages[0].Content, "You are a solar installer.\n"))
	assert.NotContains(t, got.Messages[0].Content, DefaultRole)
	assert.Contains(t, got.Messages[0].Content, "photovoltaic cells made of silicon")
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "How do panels work?", got.Messages[1].Content)
}

// TestQAServiceNoContext tests Q&A without retrieved context.
func TestQAServiceNoContext(t *testing.T) {
	var got ollamaChatRequest
	server := mockOllamaServer(t, "General knowledge answer.", &got)
	defer server.Close()

	llmSvc, err := NewOllamaService(server.URL, "llama3")
	require.NoError(t, err)

	answer, err := NewQAService(llmSvc).Answer(context.Background(), "test question", "", QAOptions{})
	require.NoError(t, err)

	assert.False(t, answer.UsedContext)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, FallbackPrompt, got.Messages[0].Content)
}

func TestQAServiceEmptyAnswer(t *testing.T) {
	server := mockOllamaServer(t, "   ", nil)
	defer server.Close()

	llmSvc, err := NewOllamaService(server.URL, "llama3")
	require.NoError(t, err)

	answer, err := NewQAService(llmSvc).Answer(context.Background(), "q", "", QAOptions{})
	require.NoError(t, err)
	assert.Equal(t, emptyAnswer, answer.Answer)
}

func TestQAServiceStream(t *testing.T) {
	server := mockOllamaServer(t, "one two three", nil)
	defer server.Close()

	llmSvc, err := NewOllamaService(server.URL, "llama3")
	require.NoError(t, err)

	contentCh, errCh := NewQAService(llmSvc).AnswerStream(context.Background(), "q", "", QAOptions{})
	var parts []string
	for p := range contentCh {
		parts = append(parts, p)
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "one two three", strings.Join(parts, ""))
}

// TestProviderConstants tests provider constants.
func TestProviderConstants(t *testing.T) {
	assert.Equal(t, Provider("ollama"), ProviderOllama)
	assert.Equal(t, Provider("openai"), ProviderOpenAI)
}
