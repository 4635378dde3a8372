package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/index"
	"github.com/nickcecere/docrag/internal/llm"
	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/ui"
)

var (
	contextK    int
	contextJSON bool

	askK         int
	askNoContext bool
	askSources   bool
	askRaw       bool
	askRole      string
)

// contextCmd prints the retrieved context block for a query.
var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Print the document context retrieved for a query",
	Long: `Retrieve the chunks most similar to the query and print them as a context
block, nearest first. Each block names the source document and its cosine
distance (lower is closer).

Examples:
  docrag context "warranty period"
  docrag context "warranty period" -k 5
  docrag context "warranty period" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runContext,
}

// askCmd answers a question with the configured LLM.
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question using the indexed documents",
	Long: `Retrieve context for the question and ask the configured LLM to answer it.
When nothing relevant is indexed the model answers from its own knowledge.

Examples:
  docrag ask "how long is the warranty"
  docrag ask "how long is the warranty" -k 5 --sources
  docrag ask "what is a PDF" --no-context
  docrag ask "is this clause enforceable" --role "You are a contracts lawyer."`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	contextCmd.Flags().IntVarP(&contextK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	contextCmd.Flags().BoolVar(&contextJSON, "json", false, "output hits as JSON")

	askCmd.Flags().IntVarP(&askK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().BoolVar(&askNoContext, "no-context", false, "answer without retrieving document context")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "list the documents used as context")
	askCmd.Flags().StringVar(&askRole, "role", "", "replace the assistant role at the top of the system prompt")
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "stream the answer without markdown rendering")
}

func runContext(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	cfg := config.Get()

	log.Debug("Retrieving context", "query", query, "k", contextK)

	ctx, cancel := signalContext(nil)
	defer cancel()

	sys, closeStore, err := openSystem(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if contextJSON {
		hits := sys.Retrieve(ctx, query, contextK)
		if hits == nil {
			hits = []index.Hit{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	text := sys.RetrieveContext(ctx, query, contextK)
	if text == "" {
		fmt.Fprintln(os.Stderr, "No relevant context found.")
		return nil
	}
	fmt.Println(text)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	cfg := config.Get()

	ctx, cancel := signalContext(nil)
	defer cancel()

	service, err := llm.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create LLM service: %w", err)
	}

	var contextText string
	var sources []string
	if !askNoContext {
		sys, closeStore, err := openSystem(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		hits := sys.Retrieve(ctx, question, askK)
		contextText = rag.FormatContext(hits)
		seen := make(map[string]bool)
		for _, h := range hits {
			if src := h.Metadata.Source; src != "" && !seen[src] {
				seen[src] = true
				sources = append(sources, src)
			}
		}
	}

	if contextText == "" && !askNoContext {
		log.Info("No relevant context found, answering without documents")
	}

	qa := llm.NewQAService(service)
	opts := llm.QAOptionsFromCompletion(llm.CompletionOptionsFromConfig(cfg))
	opts.Role = askRole

	fmt.Println(ui.Header.Render("Answer"))
	fmt.Println()

	if askRaw {
		// Raw output is printed as it arrives
		contentCh, errCh := qa.AnswerStream(ctx, question, contextText, opts)
		for part := range contentCh {
			fmt.Print(part)
		}
		fmt.Println()
		if err := <-errCh; err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("answer generation failed: %w", err)
		}
	} else {
		var result *llm.QAResult
		err = spin("Generating answer", func() error {
			var err error
			result, err = qa.Answer(ctx, question, contextText, opts)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("answer generation failed: %w", err)
		}

		if rendered, err := renderMarkdown(result.Answer); err != nil {
			fmt.Println(result.Answer)
		} else {
			fmt.Print(rendered)
		}
	}

	if askSources && len(sources) > 0 {
		fmt.Println(ui.HorizontalRule(40))
		fmt.Println(ui.Dim.Render("Sources:"))
		for i, s := range sources {
			fmt.Printf("  [%d] %s\n", i+1, ui.SourceRef.Render(s))
		}
	}

	return nil
}
