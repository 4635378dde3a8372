package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/cast"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/rag"
)

const (
	// MCPVersion is the protocol version we support.
	MCPVersion = "2024-11-05"

	// ServerName is the name of this MCP server.
	ServerName = "docrag"
)

// Tool names.
const (
	ToolContext = "docrag_context"
	ToolIngest  = "docrag_ingest"
	ToolList    = "docrag_list"
	ToolDelete  = "docrag_delete"
)

// noContext is returned by docrag_context when nothing matched.
const noContext = "No relevant context found."

// Server answers MCP requests against a retrieval system.
type Server struct {
	system  *rag.System
	cfg     *config.Config
	version string

	reader *bufio.Reader
	writer io.Writer
	sendMu sync.Mutex

	// Ingest and delete both rewrite a document's chunks.
	writeMu sync.Mutex

	initialized bool
}

// Option configures the server.
type Option func(*Server)

// WithIO replaces stdin and stdout.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(s *Server) {
		s.reader = bufio.NewReader(r)
		s.writer = w
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a new MCP server.
func NewServer(sys *rag.System, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		system:  sys,
		cfg:     cfg,
		version: "dev",
		reader:  bufio.NewReader(os.Stdin),
		writer:  os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes requests until the input ends or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Info("MCP server starting", "version", s.version)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				log.Info("MCP server received EOF, shutting down")
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.sendError(nil, ErrorCodeParse, "Parse error", err.Error())
			continue
		}

		s.handleRequest(ctx, req)
	}
}

// handleRequest processes a single request.
func (s *Server) handleRequest(ctx context.Context, req Request) {
	log.Debug("Received request", "method", req.Method, "id", req.ID)

	if req.JSONRPC != "2.0" {
		s.sendError(req.ID, ErrorCodeInvalidRequest, "Invalid request", "jsonrpc must be \"2.0\"")
		return
	}

	var result any
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized":
		s.initialized = true
		log.Info("MCP server initialized")
		return
	case "tools/list":
		result = s.handleListTools()
	case "tools/call":
		result, err = s.handleCallTool(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		if req.ID == nil {
			// Unknown notifications are ignored
			return
		}
		s.sendError(req.ID, ErrorCodeMethodNotFound, "Method not found", req.Method)
		return
	}

	if err != nil {
		s.sendError(req.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
		return
	}

	s.sendResult(req.ID, result)
}

// handleInitialize handles the initialize request.
func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, error) {
	var p InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	log.Info("Initializing MCP server",
		"clientName", p.ClientInfo.Name,
		"clientVersion", p.ClientInfo.Version,
		"protocolVersion", p.ProtocolVersion,
	)

	return &InitializeResult{
		ProtocolVersion: MCPVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: s.version,
		},
	}, nil
}

// handleListTools returns the list of available tools.
func (s *Server) handleListTools() *ListToolsResult {
	one := 1

	return &ListToolsResult{Tools: []Tool{
		{
			Name:        ToolContext,
			Description: "Retrieve passages from the indexed PDF documents that are relevant to a question, formatted as context for answering it.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"query": {
						Type:        "string",
						Description: "The question or topic in natural language",
					},
					"k": {
						Type:        "integer",
						Description: "Maximum number of passages to return",
						Default:     s.cfg.RAG.SearchResults,
						Minimum:     &one,
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolIngest,
			Description: "Ingest a PDF file, or every PDF under a directory, into the document index.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"path": {
						Type:        "string",
						Description: "Path to a PDF file or a directory",
					},
					"id": {
						Type:        "string",
						Description: "Document id for a single file (default: generated)",
					},
					"source": {
						Type:        "string",
						Description: "Label shown with retrieved passages (default: the path)",
					},
					"metadata": {
						Type:                 "object",
						Description:          "Extra metadata stored with every chunk",
						AdditionalProperties: &Property{Type: "string"},
					},
					"force": {
						Type:        "boolean",
						Description: "Re-ingest directory files even when unchanged",
						Default:     false,
					},
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        ToolList,
			Description: "List the indexed documents with their chunk counts.",
			InputSchema: JSONSchema{Type: "object"},
		},
		{
			Name:        ToolDelete,
			Description: "Remove a document and all of its chunks from the index.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"id": {
						Type:        "string",
						Description: "The document id",
					},
				},
				Required: []string{"id"},
			},
		},
	}}
}

// handleCallTool executes a tool. Tool failures are reported in the
// result, not as protocol errors.
func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	log.Debug("Calling tool", "name", p.Name, "arguments", p.Arguments)

	var text string
	var err error

	switch p.Name {
	case ToolContext:
		text, err = s.toolContext(ctx, p.Arguments)
	case ToolIngest:
		text, err = s.toolIngest(ctx, p.Arguments)
	case ToolList:
		text = s.toolList(ctx)
	case ToolDelete:
		text, err = s.toolDelete(ctx, p.Arguments)
	default:
		return textResult(fmt.Sprintf("Unknown tool: %s", p.Name), true), nil
	}

	if err != nil {
		log.Warn("Tool failed", "name", p.Name, "error", err)
		return textResult("Error: "+err.Error(), true), nil
	}
	return textResult(text, false), nil
}

func (s *Server) toolContext(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(cast.ToString(args["query"]))
	if query == "" {
		return "", errors.New("query is required")
	}

	k := s.cfg.RAG.SearchResults
	if v, ok := args["k"]; ok {
		n, err := cast.ToIntE(v)
		if err != nil || n < 1 {
			return "", fmt.Errorf("k must be a positive integer, got %v", v)
		}
		k = n
	}

	text := s.system.RetrieveContext(ctx, query, k)
	if text == "" {
		return noContext, nil
	}
	return text, nil
}

func (s *Server) toolIngest(ctx context.Context, args map[string]any) (string, error) {
	path := strings.TrimSpace(cast.ToString(args["path"]))
	if path == "" {
		return "", errors.New("path is required")
	}

	metadata, err := cast.ToStringMapE(args["metadata"])
	if err != nil && args["metadata"] != nil {
		return "", fmt.Errorf("metadata must be an object: %w", err)
	}
	force := cast.ToBool(args["force"])

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", rag.ErrFileNotFound, path)
		}
		return "", err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if info.IsDir() {
		results, err := s.system.IngestDir(ctx, indexer.DirOptions{
			Path:     path,
			Metadata: metadata,
			Force:    force,
		})
		if err != nil {
			return "", err
		}
		return summarizeDir(path, results), nil
	}

	res, err := s.system.IngestDocument(ctx, indexer.Document{
		ID:       cast.ToString(args["id"]),
		Path:     path,
		Source:   cast.ToString(args["source"]),
		Metadata: metadata,
		Force:    true,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Ingested %s as %q: %d chunks", res.Source, res.DocumentID, res.Chunks), nil
}

func summarizeDir(path string, results []indexer.Result) string {
	var ingested, skipped, chunks int
	for _, r := range results {
		if r.Skipped {
			skipped++
			continue
		}
		ingested++
		chunks += r.Chunks
	}
	return fmt.Sprintf("Ingested %s: %d documents, %d chunks (%d unchanged)", path, ingested, chunks, skipped)
}

func (s *Server) toolList(ctx context.Context) string {
	docs := s.system.ListDocuments(ctx)
	if len(docs) == 0 {
		return "No documents indexed."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d documents:\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(&sb, "- %s (%s): %d chunks\n", d.DocumentID, d.Source, d.Chunks)
	}
	return sb.String()
}

func (s *Server) toolDelete(ctx context.Context, args map[string]any) (string, error) {
	id := strings.TrimSpace(cast.ToString(args["id"]))
	if id == "" {
		return "", errors.New("id is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.system.Delete(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted %q", id), nil
}

// sendResult sends a successful response.
func (s *Server) sendResult(id any, result any) {
	s.send(Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// sendError sends an error response.
func (s *Server) sendError(id any, code int, message, data string) {
	s.send(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

// send writes one message per line.
func (s *Server) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("Failed to marshal response", "error", err)
		return
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	fmt.Fprintln(s.writer, string(data))
}
