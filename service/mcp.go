package service

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/extracttext/kit"
	"github.com/hazyhaar/extracttext/webextract"
)

// MCPServer returns an MCP server exposing the extraction tools.
func (s *Service) MCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "extracttext", Version: Version}, nil)
	s.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers extract_base64, extract_url and supported_formats
// on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerBase64Tool(srv)
	s.registerURLTool(srv)
	s.registerFormatsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// wrap applies panic recovery and call logging.
func (s *Service) wrap(name string, e kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Recovery(s.logger), kit.Logging(s.logger, name))(e)
}

// toolError is the message returned to MCP clients: the same public message
// as the HTTP API.
func (s *Service) toolError(err error) string {
	code, msg := classify(err, s.cfg.ProcessingTimeoutSeconds)
	return fmt.Sprintf("%d: %s", code, msg)
}

// --- extract_base64 ---

func (s *Service) registerBase64Tool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "extract_base64",
		Description: "Extract plain text from a base64-encoded file. The filename extension selects the format.",
		InputSchema: inputSchema(map[string]any{
			"encoded_base64_file": map[string]any{"type": "string", "description": "File content, base64-encoded"},
			"filename":            map[string]any{"type": "string", "description": "Original file name, with extension"},
		}, []string{"encoded_base64_file", "filename"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*base64Request)
		return s.ExtractBase64(ctx, r.EncodedBase64File, r.Filename)
	}
	kit.RegisterMCPTool(srv, tool, s.wrap("extract_base64", endpoint), kit.DecodeArgs[base64Request](), s.toolError)
}

// --- extract_url ---

type mcpURLRequest struct {
	URL               string             `json:"url"`
	UserAgent         string             `json:"user_agent"`
	ExtractionOptions webextract.Options `json:"extraction_options"`
}

func (s *Service) registerURLTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "extract_url",
		Description: "Extract plain text from a web page (with OCR of its images) or from a file served at a URL.",
		InputSchema: inputSchema(map[string]any{
			"url":        map[string]any{"type": "string", "description": "http or https URL"},
			"user_agent": map[string]any{"type": "string", "description": "User-Agent header (optional)"},
			"extraction_options": map[string]any{
				"type":        "object",
				"description": "Web extraction options (enable_javascript, process_images, web_page_timeout, ...)",
			},
		}, []string{"url"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpURLRequest)
		return s.ExtractURL(ctx, r.URL, r.UserAgent, r.ExtractionOptions)
	}
	kit.RegisterMCPTool(srv, tool, s.wrap("extract_url", endpoint), kit.DecodeArgs[mcpURLRequest](), s.toolError)
}

// --- supported_formats ---

func (s *Service) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "supported_formats",
		Description: "List supported file extensions by category.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(context.Context, any) (any, error) {
		return s.SupportedFormats(), nil
	}
	kit.RegisterMCPTool(srv, tool, s.wrap("supported_formats", endpoint), kit.DecodeArgs[struct{}](), s.toolError)
}
