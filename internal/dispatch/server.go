package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/agent-mcp/agent-mcp/internal/logging"
)

// CallRequest is the external tool-call shape from spec.md §6: {tool, arguments}.
// Arguments carries "token" alongside each tool's own listed parameters, per
// spec.md §6: "Each accepts token in addition to its listed parameters."
type CallRequest struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// TokenResolver turns a request's "token" argument into the calling
// Principal. internal/auth.Auth satisfies this by duck typing, the same
// seam pattern every other cross-package dependency in this repo uses.
type TokenResolver interface {
	Resolve(token string) (Principal, error)
}

// ContentPart is one typed part of a tool response, per spec.md §6.
type ContentPart struct {
	Type string `json:"type"` // "text" | "error"
	Text string `json:"text"`
}

// CallResponse wraps the content parts returned to the transport layer.
// Framing of this response onto a concrete transport (stdio JSON-RPC, SSE,
// HTTP) is out of scope (spec.md §1) — Server below is the one reference
// stdio framing this repo ships, enriched from the JSON-RPC envelope idiom
// used across the retrieved MCP server examples.
type CallResponse struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"is_error,omitempty"`
}

// Server frames CallRequest/CallResponse over newline-delimited JSON on a
// reader/writer pair (stdio in production). Request parsing beyond this
// framing, and any other transport, is out of scope per spec.md §1.
type Server struct {
	registry *Registry
	tokens   TokenResolver
}

// NewServer wraps a registry and token resolver for line-delimited JSON
// dispatch.
func NewServer(registry *Registry, tokens TokenResolver) *Server {
	return &Server{registry: registry, tokens: tokens}
}

// Serve reads one CallRequest per line until r is exhausted or ctx is done,
// writing one CallResponse per line to w. Each request's Principal is
// resolved fresh from its own "token" argument.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.handleLine(ctx, line)
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("reading request stream: %w", err)
	}
	return nil
}

func (s *Server) handleLine(ctx context.Context, line []byte) CallResponse {
	var req CallRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(fmt.Errorf("%w: %v", ErrBadRequest, err))
	}

	token, _ := req.Arguments["token"].(string)
	principal, err := s.tokens.Resolve(token)
	if err != nil {
		return errorResponse(fmt.Errorf("%w: %v", ErrUnauthorized, err))
	}

	result, err := s.registry.Execute(ctx, req.Tool, principal, req.Arguments)
	if err != nil {
		logging.DispatcherWarn("call to %s failed: %v", req.Tool, err)
		return errorResponse(err)
	}

	data, err := json.Marshal(result.Output)
	if err != nil {
		return errorResponse(fmt.Errorf("%w: %v", ErrInternal, err))
	}
	return CallResponse{Content: []ContentPart{{Type: "text", Text: string(data)}}}
}

func errorResponse(err error) CallResponse {
	return CallResponse{
		Content: []ContentPart{{Type: "error", Text: err.Error()}},
		IsError: true,
	}
}
