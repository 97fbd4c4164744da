// Package mcp serves the router to MCP clients as line-delimited JSON-RPC 2.0
// over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/pario-ai/dispatch/pkg/audit"
	"github.com/pario-ai/dispatch/pkg/router"
)

// maxLine bounds a single request line.
const maxLine = 1 << 20

// Server answers MCP requests using the router returned by its source.
type Server struct {
	router  func() *router.Router
	auditor *audit.Logger
	logger  *zap.Logger
	version string
}

// Option configures a Server.
type Option func(*Server)

// WithAudit enables the dispatch_audit_search tool.
func WithAudit(a *audit.Logger) Option {
	return func(s *Server) { s.auditor = a }
}

// WithLogger sets the logger. It must not write to the protocol stream.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRouterSource makes every call use the router returned by fn, so a
// reloaded configuration takes effect without restarting the session.
func WithRouterSource(fn func() *router.Router) Option {
	return func(s *Server) { s.router = fn }
}

// New returns a Server for rt. version is reported in initialize.
func New(rt *router.Router, version string, opts ...Option) *Server {
	s := &Server{
		router:  func() *router.Router { return rt },
		logger:  zap.NewNop(),
		version: version,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run serves requests read from r, one per line, until r is exhausted or
// ctx is cancelled. Responses are written to w in request order.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if resp := s.handle(ctx, line); resp != nil {
			s.write(w, resp)
		}
	}
	return sc.Err()
}

// handle decodes one line and answers it. Notifications return nil.
func (s *Server) handle(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return fail(nil, CodeParseError, "parse error")
	}
	if req.JSONRPC != jsonrpcVersion {
		return fail(req.ID, CodeInvalidRequest, "jsonrpc must be 2.0")
	}

	switch req.Method {
	case "initialize":
		return reply(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "dispatch", Version: s.version},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return reply(req.ID, struct{}{})
	case "tools/list":
		return reply(req.ID, ToolsListResult{Tools: s.tools()})
	case "tools/call":
		var params ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fail(req.ID, CodeInvalidParams, "invalid params")
		}
		return reply(req.ID, s.callTool(ctx, params))
	default:
		return fail(req.ID, CodeMethodNotFound, "unknown method: "+req.Method)
	}
}

// tools lists the routing tools, plus audit search when a log is attached.
func (s *Server) tools() []ToolDefinition {
	if s.auditor == nil {
		return routingTools
	}
	return append(routingTools[:len(routingTools):len(routingTools)], auditTool)
}

// callTool runs the named tool. Unknown tools and panics become error results.
func (s *Server) callTool(ctx context.Context, params ToolCallParams) (res ToolCallResult) {
	h, ok := toolHandlers[params.Name]
	if !ok {
		return errorResult("unknown tool: " + params.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("mcp tool panicked", zap.String("tool", params.Name), zap.Any("panic", r))
			res = errorResult(fmt.Sprintf("internal error: %v", r))
		}
	}()
	return h(ctx, s, params.Arguments)
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp marshal", zap.Error(err))
		data, _ = json.Marshal(fail(resp.ID, CodeInternalError, "internal error"))
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Error("mcp write", zap.Error(err))
	}
}
