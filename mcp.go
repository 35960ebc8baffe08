package domdrive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domdrive/idgen"
	"github.com/hazyhaar/domdrive/kit"
)

// RegisterMCP registers the session's query surface as MCP tools.
func (s *Session) RegisterMCP(srv *mcp.Server) {
	s.registerMatchTool(srv)
	s.registerSnapshotTool(srv)
	s.registerBranchTool(srv)
	s.registerExecuteTool(srv)
	s.registerGetVariableTool(srv)
	s.registerSetVariableTool(srv)
	s.registerHistoryTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

func (s *Session) enrich(ctx context.Context) context.Context {
	ctx = kit.WithSessionID(ctx, s.ID)
	return kit.WithTransport(ctx, "mcp")
}

// instrument applies the shared endpoint middleware: every call gets a
// request ID and a debug log line with its context and duration.
func (s *Session) instrument(toolName string, e kit.Endpoint) kit.Endpoint {
	return kit.Chain(requestID(), s.logCalls(toolName))(e)
}

func requestID() kit.Middleware {
	newID := idgen.Prefixed("req_", idgen.Default)
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			return next(kit.WithRequestID(ctx, newID()), req)
		}
	}
}

func (s *Session) logCalls(toolName string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			s.log.Debug("mcp: call",
				"tool", toolName,
				"request", kit.GetRequestID(ctx),
				"transport", kit.GetTransport(ctx),
				"duration", time.Since(start),
				"error", err)
			return resp, err
		}
	}
}

// --- match ---

type matchRequest struct {
	ContainerID string `json:"container_id"`
	MaxMatches  int    `json:"max_matches,omitempty"`
}

func (s *Session) registerMatchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domdrive_match",
		Description: "Resolve a container definition against the current page. Returns matched nodes with their paths and which selector alternative won.",
		InputSchema: inputSchema(map[string]any{
			"container_id": map[string]any{"type": "string", "description": "Container definition ID"},
			"max_matches":  map[string]any{"type": "integer", "description": "Result bound (default 50)"},
		}, []string{"container_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*matchRequest)
		matches, err := s.Match(ctx, r.ContainerID, r.MaxMatches)
		if err != nil {
			return nil, err
		}
		return map[string]any{"matches": matches, "count": len(matches)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r matchRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: s.enrich}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.instrument(tool.Name, endpoint), decode)
}

// --- snapshot ---

type snapshotRequest struct {
	RootSelector string `json:"root_selector,omitempty"`
	MaxDepth     int    `json:"max_depth,omitempty"`
	MaxChildren  int    `json:"max_children,omitempty"`
}

func (s *Session) registerSnapshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domdrive_snapshot",
		Description: "Serialize a bounded subtree of the current page. Children beyond max_children are reported with a count, not expanded.",
		InputSchema: inputSchema(map[string]any{
			"root_selector": map[string]any{"type": "string", "description": "CSS selector of the subtree root (empty for the document)"},
			"max_depth":     map[string]any{"type": "integer", "description": "Depth bound (default 4)"},
			"max_children":  map[string]any{"type": "integer", "description": "Per-node child bound (default 20)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*snapshotRequest)
		return s.Snapshot(ctx, r.RootSelector, r.MaxDepth, r.MaxChildren)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r snapshotRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: s.enrich}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.instrument(tool.Name, endpoint), decode)
}

// --- branch ---

type branchRequest struct {
	Path        string `json:"path"`
	MaxDepth    int    `json:"max_depth,omitempty"`
	MaxChildren int    `json:"max_children,omitempty"`
}

func (s *Session) registerBranchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domdrive_branch",
		Description: "Expand one path of a previous snapshot. A path the live tree no longer resolves is reported as not found, not a crash.",
		InputSchema: inputSchema(map[string]any{
			"path":         map[string]any{"type": "string", "description": "Slash-delimited child-index path, e.g. root/1/0/2"},
			"max_depth":    map[string]any{"type": "integer", "description": "Depth bound (default 4)"},
			"max_children": map[string]any{"type": "integer", "description": "Per-node child bound (default 20)"},
		}, []string{"path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*branchRequest)
		return s.Branch(ctx, r.Path, r.MaxDepth, r.MaxChildren)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r branchRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: s.enrich}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.instrument(tool.Name, endpoint), decode)
}

// --- execute ---

type executeRequest struct {
	ContainerID string         `json:"container_id"`
	OperationID string         `json:"operation_id"`
	Overrides   map[string]any `json:"overrides,omitempty"`
}

func (s *Session) registerExecuteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domdrive_execute",
		Description: "Run a container's declared operation. Page-condition failures (not_found, detached, timeout) come back in the result, not as tool errors.",
		InputSchema: inputSchema(map[string]any{
			"container_id": map[string]any{"type": "string", "description": "Container definition ID"},
			"operation_id": map[string]any{"type": "string", "description": "Operation ID declared on the container"},
			"overrides":    map[string]any{"type": "object", "description": "Config overrides merged over the operation's defaults"},
		}, []string{"container_id", "operation_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*executeRequest)
		return s.Execute(ctx, r.ContainerID, r.OperationID, r.Overrides)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r executeRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: s.enrich}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.instrument(tool.Name, endpoint), decode)
}

// --- get_variable ---

type getVariableRequest struct {
	ContainerID string `json:"container_id"`
	Key         string `json:"key"`
	Scope       string `json:"scope,omitempty"`
}

func (s *Session) registerGetVariableTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domdrive_get_variable",
		Description: "Read a session variable.",
		InputSchema: inputSchema(map[string]any{
			"container_id": map[string]any{"type": "string", "description": "Container the variable is scoped to"},
			"key":          map[string]any{"type": "string", "description": "Variable name"},
			"scope":        map[string]any{"type": "string", "enum": []any{"root", "global"}, "description": "Scope (default root)"},
		}, []string{"container_id", "key"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*getVariableRequest)
		scope := r.Scope
		if scope == "" {
			scope = "root"
		}
		value, ok := s.GetVariable(r.ContainerID, r.Key, scope)
		return map[string]any{"value": value, "found": ok}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r getVariableRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: s.enrich}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.instrument(tool.Name, endpoint), decode)
}

// --- set_variable ---

type setVariableRequest struct {
	ContainerID string `json:"container_id"`
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Scope       string `json:"scope,omitempty"`
}

func (s *Session) registerSetVariableTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domdrive_set_variable",
		Description: "Set a session variable through the bus. Returns after the mutation and its CHANGED broadcast are delivered.",
		InputSchema: inputSchema(map[string]any{
			"container_id": map[string]any{"type": "string", "description": "Container the variable is scoped to"},
			"key":          map[string]any{"type": "string", "description": "Variable name"},
			"value":        map[string]any{"description": "New value"},
			"scope":        map[string]any{"type": "string", "enum": []any{"root", "global"}, "description": "Scope (default root)"},
		}, []string{"container_id", "key", "value"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*setVariableRequest)
		scope := r.Scope
		if scope == "" {
			scope = "root"
		}
		if err := s.SetVariable(r.ContainerID, r.Key, r.Value, scope); err != nil {
			return nil, err
		}
		return map[string]string{"status": "set", "key": r.Key}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r setVariableRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: s.enrich}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.instrument(tool.Name, endpoint), decode)
}

// --- history ---

type historyRequest struct {
	Topic string `json:"topic"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Session) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domdrive_history",
		Description: "Replay the bus's retained messages for a topic, oldest first.",
		InputSchema: inputSchema(map[string]any{
			"topic": map[string]any{"type": "string", "description": "Bus topic name, e.g. CONTAINER_CHILD_DISCOVERED"},
			"limit": map[string]any{"type": "integer", "description": "Max messages (default: full retained window)"},
		}, []string{"topic"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyRequest)
		msgs := s.History(r.Topic, r.Limit)
		return map[string]any{"messages": msgs, "count": len(msgs)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r historyRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: s.enrich}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.instrument(tool.Name, endpoint), decode)
}
