package apiwatch

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/valwatch/kit"
)

// RegisterMCP registers the apiwatch tools on an MCP server.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	w.registerStartTool(srv)
	w.registerStopTool(srv)
	w.registerReportTool(srv)
	w.registerClearTool(srv)
	w.registerStatusTool(srv)
	w.registerVisitTool(srv)
	w.registerClosePageTool(srv)
	w.registerCheckTool(srv)
	w.registerRunsTool(srv)
	w.registerRunTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var stringList = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

func withDescription(schema map[string]any, desc string) map[string]any {
	out := make(map[string]any, len(schema)+1)
	for k, v := range schema {
		out[k] = v
	}
	out["description"] = desc
	return out
}

func (w *Watcher) registerStartTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "apiwatch_start_recording",
		Description: "Start a recording run. A run already recording is stopped first. Returns the run status.",
		InputSchema: inputSchema(map[string]any{
			"domains":           withDescription(stringList, "Only track responses whose URL contains one of these. Empty tracks all."),
			"timeoutMs":         map[string]any{"type": "number", "description": "Per-response deadline in ms (default 5000)"},
			"thresholdMs":       map[string]any{"type": "number", "description": "Report values that appeared later than this. Omit to disable."},
			"excludePaths":      withDescription(stringList, "apiPaths never reported"),
			"expectAbsentPaths": withDescription(stringList, "apiPaths reported only if they appear"),
		}, nil),
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, w.startEndpoint), kit.DecodeArgs[Options]())
}

func (w *Watcher) registerStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "apiwatch_stop_recording",
		Description: "Stop the current run. Pending responses are finalized. Returns the filtered report.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, w.stopEndpoint), kit.DecodeArgs[struct{}]())
}

func (w *Watcher) registerReportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "apiwatch_get_report",
		Description: "Get the report of the current run: filtered by default, raw on request, or as rows. Supplied records are filtered with the run's options instead.",
		InputSchema: inputSchema(map[string]any{
			"raw":     map[string]any{"type": "boolean", "description": "Return every record unfiltered"},
			"rows":    map[string]any{"type": "boolean", "description": "Return one row per field"},
			"records": map[string]any{"type": "array", "items": map[string]any{"type": "object"}, "description": "Records to filter"},
		}, nil),
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, w.reportEndpoint), kit.DecodeArgs[reportRequest]())
}

func (w *Watcher) registerClearTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "apiwatch_clear",
		Description: "Drop the records of the current run. Recording continues.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, w.clearEndpoint), kit.DecodeArgs[struct{}]())
}

func (w *Watcher) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "apiwatch_status",
		Description: "Get the current run: ID, recording state, in-flight responses, record count and open pages.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, w.statusEndpoint), kit.DecodeArgs[struct{}]())
}

func (w *Watcher) registerVisitTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "apiwatch_visit",
		Description: "Open a URL in a browser tab whose JSON API responses are recorded.",
		InputSchema: inputSchema(map[string]any{
			"url":     map[string]any{"type": "string", "description": "Page URL"},
			"page_id": map[string]any{"type": "string", "description": "Page ID (generated when empty). Replaces an open page with the same ID."},
		}, []string{"url"}),
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, w.visitEndpoint), kit.DecodeArgs[visitRequest]())
}

func (w *Watcher) registerClosePageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "apiwatch_close_page",
		Description: "Close an open page. Its pending responses finalize with what was seen.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Page ID"},
		}, []string{"page_id"}),
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, w.closePageEndpoint), kit.DecodeArgs[pageRef]())
}

func (w *Watcher) registerCheckTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "apiwatch_check",
		Description: "Check a response payload against static HTML without a browser. The record joins the current run.",
		InputSchema: inputSchema(map[string]any{
			"html": map[string]any{"type": "string", "description": "Rendered HTML document"},
			"url":  map[string]any{"type": "string", "description": "Response URL"},
			"body": map[string]any{"type": "string", "description": "Raw JSON response body"},
		}, []string{"url", "body"}),
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, w.checkEndpoint), kit.DecodeArgs[checkRequest]())
}

func (w *Watcher) registerRunsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "apiwatch_list_runs",
		Description: "List persisted runs, most recent first. Requires a store.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max runs (default 50)"},
		}, nil),
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, w.runsEndpoint), kit.DecodeArgs[runsRequest]())
}

func (w *Watcher) registerRunTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "apiwatch_get_run",
		Description: "Get a persisted run with all its records. Requires a store.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run ID"},
		}, []string{"run_id"}),
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, w.runEndpoint), kit.DecodeArgs[runRequest]())
}
