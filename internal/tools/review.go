// Package tools exposes the review bus to assistants as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"reviewbus/internal/daemon"
)

// ReviewTools wraps a bus client for MCP tool handlers. The connection
// is established lazily so the MCP server starts even before a daemon
// exists; the first tool call launches one.
type ReviewTools struct {
	opts []daemon.ClientOption

	mu     sync.Mutex
	client *daemon.Client
}

// NewReviewTools creates the tool wrapper. The options are applied to
// the lazily created bus client.
func NewReviewTools(opts ...daemon.ClientOption) *ReviewTools {
	return &ReviewTools{opts: opts}
}

func (rt *ReviewTools) ensureConnected(ctx context.Context) (*daemon.Client, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.client != nil {
		return rt.client, nil
	}
	client, err := daemon.EnsureDaemonRunning(ctx, rt.opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to review daemon: %w", err)
	}
	rt.client = client
	return client, nil
}

// Close closes the bus client connection.
func (rt *ReviewTools) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.client != nil {
		return rt.client.Close()
	}
	return nil
}

// PresentReviewInput is the present-review tool input.
type PresentReviewInput struct {
	Content string `json:"content" jsonschema:"markdown content of the review to display in the editor"`
	Mode    string `json:"mode,omitempty" jsonschema:"replace (default), update-section, or append"`
	Section string `json:"section,omitempty" jsonschema:"section heading to update when mode is update-section"`
	BaseURI string `json:"baseUri,omitempty" jsonschema:"base directory for resolving relative file references"`
}

// PresentReviewOutput is the present-review tool output.
type PresentReviewOutput struct {
	Success bool `json:"success"`
}

// GetSelectionInput is the get-selection tool input (none).
type GetSelectionInput struct{}

// GetSelectionOutput is the get-selection tool output.
type GetSelectionOutput struct {
	Selected bool   `json:"selected"`
	Text     string `json:"text,omitempty"`
	Message  string `json:"message,omitempty"`
}

// LogInput is the log tool input.
type LogInput struct {
	Level   string `json:"level,omitempty" jsonschema:"debug, info, or error"`
	Message string `json:"message" jsonschema:"message to append to the editor's review log"`
}

// LogOutput is the log tool output.
type LogOutput struct {
	Success bool `json:"success"`
}

// RegisterReviewTools adds the review bus tools to the server.
func RegisterReviewTools(server *mcp.Server, rt *ReviewTools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "present-review",
		Description: `Display a code review in the connected editor.

Modes:
  replace (default): Replace the current review pane content
  update-section: Rewrite one section, identified by its heading
  append: Add content at the end of the current review

Examples:
  present-review {content: "# Review\n..."}
  present-review {content: "## Auth\nFixed.", mode: "update-section", section: "Auth"}`,
	}, rt.makePresentReviewHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name: "get-selection",
		Description: `Get the text currently selected in the connected editor.
Returns {selected: false} when nothing is selected.`,
	}, rt.makeGetSelectionHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name: "log",
		Description: `Append a line to the editor's review log. Fire-and-forget.
Example: log {level: "info", message: "starting review of auth changes"}`,
	}, rt.makeLogHandler())
}

func (rt *ReviewTools) makePresentReviewHandler() func(context.Context, *mcp.CallToolRequest, PresentReviewInput) (*mcp.CallToolResult, PresentReviewOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PresentReviewInput) (*mcp.CallToolResult, PresentReviewOutput, error) {
		if input.Content == "" {
			return errorResult("content required"), PresentReviewOutput{}, nil
		}
		switch input.Mode {
		case "", "replace", "append":
		case "update-section":
			if input.Section == "" {
				return errorResult("section required when mode is update-section"), PresentReviewOutput{}, nil
			}
		default:
			return errorResult(fmt.Sprintf("invalid mode %q. Use: replace, update-section, append", input.Mode)), PresentReviewOutput{}, nil
		}

		client, err := rt.ensureConnected(ctx)
		if err != nil {
			return errorResult(err.Error()), PresentReviewOutput{}, nil
		}
		if _, err := client.Send(ctx, "present-review", input); err != nil {
			return errorResult(fmt.Sprintf("present review: %v", err)), PresentReviewOutput{}, nil
		}
		return nil, PresentReviewOutput{Success: true}, nil
	}
}

func (rt *ReviewTools) makeGetSelectionHandler() func(context.Context, *mcp.CallToolRequest, GetSelectionInput) (*mcp.CallToolResult, GetSelectionOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetSelectionInput) (*mcp.CallToolResult, GetSelectionOutput, error) {
		client, err := rt.ensureConnected(ctx)
		if err != nil {
			return errorResult(err.Error()), GetSelectionOutput{}, nil
		}

		resp, err := client.Send(ctx, "get-selection", nil)
		if err != nil {
			return errorResult(fmt.Sprintf("get selection: %v", err)), GetSelectionOutput{}, nil
		}

		var out GetSelectionOutput
		if len(resp.Data) > 0 && string(resp.Data) != "null" {
			var sel struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(resp.Data, &sel); err != nil {
				return errorResult(fmt.Sprintf("decode selection: %v", err)), GetSelectionOutput{}, nil
			}
			out = GetSelectionOutput{Selected: true, Text: sel.Text}
		} else {
			out = GetSelectionOutput{Selected: false, Message: "no text selected"}
		}
		return nil, out, nil
	}
}

func (rt *ReviewTools) makeLogHandler() func(context.Context, *mcp.CallToolRequest, LogInput) (*mcp.CallToolResult, LogOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input LogInput) (*mcp.CallToolResult, LogOutput, error) {
		if input.Message == "" {
			return errorResult("message required"), LogOutput{}, nil
		}
		client, err := rt.ensureConnected(ctx)
		if err != nil {
			return errorResult(err.Error()), LogOutput{}, nil
		}
		if err := client.Notify("log", input); err != nil {
			return errorResult(fmt.Sprintf("send log: %v", err)), LogOutput{}, nil
		}
		return nil, LogOutput{Success: true}, nil
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
