package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/obwan02/Actionator/internal/actions"
	"github.com/obwan02/Actionator/internal/logging"
	"github.com/obwan02/Actionator/internal/store"
	"github.com/obwan02/Actionator/pkg/schema"
)

// Names of the record tools registered next to the action tools.
const (
	StatusToolName      = "actionator.status"
	InvocationsToolName = "actionator.invocations"
)

// tools returns one tool per action followed by the record tools.
func (s *Server) tools() []server.ServerTool {
	var out []server.ServerTool
	if s.executor != nil {
		for _, info := range s.executor.Actions() {
			out = append(out, server.ServerTool{
				Tool:    actionTool(info),
				Handler: s.actionHandler(info.Name),
			})
		}
	}
	return append(out,
		server.ServerTool{Tool: statusTool(), Handler: s.handleStatus},
		server.ServerTool{Tool: invocationsTool(), Handler: s.handleInvocations},
	)
}

func actionTool(info actions.ActionInfo) mcp.Tool {
	desc := info.Description
	if desc == "" {
		desc = fmt.Sprintf("Invoke the %s action (%s)", info.Name, info.Convention)
	}
	return mcp.NewToolWithRawSchema(info.Name, desc, info.InputSchema)
}

func statusTool() mcp.Tool {
	return mcp.NewTool(StatusToolName,
		mcp.WithDescription("Get the record of one invocation"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Invocation ID")),
	)
}

func invocationsTool() mcp.Tool {
	return mcp.NewTool(InvocationsToolName,
		mcp.WithDescription("List invocation records, newest first"),
		mcp.WithString("action", mcp.Description("Only invocations of this action")),
		mcp.WithString("status", mcp.Enum("pending", "running", "completed", "failed"), mcp.Description("Only invocations in this state")),
		mcp.WithString("since", mcp.Description("RFC 3339 lower bound on creation time")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of records (default 50)")),
	)
}

// actionHandler invokes the named action with the tool arguments as payload.
func (s *Server) actionHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		payload, err := json.Marshal(args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode arguments: %v", err)), nil
		}

		res, err := s.executor.Invoke(logging.WithSource(ctx, "mcp"), name, payload)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalResult(res)
	}
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	inv, err := s.executor.Status(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(inv)
}

func (s *Server) handleInvocations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.InvocationFilter{
		Action: req.GetString("action", ""),
		Limit:  req.GetInt("limit", 50),
	}
	if v := req.GetString("status", ""); v != "" {
		st := schema.InvocationStatus(v)
		filter.Status = &st
	}
	if v := req.GetString("since", ""); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since %q: %v", v, err)), nil
		}
		filter.Since = &t
	}

	invs, err := s.executor.List(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if invs == nil {
		invs = []*store.Invocation{}
	}
	return marshalResult(map[string]any{"invocations": invs, "count": len(invs)})
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
