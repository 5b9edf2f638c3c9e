package feewatch

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/civicsignal/feewatch/internal/auditlog"
	"github.com/civicsignal/feewatch/schedule"
)

// RegisterMCP registers the feewatch tool surface on an MCP server so
// assistants can query targets, results, and change history, and
// trigger a single-jurisdiction run.
func (m *Monitor) RegisterMCP(srv *mcp.Server) {
	type cityReq struct {
		City string `json:"city" jsonschema:"jurisdiction name as configured"`
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "feewatch_list_targets",
		Description: "List all monitored jurisdictions and their document URLs",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		return nil, struct {
			Targets []schedule.Target `json:"targets"`
		}{m.Targets()}, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "feewatch_latest_result",
		Description: "Latest successful fee-schedule observation for a jurisdiction",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in cityReq) (*mcp.CallToolResult, any, error) {
		result, ok := m.LatestResult(in.City)
		if !ok {
			return nil, nil, fmt.Errorf("no result for %q", in.City)
		}
		return nil, result, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "feewatch_changes",
		Description: "Summary and change events of the most recent batch run",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		snap := m.LastSnapshot()
		if snap == nil {
			return nil, nil, fmt.Errorf("no batch has run yet")
		}
		return nil, snap.Summary, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "feewatch_run_city",
		Description: "Acquire and process one jurisdiction now, committing on success",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in cityReq) (*mcp.CallToolResult, any, error) {
		result, events, err := m.RunCity(ctx, in.City)
		if err != nil {
			return nil, nil, err
		}
		return nil, struct {
			Result  *schedule.Result       `json:"result"`
			Changes []schedule.ChangeEvent `json:"changes"`
		}{result, events}, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "feewatch_attempt_history",
		Description: "Audit-log attempt history for a jurisdiction, newest first",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in struct {
		City  string `json:"city"`
		Limit int    `json:"limit,omitempty"`
	}) (*mcp.CallToolResult, any, error) {
		entries, err := m.AttemptHistory(ctx, in.City, in.Limit)
		if err != nil {
			return nil, nil, err
		}
		return nil, struct {
			Attempts []*auditlog.Entry `json:"attempts"`
		}{entries}, nil
	})
}
