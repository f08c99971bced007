package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"

	"github.com/melkeydev/arrowdb/database"
)

type ToolHandler = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func arguments(request mcp.CallToolRequest) map[string]any {
	if args, ok := request.Params.Arguments.(map[string]any); ok {
		return args
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

// ListTablesHandler creates a handler for the list_tables tool
func ListTablesHandler(db *database.Database) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tables, err := db.Provider().ListTables(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("List tables failed: %v", err)), nil
		}
		if tables == nil {
			tables = []string{}
		}
		return jsonResult(tables)
	}
}

// DescribeHandler creates a handler for the describe_table tool
func DescribeHandler(db *database.Database) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := request.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing table parameter: %v", err)), nil
		}

		desc, err := db.Provider().DescribeTable(ctx, table)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Describe failed: %v", err)), nil
		}
		desc.SampleData, err = db.Sample(ctx, table, 5)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Sample failed: %v", err)), nil
		}
		return jsonResult(desc)
	}
}

// SampleHandler creates a handler for the sample_table tool
func SampleHandler(db *database.Database) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := request.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing table parameter: %v", err)), nil
		}

		limit := 10
		if v, ok := arguments(request)["limit"]; ok {
			if limit, err = cast.ToIntE(v); err != nil || limit <= 0 {
				return mcp.NewToolResultError(fmt.Sprintf("Invalid limit parameter: %v", v)), nil
			}
		}

		results, err := db.Sample(ctx, table, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Sample failed: %v", err)), nil
		}
		if results == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Sample failed: could not read table %s", table)), nil
		}
		return jsonResult(results)
	}
}

// CreateStatementHandler creates a handler for the show_create tool. It
// renders the declared table in the connected database's dialect.
func CreateStatementHandler(db *database.Database) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := request.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing table parameter: %v", err)), nil
		}

		t, err := db.Registry().Lookup(table)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		cmd, err := db.Renderer().Render(t.CreateStatement())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Render failed: %v", err)), nil
		}
		return mcp.NewToolResultText(cmd.SQL), nil
	}
}

// SyncSchemaHandler creates a handler for the sync_schema tool. Tables that
// gain primary key columns need a migration handler and are reported as
// aborted here.
func SyncSchemaHandler(db *database.Database) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var opts []database.SyncOption
		if v, ok := arguments(request)["unique_fallback"]; ok {
			opts = append(opts, database.WithUniqueFallback(cast.ToBool(v)))
		}

		reports, err := db.CreateTables(ctx, nil, opts...)
		if reports == nil && err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Sync failed: %v", err)), nil
		}
		return jsonResult(reports)
	}
}

// RowExistsHandler creates a handler for the row_exists tool
func RowExistsHandler(db *database.Database) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := request.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing table parameter: %v", err)), nil
		}

		var key []any
		switch v := arguments(request)["key"].(type) {
		case []any:
			key = v
		case nil:
			return mcp.NewToolResultError("Missing key parameter"), nil
		default:
			key = []any{v}
		}

		exists, err := db.RowExists(ctx, table, key...)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Lookup failed: %v", err)), nil
		}
		return jsonResult(map[string]any{"table": table, "exists": exists})
	}
}
