package mcp

import (
	goMCP "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/melkeydev/arrowdb/database"
	"github.com/melkeydev/arrowdb/handlers"
)

func RegisterTools(s *server.MCPServer, db *database.Database) {
	listTool := goMCP.NewTool("list_tables",
		goMCP.WithDescription("List the tables of the connected database"),
	)

	describeTool := goMCP.NewTool("describe_table",
		goMCP.WithDescription("Describe the columns, keys and indexes of a table, with a few sample rows"),
		goMCP.WithString("table",
			goMCP.Required(),
			goMCP.Description("Name of the table to describe"),
		),
	)

	sampleTool := goMCP.NewTool("sample_table",
		goMCP.WithDescription("Get sample data from a specific table"),
		goMCP.WithString("table",
			goMCP.Required(),
			goMCP.Description("Name of the table to sample"),
		),
		goMCP.WithNumber("limit",
			goMCP.Description("Number of rows to return (default: 10)"),
		),
	)

	createTool := goMCP.NewTool("show_create",
		goMCP.WithDescription("Render the CREATE TABLE statement of a declared table in the database dialect"),
		goMCP.WithString("table",
			goMCP.Required(),
			goMCP.Description("Name of a table declared in the configuration"),
		),
	)

	syncTool := goMCP.NewTool("sync_schema",
		goMCP.WithDescription("Create declared tables and add missing columns to existing ones"),
		goMCP.WithBoolean("unique_fallback",
			goMCP.Description("Add a UNIQUE constraint when a new primary key cannot be applied"),
		),
	)

	existsTool := goMCP.NewTool("row_exists",
		goMCP.WithDescription("Check whether a declared table holds a row with the given primary key"),
		goMCP.WithString("table",
			goMCP.Required(),
			goMCP.Description("Name of a table declared in the configuration"),
		),
		goMCP.WithArray("key",
			goMCP.Required(),
			goMCP.Description("Primary key values in declaration order"),
		),
	)

	s.AddTool(listTool, handlers.ListTablesHandler(db))
	s.AddTool(describeTool, handlers.DescribeHandler(db))
	s.AddTool(sampleTool, handlers.SampleHandler(db))
	s.AddTool(createTool, handlers.CreateStatementHandler(db))
	s.AddTool(syncTool, handlers.SyncSchemaHandler(db))
	s.AddTool(existsTool, handlers.RowExistsHandler(db))
}
