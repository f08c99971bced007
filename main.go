package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/melkeydev/arrowdb/config"
	"github.com/melkeydev/arrowdb/database"
	"github.com/melkeydev/arrowdb/mcp"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// stdout carries the MCP stdio transport.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	db, err := setup(context.Background(), cfg, logger)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	s := server.NewMCPServer(
		"arrowdb",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	mcp.RegisterTools(s, db)
	slog.Info("connected", "dialect", db.Dialect().String(), "tables", len(cfg.Tables))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
	}
}

// setup connects to the configured database, declares its tables and
// optionally syncs them. The connection is closed again on error.
func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.Database, error) {
	d, settings, err := cfg.Database.Settings()
	if err != nil {
		return nil, fmt.Errorf("connection settings error: %w", err)
	}

	opts := cfg.Database.Options()
	opts.Logger = logger

	db, err := database.Open(ctx, d, settings, opts)
	if err != nil {
		return nil, err
	}

	if err := cfg.RegisterTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("table declaration error: %w", err)
	}

	if cfg.SyncOnStart {
		reports, err := db.CreateTables(ctx, nil)
		for _, r := range reports {
			logger.Info("table synced", "table", r.Table, "outcome", r.Outcome, "added", r.Added)
		}
		if err != nil {
			logger.Warn("schema sync finished with errors", "error", err)
		}
	}
	return db, nil
}
