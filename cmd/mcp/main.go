// CareHub ops MCP server: exposes read-only platform billing and audit
// views to LLM tooling over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/carehub/platform/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:       envOrDefault("CAREHUB_API_URL", "http://localhost:8080"),
		SessionToken: os.Getenv("CAREHUB_SESSION_TOKEN"),
	}

	if cfg.SessionToken == "" {
		fmt.Fprintln(os.Stderr, "CAREHUB_SESSION_TOKEN is required (issue one with POST /api/admin/users/{id}/sessions)")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
