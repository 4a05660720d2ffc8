// Command todo-mcp-server serves the todo tools, resources and prompts over
// MCP on stdin/stdout. Diagnostics go to stderr.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/mcp-todo/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := app.Main(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
