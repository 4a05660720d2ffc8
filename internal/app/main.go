package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/ggoodman/mcp-todo/internal/config"
)

// Main runs the server command line: it parses args, loads the
// configuration and serves on stdin/stdout until EOF or until ctx ends. It
// returns the process exit code, 0 for a clean shutdown and 1 otherwise.
func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flagSet := pflag.NewFlagSet("todo-mcp-server", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	config.RegisterFlags(flagSet)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if flagSet.NArg() > 0 {
		fmt.Fprintf(stderr, "error: unexpected argument: %s\n", flagSet.Arg(0))
		return 1
	}

	cfg, err := config.LoadWithFlags(flagSet)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	a := New(cfg, WithIO(stdin, stdout), WithStderr(stderr))
	if err := a.Start(ctx); err != nil {
		a.Logger().Error("startup failed", slog.Any("err", err))
		return 1
	}
	if err := a.Run(ctx); err != nil {
		return 1
	}
	return 0
}
