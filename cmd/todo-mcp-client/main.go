// Command todo-mcp-client starts an MCP server as a subprocess and exercises
// every protocol verb against it, printing one line per step.
//
// Usage:
//
//	todo-mcp-client [flags] [-- server-command [args...]]
//
// Without a command, MCP_SERVER_COMMAND and MCP_SERVER_START select the
// server, falling back to todo-mcp-server on PATH.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joeshaw/envdecode"
	"github.com/spf13/pflag"

	"github.com/ggoodman/mcp-todo/mcpclient"
)

// serverEnv selects the server when no command is given on the command line.
type serverEnv struct {
	Command string `env:"MCP_SERVER_COMMAND,default=todo-mcp-server"`
	Start   string `env:"MCP_SERVER_START"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("todo-mcp-client", pflag.ContinueOnError)
	verbose := flagSet.BoolP("verbose", "v", false, "print full results and server logs")
	timeout := flagSet.Duration("timeout", 30*time.Second, "overall deadline for the run")
	shutdown := flagSet.Duration("shutdown-timeout", mcpclient.DefaultShutdownTimeout, "how long to wait for the server to exit at each shutdown stage")
	quiet := flagSet.Bool("quiet-server", false, "discard the server's stderr")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}

	command, cmdArgs, err := serverCommand(flagSet.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []mcpclient.Option{
		mcpclient.WithLogger(logger),
		mcpclient.WithShutdownTimeout(*shutdown),
	}
	if *quiet {
		opts = append(opts, mcpclient.WithStderr(io.Discard))
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	r := newStyledReporter(os.Stdout, *verbose)
	fmt.Fprintln(os.Stdout, r.title.Render("Starting MCP server test client"))
	if err := mcpclient.RunClientTest(ctx, command, cmdArgs, r, opts...); err != nil {
		fmt.Fprintln(os.Stdout, r.failure.Render("✗ Test failed: ")+err.Error())
		return err
	}
	fmt.Fprintln(os.Stdout, r.success.Render("✓ All tests completed successfully!"))
	return nil
}

func serverCommand(args []string) (string, []string, error) {
	if len(args) > 0 {
		return args[0], args[1:], nil
	}
	var env serverEnv
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return "", nil, err
	}
	var start []string
	if env.Start != "" {
		start = []string{env.Start}
	}
	return env.Command, start, nil
}

// styledReporter prints each step as a colored line.
type styledReporter struct {
	w       io.Writer
	verbose bool

	title   lipgloss.Style
	step    lipgloss.Style
	success lipgloss.Style
	info    lipgloss.Style
	failure lipgloss.Style
	detail  lipgloss.Style
}

func newStyledReporter(w io.Writer, verbose bool) *styledReporter {
	return &styledReporter{
		w:       w,
		verbose: verbose,
		title:   lipgloss.NewStyle().Bold(true),
		step:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		info:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		detail:  lipgloss.NewStyle().Faint(true).PaddingLeft(2),
	}
}

func (r *styledReporter) Start(step string) {
	fmt.Fprintln(r.w, r.step.Render("→ Testing "+step+"..."))
}

func (r *styledReporter) Success(step string, result any) {
	fmt.Fprintln(r.w, r.success.Render("✓ "+step+" successful"))
	if !r.verbose {
		return
	}
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(r.w, r.detail.Render(string(b)))
}

func (r *styledReporter) Info(step string, msg string) {
	fmt.Fprintln(r.w, r.info.Render("ℹ "+step+": "+msg))
}

func (r *styledReporter) Failure(step string, err error) {
	fmt.Fprintln(r.w, r.failure.Render("✗ "+step+" failed: ")+err.Error())
}
