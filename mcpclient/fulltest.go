package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Reporter observes the steps of RunFullTest.
type Reporter interface {
	// Start announces a step.
	Start(step string)
	// Success reports a completed step and its result.
	Success(step string, result any)
	// Info reports a step whose failure is not fatal.
	Info(step string, msg string)
	// Failure reports the error that ends the run.
	Failure(step string, err error)
}

// LogReporter reports through a slog.Logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r LogReporter) Start(step string) { r.logger().Info("testing", slog.String("step", step)) }

func (r LogReporter) Success(step string, result any) {
	r.logger().Info("step succeeded", slog.String("step", step), slog.Any("result", result))
}

func (r LogReporter) Info(step string, msg string) {
	r.logger().Info(msg, slog.String("step", step))
}

func (r LogReporter) Failure(step string, err error) {
	r.logger().Error("step failed", slog.String("step", step), slog.Any("err", err))
}

// Step names reported by RunFullTest.
const (
	StepPing          = "ping"
	StepListTools     = "tools/list"
	StepCallTool      = "tools/call"
	StepListResources = "resources/list"
	StepListTemplates = "resources/templates/list"
	StepReadResource  = "resources/read"
	StepListPrompts   = "prompts/list"
	StepGetPrompt     = "prompts/get"
)

// ErrToolFailed is returned by RunFullTest when the sample tool call comes
// back with IsError set.
var ErrToolFailed = errors.New("tool call returned error")

// RunFullTest exercises every verb against a connected client: ping, list
// and call the first tool, list resources and templates, read the first
// resource, list prompts and get the first prompt. A failed ping is reported
// as informational; any other failure stops the run.
func RunFullTest(ctx context.Context, c *Client, r Reporter) error {
	fail := func(step string, err error) error {
		r.Failure(step, err)
		return fmt.Errorf("%s: %w", step, err)
	}

	r.Start(StepPing)
	if err := c.Ping(ctx); err != nil {
		r.Info(StepPing, "ping not supported (expected for some servers)")
	} else {
		r.Success(StepPing, struct{}{})
	}

	r.Start(StepListTools)
	tools, err := c.ListTools(ctx)
	if err != nil {
		return fail(StepListTools, err)
	}
	r.Success(StepListTools, tools)

	if len(tools.Tools) > 0 {
		name := tools.Tools[0].Name
		r.Start(StepCallTool + " " + name)
		res, err := c.CallTool(ctx, name, map[string]any{"title": "Test todo"})
		if err != nil {
			return fail(StepCallTool, err)
		}
		if res.IsError {
			text := ""
			if len(res.Content) > 0 {
				text = res.Content[0].Text
			}
			return fail(StepCallTool, fmt.Errorf("%w: %s", ErrToolFailed, text))
		}
		r.Success(StepCallTool, res)
	}

	r.Start(StepListResources)
	resources, err := c.ListResources(ctx)
	if err != nil {
		return fail(StepListResources, err)
	}
	r.Success(StepListResources, resources)

	r.Start(StepListTemplates)
	templates, err := c.ListResourceTemplates(ctx)
	if err != nil {
		return fail(StepListTemplates, err)
	}
	r.Success(StepListTemplates, templates)

	if len(resources.Resources) > 0 {
		uri := resources.Resources[0].URI
		r.Start(StepReadResource + " " + uri)
		res, err := c.ReadResource(ctx, uri, map[string]any{})
		if err != nil {
			return fail(StepReadResource, err)
		}
		r.Success(StepReadResource, res)
	}

	r.Start(StepListPrompts)
	prompts, err := c.ListPrompts(ctx)
	if err != nil {
		return fail(StepListPrompts, err)
	}
	r.Success(StepListPrompts, prompts)

	if len(prompts.Prompts) > 0 {
		name := prompts.Prompts[0].Name
		r.Start(StepGetPrompt + " " + name)
		res, err := c.GetPrompt(ctx, name, map[string]string{"userId": "user1"})
		if err != nil {
			return fail(StepGetPrompt, err)
		}
		r.Success(StepGetPrompt, res)
	}
	return nil
}

// RunClientTest connects to the server started by command and args, runs
// RunFullTest and always disconnects, whether or not the run succeeded.
func RunClientTest(ctx context.Context, command string, args []string, r Reporter, opts ...Option) (err error) {
	c := New(command, args, opts...)
	defer func() {
		shutdownCtx, cancel := c.shutdownContext(ctx)
		defer cancel()
		if derr := c.Disconnect(shutdownCtx); derr != nil && err == nil {
			err = fmt.Errorf("disconnect: %w", derr)
		}
	}()

	if err := c.Connect(ctx); err != nil {
		r.Failure("connect", err)
		c.log.Error("test failed", slog.Any("err", err))
		return err
	}
	if err := RunFullTest(ctx, c, r); err != nil {
		c.log.Error("test failed", slog.Any("err", err))
		return err
	}
	return nil
}
