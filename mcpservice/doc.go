// Package mcpservice provides the building blocks an MCP server exposes:
// tools, resources, resource templates and prompts, collected in a Registry
// that a transport dispatches into.
//
// Handlers are a closed set of variants. Each is built with a constructor
// that captures its descriptor and behavior:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"minLength=1"`
//	}
//
//	reg := mcpservice.NewRegistry()
//	reg.MustRegister(mcpservice.NewTool("echo",
//	    func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText("you said: " + r.Args().Message)
//	    },
//	    mcpservice.WithToolDescription("Echo a message back to the caller"),
//	))
//
// Tool input schemas are reflected from the argument struct and arguments are
// validated against them before the handler runs; a validation failure is
// reported to the caller as an isError result rather than a protocol error.
//
// Registration fails fast: registering two handlers of the same kind under
// the same key returns ErrDuplicateRegistration.
package mcpservice
