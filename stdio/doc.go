// Package stdio implements a minimal single-connection MCP transport over
// stdin/stdout. It is intended for embedding servers as subprocesses, local
// development, and test clients that spawn the server and pipe JSON.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : OS user or a configured static id (implicit principal)
//	Sessions         : Ephemeral; memory only
//	Transport        : Newline-delimited JSON-RPC
//	Concurrency      : Requests run concurrently; responses may be reordered
//
// Options allow supplying alternate io.Reader / io.Writer or a custom logger.
//
// Example:
//
//	reg := mcpservice.NewRegistry()
//	// reg.MustRegister(...)
//	h := stdio.NewHandler(reg,
//	    stdio.WithServerInfo(mcp.ImplementationInfo{Name: "my-stdio-server", Version: "0.1.0"}),
//	)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
//
// Records logged through a logger built on Handler.LogHandler are mirrored to
// the client as notifications/message once it has called logging/setLevel.
package stdio
