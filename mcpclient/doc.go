// Package mcpclient is a test client for MCP servers that speak the stdio
// transport. It spawns the server as a subprocess, performs the
// initialization handshake, and exposes one typed method per protocol verb.
//
// Requests may be issued concurrently; responses are correlated by id, so a
// server that answers out of order is handled transparently.
//
//	c := mcpclient.New("todo-mcp-server", nil)
//	if err := c.Connect(ctx); err != nil {
//	    return err
//	}
//	defer c.Disconnect(context.Background())
//
//	tools, err := c.ListTools(ctx)
//
// Failures come in three tiers. Transport and protocol failures are returned
// as Go errors (ErrNotConnected, ErrConnectionClosed, *RPCError,
// *ParseError). A tool that fails in its own domain returns a CallToolResult
// with IsError set; CallTool never converts that into an error. Capabilities
// a server does not implement surface as *RPCError with code -32601, which
// callers such as RunFullTest treat as informational.
package mcpclient
