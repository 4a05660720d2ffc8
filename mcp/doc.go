// Package mcp contains the protocol data types and constants spoken by the
// todo server and its test client. It mirrors the wire representation of the
// Model Context Protocol while keeping the surface Go-friendly (exported
// structs with json tags, string constants for method names and enumerations,
// small validation helpers).
//
// The package is free of transport logic: the stdio server transport and the
// subprocess client both import these types and implement their own framing.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). Using the constants avoids typographical mistakes
// on both sides of the connection.
//
// # Versions
//
// LatestProtocolVersion is the version the server prefers. During initialize
// the server echoes the client's requested version when it is listed in
// SupportedProtocolVersions and answers with LatestProtocolVersion otherwise.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{mcp.TextBlock("hello")},
//	}
//
// # Logging Levels
//
// LoggingLevel values mirror syslog severities. Use IsValidLoggingLevel to
// validate user-provided values.
package mcp
