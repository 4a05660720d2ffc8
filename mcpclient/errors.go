package mcpclient

import (
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-todo/internal/jsonrpc"
)

var (
	// ErrNotConnected is returned by every request method before Connect
	// succeeds or after Disconnect.
	ErrNotConnected = errors.New("mcpclient: not connected")
	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("mcpclient: already connected")
	// ErrConnectionClosed wraps the cause when the server stream ends while
	// requests are outstanding or afterwards.
	ErrConnectionClosed = errors.New("mcpclient: connection closed")
)

// RPCError is a JSON-RPC error response returned by the server.
type RPCError struct {
	Method  string
	Code    jsonrpc.ErrorCode
	Message string
	Data    any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: server error %d: %s", e.Method, e.Code, e.Message)
}

// ParseError reports a result that did not match the expected shape of the
// method's response. No partial result is returned alongside it.
type ParseError struct {
	Method string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed result: %v", e.Method, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
