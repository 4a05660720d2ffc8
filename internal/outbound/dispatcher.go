// Package outbound correlates JSON-RPC requests with their responses. It is
// transport-agnostic: a Transport only needs to put a request on the wire,
// and the owner of the read side feeds responses back through OnResponse.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-todo/internal/jsonrpc"
	"github.com/ggoodman/mcp-todo/mcp"
)

// Transport abstracts how requests and notifications reach the peer.
type Transport interface {
	// Send writes a single request or notification.
	Send(ctx context.Context, req *jsonrpc.Request) error
}

var (
	// ErrDispatcherClosed indicates the dispatcher is closed.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrRemoteCancelled indicates the peer cancelled the request.
	ErrRemoteCancelled = errors.New("remote cancelled")
)

type pendingCall struct {
	method string
	respCh chan *jsonrpc.Response
	errCh  chan error
}

// Dispatcher issues requests with monotonically increasing numeric ids and
// routes responses back to the waiting caller by id. Any number of calls may
// be in flight at once; responses may arrive in any order.
type Dispatcher struct {
	t Transport

	mu      sync.Mutex
	pending map[string]*pendingCall // id.String() -> call

	nextID atomic.Int64

	closed   atomic.Bool
	closeErr error
}

// New constructs a Dispatcher using the provided transport.
func New(t Transport) *Dispatcher {
	return &Dispatcher{t: t, pending: make(map[string]*pendingCall)}
}

// Call sends a JSON-RPC request and waits for its response, the dispatcher
// closing, or ctx ending. On ctx end a best-effort notifications/cancelled is
// sent to the peer.
func (d *Dispatcher) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	if err := d.closedErr(); err != nil {
		return nil, err
	}

	id := jsonrpc.NewRequestID(d.nextID.Add(1))
	key := id.String()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{method: method, respCh: make(chan *jsonrpc.Response, 1), errCh: make(chan error, 1)}
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return nil, d.closedErr()
	}
	d.pending[key] = pc
	d.mu.Unlock()

	if err := d.t.Send(ctx, req); err != nil {
		d.forget(key)
		return nil, err
	}

	select {
	case resp := <-pc.respCh:
		return resp, nil
	case err := <-pc.errCh:
		if err != nil {
			return nil, err
		}
		return nil, ErrDispatcherClosed
	case <-ctx.Done():
		d.forget(key)
		if n, err := jsonrpc.NewNotification(string(mcp.CancelledNotificationMethod), mcp.CancelledNotification{RequestID: id.Value(), Reason: context.Cause(ctx).Error()}); err == nil {
			_ = d.t.Send(context.Background(), n)
		}
		return nil, ctx.Err()
	}
}

// Notify sends a notification; there is no response to wait for.
func (d *Dispatcher) Notify(ctx context.Context, method string, params any) error {
	if err := d.closedErr(); err != nil {
		return err
	}
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return d.t.Send(ctx, n)
}

// OnResponse delivers an incoming response to the waiting call with the same
// id. Unmatched responses are ignored.
func (d *Dispatcher) OnResponse(resp *jsonrpc.Response) {
	if resp == nil || resp.ID.IsNil() {
		return
	}
	key := resp.ID.String()
	d.mu.Lock()
	pc, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		pc.respCh <- resp
	}
}

// OnNotification processes peer notifications relevant to outbound calls.
// A notifications/cancelled naming a pending call fails it with
// ErrRemoteCancelled.
func (d *Dispatcher) OnNotification(msg *jsonrpc.Request) {
	if msg == nil || msg.Method != string(mcp.CancelledNotificationMethod) {
		return
	}
	var p struct {
		RequestID *jsonrpc.RequestID `json:"requestId"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil || p.RequestID.IsNil() {
		return
	}
	key := p.RequestID.String()
	d.mu.Lock()
	pc, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		pc.errCh <- ErrRemoteCancelled
	}
}

// Pending reports the number of calls awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close fails all pending calls with err and makes every later call fail
// immediately with the same error. Only the first Close has an effect.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = ErrDispatcherClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return
	}
	d.closeErr = err
	d.closed.Store(true)
	for key, pc := range d.pending {
		delete(d.pending, key)
		pc.errCh <- err
	}
}

func (d *Dispatcher) closedErr() error {
	if !d.closed.Load() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeErr != nil {
		return d.closeErr
	}
	return ErrDispatcherClosed
}

func (d *Dispatcher) forget(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}
