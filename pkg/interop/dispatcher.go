package interop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
)

// Wire targets.
const (
	// TargetBeginInvokeJS is the inbound event asking the client to run a
	// local function.
	TargetBeginInvokeJS = "JS.BeginInvokeJS"

	// TargetBeginInvokeDotNet is the outbound hub method invoking a
	// server-side method.
	TargetBeginInvokeDotNet = "BeginInvokeDotNetFromJS"
)

// ErrNotConnected is returned when no connection is attached.
var ErrNotConnected = errors.New("interop: no connection attached")

// Sender sends fire-and-forget invocations on a connection.
type Sender interface {
	Send(ctx context.Context, target string, args ...any) error
}

// Handler runs server-requested local functions. Args are passed exactly as
// received.
type Handler interface {
	BeginInvokeJS(ctx context.Context, args []any)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args []any)

// BeginInvokeJS calls f.
func (f HandlerFunc) BeginInvokeJS(ctx context.Context, args []any) { f(ctx, args) }

// DotNetCall describes one outbound server method invocation.
type DotNetCall struct {
	// CallID correlates the asynchronous result. Nil for calls that expect
	// no result.
	CallID *string

	// AssemblyName scopes a static method. Nil for instance calls.
	AssemblyName *string

	MethodIdentifier string

	// DotNetObjectID targets an instance; 0 for static calls.
	DotNetObjectID int64

	// ArgsJSON is the JSON array of arguments.
	ArgsJSON string
}

// Dispatcher bridges local code and the server over the current
// connection. Attach is called once per connection; outbound calls always
// use the most recently attached one.
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger

	mu     sync.RWMutex
	sender Sender

	nextCallID atomic.Uint64
}

// NewDispatcher creates a dispatcher delivering inbound calls to handler.
// A nil handler drops inbound calls with a debug log.
func NewDispatcher(handler Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handler: handler, logger: logger}
}

// Attach makes s the connection used for outbound calls.
func (d *Dispatcher) Attach(s Sender) {
	d.mu.Lock()
	d.sender = s
	d.mu.Unlock()
}

// Attached reports whether a connection is attached.
func (d *Dispatcher) Attached() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sender != nil
}

// DispatchInbound forwards a JS.BeginInvokeJS payload to the handler.
func (d *Dispatcher) DispatchInbound(ctx context.Context, args []any) {
	if d.handler == nil {
		d.logger.Debug("no interop handler, dropping call", "args", len(args))
		return
	}
	d.handler.BeginInvokeJS(ctx, args)
}

// BeginInvokeDotNet sends exactly one BeginInvokeDotNetFromJS message.
// Nothing is queued: without a connection the call fails.
func (d *Dispatcher) BeginInvokeDotNet(ctx context.Context, call DotNetCall) error {
	d.mu.RLock()
	s := d.sender
	d.mu.RUnlock()

	if s == nil {
		return ErrNotConnected
	}

	var callID, assembly any
	if call.CallID != nil {
		callID = *call.CallID
	}
	if call.AssemblyName != nil {
		assembly = *call.AssemblyName
	}

	return s.Send(ctx, TargetBeginInvokeDotNet,
		callID, assembly, call.MethodIdentifier, call.DotNetObjectID, call.ArgsJSON)
}

// NextCallID allocates a call id. Ids increase monotonically per dispatcher.
func (d *Dispatcher) NextCallID() string {
	return strconv.FormatUint(d.nextCallID.Add(1), 10)
}

// InvokeStatic marshals args to JSON and invokes a static server method,
// returning the call id the result will be correlated with.
func (d *Dispatcher) InvokeStatic(ctx context.Context, assembly, method string, args ...any) (string, error) {
	if args == nil {
		args = []any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("interop: marshal args for %s: %w", method, err)
	}
	id := d.NextCallID()
	err = d.BeginInvokeDotNet(ctx, DotNetCall{
		CallID:           &id,
		AssemblyName:     &assembly,
		MethodIdentifier: method,
		ArgsJSON:         string(argsJSON),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
