package circuit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/vango-dev/circuit/pkg/channel"
	"github.com/vango-dev/circuit/pkg/interop"
	"github.com/vango-dev/circuit/pkg/protocol"
)

// Inbound event names pushed by the server.
const (
	EventBeginInvokeJS = interop.TargetBeginInvokeJS
	EventRenderBatch   = "JS.RenderBatch"
	EventError         = "JS.Error"
)

// Event is one typed inbound message of a Connection.
type Event interface {
	event()
}

// RenderBatchEvent carries JS.RenderBatch(rendererId, batchId, bytes).
type RenderBatchEvent struct {
	RendererID int64
	BatchID    int64
	Data       []byte
}

// InvokeJSEvent carries the raw JS.BeginInvokeJS arguments.
type InvokeJSEvent struct {
	Args []any
}

// ServerError carries JS.Error. The session cannot continue after it.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "circuit: server error: " + e.Message
}

// ClosedEvent is the last event of every started connection. Err is nil
// for a clean close.
type ClosedEvent struct {
	Err error
}

func (RenderBatchEvent) event() {}
func (InvokeJSEvent) event()    {}
func (*ServerError) event()     {}
func (ClosedEvent) event()      {}

// Connection is one hub connection bound to a circuit id. Connections are
// never reused: a reconnect builds a new one.
type Connection struct {
	circuitID string
	conn      *channel.Conn
	logger    *slog.Logger

	events  chan Event
	retired atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newConnection(ctx context.Context, circuitID string, conn *channel.Conn, logger *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Connection{
		circuitID: circuitID,
		conn:      conn,
		logger:    logger,
		events:    make(chan Event, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// CircuitID returns the circuit this connection is bound to.
func (c *Connection) CircuitID() string { return c.circuitID }

// URL returns the hub URL, including the circuitId query parameter.
func (c *Connection) URL() string { return c.conn.URL() }

// State returns the channel state.
func (c *Connection) State() channel.State { return c.conn.State() }

// Connected reports whether the connection is open.
func (c *Connection) Connected() bool { return c.conn.State() == channel.StateConnected }

// Done is closed once the connection has ended.
func (c *Connection) Done() <-chan struct{} { return c.conn.Done() }

// Err returns the error that closed the connection, if any.
func (c *Connection) Err() error { return c.conn.Err() }

// Events returns the typed inbound stream. It ends with a ClosedEvent.
func (c *Connection) Events() <-chan Event { return c.events }

// Send performs a fire-and-forget hub invocation.
func (c *Connection) Send(ctx context.Context, target string, args ...any) error {
	return c.conn.Send(ctx, target, args...)
}

// Invoke calls a hub method and waits for its result.
func (c *Connection) Invoke(ctx context.Context, target string, args ...any) (any, error) {
	return c.conn.Invoke(ctx, target, args...)
}

// Stop closes the connection. Safe to call more than once.
func (c *Connection) Stop() error {
	return c.conn.Stop()
}

// Retired reports whether a newer connection replaced this one.
func (c *Connection) Retired() bool { return c.retired.Load() }

func (c *Connection) retire() { c.retired.Store(true) }

// translate turns channel invocations into typed events until the channel
// closes.
func (c *Connection) translate() {
	defer close(c.events)

	for inv := range c.conn.Inbound() {
		ev, err := decodeEvent(inv)
		if err != nil {
			c.logger.Warn("dropping malformed event", "target", inv.Target, "error", err)
			continue
		}
		if ev == nil {
			c.logger.Warn("unknown event", "target", inv.Target)
			continue
		}
		c.events <- ev
	}
	c.events <- ClosedEvent{Err: c.conn.Err()}
}

func decodeEvent(inv *protocol.Invocation) (Event, error) {
	switch inv.Target {
	case EventRenderBatch:
		rendererID, err := protocol.Int64Arg(inv.Args, 0)
		if err != nil {
			return nil, fmt.Errorf("renderer id: %w", err)
		}
		batchID, err := protocol.Int64Arg(inv.Args, 1)
		if err != nil {
			return nil, fmt.Errorf("batch id: %w", err)
		}
		data, err := protocol.BytesArg(inv.Args, 2)
		if err != nil {
			return nil, fmt.Errorf("batch data: %w", err)
		}
		return RenderBatchEvent{RendererID: rendererID, BatchID: batchID, Data: data}, nil

	case EventBeginInvokeJS:
		return InvokeJSEvent{Args: inv.Args}, nil

	case EventError:
		msg := "unknown error"
		if len(inv.Args) > 0 && inv.Args[0] != nil {
			msg = fmt.Sprint(inv.Args[0])
		}
		return &ServerError{Message: msg}, nil

	default:
		return nil, nil
	}
}
