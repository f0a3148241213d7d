package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/circuit/pkg/protocol"
)

// Channel errors.
var (
	ErrAlreadyStarted   = errors.New("channel: connection already started")
	ErrNotConnected     = errors.New("channel: connection is not connected")
	ErrConnectionClosed = errors.New("channel: connection closed")
	ErrServerTimeout    = errors.New("channel: server timeout elapsed without receiving a message")
	ErrInvalidURL       = errors.New("channel: invalid hub url")
)

// InvocationError is returned by Invoke when the server completed the call
// with an error.
type InvocationError struct {
	Target  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("channel: invocation %s failed: %s", e.Target, e.Message)
}

// State is the lifecycle state of a Conn.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one hub connection. Inbound invocations are delivered in arrival
// order on Inbound; the stream is closed once the connection ends, after
// which Err reports why.
type Conn struct {
	url      string
	protocol string
	header   http.Header
	dialer   *websocket.Dialer
	config   *Config
	logger   *slog.Logger

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	ws        *websocket.Conn
	reading   bool

	// writeMu guards writes to ws; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	state atomic.Int32

	inbound     chan *protocol.Invocation
	inboundOnce sync.Once

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Completion
	nextID    atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// URL returns the hub URL this connection dials.
func (c *Conn) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Inbound returns the stream of server invocations. It is closed when the
// connection ends.
func (c *Conn) Inbound() <-chan *protocol.Invocation { return c.inbound }

// Done is closed when the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection, or nil for a normal
// close. It is only meaningful after Done is closed.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Start dials the hub, performs the protocol handshake and starts the read
// and keep-alive loops. A Conn can be started at most once.
func (c *Conn) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyStarted
	}

	ws, err := c.dial(ctx)
	if err != nil {
		c.failStart(err)
		return err
	}
	c.ws = ws

	if err := c.handshake(ws); err != nil {
		_ = ws.Close()
		c.failStart(err)
		return err
	}

	ws.SetReadLimit(c.config.MaxMessageSize)
	c.state.Store(int32(StateConnected))
	c.reading = true
	go c.readLoop(ws)
	if c.config.KeepAliveInterval > 0 {
		go c.keepAliveLoop()
	}

	c.logger.Debug("connection started", "url", c.url, "protocol", c.protocol)
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := websocketURL(c.url)
	if err != nil {
		return nil, err
	}
	ws, resp, err := c.dialer.DialContext(ctx, wsURL, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("channel: dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("channel: dial %s: %w", wsURL, err)
	}
	return ws, nil
}

func (c *Conn) handshake(ws *websocket.Conn) error {
	req := &protocol.HandshakeRequest{Protocol: c.protocol, Version: protocol.ProtocolVersion}
	frame := protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeHandshakeRequest(req))

	deadline := time.Now().Add(c.config.HandshakeTimeout)
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.BinaryMessage, frame.Encode()); err != nil {
		return fmt.Errorf("channel: handshake write: %w", err)
	}

	_ = ws.SetReadDeadline(deadline)
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("channel: handshake read: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	reply, err := protocol.DecodeFrame(msg)
	if err != nil {
		return fmt.Errorf("channel: handshake frame decode: %w", err)
	}
	if reply.Type != protocol.FrameHandshake {
		return fmt.Errorf("channel: handshake: expected %v frame, got %v", protocol.FrameHandshake, reply.Type)
	}
	resp, err := protocol.DecodeHandshakeResponse(reply.Payload)
	if err != nil {
		return fmt.Errorf("channel: handshake response decode: %w", err)
	}
	if resp.Error != "" {
		return &protocol.HandshakeError{Reason: resp.Error}
	}
	return nil
}

// failStart ends a connection whose Start did not complete. Called with
// lifecycle held.
func (c *Conn) failStart(err error) {
	c.finish(err)
	c.closeInbound()
}

// Stop closes the connection. It sends a close frame when connected and is
// safe to call more than once and before Start.
func (c *Conn) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	wasConnected := c.State() == StateConnected
	if wasConnected {
		frame := protocol.NewFrameWithFlags(protocol.FrameClose, protocol.FlagFinal,
			protocol.EncodeClose(&protocol.CloseMessage{}))
		// Best effort; the peer may already be gone.
		_ = c.write(frame)
	}

	c.finish(nil)

	if c.ws != nil {
		if wasConnected {
			c.writeMu.Lock()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}
		_ = c.ws.Close()
	}
	if !c.reading {
		c.closeInbound()
	}
	return nil
}

// finish records the closing error once, marks the conn closed and fails
// every pending invocation.
func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.state.Store(int32(StateClosed))
		close(c.done)

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			delete(c.pending, id)
			close(ch)
		}
		c.pendingMu.Unlock()

		if err != nil {
			c.logger.Debug("connection closed", "url", c.url, "error", err)
		} else {
			c.logger.Debug("connection closed", "url", c.url)
		}
	})
}

func (c *Conn) closeInbound() {
	c.inboundOnce.Do(func() { close(c.inbound) })
}

// readLoop reads frames until the WebSocket fails or the server closes.
func (c *Conn) readLoop(ws *websocket.Conn) {
	defer c.closeInbound()

	for {
		if c.config.ServerTimeout > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(c.config.ServerTimeout))
		}

		_, msg, err := ws.ReadMessage()
		if err != nil {
			c.finish(classifyReadError(err))
			_ = ws.Close()
			return
		}

		frame, err := protocol.DecodeFrame(msg)
		if err != nil {
			c.logger.Error("frame decode error", "error", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameInvocation:
			inv, err := protocol.DecodeInvocation(frame.Payload)
			if err != nil {
				c.logger.Error("invocation decode error", "error", err)
				continue
			}
			select {
			case c.inbound <- inv:
			case <-c.done:
				return
			}

		case protocol.FrameCompletion:
			comp, err := protocol.DecodeCompletion(frame.Payload)
			if err != nil {
				c.logger.Error("completion decode error", "error", err)
				continue
			}
			c.complete(comp)

		case protocol.FramePing:
			// Receiving anything already pushed the read deadline forward.

		case protocol.FrameClose:
			cm, err := protocol.DecodeClose(frame.Payload)
			if err != nil {
				c.logger.Error("close decode error", "error", err)
				cm = &protocol.CloseMessage{}
			}
			var closeErr error
			if cm.Reason != "" {
				closeErr = cm
			}
			c.logger.Info("server closed connection", "reason", cm.Reason, "allow_reconnect", cm.AllowReconnect)
			c.finish(closeErr)
			_ = ws.Close()
			return

		default:
			c.logger.Warn("unexpected frame type", "type", frame.Type)
		}
	}
}

func classifyReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrServerTimeout, err)
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return nil
	}
	return err
}

// keepAliveLoop sends pings until the connection ends.
func (c *Conn) keepAliveLoop() {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ping := protocol.NewFrame(protocol.FramePing,
				protocol.EncodePing(&protocol.Ping{Timestamp: uint64(time.Now().UnixMilli())}))
			if err := c.write(ping); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// write sends one frame. Concurrent callers are serialized.
func (c *Conn) write(frame *protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() != StateConnected || c.ws == nil {
		return ErrNotConnected
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame.Encode()); err != nil {
		c.logger.Error("write error", "error", err)
		return fmt.Errorf("channel: write: %w", err)
	}
	return nil
}

// Send performs a fire-and-forget invocation of target on the server.
func (c *Conn) Send(ctx context.Context, target string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := protocol.NewInvocationFrame(&protocol.Invocation{Target: target, Args: args})
	if err != nil {
		return err
	}
	return c.write(frame)
}

// Invoke calls target on the server and waits for its completion.
func (c *Conn) Invoke(ctx context.Context, target string, args ...any) (any, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan *protocol.Completion, 1)

	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return nil, ErrConnectionClosed
	default:
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	frame, err := protocol.NewInvocationFrame(&protocol.Invocation{InvocationID: id, Target: target, Args: args})
	if err == nil {
		err = c.write(frame)
	}
	if err != nil {
		c.dropPending(id)
		return nil, err
	}

	select {
	case comp, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if comp.Error != "" {
			return nil, &InvocationError{Target: target, Message: comp.Error}
		}
		return comp.Result, nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

func (c *Conn) dropPending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Conn) complete(comp *protocol.Completion) {
	c.pendingMu.Lock()
	ch, ok := c.pending[comp.InvocationID]
	delete(c.pending, comp.InvocationID)
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("completion for unknown invocation", "invocation_id", comp.InvocationID)
		return
	}
	ch <- comp
}

// websocketURL maps http(s) hub URLs to ws(s).
func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	return u.String(), nil
}
