package circuit

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/vango-dev/circuit/pkg/channel"
	"github.com/vango-dev/circuit/pkg/interop"
	"github.com/vango-dev/circuit/pkg/protocol"
	"github.com/vango-dev/circuit/pkg/telemetry"
)

// Factory builds and starts connections and wires their inbound events to
// the router, the interop dispatcher and the lifecycle observers.
type Factory struct {
	serviceURL    string
	configure     func(*channel.Builder)
	channelConfig *channel.Config

	state      *SessionState
	router     *Router
	dispatcher *interop.Dispatcher
	observers  *Observers
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// ConnectionURL returns <serviceURL>?circuitId=<circuitID>.
func (f *Factory) ConnectionURL(circuitID string) string {
	u, err := url.Parse(f.serviceURL)
	if err != nil {
		return f.serviceURL + "?circuitId=" + url.QueryEscape(circuitID)
	}
	q := u.Query()
	q.Set("circuitId", circuitID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Initialize builds a connection for circuitID and starts it.
//
// A connection that fails to start takes the same path as a server error:
// the failure is logged, the session is marked failed and the connection is
// stopped. The connection is returned either way.
func (f *Factory) Initialize(ctx context.Context, circuitID string) *Connection {
	logger := f.logger.With("circuit_id", circuitID)

	b := channel.NewBuilder(f.ConnectionURL(circuitID)).
		WithProtocol(protocol.ProtocolName).
		WithLogger(logger)
	if f.channelConfig != nil {
		b.WithConfig(f.channelConfig.Clone())
	}
	if f.configure != nil {
		f.configure(b)
	}

	c := newConnection(ctx, circuitID, b.Build(), logger)

	if err := c.conn.Start(ctx); err != nil {
		f.fatal(c, "failed to start the connection", err)
		return c
	}

	f.dispatcher.Attach(c)

	go c.translate()
	go f.pump(c)

	logger.Debug("connection started", "url", c.URL())
	return c
}

// pump handles the events of one connection in arrival order.
func (f *Factory) pump(c *Connection) {
	defer c.cancel()

	for ev := range c.Events() {
		if closed, ok := ev.(ClosedEvent); ok {
			f.closed(c, closed.Err)
			continue
		}
		// A failed session is inert and a retired connection no longer owns
		// the circuit.
		if f.state.RenderingFailed() || c.Retired() {
			continue
		}

		switch ev := ev.(type) {
		case RenderBatchEvent:
			c.logger.Debug("received render batch",
				"renderer_id", ev.RendererID, "batch_id", ev.BatchID, "bytes", len(ev.Data))
			f.router.Route(c.ctx, ev.RendererID, ev.BatchID, ev.Data, c)

		case InvokeJSEvent:
			f.dispatcher.DispatchInbound(c.ctx, ev.Args)

		case *ServerError:
			f.fatal(c, "server reported a fatal error", ev)
		}
	}
}

func (f *Factory) closed(c *Connection, err error) {
	if c.Retired() {
		c.logger.Debug("retired connection closed")
		return
	}
	if f.state.RenderingFailed() {
		c.logger.Debug("connection closed after failure")
		return
	}
	if err != nil {
		c.logger.Warn("connection lost", "error", err)
	} else {
		c.logger.Info("connection closed")
	}
	f.observers.ConnectionDown(err)
}

// fatal logs err, marks the session failed and stops c.
func (f *Factory) fatal(c *Connection, msg string, err error) {
	c.logger.Error(msg, "error", err)
	if f.state.MarkFailed() {
		f.metrics.RenderingFailed()
	}
	_ = c.Stop()
}
