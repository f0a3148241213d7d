package circuit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/circuit/pkg/interop"
	"github.com/vango-dev/circuit/pkg/telemetry"
)

// Phase is the controller's position in the circuit lifecycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseDiscovering
	PhaseConnecting
	PhaseReconnecting
	PhaseServing
	// PhaseDisconnected: the connection closed after serving and no
	// reconnect pass has started yet.
	PhaseDisconnected
	PhaseFailed
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDiscovering:
		return "discovering"
	case PhaseConnecting:
		return "connecting"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseServing:
		return "serving"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the controller.
type Status struct {
	Phase     Phase
	CircuitID string

	// Attempt counts reconnect passes since the last successful one.
	Attempt int

	// Connected reports whether the current connection is open.
	Connected bool
}

// Controller runs the lifecycle of the single circuit of a page: boot,
// first connection, fragment resync and reconnection.
type Controller struct {
	opts       *resolved
	state      *SessionState
	observers  *Observers
	router     *Router
	dispatcher *interop.Dispatcher
	factory    *Factory
	auto       *AutoReconnect
	logger     *slog.Logger

	// mu serializes reconnect passes and guards the fields below.
	mu        sync.Mutex
	circuitID string
	fragments []Fragment
	conn      *Connection

	phase   atomic.Int32
	attempt atomic.Int64
	booted  atomic.Bool
	serving atomic.Bool
	closed  atomic.Bool
}

// New creates a controller. Nothing touches the network until Start.
func New(opts Options) (*Controller, error) {
	r, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		opts:       r,
		state:      &SessionState{},
		observers:  &Observers{},
		router:     NewRouter(r.Queues),
		dispatcher: interop.NewDispatcher(r.Interop, r.Logger.With("component", "interop")),
		logger:     r.Logger,
	}
	c.factory = &Factory{
		serviceURL:    r.serviceURL,
		configure:     r.ConfigureTransport,
		channelConfig: r.Channel,
		state:         c.state,
		router:        c.router,
		dispatcher:    c.dispatcher,
		observers:     c.observers,
		metrics:       r.Metrics,
		logger:        r.Logger,
	}

	if !r.DisableAutoReconnect {
		c.auto = NewAutoReconnect(c, c.state, r.Reconnect, r.Logger.With("component", "reconnect"))
		c.observers.Add(c.auto)
	}
	for _, o := range r.Observers {
		c.observers.Add(o)
	}
	if r.Metrics != nil {
		c.observers.Add(r.Metrics)
	}
	return c, nil
}

// State returns the shared session flags.
func (c *Controller) State() *SessionState { return c.state }

// Observers returns the observer registry. Observers added after Start are
// notified from the next event on.
func (c *Controller) Observers() *Observers { return c.observers }

// Dispatcher returns the interop dispatcher bound to the current
// connection.
func (c *Controller) Dispatcher() *interop.Dispatcher { return c.dispatcher }

// Router returns the render batch router.
func (c *Controller) Router() *Router { return c.router }

// ServiceURL returns the resolved hub endpoint.
func (c *Controller) ServiceURL() string { return c.opts.serviceURL }

// CircuitID returns the circuit id, or "" before it is resolved.
func (c *Controller) CircuitID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.circuitID
}

// Connection returns the current connection, or nil before Start.
func (c *Controller) Connection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Connected reports whether the current connection is open.
func (c *Controller) Connected() bool {
	conn := c.Connection()
	return conn != nil && conn.Connected()
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	id, conn := c.circuitID, c.conn
	c.mu.Unlock()

	st := Status{
		Phase:     Phase(c.phase.Load()),
		CircuitID: id,
		Attempt:   int(c.attempt.Load()),
		Connected: conn != nil && conn.Connected(),
	}
	switch {
	case c.state.RenderingFailed():
		st.Phase = PhaseFailed
	case st.Phase == PhaseServing && !st.Connected:
		st.Phase = PhaseDisconnected
	}
	return st
}

// Start boots the circuit. It may be called once.
//
// Only configuration errors are returned: a second call, fragments from
// more than one circuit, a fragment without a circuit id, or a failing
// fragment source. Network and server failures are logged and leave the
// controller in PhaseFailed; see Status.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.MarkStarted() {
		return ErrAlreadyStarted
	}

	ctx, span := c.opts.Tracer.Start(ctx, "circuit.start")
	var spanErr error
	defer func() { telemetry.End(span, spanErr) }()

	c.phase.Store(int32(PhaseDiscovering))

	// The loader is abandoned if Start returns before waiting on it.
	bootCtx, cancelBoot := context.WithCancel(ctx)
	defer cancelBoot()
	bootDone := make(chan error, 1)
	go func() { bootDone <- c.opts.BootLoader.Load(bootCtx) }()

	fragments, err := c.opts.Fragments.Discover(ctx)
	if err != nil {
		c.phase.Store(int32(PhaseFailed))
		spanErr = fmt.Errorf("circuit: discover fragments: %w", err)
		return spanErr
	}
	circuitID, err := resolveCircuitID(fragments)
	if err != nil {
		c.phase.Store(int32(PhaseFailed))
		spanErr = err
		return err
	}

	if circuitID == "" {
		circuitID, err = c.opts.Creator.CreateCircuit(ctx)
		if err == nil && circuitID == "" {
			err = ErrNoCircuitID
		}
		if err != nil {
			c.fail("circuit creation failed", err, nil)
			spanErr = err
			return nil
		}
		c.logger.Debug("circuit created", "circuit_id", circuitID)
	} else {
		c.logger.Debug("reusing pre-rendered circuit", "circuit_id", circuitID, "fragments", len(fragments))
	}
	span.SetAttributes(telemetry.CircuitID(circuitID))

	c.mu.Lock()
	c.circuitID = circuitID
	c.fragments = fragments
	c.mu.Unlock()

	c.phase.Store(int32(PhaseConnecting))
	conn := c.factory.Initialize(ctx, circuitID)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	for _, f := range fragments {
		for _, comp := range f.Components() {
			comp.Initialize()
		}
	}

	if err := <-bootDone; err != nil {
		c.fail("boot loader failed", err, conn)
		spanErr = err
		return nil
	}
	c.booted.Store(true)

	if !c.reconnect(ctx, conn) {
		c.logger.Info("initial reconnect pass failed", "circuit_id", circuitID)
	}
	return nil
}

// Reconnect runs a reconnect pass with a fresh connection. It reports true
// only if the connection opened and every fragment resynced.
func (c *Controller) Reconnect(ctx context.Context) bool {
	return c.reconnect(ctx, nil)
}

// reconnect runs one pass. existing is the connection built by Start and
// is only passed for the first pass.
func (c *Controller) reconnect(ctx context.Context, existing *Connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.RenderingFailed() || c.closed.Load() {
		return false
	}
	if c.circuitID == "" {
		c.logger.Debug("reconnect before circuit id resolved")
		return false
	}

	begin := time.Now()
	attempt := c.attempt.Add(1)

	ctx, span := c.opts.Tracer.Start(ctx, "circuit.reconnect",
		telemetry.CircuitID(c.circuitID),
		attribute.Int64("circuit.attempt", attempt),
		attribute.Int("circuit.fragments", len(c.fragments)),
	)

	ok := c.pass(ctx, existing)

	c.opts.Metrics.ReconnectAttempted(ok, time.Since(begin))
	span.SetAttributes(attribute.Bool("circuit.reconnected", ok))
	if ok {
		telemetry.End(span, nil)
	} else {
		telemetry.End(span, errPassFailed)
	}
	return ok
}

// pass does the work of a reconnect pass. Called with mu held.
func (c *Controller) pass(ctx context.Context, existing *Connection) bool {
	if existing != nil && existing.Retired() {
		// A pass triggered by an early disconnect already replaced it.
		return false
	}

	conn := existing
	if conn == nil {
		c.phase.Store(int32(PhaseReconnecting))
		if old := c.conn; old != nil {
			old.retire()
			_ = old.Stop()
		}
		conn = c.factory.Initialize(ctx, c.circuitID)
	}
	c.conn = conn

	if c.state.RenderingFailed() || !conn.Connected() {
		return false
	}

	results := make([]bool, len(c.fragments))
	var g errgroup.Group
	for i, f := range c.fragments {
		g.Go(func() error {
			ok, err := f.Reconnect(ctx, conn)
			if err != nil {
				c.logger.Warn("fragment resync failed", "circuit_id", c.circuitID, "fragment", i, "error", err)
			}
			results[i] = ok && err == nil
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	if c.state.RenderingFailed() {
		return false
	}

	c.attempt.Store(0)
	c.phase.Store(int32(PhaseServing))
	c.observers.ConnectionUp()

	if c.booted.Load() && c.serving.CompareAndSwap(false, true) {
		c.startRendering(ctx, conn)
	}
	return true
}

// startRendering asks the server to render components that were not
// pre-rendered. Called with mu held.
func (c *Controller) startRendering(ctx context.Context, conn *Connection) {
	ok, err := c.opts.Starter.StartRendering(ctx, c.circuitID, conn)
	if err != nil {
		c.fail("start rendering failed", err, conn)
		return
	}
	if !ok {
		c.logger.Info("no preregistered components to render", "circuit_id", c.circuitID)
	}
}

// fail logs err, moves the session to its terminal failed state and stops
// conn if there is one.
func (c *Controller) fail(msg string, err error, conn *Connection) {
	c.logger.Error(msg, "error", err)
	if c.state.MarkFailed() {
		c.opts.Metrics.RenderingFailed()
	}
	c.phase.Store(int32(PhaseFailed))
	if conn != nil {
		_ = conn.Stop()
	}
}

// ForceCloseConnection stops the current connection. Observers see it as
// a lost connection, so automatic reconnection kicks in.
func (c *Controller) ForceCloseConnection() error {
	conn := c.Connection()
	if conn == nil {
		return ErrNotStarted
	}
	return conn.Stop()
}

// Close shuts the controller down without notifying observers. The
// controller cannot be restarted.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.auto != nil {
		c.auto.Close()
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.retire()
	return conn.Stop()
}
