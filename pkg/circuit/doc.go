// Package circuit is a headless client for server-driven UI circuits.
//
// A circuit is a server-held UI session. The client holds no application
// logic: the server pushes render batches over a persistent connection and
// the client applies them in order, acknowledges them, and forwards
// interop calls in both directions. This package owns the connection
// lifecycle of the single circuit a page may have.
//
// # Lifecycle
//
//	Idle -> Discovering -> Connecting -> Serving <-> Reconnecting(n)
//	                                       |
//	                                       v
//	                                     Failed
//
// Start discovers pre-rendered fragments while the boot loader runs. Their
// circuit id is reused; when there are none a new circuit is created with
// GET <serviceURL>/start. The first connection is built, fragment
// components are initialized, and a reconnect pass resyncs every fragment.
// After the first successful pass the server is asked to render components
// that were not pre-rendered.
//
// When the connection drops, observers are notified in order. The built-in
// AutoReconnect observer runs reconnect passes under a ReconnectPolicy.
// A server error (JS.Error) or a failed connection start is terminal: the
// session is marked failed, the connection stops, and no further
// notifications or reconnects happen.
//
// # Quick Start
//
//	ctrl, err := circuit.New(circuit.Options{
//	    BaseURL: "https://example.com/",
//	    Applier: myRenderer,
//	    Reconnect: circuit.ReconnectPolicy{
//	        MaxRetries: 8,
//	        Backoff:    circuit.BackoffExponential,
//	        BaseDelay:  500 * time.Millisecond,
//	        MaxDelay:   10 * time.Second,
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	if err := ctrl.Start(ctx); err != nil {
//	    return err // configuration error
//	}
//	if ctrl.Status().Phase == circuit.PhaseFailed {
//	    // see logs
//	}
//
// # Ordering
//
// Each connection delivers its events to one goroutine, so events of a
// connection are handled in arrival order. Render batches go through the
// Router to a per-renderer queue that outlives connections; the queue
// orders batches by id and acknowledges on the connection that delivered
// the latest batch. Reconnect passes are serialized and a replaced
// connection is retired before its successor is built, so only one
// connection is ever current.
package circuit
