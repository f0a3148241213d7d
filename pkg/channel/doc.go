// Package channel is the WebSocket transport a circuit runs over.
//
// A Conn is built with a Builder, started once, and stopped once:
//
//	conn := channel.NewBuilder("https://example.com/_blazor?circuitId=abc").
//	    WithLogger(logger).
//	    Build()
//	if err := conn.Start(ctx); err != nil {
//	    // conn is already closed; Err reports the start failure
//	}
//	for inv := range conn.Inbound() {
//	    // server invocations, in arrival order
//	}
//	// Inbound closed: the connection ended, conn.Err() says why
//
// Outbound traffic uses Send for fire-and-forget invocations and Invoke for
// calls that wait for a completion. Keep-alive pings and the server timeout
// are configured through Config; the transport defines every timeout the
// circuit relies on.
package channel
