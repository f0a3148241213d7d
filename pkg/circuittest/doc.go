// Package circuittest provides an in-process circuit hub for tests and demos.
//
// The hub serves the circuit creation endpoint and the WebSocket hub
// endpoint, answers fragment resync and start-rendering calls, and exposes
// each accepted connection as a Peer that tests can push server events
// through.
//
// # Quick Start
//
//	func TestRenderBatch(t *testing.T) {
//	    srv := circuittest.NewServer(t, nil)
//	    // ... start a client against srv.URL ...
//	    peer, err := srv.Accept(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    _ = peer.SendRenderBatch(1, 0, []byte("batch"))
//	    ack, err := peer.NextTarget(ctx, "OnRenderCompleted")
//	}
//
// # Failure Injection
//
//   - Peer.Drop closes the socket without a close frame (network loss)
//   - Peer.SendError pushes a fatal JS.Error
//   - Peer.SendClose closes with a reason
//   - Config.HandshakeError rejects every handshake
//   - Config.ConnectCircuit controls resync results
package circuittest
