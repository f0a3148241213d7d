// Package protocol implements the binary hub protocol spoken between a
// circuit client and the server that hosts its UI session.
//
// The protocol is a small framed message format carried one frame per
// WebSocket message. It moves named invocations in both directions (render
// batches and JS interop from the server, .NET interop and acknowledgments
// from the client), completions for blocking invocations, keep-alive pings,
// and a close notice.
//
// # Wire Format
//
// Every message starts with a 6-byte header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Frame Types
//
//   - FrameHandshake (0x00): protocol negotiation
//   - FrameInvocation (0x01): named call with tagged arguments
//   - FrameCompletion (0x02): result of a blocking invocation
//   - FramePing (0x03): keep-alive
//   - FrameClose (0x04): close notice with optional error
//
// # Encoding
//
//   - Varint: protobuf-style unsigned integers
//   - ZigZag: signed integers as unsigned varints
//   - Length-prefixed: strings and byte slices
//   - Tagged values: invocation arguments carry a one-byte ValueType
//
// # Handshake
//
//	Client                              Server
//	  │                                    │
//	  │──── HandshakeRequest ────────────>│
//	  │     ("blazorpack", version 1)      │
//	  │                                    │
//	  │<──── HandshakeResponse ───────────│
//	  │     (empty error on success)       │
//
// # Usage Example
//
//	frame, err := protocol.NewInvocationFrame(&protocol.Invocation{
//	    Target: "OnRenderCompleted",
//	    Args:   []any{int64(7), nil},
//	})
//	if err != nil {
//	    return err
//	}
//	data := frame.Encode()
//
//	decoded, err := protocol.DecodeFrame(data)
//	inv, err := protocol.DecodeInvocation(decoded.Payload)
package protocol
