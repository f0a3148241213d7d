package protocol

import (
	"testing"
)

// FuzzDecodeFrame tests that decoding arbitrary bytes doesn't panic.
func FuzzDecodeFrame(f *testing.F) {
	f.Add(NewFrame(FramePing, EncodePing(&Ping{Timestamp: 1})).Encode())
	f.Add(NewFrameWithFlags(FrameClose, FlagFinal, []byte("bye")).Encode())
	f.Add([]byte{0x01, 0x00, 0xFF, 0xFF, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeFrame(data)
	})
}

// FuzzDecodeInvocation tests that decoding arbitrary bytes doesn't panic
// and that anything decoded encodes again.
func FuzzDecodeInvocation(f *testing.F) {
	seed, err := EncodeInvocation(&Invocation{
		Target: "JS.RenderBatch",
		Args:   []any{int64(1), int64(2), []byte{0xAA}},
	})
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)

	seed, err = EncodeInvocation(&Invocation{
		InvocationID: "7",
		Target:       "ConnectCircuit",
		Args:         []any{"abc", nil, true, 1.5, []any{"x", map[string]any{"k": int64(3)}}},
	})
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)

	f.Fuzz(func(t *testing.T, data []byte) {
		inv, err := DecodeInvocation(data)
		if err != nil {
			return
		}
		if _, err := EncodeInvocation(inv); err != nil {
			t.Errorf("decoded invocation does not encode: %v", err)
		}
	})
}

// FuzzDecodeCompletion tests that decoding arbitrary bytes doesn't panic.
func FuzzDecodeCompletion(f *testing.F) {
	seed, err := EncodeCompletion(&Completion{InvocationID: "1", HasResult: true, Result: true})
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeCompletion(data)
	})
}

// FuzzDecodeControl tests the handshake and close decoders.
func FuzzDecodeControl(f *testing.F) {
	f.Add(EncodeHandshakeRequest(NewHandshakeRequest()))
	f.Add(EncodeHandshakeResponse(&HandshakeResponse{Error: "nope"}))
	f.Add(EncodeClose(&CloseMessage{Reason: "shutdown", AllowReconnect: true}))

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeHandshakeRequest(data)
		_, _ = DecodeHandshakeResponse(data)
		_, _ = DecodeClose(data)
		_, _ = DecodePing(data)
	})
}
