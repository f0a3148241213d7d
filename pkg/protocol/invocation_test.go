package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestInvocationEncodeDecode(t *testing.T) {
	callID := "7"
	tests := []struct {
		name string
		inv  *Invocation
		want []any
	}{
		{
			name: "render_batch",
			inv: &Invocation{
				Target: "JS.RenderBatch",
				Args:   []any{int64(1), int64(42), []byte{0xDE, 0xAD}},
			},
			want: []any{int64(1), int64(42), []byte{0xDE, 0xAD}},
		},
		{
			name: "begin_invoke_dotnet",
			inv: &Invocation{
				Target: "BeginInvokeDotNetFromJS",
				Args:   []any{&callID, (*string)(nil), "Method", int64(0), `[1,2]`},
			},
			want: []any{"7", nil, "Method", int64(0), `[1,2]`},
		},
		{
			name: "blocking_with_nested_args",
			inv: &Invocation{
				InvocationID: "3",
				Target:       "ConnectCircuit",
				Args: []any{
					"abc",
					[]any{true, 1.5},
					map[string]any{"k": "v", "n": int64(-9)},
				},
			},
			want: []any{
				"abc",
				[]any{true, 1.5},
				map[string]any{"k": "v", "n": int64(-9)},
			},
		},
		{
			name: "no_args",
			inv:  &Invocation{Target: "JS.Error"},
			want: []any{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := EncodeInvocation(tc.inv)
			if err != nil {
				t.Fatalf("EncodeInvocation() error = %v", err)
			}
			got, err := DecodeInvocation(data)
			if err != nil {
				t.Fatalf("DecodeInvocation() error = %v", err)
			}
			if got.InvocationID != tc.inv.InvocationID {
				t.Errorf("InvocationID = %q, want %q", got.InvocationID, tc.inv.InvocationID)
			}
			if got.Target != tc.inv.Target {
				t.Errorf("Target = %q, want %q", got.Target, tc.inv.Target)
			}
			if !reflect.DeepEqual(got.Args, tc.want) {
				t.Errorf("Args = %#v, want %#v", got.Args, tc.want)
			}
		})
	}
}

func TestInvocationRequiresTarget(t *testing.T) {
	if _, err := EncodeInvocation(&Invocation{}); !errors.Is(err, ErrInvalidInvocation) {
		t.Fatalf("err = %v, want ErrInvalidInvocation", err)
	}
}

func TestInvocationUnsupportedArg(t *testing.T) {
	_, err := EncodeInvocation(&Invocation{Target: "x", Args: []any{struct{}{}}})
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Fatalf("err = %v, want ErrUnsupportedValue", err)
	}
}

func TestNewInvocationFrameFlags(t *testing.T) {
	f, err := NewInvocationFrame(&Invocation{Target: "OnRenderCompleted", Args: []any{int64(1), nil}})
	if err != nil {
		t.Fatal(err)
	}
	if !f.Flags.Has(FlagNonBlocking) {
		t.Error("fire-and-forget invocation missing FlagNonBlocking")
	}

	f, err = NewInvocationFrame(&Invocation{InvocationID: "1", Target: "StartCircuit"})
	if err != nil {
		t.Fatal(err)
	}
	if f.Flags.Has(FlagNonBlocking) {
		t.Error("blocking invocation has FlagNonBlocking")
	}
}

func TestCompletionEncodeDecode(t *testing.T) {
	tests := []*Completion{
		{InvocationID: "1", HasResult: true, Result: true},
		{InvocationID: "2", Error: "circuit not found"},
		{InvocationID: "3"},
	}
	for _, c := range tests {
		data, err := EncodeCompletion(c)
		if err != nil {
			t.Fatalf("EncodeCompletion(%+v) error = %v", c, err)
		}
		got, err := DecodeCompletion(data)
		if err != nil {
			t.Fatalf("DecodeCompletion() error = %v", err)
		}
		if !reflect.DeepEqual(got, c) {
			t.Errorf("round trip = %+v, want %+v", got, c)
		}
	}
}

func TestHandshakeEncodeDecode(t *testing.T) {
	req, err := DecodeHandshakeRequest(EncodeHandshakeRequest(NewHandshakeRequest()))
	if err != nil {
		t.Fatal(err)
	}
	if req.Protocol != ProtocolName || req.Version != ProtocolVersion {
		t.Errorf("request = %+v", req)
	}

	resp, err := DecodeHandshakeResponse(EncodeHandshakeResponse(&HandshakeResponse{Error: "unsupported"}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error != "unsupported" {
		t.Errorf("Error = %q", resp.Error)
	}
}

func TestCloseAndPing(t *testing.T) {
	cm, err := DecodeClose(EncodeClose(&CloseMessage{Reason: "shutdown", AllowReconnect: true}))
	if err != nil {
		t.Fatal(err)
	}
	if cm.Reason != "shutdown" || !cm.AllowReconnect {
		t.Errorf("close = %+v", cm)
	}
	if cm.Error() != "protocol: connection closed by peer: shutdown" {
		t.Errorf("Error() = %q", cm.Error())
	}

	p, err := DecodePing(EncodePing(&Ping{Timestamp: 1700000000000}))
	if err != nil {
		t.Fatal(err)
	}
	if p.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d", p.Timestamp)
	}
	if p, err := DecodePing(nil); err != nil || p.Timestamp != 0 {
		t.Errorf("DecodePing(nil) = %+v, %v", p, err)
	}
}

func TestValueDepthLimit(t *testing.T) {
	var v any = "leaf"
	for i := 0; i <= MaxValueDepth+1; i++ {
		v = []any{v}
	}
	e := NewEncoder()
	if err := EncodeValue(e, v); !errors.Is(err, ErrMaxDepthExceeded) {
		t.Fatalf("EncodeValue err = %v, want ErrMaxDepthExceeded", err)
	}

	// Hand-build a too-deep array to exercise the decoder limit.
	e = NewEncoder()
	for i := 0; i <= MaxValueDepth+1; i++ {
		e.WriteByte(byte(ValueArray))
		e.WriteUvarint(1)
	}
	e.WriteByte(byte(ValueNull))
	if _, err := DecodeValue(NewDecoder(e.Bytes())); !errors.Is(err, ErrMaxDepthExceeded) {
		t.Fatalf("DecodeValue err = %v, want ErrMaxDepthExceeded", err)
	}
}

func TestArgHelpers(t *testing.T) {
	args := []any{int64(5), 3.0, []byte("x"), "s", nil}

	if v, err := Int64Arg(args, 0); err != nil || v != 5 {
		t.Errorf("Int64Arg(0) = %d, %v", v, err)
	}
	if v, err := Int64Arg(args, 1); err != nil || v != 3 {
		t.Errorf("Int64Arg(1) = %d, %v", v, err)
	}
	if _, err := Int64Arg(args, 3); !errors.Is(err, ErrArgumentTypeMismatch) {
		t.Errorf("Int64Arg(3) err = %v", err)
	}
	if b, err := BytesArg(args, 2); err != nil || !bytes.Equal(b, []byte("x")) {
		t.Errorf("BytesArg(2) = %v, %v", b, err)
	}
	if s, err := StringArg(args, 4); err != nil || s != "" {
		t.Errorf("StringArg(4) = %q, %v", s, err)
	}
	if _, err := StringArg(args, 9); !errors.Is(err, ErrArgumentTypeMismatch) {
		t.Errorf("StringArg(9) err = %v", err)
	}
}

func TestDecoderLimits(t *testing.T) {
	e := NewEncoder()
	e.WriteUvarint(DefaultMaxAllocation + 1)
	e.WriteBytes(make([]byte, DefaultMaxAllocation+1))
	if _, err := NewDecoder(e.Bytes()).ReadString(); !errors.Is(err, ErrAllocationTooLarge) {
		t.Errorf("ReadString err = %v, want ErrAllocationTooLarge", err)
	}

	e = NewEncoder()
	e.WriteUvarint(MaxCollectionCount + 1)
	if _, err := NewDecoder(e.Bytes()).ReadCollectionCount(); !errors.Is(err, ErrCollectionTooLarge) {
		t.Errorf("ReadCollectionCount err = %v, want ErrCollectionTooLarge", err)
	}

	overflow := bytes.Repeat([]byte{0xFF}, 11)
	if _, err := NewDecoder(overflow).ReadUvarint(); !errors.Is(err, ErrVarintOverflow) {
		t.Errorf("ReadUvarint err = %v, want ErrVarintOverflow", err)
	}
}
