package protocol

import "errors"

// ErrInvalidInvocation is returned when an invocation frame lacks a target.
var ErrInvalidInvocation = errors.New("protocol: invocation has no target")

// Invocation is a named call carried by FrameInvocation. The server uses it
// to push events such as "JS.RenderBatch"; the client uses it for hub methods
// such as "BeginInvokeDotNetFromJS".
//
// An empty InvocationID marks a non-blocking call; otherwise the receiver
// answers with a Completion carrying the same id.
type Invocation struct {
	InvocationID string
	Target       string
	Args         []any
}

// Completion answers a blocking Invocation.
type Completion struct {
	InvocationID string
	Error        string // Empty on success
	HasResult    bool
	Result       any
}

// EncodeInvocation encodes an Invocation to bytes.
func EncodeInvocation(inv *Invocation) ([]byte, error) {
	e := NewEncoder()
	if err := EncodeInvocationTo(e, inv); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeInvocationTo encodes an Invocation using the provided encoder.
func EncodeInvocationTo(e *Encoder, inv *Invocation) error {
	if inv.Target == "" {
		return ErrInvalidInvocation
	}
	e.WriteString(inv.InvocationID)
	e.WriteString(inv.Target)
	e.WriteUvarint(uint64(len(inv.Args)))
	for _, arg := range inv.Args {
		if err := EncodeValue(e, arg); err != nil {
			return err
		}
	}
	return nil
}

// DecodeInvocation decodes an Invocation from bytes.
func DecodeInvocation(data []byte) (*Invocation, error) {
	d := NewDecoder(data)
	id, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	target, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, ErrInvalidInvocation
	}
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	args := make([]any, count)
	for i := range args {
		if args[i], err = DecodeValue(d); err != nil {
			return nil, err
		}
	}
	return &Invocation{InvocationID: id, Target: target, Args: args}, nil
}

// EncodeCompletion encodes a Completion to bytes.
func EncodeCompletion(c *Completion) ([]byte, error) {
	e := NewEncoder()
	e.WriteString(c.InvocationID)
	e.WriteString(c.Error)
	e.WriteBool(c.HasResult)
	if c.HasResult {
		if err := EncodeValue(e, c.Result); err != nil {
			return nil, err
		}
	}
	return e.Bytes(), nil
}

// DecodeCompletion decodes a Completion from bytes.
func DecodeCompletion(data []byte) (*Completion, error) {
	d := NewDecoder(data)
	c := &Completion{}
	var err error
	if c.InvocationID, err = d.ReadString(); err != nil {
		return nil, err
	}
	if c.Error, err = d.ReadString(); err != nil {
		return nil, err
	}
	if c.HasResult, err = d.ReadBool(); err != nil {
		return nil, err
	}
	if c.HasResult {
		if c.Result, err = DecodeValue(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewInvocationFrame encodes inv into a frame, setting FlagNonBlocking when
// no completion is expected.
func NewInvocationFrame(inv *Invocation) (*Frame, error) {
	payload, err := EncodeInvocation(inv)
	if err != nil {
		return nil, err
	}
	var flags FrameFlags
	if inv.InvocationID == "" {
		flags = FlagNonBlocking
	}
	return NewFrameWithFlags(FrameInvocation, flags, payload), nil
}
