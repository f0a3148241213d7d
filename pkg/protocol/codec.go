package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// Allocation limits applied by the Decoder to length prefixes.
const (
	// DefaultMaxAllocation caps a single string or byte field (4MB).
	DefaultMaxAllocation = 4 * 1024 * 1024

	// HardMaxAllocation caps a whole frame payload (16MB).
	HardMaxAllocation = 16 * 1024 * 1024

	// MaxCollectionCount caps the element count of arrays and objects.
	MaxCollectionCount = 100_000
)

// Decoding errors.
var (
	ErrVarintOverflow     = errors.New("protocol: varint overflow")
	ErrAllocationTooLarge = errors.New("protocol: allocation size exceeds limit")
	ErrCollectionTooLarge = errors.New("protocol: collection count exceeds limit")
)

// Encoder builds a message body. Integers are LEB128 varints, ZigZag
// mapped when signed. Fixed-width fields are big-endian and strings and
// byte slices carry a varint length.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder with room for a typical invocation.
func NewEncoder() *Encoder { return NewEncoderWithCap(256) }

// NewEncoderWithCap returns an encoder with room for n bytes.
func NewEncoderWithCap(n int) *Encoder {
	return &Encoder{buf: make([]byte, 0, n)}
}

// Bytes returns the encoded message. It aliases the encoder's buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// WriteByte appends b. It cannot fail and so returns nothing.
func (e *Encoder) WriteByte(b byte) { e.buf = append(e.buf, b) }

// WriteBytes appends b without a length.
func (e *Encoder) WriteBytes(b []byte) { e.buf = append(e.buf, b...) }

func (e *Encoder) WriteUvarint(v uint64) { e.buf = binary.AppendUvarint(e.buf, v) }

func (e *Encoder) WriteSvarint(v int64) { e.buf = binary.AppendVarint(e.buf, v) }

func (e *Encoder) WriteString(s string) {
	e.WriteUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) WriteLenBytes(b []byte) {
	e.WriteUvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) WriteBool(b bool) {
	var v byte
	if b {
		v = 1
	}
	e.buf = append(e.buf, v)
}

func (e *Encoder) WriteUint32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }

func (e *Encoder) WriteUint64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *Encoder) WriteFloat64(v float64) { e.WriteUint64(math.Float64bits(v)) }

// Decoder reads an Encoder's output. Every method fails with
// io.ErrUnexpectedEOF when the message ends early.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) unread() int { return len(d.buf) - d.pos }

// take consumes the next n bytes. The result aliases the input.
func (d *Decoder) take(n int) ([]byte, error) {
	if n > d.unread() {
		return nil, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func varintErr(n int) error {
	if n == 0 {
		return io.ErrUnexpectedEOF
	}
	return ErrVarintOverflow
}

func (d *Decoder) ReadByte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, varintErr(n)
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) ReadSvarint() (int64, error) {
	v, n := binary.Varint(d.buf[d.pos:])
	if n <= 0 {
		return 0, varintErr(n)
	}
	d.pos += n
	return v, nil
}

// lenPrefixed reads a varint length and the bytes it covers, capped at
// DefaultMaxAllocation.
func (d *Decoder) lenPrefixed() ([]byte, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.unread()) {
		return nil, io.ErrUnexpectedEOF
	}
	if n > DefaultMaxAllocation {
		return nil, ErrAllocationTooLarge
	}
	return d.take(int(n))
}

func (d *Decoder) ReadString() (string, error) {
	b, err := d.lenPrefixed()
	return string(b), err
}

// ReadLenBytes returns a copy, so the result outlives the input buffer.
func (d *Decoder) ReadLenBytes() ([]byte, error) {
	b, err := d.lenPrefixed()
	if err != nil {
		return nil, err
	}
	return bytes.Clone(b), nil
}

// ReadBool treats any non-zero byte as true.
func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadByte()
	return b != 0, err
}

func (d *Decoder) ReadUint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *Decoder) ReadFloat64() (float64, error) {
	v, err := d.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadCollectionCount reads an element count. Every element takes at least
// one byte, so a count above the unread bytes is truncated input.
func (d *Decoder) ReadCollectionCount() (int, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if n > MaxCollectionCount {
		return 0, ErrCollectionTooLarge
	}
	if n > uint64(d.unread()) {
		return 0, io.ErrUnexpectedEOF
	}
	return int(n), nil
}
