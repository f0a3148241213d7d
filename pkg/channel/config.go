package channel

import (
	"time"

	"github.com/vango-dev/circuit/pkg/protocol"
)

// Config holds transport-level settings for a Conn.
type Config struct {
	// HandshakeTimeout bounds the protocol handshake after the WebSocket
	// upgrade. The dial itself is bounded by the Start context.
	// Default: 15 seconds.
	HandshakeTimeout time.Duration

	// KeepAliveInterval is the time between client pings.
	// Zero disables pings.
	// Default: 15 seconds.
	KeepAliveInterval time.Duration

	// ServerTimeout closes the connection when nothing has been received
	// from the server for this long. Zero disables the check.
	// Default: 30 seconds.
	ServerTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// MaxMessageSize is the largest inbound WebSocket message accepted.
	// Default: protocol.MaxPayloadSize plus the frame header.
	MaxMessageSize int64

	// InboundBuffer is the capacity of the inbound invocation stream.
	// Default: 256.
	InboundBuffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:  15 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		ServerTimeout:     30 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    protocol.MaxPayloadSize + protocol.FrameHeaderSize,
		InboundBuffer:     256,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// withDefaults fills zero-valued limits. Timeouts that may legitimately be
// zero (KeepAliveInterval, ServerTimeout) are left alone.
func (c *Config) withDefaults() *Config {
	out := c.Clone()
	if out == nil {
		return DefaultConfig()
	}
	def := DefaultConfig()
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = def.MaxMessageSize
	}
	if out.InboundBuffer <= 0 {
		out.InboundBuffer = def.InboundBuffer
	}
	return out
}
