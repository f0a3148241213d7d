package channel

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/circuit/pkg/protocol"
)

// Builder assembles a Conn. Hosts customize transport options through it
// before Build is called.
type Builder struct {
	url      string
	protocol string
	header   http.Header
	dialer   *websocket.Dialer
	config   *Config
	logger   *slog.Logger
}

// NewBuilder returns a builder for the hub at rawURL. http(s) URLs are
// dialed as ws(s).
func NewBuilder(rawURL string) *Builder {
	return &Builder{
		url:      rawURL,
		protocol: protocol.ProtocolName,
		header:   http.Header{},
		config:   DefaultConfig(),
	}
}

// URL returns the hub URL the built connection will dial.
func (b *Builder) URL() string { return b.url }

// Protocol returns the protocol name sent in the handshake.
func (b *Builder) Protocol() string { return b.protocol }

// Config returns the transport config; callers may modify it in place
// before Build.
func (b *Builder) Config() *Config { return b.config }

// WithURL replaces the hub URL.
func (b *Builder) WithURL(rawURL string) *Builder {
	b.url = rawURL
	return b
}

// WithProtocol sets the protocol name sent in the handshake.
func (b *Builder) WithProtocol(name string) *Builder {
	b.protocol = name
	return b
}

// WithHeader adds a request header sent with the WebSocket upgrade.
func (b *Builder) WithHeader(key, value string) *Builder {
	b.header.Add(key, value)
	return b
}

// WithDialer sets the WebSocket dialer.
// Default: a copy of websocket.DefaultDialer.
func (b *Builder) WithDialer(d *websocket.Dialer) *Builder {
	b.dialer = d
	return b
}

// WithConfig replaces the transport config.
func (b *Builder) WithConfig(c *Config) *Builder {
	b.config = c
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Build returns an unstarted Conn.
func (b *Builder) Build() *Conn {
	cfg := b.config.withDefaults()

	dialer := b.dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Conn{
		url:      b.url,
		protocol: b.protocol,
		header:   b.header.Clone(),
		dialer:   dialer,
		config:   cfg,
		logger:   logger.With("component", "channel"),
		inbound:  make(chan *protocol.Invocation, cfg.InboundBuffer),
		pending:  make(map[string]chan *protocol.Completion),
		done:     make(chan struct{}),
	}
}
