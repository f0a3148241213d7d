package circuittest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/circuit/pkg/protocol"
)

// Hub method names answered by the test hub.
const (
	MethodConnectCircuit = "ConnectCircuit"
	MethodStartCircuit   = "StartCircuit"
)

// Config configures a Hub.
type Config struct {
	// ServicePath is the hub endpoint; the creation endpoint is
	// ServicePath + "/start".
	// Default: "/_blazor".
	ServicePath string

	// PingInterval is the time between server pings. Zero disables them.
	PingInterval time.Duration

	// HandshakeError, when set, makes every handshake fail with this reason.
	HandshakeError string

	// ConnectCircuit answers fragment resync calls.
	// Default: true when the circuit id is known to the hub.
	ConnectCircuit func(circuitID string) bool

	// StartCircuit answers start-rendering calls.
	// Default: true.
	StartCircuit func(circuitID string) bool

	// Logger receives hub logs.
	// Default: slog.Default().
	Logger *slog.Logger
}

// Hub is an in-process circuit server: it issues circuit ids, accepts hub
// connections, answers resync and start calls, and lets callers push
// server events to each connected Peer.
type Hub struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	mu         sync.Mutex
	circuits   map[string]bool
	startCalls int
	peers      []*Peer

	accepted chan *Peer
}

// NewHub creates a hub. A nil config uses defaults.
func NewHub(cfg *Config) *Hub {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.ServicePath == "" {
		c.ServicePath = "/_blazor"
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		config: c,
		logger: logger.With("component", "hub"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		circuits: make(map[string]bool),
		accepted: make(chan *Peer, 64),
	}

	r := chi.NewRouter()
	r.Get(c.ServicePath+"/start", h.handleStart)
	r.Get(c.ServicePath, h.handleConnect)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// RegisterCircuit marks id as known, as if the server had pre-rendered it.
func (h *Hub) RegisterCircuit(id string) {
	h.mu.Lock()
	h.circuits[id] = true
	h.mu.Unlock()
}

// HasCircuit reports whether id was registered or created.
func (h *Hub) HasCircuit(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.circuits[id]
}

// StartCalls returns how many times the creation endpoint was hit.
func (h *Hub) StartCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startCalls
}

// Peers returns every connection accepted so far, oldest first.
func (h *Hub) Peers() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Peer(nil), h.peers...)
}

// Accept waits for the next connection that completed its handshake.
func (h *Hub) Accept(ctx context.Context) (*Peer, error) {
	select {
	case p := <-h.accepted:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) handleStart(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()

	h.mu.Lock()
	h.startCalls++
	h.circuits[id] = true
	h.mu.Unlock()

	h.logger.Debug("circuit created", "circuit_id", id)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (h *Hub) handleConnect(w http.ResponseWriter, r *http.Request) {
	circuitID := r.URL.Query().Get("circuitId")
	if circuitID == "" {
		http.Error(w, "missing circuitId", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", "error", err)
		return
	}

	if err := h.handshake(ws); err != nil {
		h.logger.Warn("handshake failed", "circuit_id", circuitID, "error", err)
		_ = ws.Close()
		return
	}

	p := &Peer{
		CircuitID:  circuitID,
		RequestURI: r.URL.RequestURI(),
		hub:        h,
		ws:         ws,
		received:   make(chan *protocol.Invocation, 1024),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	h.peers = append(h.peers, p)
	h.mu.Unlock()

	go p.readLoop()
	if h.config.PingInterval > 0 {
		go p.pingLoop(h.config.PingInterval)
	}

	select {
	case h.accepted <- p:
	default:
		h.logger.Warn("accept backlog full, peer not queued", "circuit_id", circuitID)
	}
}

var errHandshakeRejected = errors.New("circuittest: handshake rejected")

func (h *Hub) handshake(ws *websocket.Conn) error {
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return err
	}
	_ = ws.SetReadDeadline(time.Time{})

	frame, err := protocol.DecodeFrame(msg)
	if err != nil {
		return err
	}
	if frame.Type != protocol.FrameHandshake {
		return errHandshakeRejected
	}
	req, err := protocol.DecodeHandshakeRequest(frame.Payload)
	if err != nil {
		return err
	}

	reason := h.config.HandshakeError
	if reason == "" && req.Protocol != protocol.ProtocolName {
		reason = "unsupported protocol " + req.Protocol
	}
	resp := protocol.NewFrame(protocol.FrameHandshake,
		protocol.EncodeHandshakeResponse(&protocol.HandshakeResponse{Error: reason}))
	if err := ws.WriteMessage(websocket.BinaryMessage, resp.Encode()); err != nil {
		return err
	}
	if reason != "" {
		return errHandshakeRejected
	}
	return nil
}

// answer resolves a blocking invocation from a client.
func (h *Hub) answer(inv *protocol.Invocation) *protocol.Completion {
	comp := &protocol.Completion{InvocationID: inv.InvocationID}
	circuitID, _ := protocol.StringArg(inv.Args, 0)

	switch inv.Target {
	case MethodConnectCircuit:
		ok := h.HasCircuit(circuitID)
		if h.config.ConnectCircuit != nil {
			ok = h.config.ConnectCircuit(circuitID)
		}
		comp.HasResult, comp.Result = true, ok
	case MethodStartCircuit:
		ok := true
		if h.config.StartCircuit != nil {
			ok = h.config.StartCircuit(circuitID)
		}
		comp.HasResult, comp.Result = true, ok
	default:
		comp.Error = "unknown hub method " + inv.Target
	}
	return comp
}
