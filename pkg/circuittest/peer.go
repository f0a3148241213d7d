package circuittest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/circuit/pkg/protocol"
)

// Server-pushed event names.
const (
	EventBeginInvokeJS = "JS.BeginInvokeJS"
	EventRenderBatch   = "JS.RenderBatch"
	EventError         = "JS.Error"
)

// ErrPeerClosed is returned when sending to or reading from a closed peer.
var ErrPeerClosed = errors.New("circuittest: peer closed")

// Peer is the server side of one client connection.
type Peer struct {
	// CircuitID is the circuitId query parameter the client connected with.
	CircuitID string

	// RequestURI is the path and query the client dialed.
	RequestURI string

	hub *Hub
	ws  *websocket.Conn

	writeMu sync.Mutex

	received  chan *protocol.Invocation
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the client connection has ended.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Next returns the next fire-and-forget invocation sent by the client, such
// as render acknowledgments or .NET interop calls.
func (p *Peer) Next(ctx context.Context) (*protocol.Invocation, error) {
	select {
	case inv, ok := <-p.received:
		if !ok {
			return nil, ErrPeerClosed
		}
		return inv, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NextTarget skips client invocations until one for target arrives.
func (p *Peer) NextTarget(ctx context.Context, target string) (*protocol.Invocation, error) {
	for {
		inv, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		if inv.Target == target {
			return inv, nil
		}
	}
}

// SendRenderBatch pushes JS.RenderBatch(rendererID, batchID, data).
func (p *Peer) SendRenderBatch(rendererID, batchID int64, data []byte) error {
	return p.Send(EventRenderBatch, rendererID, batchID, data)
}

// SendBeginInvokeJS pushes JS.BeginInvokeJS with args.
func (p *Peer) SendBeginInvokeJS(args ...any) error {
	return p.Send(EventBeginInvokeJS, args...)
}

// SendError pushes JS.Error(message).
func (p *Peer) SendError(message string) error {
	return p.Send(EventError, message)
}

// Send pushes an arbitrary non-blocking invocation to the client.
func (p *Peer) Send(target string, args ...any) error {
	frame, err := protocol.NewInvocationFrame(&protocol.Invocation{Target: target, Args: args})
	if err != nil {
		return err
	}
	return p.write(frame)
}

// SendClose sends a close frame and closes the connection.
func (p *Peer) SendClose(reason string, allowReconnect bool) error {
	frame := protocol.NewFrameWithFlags(protocol.FrameClose, protocol.FlagFinal,
		protocol.EncodeClose(&protocol.CloseMessage{Reason: reason, AllowReconnect: allowReconnect}))
	err := p.write(frame)
	p.close()
	return err
}

// Drop closes the underlying connection without a close frame, as a
// network failure would.
func (p *Peer) Drop() {
	p.close()
}

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.ws.Close()
	})
}

func (p *Peer) write(frame *protocol.Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	_ = p.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.ws.WriteMessage(websocket.BinaryMessage, frame.Encode())
}

func (p *Peer) readLoop() {
	defer close(p.received)
	defer p.close()

	for {
		_, msg, err := p.ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.DecodeFrame(msg)
		if err != nil {
			p.hub.logger.Error("frame decode error", "error", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameInvocation:
			inv, err := protocol.DecodeInvocation(frame.Payload)
			if err != nil {
				p.hub.logger.Error("invocation decode error", "error", err)
				continue
			}
			if inv.InvocationID != "" {
				p.reply(inv)
				continue
			}
			select {
			case p.received <- inv:
			default:
				p.hub.logger.Warn("received buffer full, dropping invocation", "target", inv.Target)
			}

		case protocol.FrameClose:
			return

		case protocol.FramePing:
		}
	}
}

func (p *Peer) reply(inv *protocol.Invocation) {
	payload, err := protocol.EncodeCompletion(p.hub.answer(inv))
	if err != nil {
		p.hub.logger.Error("completion encode error", "error", err)
		return
	}
	if err := p.write(protocol.NewFrame(protocol.FrameCompletion, payload)); err != nil {
		p.hub.logger.Debug("completion write failed", "error", err)
	}
}

func (p *Peer) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ping := protocol.NewFrame(protocol.FramePing,
				protocol.EncodePing(&protocol.Ping{Timestamp: uint64(time.Now().UnixMilli())}))
			if err := p.write(ping); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}
