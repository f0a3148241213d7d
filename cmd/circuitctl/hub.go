package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/circuit/internal/config"
	"github.com/vango-dev/circuit/pkg/circuittest"
	"github.com/vango-dev/circuit/pkg/protocol"
	"github.com/vango-dev/circuit/pkg/renderqueue"
)

func hubCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		addr     string
		circuits []string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Serve a demo circuit hub",
		Long: `Serve an in-process circuit hub for trying out "circuitctl connect".

The hub issues circuit ids on /_blazor/start, accepts hub connections on
/_blazor and pushes a render batch to every connected client at a fixed
interval. After a reconnect it resumes from the last acknowledged batch.

Examples:
  circuitctl hub
  circuitctl hub --addr=:5000 --circuit=abc --interval=500ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Hub.Addr = addr
			}
			if interval > 0 {
				cfg.Hub.BatchInterval = interval.String()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHub(ctx, cfg, circuits)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().StringSliceVar(&circuits, "circuit", nil, "Circuit id to treat as pre-rendered (repeatable)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between render batches (default from config)")

	return cmd
}

// demoHub pushes batches to peers and tracks acknowledgments per circuit.
type demoHub struct {
	hub      *circuittest.Hub
	logger   *slog.Logger
	interval time.Duration

	mu    sync.Mutex
	acked map[string]int64
}

func runHub(ctx context.Context, cfg *config.Config, circuits []string) error {
	logger := cfg.Logger()
	interval := cfg.BatchInterval()
	if interval <= 0 {
		return fmt.Errorf("hub batch interval must be positive")
	}

	d := &demoHub{
		hub: circuittest.NewHub(&circuittest.Config{
			PingInterval: cfg.PingInterval(),
			Logger:       logger,
		}),
		logger:   logger,
		interval: interval,
		acked:    make(map[string]int64),
	}
	for _, id := range circuits {
		d.hub.RegisterCircuit(id)
	}

	srv := &http.Server{Addr: cfg.Hub.Addr, Handler: d.hub, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	success("Hub listening on http://%s/_blazor", cfg.Hub.Addr)

	go d.acceptLoop(ctx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	info("Shutting down")
	for _, p := range d.hub.Peers() {
		p.Drop()
	}
	shutdown(srv)
	return nil
}

func (d *demoHub) acceptLoop(ctx context.Context) {
	for {
		p, err := d.hub.Accept(ctx)
		if err != nil {
			return
		}
		info("Client connected to circuit %s", p.CircuitID)
		go d.serve(ctx, p)
	}
}

func (d *demoHub) serve(ctx context.Context, p *circuittest.Peer) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.send(gctx, p) })
	g.Go(func() error { return d.read(gctx, p) })
	err := g.Wait()
	if err != nil && !errors.Is(err, circuittest.ErrPeerClosed) && !errors.Is(err, context.Canceled) {
		d.logger.Warn("peer ended", "circuit_id", p.CircuitID, "error", err)
	}
	info("Client left circuit %s", p.CircuitID)
}

func (d *demoHub) send(ctx context.Context, p *circuittest.Peer) error {
	next := d.lastAcked(p.CircuitID) + 1

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Done():
			return circuittest.ErrPeerClosed
		case <-ticker.C:
		}

		data := []byte(fmt.Sprintf("batch %d at %s", next, time.Now().Format(time.TimeOnly)))
		if err := p.SendRenderBatch(1, next, data); err != nil {
			return err
		}
		next++
	}
}

func (d *demoHub) read(ctx context.Context, p *circuittest.Peer) error {
	for {
		inv, err := p.Next(ctx)
		if err != nil {
			return err
		}
		if inv.Target != renderqueue.AckTarget {
			d.logger.Info("client invocation", "circuit_id", p.CircuitID, "target", inv.Target)
			continue
		}

		batchID, err := protocol.Int64Arg(inv.Args, 0)
		if err != nil {
			d.logger.Warn("malformed acknowledgment", "error", err)
			continue
		}
		if msg, _ := protocol.StringArg(inv.Args, 1); msg != "" {
			warn("Circuit %s failed batch %d: %s", p.CircuitID, batchID, msg)
			continue
		}
		d.ack(p.CircuitID, batchID)
	}
}

func (d *demoHub) lastAcked(circuitID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.acked[circuitID]; ok {
		return n
	}
	return -1
}

func (d *demoHub) ack(circuitID string, batchID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.acked[circuitID]; !ok || batchID > n {
		d.acked[circuitID] = batchID
	}
}
