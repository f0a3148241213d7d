package circuit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-dev/circuit/pkg/circuittest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// eventLog is a goroutine-safe list of strings.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	l.events = append(l.events, s)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) count(s string) int {
	n := 0
	for _, e := range l.snapshot() {
		if e == s {
			n++
		}
	}
	return n
}

// recorder is an Observer writing "up" and "down" to a log.
type recorder struct {
	eventLog

	errMu    sync.Mutex
	downErrs []error
}

func (r *recorder) OnConnectionUp() { r.add("up") }

func (r *recorder) OnConnectionDown(err error) {
	r.errMu.Lock()
	r.downErrs = append(r.downErrs, err)
	r.errMu.Unlock()
	r.add("down")
}

// sharedRecorder logs into an existing eventLog.
type sharedRecorder struct {
	NopObserver
	log *eventLog
}

func (r sharedRecorder) OnConnectionUp() { r.log.add("up") }

// fakeFragment resyncs with a settable result.
type fakeFragment struct {
	id    string
	ok    atomic.Bool
	calls atomic.Int32
	log   *eventLog
}

func newFakeFragment(id string, ok bool) *fakeFragment {
	f := &fakeFragment{id: id}
	f.ok.Store(ok)
	return f
}

func (f *fakeFragment) CircuitID() string       { return f.id }
func (f *fakeFragment) Components() []Component { return nil }

func (f *fakeFragment) Reconnect(context.Context, *Connection) (bool, error) {
	f.calls.Add(1)
	if f.log != nil {
		f.log.add("resync")
	}
	return f.ok.Load(), nil
}

// batchLog is a render applier recording batch ids.
type batchLog struct {
	mu  sync.Mutex
	ids []int64
}

func (b *batchLog) ApplyBatch(_, batchID int64, _ []byte) error {
	b.mu.Lock()
	b.ids = append(b.ids, batchID)
	b.mu.Unlock()
	return nil
}

func (b *batchLog) snapshot() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.ids...)
}

func newController(t *testing.T, srv *circuittest.Server, opts Options) *Controller {
	t.Helper()
	if opts.BaseURL == "" {
		opts.BaseURL = srv.URL
	}
	if opts.Logger == nil {
		opts.Logger = discard
	}
	ctrl, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl
}

func startController(t *testing.T, ctrl *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func accept(t *testing.T, srv *circuittest.Server) *circuittest.Peer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := srv.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	return p
}

func expectNoPeer(t *testing.T, srv *circuittest.Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if p, err := srv.Accept(ctx); err == nil {
		t.Fatalf("unexpected connection for circuit %q", p.CircuitID)
	}
}

func nextAck(t *testing.T, p *circuittest.Peer) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inv, err := p.NextTarget(ctx, "OnRenderCompleted")
	if err != nil {
		t.Fatalf("waiting for ack: %v", err)
	}
	id, _ := inv.Args[0].(int64)
	return id
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
