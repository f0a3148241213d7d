package circuit

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-dev/circuit/pkg/circuittest"
	"github.com/vango-dev/circuit/pkg/interop"
	"github.com/vango-dev/circuit/pkg/renderqueue"
)

func TestStartWithPrerenderedFragment(t *testing.T) {
	var startCircuit atomic.Int32
	srv := circuittest.NewServer(t, &circuittest.Config{
		StartCircuit: func(string) bool { startCircuit.Add(1); return true },
	})
	srv.RegisterCircuit("abc")

	initialized := 0
	frag := &PrerenderedFragment{
		ID:    "abc",
		Items: []Component{ComponentFunc(func() { initialized++ })},
	}
	rec := &recorder{}
	ctrl := newController(t, srv, Options{
		Fragments: StaticFragments{frag},
		Observers: []Observer{rec},
	})

	startController(t, ctrl)

	peer := accept(t, srv)
	if peer.CircuitID != "abc" {
		t.Errorf("connected circuit = %q, want abc", peer.CircuitID)
	}
	if srv.StartCalls() != 0 {
		t.Errorf("creation endpoint called %d times for a pre-rendered circuit", srv.StartCalls())
	}
	if initialized != 1 {
		t.Errorf("component initialized %d times, want 1", initialized)
	}
	if got := rec.snapshot(); !reflect.DeepEqual(got, []string{"up"}) {
		t.Errorf("observer events = %v, want [up]", got)
	}
	if startCircuit.Load() != 1 {
		t.Errorf("StartCircuit called %d times, want 1", startCircuit.Load())
	}

	st := ctrl.Status()
	if st.Phase != PhaseServing || st.CircuitID != "abc" || !st.Connected || st.Attempt != 0 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestStartCreatesCircuitOnce(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	ctrl := newController(t, srv, Options{})

	startController(t, ctrl)

	if srv.StartCalls() != 1 {
		t.Fatalf("creation endpoint called %d times, want 1", srv.StartCalls())
	}
	id := ctrl.CircuitID()
	if !srv.HasCircuit(id) {
		t.Fatalf("circuit id %q was not issued by the server", id)
	}
	if got, want := ctrl.Connection().URL(), srv.ServiceURL()+"?circuitId="+id; got != want {
		t.Errorf("connection URL = %q, want %q", got, want)
	}
	if peer := accept(t, srv); peer.CircuitID != id {
		t.Errorf("peer circuit = %q, want %q", peer.CircuitID, id)
	}
}

func TestStartUsesCreatedID(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	var calls atomic.Int32
	ctrl := newController(t, srv, Options{
		Creator: CreatorFunc(func(context.Context) (string, error) {
			calls.Add(1)
			return "xyz", nil
		}),
	})

	startController(t, ctrl)

	if calls.Load() != 1 {
		t.Errorf("creator called %d times, want 1", calls.Load())
	}
	if got, want := ctrl.Connection().URL(), srv.ServiceURL()+"?circuitId=xyz"; got != want {
		t.Errorf("connection URL = %q, want %q", got, want)
	}
	if peer := accept(t, srv); peer.RequestURI != "/_blazor?circuitId=xyz" {
		t.Errorf("dialed %q", peer.RequestURI)
	}
}

func TestStartTwiceFails(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	ctrl := newController(t, srv, Options{})

	startController(t, ctrl)
	accept(t, srv)

	for i := 0; i < 2; i++ {
		if err := ctrl.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
			t.Fatalf("Start() #%d = %v, want ErrAlreadyStarted", i+2, err)
		}
	}
	expectNoPeer(t, srv)
	if srv.StartCalls() != 1 {
		t.Errorf("creation endpoint called %d times, want 1", srv.StartCalls())
	}
}

func TestMultipleCircuitsAbortBeforeNetwork(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	ctrl := newController(t, srv, Options{
		Fragments: StaticFragments{newFakeFragment("a", true), newFakeFragment("b", true)},
		Creator: CreatorFunc(func(context.Context) (string, error) {
			t.Error("creator called")
			return "", errors.New("unexpected")
		}),
	})

	err := ctrl.Start(context.Background())
	if !errors.Is(err, ErrMultipleCircuits) {
		t.Fatalf("Start() = %v, want ErrMultipleCircuits", err)
	}
	if ctrl.Connection() != nil {
		t.Error("a connection was built")
	}
	expectNoPeer(t, srv)
	if srv.StartCalls() != 0 {
		t.Errorf("creation endpoint called %d times", srv.StartCalls())
	}
	if ctrl.State().RenderingFailed() {
		t.Error("configuration error set RenderingFailed")
	}
}

func TestStartInvalidFragment(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	ctrl := newController(t, srv, Options{
		Fragments: StaticFragments{newFakeFragment("", true)},
	})
	if err := ctrl.Start(context.Background()); !errors.Is(err, ErrInvalidFragment) {
		t.Fatalf("Start() = %v, want ErrInvalidFragment", err)
	}
	expectNoPeer(t, srv)
}

func TestConfigurationErrorCancelsBootLoader(t *testing.T) {
	tests := []struct {
		name      string
		fragments FragmentSource
		want      error
	}{
		{"multiple circuits", StaticFragments{newFakeFragment("a", true), newFakeFragment("b", true)}, ErrMultipleCircuits},
		{"invalid fragment", StaticFragments{newFakeFragment("", true)}, ErrInvalidFragment},
		{"discovery failure", FragmentSourceFunc(func(context.Context) ([]Fragment, error) {
			return nil, errors.New("dom unavailable")
		}), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := circuittest.NewServer(t, nil)
			cancelled := make(chan struct{})
			ctrl := newController(t, srv, Options{
				Fragments: tc.fragments,
				BootLoader: BootLoaderFunc(func(ctx context.Context) error {
					<-ctx.Done()
					close(cancelled)
					return ctx.Err()
				}),
			})

			err := ctrl.Start(context.Background())
			if err == nil || (tc.want != nil && !errors.Is(err, tc.want)) {
				t.Fatalf("Start() = %v, want %v", err, tc.want)
			}
			select {
			case <-cancelled:
			case <-time.After(5 * time.Second):
				t.Fatal("boot loader still running after Start returned")
			}
		})
	}
}

func TestStartDiscoveryRunsWithBootLoader(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	srv.RegisterCircuit("abc")

	discovered := make(chan struct{})
	ctrl := newController(t, srv, Options{
		Fragments: FragmentSourceFunc(func(context.Context) ([]Fragment, error) {
			close(discovered)
			return []Fragment{&PrerenderedFragment{ID: "abc"}}, nil
		}),
		BootLoader: BootLoaderFunc(func(ctx context.Context) error {
			select {
			case <-discovered:
				return nil
			case <-time.After(5 * time.Second):
				return errors.New("discovery did not run while loading")
			}
		}),
	})

	startController(t, ctrl)
	if ctrl.Status().Phase != PhaseServing {
		t.Fatalf("Status() = %+v", ctrl.Status())
	}
}

func TestBootLoaderFailureIsFatal(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	rec := &recorder{}
	ctrl := newController(t, srv, Options{
		Observers:  []Observer{rec},
		BootLoader: BootLoaderFunc(func(context.Context) error { return errors.New("missing resource") }),
	})

	startController(t, ctrl)

	peer := accept(t, srv)
	select {
	case <-peer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection not stopped after boot failure")
	}
	if ctrl.Status().Phase != PhaseFailed {
		t.Errorf("phase = %v, want failed", ctrl.Status().Phase)
	}
	time.Sleep(100 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("observer events = %v, want none", got)
	}
}

func TestConnectionStartFailureIsFatal(t *testing.T) {
	srv := circuittest.NewServer(t, &circuittest.Config{HandshakeError: "unsupported"})
	rec := &recorder{}
	ctrl := newController(t, srv, Options{Observers: []Observer{rec}})

	startController(t, ctrl)

	if !ctrl.State().RenderingFailed() {
		t.Fatal("RenderingFailed not set after failed start")
	}
	if ctrl.Status().Phase != PhaseFailed {
		t.Errorf("phase = %v, want failed", ctrl.Status().Phase)
	}
	if ctrl.Connection() == nil {
		t.Error("no connection returned for a failed start")
	}
	if ctrl.Reconnect(context.Background()) {
		t.Error("Reconnect() = true after failure")
	}
	time.Sleep(100 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("observer events = %v, want none", got)
	}
}

func TestNoConnectionDownAfterServerError(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	srv.RegisterCircuit("abc")
	rec := &recorder{}
	ctrl := newController(t, srv, Options{
		Fragments: StaticFragments{&PrerenderedFragment{ID: "abc"}},
		Observers: []Observer{rec},
	})
	startController(t, ctrl)
	peer := accept(t, srv)

	if err := peer.SendError("circuit terminated"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "RenderingFailed", ctrl.State().RenderingFailed)
	select {
	case <-ctrl.Connection().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection not stopped after JS.Error")
	}
	select {
	case <-peer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not see the close")
	}
	time.Sleep(100 * time.Millisecond)

	if got := rec.snapshot(); !reflect.DeepEqual(got, []string{"up"}) {
		t.Errorf("observer events = %v, want [up]", got)
	}
	if ctrl.Reconnect(context.Background()) {
		t.Error("Reconnect() = true after failure")
	}
	expectNoPeer(t, srv)
	if ctrl.Status().Phase != PhaseFailed {
		t.Errorf("phase = %v, want failed", ctrl.Status().Phase)
	}
}

func TestReconnectFailsIfAnyFragmentFails(t *testing.T) {
	var startCircuit atomic.Int32
	srv := circuittest.NewServer(t, &circuittest.Config{
		StartCircuit: func(string) bool { startCircuit.Add(1); return false },
	})
	frags := []*fakeFragment{
		newFakeFragment("abc", true),
		newFakeFragment("abc", false),
		newFakeFragment("abc", true),
	}
	rec := &recorder{}
	ctrl := newController(t, srv, Options{
		Fragments:            StaticFragments{frags[0], frags[1], frags[2]},
		Observers:            []Observer{rec},
		DisableAutoReconnect: true,
	})

	startController(t, ctrl)

	for i, f := range frags {
		if f.calls.Load() != 1 {
			t.Errorf("fragment %d resynced %d times, want 1", i, f.calls.Load())
		}
	}
	if st := ctrl.Status(); st.Phase != PhaseConnecting || st.Attempt != 1 {
		t.Errorf("Status() after failed initial pass = %+v", st)
	}

	if ctrl.Reconnect(context.Background()) {
		t.Fatal("Reconnect() = true with a failing fragment")
	}
	for i, f := range frags {
		if f.calls.Load() != 2 {
			t.Errorf("fragment %d resynced %d times, want 2", i, f.calls.Load())
		}
	}
	if st := ctrl.Status(); st.Phase != PhaseReconnecting || st.Attempt != 2 {
		t.Errorf("Status() after failed reconnect = %+v", st)
	}
	if rec.count("up") != 0 {
		t.Error("OnConnectionUp called for a failed pass")
	}
	if startCircuit.Load() != 0 {
		t.Error("rendering started before a successful pass")
	}

	frags[1].ok.Store(true)
	if !ctrl.Reconnect(context.Background()) {
		t.Fatal("Reconnect() = false with every fragment succeeding")
	}
	if got := rec.snapshot(); !reflect.DeepEqual(got, []string{"up"}) {
		t.Errorf("observer events = %v, want [up]", got)
	}
	if st := ctrl.Status(); st.Phase != PhaseServing || st.Attempt != 0 {
		t.Errorf("Status() after success = %+v", st)
	}
	// StartCircuit answering false is not a failure.
	if startCircuit.Load() != 1 || ctrl.State().RenderingFailed() {
		t.Errorf("StartCircuit calls = %d, failed = %v", startCircuit.Load(), ctrl.State().RenderingFailed())
	}
	if n := len(srv.Peers()); n != 3 {
		t.Errorf("connections = %d, want 3", n)
	}
}

func TestConnectionUpAfterResync(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	log := &eventLog{}
	f1, f2 := newFakeFragment("abc", true), newFakeFragment("abc", true)
	f1.log, f2.log = log, log

	ctrl := newController(t, srv, Options{
		Fragments: StaticFragments{f1, f2},
		Observers: []Observer{sharedRecorder{log: log}},
	})
	startController(t, ctrl)

	want := []string{"resync", "resync", "up"}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestLazyQueueCreatedOnce(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	srv.RegisterCircuit("abc")

	applied := &batchLog{}
	var created atomic.Int32
	ctrl := newController(t, srv, Options{
		Fragments: StaticFragments{&PrerenderedFragment{ID: "abc"}},
		Queues: func(rendererID int64) renderqueue.Queue {
			created.Add(1)
			return renderqueue.New(rendererID, applied, renderqueue.WithLogger(discard))
		},
	})
	startController(t, ctrl)
	peer := accept(t, srv)

	if _, ok := ctrl.Router().Queue(1); ok {
		t.Fatal("queue exists before the first batch")
	}

	if err := peer.SendRenderBatch(1, 1, []byte("second")); err != nil {
		t.Fatal(err)
	}
	if err := peer.SendRenderBatch(1, 0, []byte("first")); err != nil {
		t.Fatal(err)
	}

	if a, b := nextAck(t, peer), nextAck(t, peer); a != 0 || b != 1 {
		t.Errorf("acks = %d, %d, want 0, 1", a, b)
	}
	if got := applied.snapshot(); !reflect.DeepEqual(got, []int64{0, 1}) {
		t.Errorf("applied = %v, want [0 1]", got)
	}
	if created.Load() != 1 || ctrl.Router().Len() != 1 {
		t.Errorf("queues created = %d, router size = %d, want 1", created.Load(), ctrl.Router().Len())
	}
}

func TestBatchOrderAcrossReconnect(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	srv.RegisterCircuit("abc")

	applied := &batchLog{}
	ctrl := newController(t, srv, Options{
		Fragments:            StaticFragments{&PrerenderedFragment{ID: "abc"}},
		Applier:              applied,
		DisableAutoReconnect: true,
	})
	startController(t, ctrl)
	first := accept(t, srv)

	if err := first.SendRenderBatch(1, 0, nil); err != nil {
		t.Fatal(err)
	}
	if id := nextAck(t, first); id != 0 {
		t.Fatalf("ack = %d, want 0", id)
	}

	if !ctrl.Reconnect(context.Background()) {
		t.Fatal("Reconnect() = false")
	}
	second := accept(t, srv)
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("replaced connection was not stopped")
	}

	// Batch 2 overtakes batch 1 on the new connection.
	if err := second.SendRenderBatch(1, 2, nil); err != nil {
		t.Fatal(err)
	}
	if err := second.SendRenderBatch(1, 1, nil); err != nil {
		t.Fatal(err)
	}
	if a, b := nextAck(t, second), nextAck(t, second); a != 1 || b != 2 {
		t.Errorf("acks = %d, %d, want 1, 2", a, b)
	}
	if got := applied.snapshot(); !reflect.DeepEqual(got, []int64{0, 1, 2}) {
		t.Errorf("applied = %v, want [0 1 2]", got)
	}
}

func TestAutoReconnectAfterDrop(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	srv.RegisterCircuit("abc")
	rec := &recorder{}
	ctrl := newController(t, srv, Options{
		Fragments: StaticFragments{&PrerenderedFragment{ID: "abc"}},
		Observers: []Observer{rec},
	})
	startController(t, ctrl)
	first := accept(t, srv)

	first.Drop()

	second := accept(t, srv)
	if second.CircuitID != "abc" {
		t.Errorf("reconnected to %q, want abc", second.CircuitID)
	}
	waitFor(t, "second OnConnectionUp", func() bool { return rec.count("up") == 2 })
	if rec.count("down") != 1 {
		t.Errorf("down notifications = %d, want 1", rec.count("down"))
	}
	if rec.downErrs[0] == nil {
		t.Error("abrupt drop reported without an error")
	}
	if st := ctrl.Status(); st.Phase != PhaseServing || !st.Connected {
		t.Errorf("Status() = %+v", st)
	}
}

func TestAutoReconnectAfterDropDuringReconnect(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	srv.RegisterCircuit("abc")

	var ups, downs atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	host := ObserverFuncs{
		Up: func() {
			if ups.Add(1) == 2 {
				close(entered)
				<-release
			}
		},
		Down: func(error) { downs.Add(1) },
	}
	ctrl := newController(t, srv, Options{
		Fragments: StaticFragments{&PrerenderedFragment{ID: "abc"}},
		Observers: []Observer{host},
	})
	startController(t, ctrl)
	first := accept(t, srv)

	first.Drop()
	second := accept(t, srv)
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the reconnect pass to report up")
	}

	// The connection built by the running pass drops before the pass ends.
	second.Drop()
	waitFor(t, "second down", func() bool { return downs.Load() == 2 })
	close(release)

	third := accept(t, srv)
	if third.CircuitID != "abc" {
		t.Errorf("reconnected to %q, want abc", third.CircuitID)
	}
	waitFor(t, "third OnConnectionUp", func() bool { return ups.Load() == 3 })
	if st := ctrl.Status(); st.Phase != PhaseServing || !st.Connected {
		t.Errorf("Status() = %+v", st)
	}
}

func TestForceCloseConnection(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	rec := &recorder{}
	ctrl := newController(t, srv, Options{
		Observers:            []Observer{rec},
		DisableAutoReconnect: true,
	})

	if err := ctrl.ForceCloseConnection(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("ForceCloseConnection() before Start = %v, want ErrNotStarted", err)
	}

	startController(t, ctrl)
	accept(t, srv)

	if err := ctrl.ForceCloseConnection(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "OnConnectionDown", func() bool { return rec.count("down") == 1 })
	if rec.downErrs[0] != nil {
		t.Errorf("forced close reported error %v", rec.downErrs[0])
	}
	if ctrl.Status().Phase != PhaseDisconnected {
		t.Errorf("phase = %v, want disconnected", ctrl.Status().Phase)
	}
}

func TestCloseSuppressesNotifications(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	rec := &recorder{}
	ctrl := newController(t, srv, Options{Observers: []Observer{rec}})
	startController(t, ctrl)
	peer := accept(t, srv)

	if err := ctrl.Close(); err != nil {
		t.Fatal(err)
	}
	<-peer.Done()
	time.Sleep(100 * time.Millisecond)

	if rec.count("down") != 0 {
		t.Error("Close notified OnConnectionDown")
	}
	if ctrl.Reconnect(context.Background()) {
		t.Error("Reconnect() = true after Close")
	}
	expectNoPeer(t, srv)
}

func TestStartRenderingErrorIsFatal(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	ctrl := newController(t, srv, Options{
		Starter: StarterFunc(func(context.Context, string, *Connection) (bool, error) {
			return false, errors.New("rejected")
		}),
	})
	startController(t, ctrl)
	if ctrl.Status().Phase != PhaseFailed {
		t.Errorf("phase = %v, want failed", ctrl.Status().Phase)
	}
}

func TestInterop(t *testing.T) {
	srv := circuittest.NewServer(t, nil)
	got := make(chan []any, 1)
	ctrl := newController(t, srv, Options{
		Interop: interop.HandlerFunc(func(_ context.Context, args []any) { got <- args }),
	})
	startController(t, ctrl)
	peer := accept(t, srv)

	if err := peer.SendBeginInvokeJS(int64(4), "window.alert", "[\"hi\"]", int64(0), int64(0)); err != nil {
		t.Fatal(err)
	}
	select {
	case args := <-got:
		want := []any{int64(4), "window.alert", "[\"hi\"]", int64(0), int64(0)}
		if !reflect.DeepEqual(args, want) {
			t.Errorf("handler args = %#v, want %#v", args, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("JS.BeginInvokeJS not dispatched")
	}

	err := ctrl.Dispatcher().BeginInvokeDotNet(context.Background(), interop.DotNetCall{
		MethodIdentifier: "OnClick",
		DotNetObjectID:   9,
		ArgsJSON:         "[]",
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inv, err := peer.NextTarget(ctx, interop.TargetBeginInvokeDotNet)
	if err != nil {
		t.Fatal(err)
	}
	want := []any{nil, nil, "OnClick", int64(9), "[]"}
	if !reflect.DeepEqual(inv.Args, want) {
		t.Errorf("outbound args = %#v, want %#v", inv.Args, want)
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseReconnecting.String() != "reconnecting" || Phase(42).String() != "unknown" {
		t.Fatal("unexpected Phase strings")
	}
}
