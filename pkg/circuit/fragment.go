package circuit

import (
	"context"
	"fmt"
)

// Hub methods used by the default fragment and starter.
const (
	// MethodConnectCircuit resyncs a pre-rendered circuit on a new
	// connection: ConnectCircuit(circuitId) -> bool.
	MethodConnectCircuit = "ConnectCircuit"

	// MethodStartCircuit asks the server to render components registered
	// for the circuit that were not pre-rendered: StartCircuit(circuitId) -> bool.
	MethodStartCircuit = "StartCircuit"
)

// Component is a piece of pre-rendered UI activated once a connection
// object exists.
type Component interface {
	Initialize()
}

// ComponentFunc adapts a function to Component.
type ComponentFunc func()

// Initialize calls f.
func (f ComponentFunc) Initialize() { f() }

// Fragment is pre-rendered UI that belongs to a server circuit.
type Fragment interface {
	// CircuitID returns the circuit the fragment was rendered for.
	CircuitID() string

	// Components returns the components to initialize at boot.
	Components() []Component

	// Reconnect resynchronizes the fragment with the server over conn. It
	// reports false when the server no longer knows the fragment.
	Reconnect(ctx context.Context, conn *Connection) (bool, error)
}

// FragmentSource discovers the fragments present at boot.
type FragmentSource interface {
	Discover(ctx context.Context) ([]Fragment, error)
}

// FragmentSourceFunc adapts a function to FragmentSource.
type FragmentSourceFunc func(ctx context.Context) ([]Fragment, error)

// Discover calls f.
func (f FragmentSourceFunc) Discover(ctx context.Context) ([]Fragment, error) { return f(ctx) }

// StaticFragments is a FragmentSource over a fixed list.
type StaticFragments []Fragment

// Discover returns the list.
func (s StaticFragments) Discover(context.Context) ([]Fragment, error) {
	return s, nil
}

// PrerenderedFragment is a fragment resynced with the ConnectCircuit hub
// method.
type PrerenderedFragment struct {
	ID    string
	Items []Component
}

// CircuitID returns f.ID.
func (f *PrerenderedFragment) CircuitID() string { return f.ID }

// Components returns f.Items.
func (f *PrerenderedFragment) Components() []Component { return f.Items }

// Reconnect invokes ConnectCircuit(f.ID) on conn.
func (f *PrerenderedFragment) Reconnect(ctx context.Context, conn *Connection) (bool, error) {
	res, err := conn.Invoke(ctx, MethodConnectCircuit, f.ID)
	if err != nil {
		return false, err
	}
	ok, isBool := res.(bool)
	if !isBool {
		return false, fmt.Errorf("circuit: %s returned %T, want bool", MethodConnectCircuit, res)
	}
	return ok, nil
}

// resolveCircuitID returns the single circuit id carried by fragments, or
// "" when there are none.
func resolveCircuitID(fragments []Fragment) (string, error) {
	var id string
	for i, f := range fragments {
		fid := f.CircuitID()
		if fid == "" {
			return "", fmt.Errorf("%w (fragment %d)", ErrInvalidFragment, i)
		}
		if id == "" {
			id = fid
			continue
		}
		if fid != id {
			return "", fmt.Errorf("%w: %q and %q", ErrMultipleCircuits, id, fid)
		}
	}
	return id, nil
}
