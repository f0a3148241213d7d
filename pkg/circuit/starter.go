package circuit

import (
	"context"
	"fmt"
)

// Starter asks the server to render the components registered for a
// circuit that were not part of the pre-rendered set. It reports false
// when there was nothing to render.
type Starter interface {
	StartRendering(ctx context.Context, circuitID string, conn *Connection) (bool, error)
}

// StarterFunc adapts a function to Starter.
type StarterFunc func(ctx context.Context, circuitID string, conn *Connection) (bool, error)

// StartRendering calls f.
func (f StarterFunc) StartRendering(ctx context.Context, circuitID string, conn *Connection) (bool, error) {
	return f(ctx, circuitID, conn)
}

// HubStarter starts rendering with the StartCircuit hub method.
type HubStarter struct{}

// StartRendering invokes StartCircuit(circuitID) on conn.
func (HubStarter) StartRendering(ctx context.Context, circuitID string, conn *Connection) (bool, error) {
	res, err := conn.Invoke(ctx, MethodStartCircuit, circuitID)
	if err != nil {
		return false, err
	}
	ok, isBool := res.(bool)
	if !isBool {
		return false, fmt.Errorf("circuit: %s returned %T, want bool", MethodStartCircuit, res)
	}
	return ok, nil
}
