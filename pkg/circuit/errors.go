package circuit

import "errors"

// Configuration errors. These are the only errors Start returns; network
// and server failures are logged and move the controller to PhaseFailed.
var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("circuit: controller already started")

	// ErrMultipleCircuits is returned when discovered fragments carry more
	// than one distinct circuit id.
	ErrMultipleCircuits = errors.New("circuit: fragments belong to more than one circuit")

	// ErrInvalidFragment is returned for a fragment with an empty circuit id.
	ErrInvalidFragment = errors.New("circuit: fragment has no circuit id")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("circuit: invalid options")
)

// Runtime errors.
var (
	// ErrNoCircuitID is returned by a Creator whose response carried no id.
	ErrNoCircuitID = errors.New("circuit: creation response has no circuit id")

	// ErrNotStarted is returned by operations that need a connection before
	// Start has built one.
	ErrNotStarted = errors.New("circuit: controller not started")
)
