package circuit

import "sync/atomic"

// SessionState holds the two session-lifetime flags shared by the
// controller, the connection factory and lifecycle observers.
//
// Both flags only ever go from false to true.
type SessionState struct {
	started atomic.Bool
	failed  atomic.Bool
}

// MarkStarted sets the Started flag. It reports whether this call set it,
// so exactly one caller wins.
func (s *SessionState) MarkStarted() bool {
	return s.started.CompareAndSwap(false, true)
}

// Started reports whether boot has begun.
func (s *SessionState) Started() bool {
	return s.started.Load()
}

// MarkFailed sets the RenderingFailed flag. It reports whether this call
// set it.
func (s *SessionState) MarkFailed() bool {
	return s.failed.CompareAndSwap(false, true)
}

// RenderingFailed reports whether the session has failed terminally.
func (s *SessionState) RenderingFailed() bool {
	return s.failed.Load()
}
