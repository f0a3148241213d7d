package circuit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff names accepted by ReconnectPolicy.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
	BackoffFibonacci   = "fibonacci"
)

// ReconnectPolicy bounds automatic reconnection. The zero value makes a
// single attempt with no retries.
type ReconnectPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries uint64

	// Unlimited retries until a pass succeeds or the session fails.
	// MaxRetries is ignored when set.
	Unlimited bool

	// Backoff is one of BackoffConstant, BackoffExponential or
	// BackoffFibonacci.
	// Default: BackoffConstant.
	Backoff string

	// BaseDelay is the first wait between attempts.
	// Default: 1 second.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration

	// Jitter adds up to +/- this much to every wait.
	Jitter time.Duration
}

func (p ReconnectPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	var b retry.Backoff
	switch p.Backoff {
	case BackoffExponential:
		b = retry.NewExponential(base)
	case BackoffFibonacci:
		b = retry.NewFibonacci(base)
	default:
		b = retry.NewConstant(base)
	}

	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	if !p.Unlimited {
		b = retry.WithMaxRetries(p.MaxRetries, b)
	}
	return b
}

// Validate reports an unknown backoff name.
func (p ReconnectPolicy) Validate() error {
	switch p.Backoff {
	case "", BackoffConstant, BackoffExponential, BackoffFibonacci:
		return nil
	default:
		return errors.New("circuit: unknown reconnect backoff " + p.Backoff)
	}
}

// Reconnecter runs one reconnect pass.
type Reconnecter interface {
	Reconnect(ctx context.Context) bool
}

// ReconnecterFunc adapts a function to Reconnecter.
type ReconnecterFunc func(ctx context.Context) bool

// Reconnect calls f.
func (f ReconnecterFunc) Reconnect(ctx context.Context) bool { return f(ctx) }

var (
	errPassFailed = errors.New("circuit: reconnect pass failed")
	errSessionEnd = errors.New("circuit: session failed")

	errConnectionLost = errors.New("circuit: connection lost during reconnect")
)

// connectedChecker is implemented by reconnect targets that can tell
// whether their current connection is still open.
type connectedChecker interface {
	Connected() bool
}

// AutoReconnect is the observer that reconnects when the connection goes
// down. At most one retry loop runs at a time; a loop stops as soon as a
// pass succeeds, the session fails or the policy is exhausted. A drop
// reported while a loop runs starts another loop once it ends, unless the
// target reports its connection as open by then.
type AutoReconnect struct {
	NopObserver

	target Reconnecter
	state  *SessionState
	policy ReconnectPolicy
	logger *slog.Logger

	running atomic.Bool
	redo    atomic.Bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAutoReconnect creates the observer.
func NewAutoReconnect(target Reconnecter, state *SessionState, policy ReconnectPolicy, logger *slog.Logger) *AutoReconnect {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AutoReconnect{
		target: target,
		state:  state,
		policy: policy,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnConnectionDown starts a retry loop unless the session has failed. If a
// loop is already running the drop is remembered for when it ends.
func (a *AutoReconnect) OnConnectionDown(err error) {
	if a.state.RenderingFailed() || a.ctx.Err() != nil {
		return
	}
	// redo is set before the CAS so a loop that is just ending sees it.
	a.redo.Store(true)
	if !a.running.CompareAndSwap(false, true) {
		a.logger.Debug("reconnect in progress, another loop queued")
		return
	}
	a.wg.Add(1)
	go a.run(err)
}

func (a *AutoReconnect) run(cause error) {
	defer a.wg.Done()

	for {
		a.redo.Store(false)
		a.loop(cause)
		a.running.Store(false)

		if !a.redo.Swap(false) || a.state.RenderingFailed() || a.ctx.Err() != nil {
			return
		}
		if c, ok := a.target.(connectedChecker); ok && c.Connected() {
			a.logger.Debug("connection recovered, no further reconnect needed")
			return
		}
		if !a.running.CompareAndSwap(false, true) {
			// A newer drop started its own loop.
			return
		}
		cause = errConnectionLost
	}
}

func (a *AutoReconnect) loop(cause error) {
	a.logger.Info("connection down, reconnecting", "cause", cause)

	attempt := 0
	err := retry.Do(a.ctx, a.policy.backoff(), func(ctx context.Context) error {
		if a.state.RenderingFailed() {
			return errSessionEnd
		}
		attempt++
		// A pass in flight completes even if the loop is cancelled.
		if a.target.Reconnect(context.WithoutCancel(ctx)) {
			return nil
		}
		a.logger.Debug("reconnect attempt failed", "attempt", attempt)
		return retry.RetryableError(errPassFailed)
	})

	switch {
	case err == nil:
		a.logger.Info("reconnected", "attempts", attempt)
	case errors.Is(err, errSessionEnd):
		a.logger.Debug("reconnect abandoned, session failed")
	case a.ctx.Err() != nil:
		a.logger.Debug("reconnect cancelled")
	default:
		a.logger.Warn("reconnect attempts exhausted", "attempts", attempt)
	}
}

// Wait blocks until no retry loop is running.
func (a *AutoReconnect) Wait() {
	a.wg.Wait()
}

// Close cancels a running loop and prevents new ones.
func (a *AutoReconnect) Close() {
	a.cancel()
	a.wg.Wait()
}
