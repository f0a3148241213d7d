package circuit

import "sync"

// Observer is notified when the circuit connection comes up or goes down.
//
// Callbacks run synchronously on the notifying goroutine, one observer at a
// time in registration order. A panicking observer is not recovered and
// aborts the rest of the pass. OnConnectionUp runs while the controller
// holds its reconnect lock, so it must not call Controller.Reconnect.
type Observer interface {
	// OnConnectionUp is called after a reconnect pass succeeded.
	OnConnectionUp()

	// OnConnectionDown is called when the current connection closed. err is
	// nil for a clean close.
	OnConnectionDown(err error)
}

// NopObserver implements Observer with empty methods. Embed it to
// implement only one callback.
type NopObserver struct{}

// OnConnectionUp does nothing.
func (NopObserver) OnConnectionUp() {}

// OnConnectionDown does nothing.
func (NopObserver) OnConnectionDown(error) {}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	Up   func()
	Down func(err error)
}

// OnConnectionUp calls Up if set.
func (o ObserverFuncs) OnConnectionUp() {
	if o.Up != nil {
		o.Up()
	}
}

// OnConnectionDown calls Down if set.
func (o ObserverFuncs) OnConnectionDown(err error) {
	if o.Down != nil {
		o.Down(err)
	}
}

// Observers is an ordered observer registry.
type Observers struct {
	mu   sync.RWMutex
	list []Observer
}

// Add appends o. Observers added during a notification pass are first
// notified on the next pass.
func (r *Observers) Add(o Observer) {
	if o == nil {
		return
	}
	r.mu.Lock()
	r.list = append(r.list, o)
	r.mu.Unlock()
}

// Len returns the number of registered observers.
func (r *Observers) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}

func (r *Observers) snapshot() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Observer(nil), r.list...)
}

// ConnectionUp notifies every observer in order.
func (r *Observers) ConnectionUp() {
	for _, o := range r.snapshot() {
		o.OnConnectionUp()
	}
}

// ConnectionDown notifies every observer in order.
func (r *Observers) ConnectionDown(err error) {
	for _, o := range r.snapshot() {
		o.OnConnectionDown(err)
	}
}
