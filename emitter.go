package lnclient

import (
	"context"

	evbus "github.com/asaskevich/EventBus"
	eventloop "github.com/joeycumines/go-eventloop"
)

// Events emitted by a streaming [Call]. Only status, data, end and error
// are mapped to [Observable] notifications.
const (
	EventStatus   = `status`
	EventData     = `data`
	EventEnd      = `end`
	EventError    = `error`
	EventMetadata = `metadata`
)

type (
	// Call is the value returned synchronously by a raw streaming method.
	// Listeners registered before control returns to the event loop observe
	// every event.
	Call interface {
		On(event string, fn func(value any)) error
	}

	// Canceler may be implemented by a [Call], to stop the underlying
	// procedure. It is used by [Subscription.Unsubscribe].
	Canceler interface {
		Cancel()
	}

	// Emitter is a [Call] implementation, backed by an event bus. If it has
	// a loop, every event is published on the loop, in emission order.
	//
	// Listeners run while the bus is locked, and must not register further
	// listeners, or emit, synchronously.
	Emitter struct {
		bus    evbus.Bus
		loop   *eventloop.Loop
		cancel context.CancelFunc
	}
)

var (
	_ Call     = (*Emitter)(nil)
	_ Canceler = (*Emitter)(nil)
)

// NewEmitter returns an [Emitter] publishing on loop, or synchronously, if
// loop is nil.
func NewEmitter(loop *eventloop.Loop) *Emitter {
	return &Emitter{
		bus:  evbus.New(),
		loop: loop,
	}
}

// On registers fn as a listener for event.
func (x *Emitter) On(event string, fn func(value any)) error {
	return x.bus.Subscribe(event, fn)
}

// Emit publishes value to the listeners of event. The only error is
// returned if the loop has terminated.
func (x *Emitter) Emit(event string, value any) error {
	if x.loop == nil {
		x.bus.Publish(event, value)
		return nil
	}
	return x.loop.Submit(func() {
		x.bus.Publish(event, value)
	})
}

// Cancel stops the underlying procedure, if any. It is safe to call from
// any goroutine, and more than once.
func (x *Emitter) Cancel() {
	if x.cancel != nil {
		x.cancel()
	}
}
