package lnclient

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
)

// UpdateKind identifies the raw event an [Update] was mapped from.
type UpdateKind int

const (
	// UpdateStatus is mapped from the status event.
	UpdateStatus UpdateKind = iota + 1
	// UpdateData is mapped from the data event.
	UpdateData
)

func (x UpdateKind) String() string {
	switch x {
	case UpdateStatus:
		return `status`
	case UpdateData:
		return `data`
	default:
		return fmt.Sprintf(`UpdateKind(%d)`, int(x))
	}
}

// Update is the value of a next notification. Exactly one of Status or Data
// is meaningful, per Kind.
type Update struct {
	Kind   UpdateKind
	Status any
	Data   any
}

// Observer receives the notifications of an [Observable], on the event
// loop. Any of the fields may be nil.
type Observer struct {
	Next     func(update Update)
	Error    func(err error)
	Complete func()
}

// ObservableState is the lifecycle state of an [Observable].
type ObservableState int32

const (
	// ObservableCreated is the initial state, before [Observable.Subscribe].
	ObservableCreated ObservableState = iota
	// ObservableActive indicates subscribed, with the sequence still open.
	ObservableActive
	// ObservableCompleted indicates the raw call ended successfully.
	ObservableCompleted
	// ObservableErrored indicates the sequence terminated with an error.
	ObservableErrored
	// ObservableUnsubscribed indicates [Subscription.Unsubscribe] was called
	// before the sequence terminated.
	ObservableUnsubscribed
)

func (x ObservableState) String() string {
	switch x {
	case ObservableCreated:
		return `created`
	case ObservableActive:
		return `active`
	case ObservableCompleted:
		return `completed`
	case ObservableErrored:
		return `errored`
	case ObservableUnsubscribed:
		return `unsubscribed`
	default:
		return fmt.Sprintf(`ObservableState(%d)`, int32(x))
	}
}

// Observable is a cold, single-shot push sequence, adapting one streaming
// call. The raw method is not invoked until [Observable.Subscribe].
//
// Raw events map 1:1, in order: status to Next with [UpdateStatus], data to
// Next with [UpdateData], end to Complete, and error to Error. A failure
// invoking the raw method, or a panic while handling an event, including
// within the observer, also terminates with Error. Once terminal, nothing
// further is delivered.
type Observable struct {
	loop     *eventloop.Loop
	invoke   func() (any, error)
	method   string
	metrics  *metrics
	logger   *logiface.Logger[logiface.Event]
	observer Observer
	state    atomic.Int32
	mu       sync.Mutex
	call     Call
}

// Subscription is returned by [Observable.Subscribe].
type Subscription struct {
	observable *Observable
}

func newObservable(loop *eventloop.Loop, method string, invoke func() (any, error), metrics *metrics, logger *logiface.Logger[logiface.Event]) *Observable {
	return &Observable{
		loop:    loop,
		invoke:  invoke,
		method:  method,
		metrics: metrics,
		logger:  logger,
	}
}

// State returns the current state. Safe for concurrent use.
func (x *Observable) State() ObservableState {
	return ObservableState(x.state.Load())
}

// Subscribe schedules the raw invocation on the event loop, delivering
// notifications to observer. It may be called from any goroutine.
//
// The raw method is invoked asynchronously, by a task submitted to the
// loop, rather than within Subscribe itself. Called from the loop, the
// invocation always happens after Subscribe returns. Listeners are attached
// within that same task, so no event is missed.
//
// Only the first call subscribes. Subsequent calls deliver
// [ErrAlreadySubscribed] to their observer's Error, and return a closed
// [Subscription].
func (x *Observable) Subscribe(observer Observer) *Subscription {
	if !x.state.CompareAndSwap(int32(ObservableCreated), int32(ObservableActive)) {
		if observer.Error != nil {
			if err := x.loop.Submit(func() { observer.Error(ErrAlreadySubscribed) }); err != nil {
				observer.Error(ErrAlreadySubscribed)
			}
		}
		return &Subscription{}
	}

	x.observer = observer

	if err := x.loop.Submit(x.start); err != nil {
		// the loop is gone, so there is nowhere else to deliver this
		x.fail(err)
	}

	return &Subscription{observable: x}
}

// start runs on the loop.
func (x *Observable) start() {
	if x.State() != ObservableActive {
		return
	}

	result, err := x.invokeRaw()
	if err != nil {
		x.fail(err)
		return
	}

	call, ok := result.(Call)
	if !ok || call == nil {
		x.fail(fmt.Errorf(`lnclient: %s returned %T, expected a Call`, x.method, result))
		return
	}

	x.mu.Lock()
	x.call = call
	x.mu.Unlock()

	for _, listener := range [...]struct {
		event string
		fn    func(any)
	}{
		{EventStatus, x.onStatus},
		{EventData, x.onData},
		{EventEnd, x.onEnd},
		{EventError, x.onError},
	} {
		if err := call.On(listener.event, x.guard(listener.fn)); err != nil {
			x.fail(err)
			x.cancelCall()
			return
		}
	}

	// may have been unsubscribed from another goroutine, before the call
	// was available to cancel
	if x.State() == ObservableUnsubscribed {
		x.cancelCall()
	}
}

func (x *Observable) invokeRaw() (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eventloop.PanicError{Value: r}
		}
	}()
	return x.invoke()
}

// guard routes panics raised while handling an event to Error.
func (x *Observable) guard(fn func(any)) func(any) {
	return func(value any) {
		defer func() {
			if r := recover(); r != nil {
				x.fail(eventloop.PanicError{Value: r})
			}
		}()
		fn(value)
	}
}

func (x *Observable) onStatus(value any) {
	x.next(Update{Kind: UpdateStatus, Status: value})
}

func (x *Observable) onData(value any) {
	x.next(Update{Kind: UpdateData, Data: value})
}

func (x *Observable) next(update Update) {
	if x.State() != ObservableActive {
		return
	}
	x.metrics.update(x.method, update.Kind)
	if x.observer.Next != nil {
		x.observer.Next(update)
	}
}

func (x *Observable) onEnd(any) {
	if !x.terminate(ObservableCompleted) {
		return
	}
	x.metrics.call(x.method, kindStream, outcomeCompleted)
	x.logger.Debug().
		Str(`method`, x.method).
		Log(`stream completed`)
	if x.observer.Complete != nil {
		x.observer.Complete()
	}
}

func (x *Observable) onError(value any) {
	x.fail(eventError(value))
}

func (x *Observable) fail(err error) {
	if !x.terminate(ObservableErrored) {
		if x.State() != ObservableUnsubscribed {
			x.logger.Err().
				Str(`method`, x.method).
				Err(err).
				Log(`error after stream terminated`)
		}
		return
	}
	x.metrics.call(x.method, kindStream, outcomeErrored)
	x.logger.Debug().
		Str(`method`, x.method).
		Err(err).
		Log(`stream errored`)
	if x.observer.Error != nil {
		x.observer.Error(err)
	}
}

func (x *Observable) terminate(state ObservableState) bool {
	return x.state.CompareAndSwap(int32(ObservableActive), int32(state))
}

func (x *Observable) cancelCall() {
	x.mu.Lock()
	call := x.call
	x.mu.Unlock()
	if canceler, ok := call.(Canceler); ok {
		canceler.Cancel()
	}
}

// Unsubscribe stops delivery of further notifications. If the call
// implements [Canceler], it is also cancelled. Safe to call from any
// goroutine, including from within the observer, and more than once.
func (x *Subscription) Unsubscribe() {
	if x == nil || x.observable == nil {
		return
	}
	o := x.observable
	if !o.state.CompareAndSwap(int32(ObservableActive), int32(ObservableUnsubscribed)) {
		return
	}
	o.metrics.call(o.method, kindStream, outcomeUnsubscribed)
	o.cancelCall()
}

// Closed reports whether the subscription will deliver no further
// notifications.
func (x *Subscription) Closed() bool {
	if x == nil || x.observable == nil {
		return true
	}
	return x.observable.State() != ObservableActive
}

func eventError(value any) error {
	switch v := value.(type) {
	case error:
		return v
	case nil:
		return errors.New(`lnclient: error event`)
	default:
		return fmt.Errorf(`lnclient: error event: %v`, v)
	}
}
