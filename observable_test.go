package lnclient_test

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	eventloop "github.com/joeycumines/go-eventloop"
	lnclient "github.com/joeycumines/go-lnclient"
	"github.com/stretchr/testify/require"
)

type rawEvent struct {
	event string
	value any
}

// emittingMethod returns a raw streaming method that emits events, then
// returns the emitter. Emission is via the loop, so it is observed after
// listeners are registered.
func emittingMethod(loop *eventloop.Loop, calls *atomic.Int32, events ...rawEvent) lnclient.Method {
	return func(args ...any) (any, error) {
		if calls != nil {
			calls.Add(1)
		}
		emitter := lnclient.NewEmitter(loop)
		for _, e := range events {
			if err := emitter.Emit(e.event, e.value); err != nil {
				return nil, err
			}
		}
		return emitter, nil
	}
}

func newStreamingClient(t *testing.T, loop *eventloop.Loop, method lnclient.Method) *lnclient.Client {
	t.Helper()
	client, err := lnclient.Wrap(
		lnclient.Members{`subscribeInvoices`: method},
		lnclient.WithLoop(loop),
		lnclient.WithSubscriptionMethods(`subscribeInvoices`),
	)
	require.NoError(t, err)
	return client
}

func subscribeInvoices(t *testing.T, client *lnclient.Client) lnclient.StreamFunc {
	t.Helper()
	fn, ok := client.Stream(`subscribeInvoices`)
	require.True(t, ok)
	return fn
}

func TestObservable_lazyInvocation(t *testing.T) {
	loop := newTestLoop(t)
	var calls atomic.Int32
	client := newStreamingClient(t, loop, emittingMethod(loop, &calls, rawEvent{lnclient.EventEnd, nil}))

	observable := subscribeInvoices(t, client)(`a`, 1)
	drainLoop(t, loop)
	require.Equal(t, int32(0), calls.Load())
	require.Equal(t, lnclient.ObservableCreated, observable.State())

	rec := newRecorder()
	observable.Subscribe(rec.observer())
	rec.wait(t)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, lnclient.ObservableCompleted, observable.State())
}

func TestObservable_invokedByLoopTask(t *testing.T) {
	loop := newTestLoop(t)
	var calls atomic.Int32
	client := newStreamingClient(t, loop, emittingMethod(loop, &calls, rawEvent{lnclient.EventEnd, nil}))
	observable := subscribeInvoices(t, client)()

	rec := newRecorder()
	afterSubscribe := make(chan int32, 1)
	require.NoError(t, loop.Submit(func() {
		observable.Subscribe(rec.observer())
		afterSubscribe <- calls.Load()
	}))
	require.Equal(t, int32(0), <-afterSubscribe)
	rec.wait(t)
	require.Equal(t, int32(1), calls.Load())
}

func TestObservable_forwardsArguments(t *testing.T) {
	loop := newTestLoop(t)
	received := make(chan []any, 1)
	client := newStreamingClient(t, loop, func(args ...any) (any, error) {
		received <- args
		return emittingMethod(loop, nil, rawEvent{lnclient.EventEnd, nil})()
	})

	args := []any{`x`, 2, nil}
	rec := newRecorder()
	subscribeInvoices(t, client)(args...).Subscribe(rec.observer())
	rec.wait(t)
	require.Equal(t, args, <-received)
}

func TestObservable_statusDataEnd(t *testing.T) {
	loop := newTestLoop(t)
	client := newStreamingClient(t, loop, emittingMethod(loop, nil,
		rawEvent{lnclient.EventStatus, `s`},
		rawEvent{lnclient.EventData, `d`},
		rawEvent{lnclient.EventEnd, nil},
	))

	rec := newRecorder()
	subscribeInvoices(t, client)().Subscribe(rec.observer())
	require.Equal(t, []notification{
		{kind: `next`, update: lnclient.Update{Kind: lnclient.UpdateStatus, Status: `s`}},
		{kind: `next`, update: lnclient.Update{Kind: lnclient.UpdateData, Data: `d`}},
		{kind: `complete`},
	}, rec.wait(t))
}

func TestObservable_preservesOrder(t *testing.T) {
	for _, tc := range [...]struct {
		name   string
		status int
		data   int
	}{
		{`none`, 0, 0},
		{`data only`, 0, 7},
		{`status only`, 3, 0},
		{`many`, 25, 100},
	} {
		t.Run(tc.name, func(t *testing.T) {
			loop := newTestLoop(t)

			var (
				events   []rawEvent
				expected []notification
			)
			for i := 0; i < tc.status || i < tc.data; i++ {
				if i < tc.status {
					events = append(events, rawEvent{lnclient.EventStatus, i})
					expected = append(expected, notification{kind: `next`, update: lnclient.Update{Kind: lnclient.UpdateStatus, Status: i}})
				}
				if i < tc.data {
					events = append(events, rawEvent{lnclient.EventData, fmt.Sprint(i)})
					expected = append(expected, notification{kind: `next`, update: lnclient.Update{Kind: lnclient.UpdateData, Data: fmt.Sprint(i)}})
				}
			}
			events = append(events, rawEvent{lnclient.EventEnd, nil})
			expected = append(expected, notification{kind: `complete`})

			client := newStreamingClient(t, loop, emittingMethod(loop, nil, events...))
			rec := newRecorder()
			subscribeInvoices(t, client)().Subscribe(rec.observer())
			require.Equal(t, expected, rec.wait(t))
		})
	}
}

func TestObservable_synchronousError(t *testing.T) {
	t.Run(`returned`, func(t *testing.T) {
		loop := newTestLoop(t)
		expected := errors.New(`some error`)
		client := newStreamingClient(t, loop, func(args ...any) (any, error) {
			return nil, expected
		})

		rec := newRecorder()
		observable := subscribeInvoices(t, client)()
		observable.Subscribe(rec.observer())
		notifications := rec.wait(t)
		drainLoop(t, loop)
		require.Len(t, notifications, 1)
		require.Equal(t, `error`, notifications[0].kind)
		require.Same(t, expected, notifications[0].err)
		require.Equal(t, lnclient.ObservableErrored, observable.State())
	})

	t.Run(`panic`, func(t *testing.T) {
		loop := newTestLoop(t)
		client := newStreamingClient(t, loop, func(args ...any) (any, error) {
			panic(`boom`)
		})

		rec := newRecorder()
		subscribeInvoices(t, client)().Subscribe(rec.observer())
		notifications := rec.wait(t)
		drainLoop(t, loop)
		require.Len(t, notifications, 1)
		var panicErr eventloop.PanicError
		require.ErrorAs(t, notifications[0].err, &panicErr)
		require.Equal(t, `boom`, panicErr.Value)
	})

	t.Run(`not a call`, func(t *testing.T) {
		loop := newTestLoop(t)
		client := newStreamingClient(t, loop, func(args ...any) (any, error) {
			return `not a call`, nil
		})

		rec := newRecorder()
		subscribeInvoices(t, client)().Subscribe(rec.observer())
		notifications := rec.wait(t)
		require.Len(t, notifications, 1)
		require.ErrorContains(t, notifications[0].err, `expected a Call`)
	})
}

func TestObservable_subscribeInvoicesScenario(t *testing.T) {
	loop := newTestLoop(t)
	payload := map[string]any{`value`: 42}
	client := newStreamingClient(t, loop, emittingMethod(loop, nil,
		rawEvent{lnclient.EventData, payload},
		rawEvent{lnclient.EventEnd, nil},
	))

	fn, ok := client.Get(`subscribeInvoices`).(lnclient.StreamFunc)
	require.True(t, ok)

	rec := newRecorder()
	fn().Subscribe(rec.observer())
	require.Equal(t, []notification{
		{kind: `next`, update: lnclient.Update{Kind: lnclient.UpdateData, Data: map[string]any{`value`: 42}}},
		{kind: `complete`},
	}, rec.wait(t))
}

func TestObservable_errorEvent(t *testing.T) {
	loop := newTestLoop(t)
	expected := errors.New(`stream failed`)
	client := newStreamingClient(t, loop, emittingMethod(loop, nil,
		rawEvent{lnclient.EventData, 1},
		rawEvent{lnclient.EventError, expected},
		rawEvent{lnclient.EventData, 2},
		rawEvent{lnclient.EventEnd, nil},
	))

	rec := newRecorder()
	observable := subscribeInvoices(t, client)()
	observable.Subscribe(rec.observer())
	rec.wait(t)
	drainLoop(t, loop)
	require.Equal(t, []notification{
		{kind: `next`, update: lnclient.Update{Kind: lnclient.UpdateData, Data: 1}},
		{kind: `error`, err: expected},
	}, rec.snapshot())
	require.Equal(t, lnclient.ObservableErrored, observable.State())
}

func TestObservable_errorEventNonError(t *testing.T) {
	loop := newTestLoop(t)
	client := newStreamingClient(t, loop, emittingMethod(loop, nil, rawEvent{lnclient.EventError, `text`}))

	rec := newRecorder()
	subscribeInvoices(t, client)().Subscribe(rec.observer())
	notifications := rec.wait(t)
	require.Len(t, notifications, 1)
	require.EqualError(t, notifications[0].err, `lnclient: error event: text`)
}

func TestObservable_panicInObserver(t *testing.T) {
	loop := newTestLoop(t)
	client := newStreamingClient(t, loop, emittingMethod(loop, nil,
		rawEvent{lnclient.EventData, 1},
		rawEvent{lnclient.EventData, 2},
		rawEvent{lnclient.EventEnd, nil},
	))

	rec := newRecorder()
	observer := rec.observer()
	next := observer.Next
	observer.Next = func(update lnclient.Update) {
		next(update)
		panic(`observer failed`)
	}

	observable := subscribeInvoices(t, client)()
	observable.Subscribe(observer)
	notifications := rec.wait(t)
	drainLoop(t, loop)
	require.Len(t, rec.snapshot(), 2)
	require.Equal(t, `next`, notifications[0].kind)
	require.Equal(t, `error`, notifications[1].kind)
	var panicErr eventloop.PanicError
	require.ErrorAs(t, notifications[1].err, &panicErr)
	require.Equal(t, `observer failed`, panicErr.Value)
	require.Equal(t, lnclient.ObservableErrored, observable.State())
}

func TestObservable_alreadySubscribed(t *testing.T) {
	loop := newTestLoop(t)
	var calls atomic.Int32
	client := newStreamingClient(t, loop, emittingMethod(loop, &calls, rawEvent{lnclient.EventEnd, nil}))

	observable := subscribeInvoices(t, client)()
	first := newRecorder()
	observable.Subscribe(first.observer())
	second := newRecorder()
	subscription := observable.Subscribe(second.observer())
	require.True(t, subscription.Closed())

	require.Equal(t, []notification{{kind: `complete`}}, first.wait(t))
	require.Equal(t, []notification{{kind: `error`, err: lnclient.ErrAlreadySubscribed}}, second.wait(t))
	require.Equal(t, int32(1), calls.Load())
}

type cancelingEmitter struct {
	*lnclient.Emitter
	canceled chan struct{}
}

func (x *cancelingEmitter) Cancel() { close(x.canceled) }

func TestObservable_unsubscribe(t *testing.T) {
	loop := newTestLoop(t)
	call := &cancelingEmitter{
		Emitter:  lnclient.NewEmitter(loop),
		canceled: make(chan struct{}),
	}
	client := newStreamingClient(t, loop, func(args ...any) (any, error) {
		return call, nil
	})

	var subscription *lnclient.Subscription
	rec := newRecorder()
	observer := rec.observer()
	next := observer.Next
	observer.Next = func(update lnclient.Update) {
		next(update)
		subscription.Unsubscribe()
	}

	observable := subscribeInvoices(t, client)()
	// assigned before any event is emitted
	subscription = observable.Subscribe(observer)
	drainLoop(t, loop)

	require.NoError(t, call.Emit(lnclient.EventData, 1))
	require.NoError(t, call.Emit(lnclient.EventData, 2))
	require.NoError(t, call.Emit(lnclient.EventEnd, nil))
	drainLoop(t, loop)

	select {
	case <-call.canceled:
	case <-time.After(testTimeout):
		t.Fatal(`expected the call to be canceled`)
	}
	require.True(t, subscription.Closed())
	require.Equal(t, lnclient.ObservableUnsubscribed, observable.State())
	require.Equal(t, []notification{
		{kind: `next`, update: lnclient.Update{Kind: lnclient.UpdateData, Data: 1}},
	}, rec.snapshot())

	// idempotent
	subscription.Unsubscribe()
}

func TestObservable_unsubscribeBeforeStart(t *testing.T) {
	loop := newTestLoop(t)
	var calls atomic.Int32
	client := newStreamingClient(t, loop, emittingMethod(loop, &calls, rawEvent{lnclient.EventEnd, nil}))

	// blocks the loop, so the raw call cannot start before unsubscribing
	release := make(chan struct{})
	require.NoError(t, loop.Submit(func() { <-release }))

	rec := newRecorder()
	subscription := subscribeInvoices(t, client)().Subscribe(rec.observer())
	subscription.Unsubscribe()
	close(release)
	drainLoop(t, loop)

	require.Equal(t, int32(0), calls.Load())
	require.Empty(t, rec.snapshot())
}

func TestObservable_ignoresUnmappedEvents(t *testing.T) {
	loop := newTestLoop(t)
	client := newStreamingClient(t, loop, emittingMethod(loop, nil,
		rawEvent{lnclient.EventMetadata, map[string][]string{`k`: {`v`}}},
		rawEvent{`other`, 1},
		rawEvent{lnclient.EventEnd, nil},
	))

	rec := newRecorder()
	subscribeInvoices(t, client)().Subscribe(rec.observer())
	require.Equal(t, []notification{{kind: `complete`}}, rec.wait(t))
}

func TestObservable_nilObserverFields(t *testing.T) {
	loop := newTestLoop(t)
	client := newStreamingClient(t, loop, emittingMethod(loop, nil,
		rawEvent{lnclient.EventData, 1},
		rawEvent{lnclient.EventEnd, nil},
	))

	observable := subscribeInvoices(t, client)()
	observable.Subscribe(lnclient.Observer{})
	drainLoop(t, loop)
	drainLoop(t, loop)
	require.Equal(t, lnclient.ObservableCompleted, observable.State())
}

func TestObservableState_String(t *testing.T) {
	require.Equal(t, `created`, lnclient.ObservableCreated.String())
	require.Equal(t, `active`, lnclient.ObservableActive.String())
	require.Equal(t, `completed`, lnclient.ObservableCompleted.String())
	require.Equal(t, `errored`, lnclient.ObservableErrored.String())
	require.Equal(t, `unsubscribed`, lnclient.ObservableUnsubscribed.String())
	require.Equal(t, `ObservableState(99)`, lnclient.ObservableState(99).String())
}
