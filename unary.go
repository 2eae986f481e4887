package lnclient

import (
	"slices"
	"sync/atomic"

	eventloop "github.com/joeycumines/go-eventloop"
)

// UnaryFunc is the adaptation of a unary [Method]. The promise resolves
// with the value passed to the trailing [Callback], or rejects with its
// error. It settles exactly once.
type UnaryFunc func(args ...any) *eventloop.ChainedPromise

// StreamFunc is the adaptation of a streaming [Method]. Calling it does not
// invoke the method, see [Observable].
type StreamFunc func(args ...any) *Observable

func (x *Client) unary(name string, method Method) UnaryFunc {
	return func(args ...any) *eventloop.ChainedPromise {
		promise, resolve, reject := x.js.NewChainedPromise()

		var settled atomic.Bool
		callback := Callback(func(err error, value any) {
			if !settled.CompareAndSwap(false, true) {
				x.logger.Warning().
					Str(`method`, name).
					Log(`callback invoked more than once`)
				return
			}
			if err != nil {
				x.metrics.call(name, kindUnary, outcomeRejected)
				x.logger.Debug().
					Str(`method`, name).
					Err(err).
					Log(`call rejected`)
				reject(err)
				return
			}
			x.metrics.call(name, kindUnary, outcomeResolved)
			resolve(value)
		})

		// the caller's slice must not be appended to
		args = append(slices.Clip(args), callback)

		if _, err := callMethod(method, args); err != nil {
			callback(err, nil)
		}

		return promise
	}
}

func (x *Client) stream(name string, method Method) StreamFunc {
	return func(args ...any) *Observable {
		args = slices.Clone(args)
		return newObservable(x.loop, name, func() (any, error) {
			return method(args...)
		}, x.metrics, x.logger)
	}
}

// callMethod invokes method, converting panics to [eventloop.PanicError].
func callMethod(method Method, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eventloop.PanicError{Value: r}
		}
	}()
	return method(args...)
}
