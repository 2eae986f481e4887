package lnclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
)

// MemberKind classifies a member of a [RawClient], per [Client.Kind].
type MemberKind int

const (
	// MemberMissing indicates there is no such member.
	MemberMissing MemberKind = iota
	// MemberValue indicates a non-callable member, passed through as-is.
	MemberValue
	// MemberUnary indicates a callable member, adapted as [UnaryFunc].
	MemberUnary
	// MemberStream indicates a callable member, adapted as [StreamFunc].
	MemberStream
)

func (x MemberKind) String() string {
	switch x {
	case MemberMissing:
		return `missing`
	case MemberValue:
		return `value`
	case MemberUnary:
		return `unary`
	case MemberStream:
		return `stream`
	default:
		return fmt.Sprintf(`MemberKind(%d)`, int(x))
	}
}

// Client wraps a [RawClient], adapting each member on access, by name.
// Members named in [Config.SubscriptionMethods] are adapted as
// [StreamFunc], other callable members as [UnaryFunc], and everything else
// is passed through unchanged.
//
// A Client is safe for concurrent use.
type Client struct {
	raw       RawClient
	streaming map[string]struct{}
	loop      *eventloop.Loop
	js        *eventloop.JS
	logger    *logiface.Logger[logiface.Event]
	metrics   *metrics
	closer    io.Closer
	stopLoop  func() error
	closeOnce sync.Once
	closeErr  error
}

// New bootstraps a raw client per the given options, then wraps it. If no
// loop is configured, one is created and run, and later stopped by
// [Client.Close]. Bootstrap errors are returned unchanged.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	if ctx == nil {
		panic(`lnclient: New called with nil context`)
	}

	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	var stopLoop func() error
	if cfg.Loop == nil {
		cfg.Loop, stopLoop, err = runLoop()
		if err != nil {
			return nil, err
		}
	}

	bootstrapped, err := Bootstrap(ctx, cfg)
	if err != nil {
		if stopLoop != nil {
			_ = stopLoop()
		}
		return nil, err
	}

	client, err := wrap(bootstrapped.Raw, bootstrapped.Config)
	if err != nil {
		_ = bootstrapped.Close()
		if stopLoop != nil {
			_ = stopLoop()
		}
		return nil, err
	}
	client.closer = bootstrapped
	client.stopLoop = stopLoop

	return client, nil
}

// Wrap adapts raw, using [Config.Loop] (required),
// [Config.SubscriptionMethods], [Config.Logger], and [Config.Registerer].
// Other options are ignored.
func Wrap(raw RawClient, opts ...Option) (*Client, error) {
	if raw == nil {
		return nil, errors.New(`lnclient: raw client must not be nil`)
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return wrap(raw, cfg)
}

func wrap(raw RawClient, cfg *Config) (*Client, error) {
	if cfg.Loop == nil {
		return nil, ErrLoopRequired
	}

	js, err := eventloop.NewJS(cfg.Loop)
	if err != nil {
		return nil, err
	}

	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	methods := cfg.SubscriptionMethods
	if methods == nil {
		methods = defaultSubscriptionMethods
	}
	streaming := make(map[string]struct{}, len(methods))
	for _, name := range methods {
		streaming[name] = struct{}{}
	}

	return &Client{
		raw:       raw,
		streaming: streaming,
		loop:      cfg.Loop,
		js:        js,
		logger:    cfg.Logger,
		metrics:   m,
	}, nil
}

// runLoop creates a loop, and runs it on a new goroutine.
func runLoop() (*eventloop.Loop, func() error, error) {
	loop, err := eventloop.New()
	if err != nil {
		return nil, nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(context.Background())
	}()
	return loop, func() error {
		err := loop.Shutdown(context.Background())
		<-done
		if errors.Is(err, eventloop.ErrLoopTerminated) {
			err = nil
		}
		return err
	}, nil
}

// Loop returns the event loop notifications are delivered on.
func (x *Client) Loop() *eventloop.Loop {
	return x.loop
}

// Get returns the adapted member. A missing member yields nil, a
// non-callable member is returned unchanged, and callable members are
// returned as either [StreamFunc] or [UnaryFunc].
//
// Callable members are values of type [Method], or the equivalent unnamed
// function type.
func (x *Client) Get(name string) any {
	member, ok := x.raw.Member(name)
	if !ok {
		return nil
	}
	method, ok := asMethod(member)
	if !ok {
		return member
	}
	if _, ok := x.streaming[name]; ok {
		return x.stream(name, method)
	}
	return x.unary(name, method)
}

// Kind classifies the named member, without adapting it.
func (x *Client) Kind(name string) MemberKind {
	member, ok := x.raw.Member(name)
	switch {
	case !ok:
		return MemberMissing
	case !isMethod(member):
		return MemberValue
	default:
		if _, ok := x.streaming[name]; ok {
			return MemberStream
		}
		return MemberUnary
	}
}

// Names returns the sorted member names, if the raw client supports
// enumeration, see [Members.Names].
func (x *Client) Names() []string {
	if v, ok := x.raw.(interface{ Names() []string }); ok {
		return v.Names()
	}
	return nil
}

// Unary returns the named member, if it is adapted as [UnaryFunc].
func (x *Client) Unary(name string) (UnaryFunc, bool) {
	fn, ok := x.Get(name).(UnaryFunc)
	return fn, ok
}

// Stream returns the named member, if it is adapted as [StreamFunc].
func (x *Client) Stream(name string) (StreamFunc, bool) {
	fn, ok := x.Get(name).(StreamFunc)
	return fn, ok
}

// Call invokes the named unary member. If there is no such member, the
// promise rejects with [ErrMethodNotFound].
func (x *Client) Call(name string, args ...any) *eventloop.ChainedPromise {
	if fn, ok := x.Unary(name); ok {
		return fn(args...)
	}
	promise, _, reject := x.js.NewChainedPromise()
	reject(fmt.Errorf(`%w: unary %q`, ErrMethodNotFound, name))
	return promise
}

// Subscribe invokes the named streaming member, and subscribes observer. If
// there is no such member, observer receives [ErrMethodNotFound].
func (x *Client) Subscribe(name string, observer Observer, args ...any) *Subscription {
	if fn, ok := x.Stream(name); ok {
		return fn(args...).Subscribe(observer)
	}
	err := fmt.Errorf(`%w: stream %q`, ErrMethodNotFound, name)
	return newObservable(x.loop, name, func() (any, error) { return nil, err }, x.metrics, x.logger).
		Subscribe(observer)
}

// Close closes the connection, if the client was created by [New], then
// stops the loop, if it was created by [New]. It must not be called from
// the loop.
func (x *Client) Close() error {
	x.closeOnce.Do(func() {
		var errs []error
		if x.closer != nil {
			errs = append(errs, x.closer.Close())
		}
		if x.stopLoop != nil {
			errs = append(errs, x.stopLoop())
		}
		x.closeErr = errors.Join(errs...)
	})
	return x.closeErr
}

// Names returns the sorted member names.
func (x Members) Names() []string {
	names := make([]string, 0, len(x))
	for name := range x {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func asMethod(member any) (Method, bool) {
	switch v := member.(type) {
	case Method:
		return v, true
	case func(...any) (any, error):
		return v, true
	default:
		return nil, false
	}
}

func isMethod(member any) bool {
	_, ok := asMethod(member)
	return ok
}
