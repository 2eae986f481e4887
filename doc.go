// Package lnclient adapts the lnd gRPC interface into two asynchronous
// shapes: unary procedures return promises, and streaming procedures return
// cold observables.
//
// # Overview
//
// [New] bootstraps a raw client, then wraps it:
//
//	client, err := lnclient.New(ctx,
//	    lnclient.WithServer(`localhost:10009`),
//	    lnclient.WithMacaroonPath(`/path/to/admin.macaroon`),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Bootstrapping builds a TLS credential from lnd's certificate, writes a
// patched copy of the protocol definition (if absent), parses it at
// runtime, and dials the server. Failures are either
// [*InvalidCredentialError] or [*ProtocolLoadError], see [CodedError].
//
// # Members
//
// [Client.Get] classifies each member of the raw client by name, at access
// time:
//
//	missing                          nil
//	non-callable (e.g. "server")     returned unchanged
//	named in SubscriptionMethods     StreamFunc
//	any other Method                 UnaryFunc
//
// Methods of the raw client use lowerCamelCase names, e.g. getInfo.
//
// Unary:
//
//	result := <-client.Call(`getInfo`).ToChannel()
//
// Streaming:
//
//	client.Subscribe(`subscribeInvoices`, lnclient.Observer{
//	    Next:     func(u lnclient.Update) { ... },
//	    Error:    func(err error) { ... },
//	    Complete: func() { ... },
//	})
//
// # Raw methods
//
// A raw [Method] accepts any mix of requests ([proto.Message],
// map[string]any, protojson text, or nil), a [context.Context], and
// [grpc.CallOption] values. Unary methods additionally take a trailing
// [Callback]. Client streaming procedures send every request, then
// half-close.
//
// # Event loop
//
// Observer callbacks, raw callbacks, and raw event listeners all run on a
// single [eventloop.Loop]. Blocking gRPC calls run on their own goroutines,
// handing results back via [eventloop.Loop.Submit].
//
// Subscribing to an [Observable] queues the raw invocation as a loop task,
// so the streaming call starts on a later loop task, not within
// [Observable.Subscribe]. Unary adaptations invoke the raw method
// immediately, on the calling goroutine.
//
// [proto.Message]: https://pkg.go.dev/google.golang.org/protobuf/proto#Message
// [grpc.CallOption]: https://pkg.go.dev/google.golang.org/grpc#CallOption
package lnclient
