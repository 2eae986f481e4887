package lnclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Non-callable members of the raw client built by [Bootstrap].
const (
	// MemberService is the [protoreflect.ServiceDescriptor] of the service.
	MemberService = `service`

	// MemberServer is the server address, as a string.
	MemberServer = `server`
)

type (
	// Method is a callable member of a [RawClient], following the
	// node-callback convention. Unary methods take a trailing [Callback],
	// and return nil. Streaming methods return a [Call].
	Method func(args ...any) (any, error)

	// Callback receives the outcome of a unary [Method].
	Callback func(err error, value any)

	// RawClient is a table of members, keyed by name.
	RawClient interface {
		Member(name string) (any, bool)
	}

	// Members is a map based [RawClient].
	Members map[string]any

	// rawArgs models the arguments accepted by a gRPC backed [Method].
	rawArgs struct {
		ctx      context.Context
		callback Callback
		requests []proto.Message
		opts     []grpc.CallOption
	}

	// rawMethods builds gRPC backed methods for a single service.
	rawMethods struct {
		conn    grpc.ClientConnInterface
		loop    *eventloop.Loop
		logger  *logiface.Logger[logiface.Event]
		service protoreflect.ServiceDescriptor
	}
)

var _ RawClient = Members(nil)

// Member implements [RawClient].
func (x Members) Member(name string) (any, bool) {
	v, ok := x[name]
	return v, ok
}

// newRawClient builds the raw client for service. Methods are keyed by
// their lowerCamelCase name, e.g. GetInfo is getInfo.
func newRawClient(conn grpc.ClientConnInterface, loop *eventloop.Loop, logger *logiface.Logger[logiface.Event], service protoreflect.ServiceDescriptor, server string) Members {
	x := &rawMethods{
		conn:    conn,
		loop:    loop,
		logger:  logger,
		service: service,
	}
	methods := service.Methods()
	members := make(Members, methods.Len()+2)
	members[MemberService] = service
	members[MemberServer] = server
	for i := 0; i < methods.Len(); i++ {
		md := methods.Get(i)
		var method Method
		if md.IsStreamingClient() || md.IsStreamingServer() {
			method = x.stream(md)
		} else {
			method = x.unary(md)
		}
		members[lowerFirst(string(md.Name()))] = method
	}
	return members
}

func (x *rawMethods) fullMethod(md protoreflect.MethodDescriptor) string {
	return `/` + string(x.service.FullName()) + `/` + string(md.Name())
}

// deliver runs fn on the loop. It is dropped if the loop has terminated.
func (x *rawMethods) deliver(md protoreflect.MethodDescriptor, fn func()) {
	if err := x.loop.Submit(fn); err != nil {
		x.logger.Warning().
			Str(`method`, string(md.Name())).
			Err(err).
			Log(`dropped result: event loop unavailable`)
	}
}

func (x *rawMethods) unary(md protoreflect.MethodDescriptor) Method {
	fullMethod := x.fullMethod(md)
	return func(args ...any) (any, error) {
		call, err := parseRawArgs(md.Input(), args)
		if err != nil {
			return nil, err
		}
		if call.callback == nil {
			return nil, ErrCallbackRequired
		}
		if len(call.requests) > 1 {
			return nil, fmt.Errorf(`lnclient: %s accepts a single request, got %d`, md.Name(), len(call.requests))
		}
		go func() {
			resp := dynamicpb.NewMessage(md.Output())
			err := x.conn.Invoke(call.ctx, fullMethod, call.requests[0], resp, call.opts...)
			x.deliver(md, func() {
				if err != nil {
					call.callback(err, nil)
				} else {
					call.callback(nil, resp)
				}
			})
		}()
		return nil, nil
	}
}

func (x *rawMethods) stream(md protoreflect.MethodDescriptor) Method {
	fullMethod := x.fullMethod(md)
	desc := &grpc.StreamDesc{
		StreamName:    string(md.Name()),
		ServerStreams: md.IsStreamingServer(),
		ClientStreams: md.IsStreamingClient(),
	}
	return func(args ...any) (any, error) {
		call, err := parseRawArgs(md.Input(), args)
		if err != nil {
			return nil, err
		}
		if call.callback != nil {
			x.deliver(md, func() { call.callback(ErrStreamingMethod, nil) })
			return nil, nil
		}
		if !desc.ClientStreams && len(call.requests) > 1 {
			return nil, fmt.Errorf(`lnclient: %s accepts a single request, got %d`, md.Name(), len(call.requests))
		}
		ctx, cancel := context.WithCancel(call.ctx)
		emitter := NewEmitter(x.loop)
		emitter.cancel = cancel
		go x.runStream(ctx, cancel, emitter, md, desc, fullMethod, call)
		return emitter, nil
	}
}

// runStream drives a single streaming call, emitting metadata (headers),
// data (per response), then status, followed by end or error.
func (x *rawMethods) runStream(ctx context.Context, cancel context.CancelFunc, emitter *Emitter, md protoreflect.MethodDescriptor, desc *grpc.StreamDesc, fullMethod string, call *rawArgs) {
	defer cancel()

	emit := func(event string, value any) {
		if err := emitter.Emit(event, value); err != nil {
			x.logger.Warning().
				Str(`method`, string(md.Name())).
				Str(`event`, event).
				Err(err).
				Log(`dropped event: event loop unavailable`)
		}
	}

	finish := func(err error) {
		if err == nil {
			emit(EventStatus, status.New(codes.OK, ``))
			emit(EventEnd, nil)
			return
		}
		emit(EventStatus, status.Convert(err))
		emit(EventError, err)
	}

	stream, err := x.conn.NewStream(ctx, desc, fullMethod, call.opts...)
	if err != nil {
		finish(err)
		return
	}

	// io.EOF from SendMsg means the server ended the stream, the status is
	// available via RecvMsg
	for _, req := range call.requests {
		if err := stream.SendMsg(req); err != nil {
			break
		}
	}
	_ = stream.CloseSend()

	if header, err := stream.Header(); err == nil && len(header) != 0 {
		emit(EventMetadata, header)
	}

	for {
		resp := dynamicpb.NewMessage(md.Output())
		if err := stream.RecvMsg(resp); err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			finish(err)
			return
		}
		emit(EventData, resp)
	}
}

// parseRawArgs classifies args, which may be any mix of requests, a
// context, call options, and a trailing callback. A nil request, or no
// request at all, is the empty message.
func parseRawArgs(input protoreflect.MessageDescriptor, args []any) (*rawArgs, error) {
	call := rawArgs{ctx: context.Background()}
	for i, arg := range args {
		var callback Callback
		switch v := arg.(type) {
		case Callback:
			callback = v
		case func(error, any):
			callback = v
		case context.Context:
			call.ctx = v
			continue
		case grpc.CallOption:
			call.opts = append(call.opts, v)
			continue
		default:
			req, err := toRequest(input, v)
			if err != nil {
				return nil, err
			}
			call.requests = append(call.requests, req)
			continue
		}
		if callback == nil {
			return nil, errors.New(`lnclient: nil callback`)
		}
		if i != len(args)-1 {
			return nil, errors.New(`lnclient: callback must be the trailing argument`)
		}
		call.callback = callback
	}
	if len(call.requests) == 0 {
		call.requests = append(call.requests, dynamicpb.NewMessage(input))
	}
	return &call, nil
}

// toRequest converts a single request argument to a message of type input.
func toRequest(input protoreflect.MessageDescriptor, arg any) (proto.Message, error) {
	var (
		b   []byte
		err error
	)
	switch v := arg.(type) {
	case nil:
		return dynamicpb.NewMessage(input), nil
	case proto.Message:
		if name := v.ProtoReflect().Descriptor().FullName(); name != input.FullName() {
			return nil, fmt.Errorf(`lnclient: expected request %s, got %s`, input.FullName(), name)
		}
		return v, nil
	case string:
		b = []byte(strings.TrimSpace(v))
	case []byte:
		b = v
	case map[string]any:
		b, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf(`lnclient: encode request: %w`, err)
		}
	default:
		return nil, fmt.Errorf(`lnclient: unsupported argument type %T`, arg)
	}
	msg := dynamicpb.NewMessage(input)
	if len(b) == 0 {
		return msg, nil
	}
	if err := protojson.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf(`lnclient: decode request %s: %w`, input.FullName(), err)
	}
	return msg, nil
}

// lowerFirst converts the first character of s to lowercase.
// For example: "GetInfo" -> "getInfo", "SendPaymentSync" -> "sendPaymentSync".
func lowerFirst(s string) string {
	if s == `` {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
