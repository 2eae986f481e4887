package lnclient

import (
	"errors"
)

// Classification codes carried by bootstrap errors, see [CodedError].
const (
	// ErrCodeInvalidCredential classifies certificate failures.
	ErrCodeInvalidCredential = "INVALID_SSL_CERT"

	// ErrCodeProtocolLoad classifies protocol definition and client
	// construction failures.
	ErrCodeProtocolLoad = "GRPC_LOAD_ERROR"
)

var (
	// ErrInvalidCredential matches any [*InvalidCredentialError], via
	// [errors.Is].
	ErrInvalidCredential = errors.New("lnclient: invalid credential")

	// ErrProtocolLoad matches any [*ProtocolLoadError], via [errors.Is].
	ErrProtocolLoad = errors.New("lnclient: protocol load failed")

	// ErrAlreadySubscribed is delivered to the observer of a second
	// [Observable.Subscribe] call. Observables are single-shot.
	ErrAlreadySubscribed = errors.New("lnclient: observable already subscribed")

	// ErrCallbackRequired is returned by a raw unary method invoked
	// without a trailing [Callback].
	ErrCallbackRequired = errors.New("lnclient: unary method requires a trailing callback")

	// ErrStreamingMethod is reported through the [Callback] of a raw
	// streaming method, invoked using the unary convention.
	ErrStreamingMethod = errors.New("lnclient: streaming method invoked as unary")

	// ErrLoopRequired indicates the client has no event loop to run on.
	ErrLoopRequired = errors.New("lnclient: event loop is required")

	// ErrMethodNotFound is reported by [Client.Call] and [Client.Subscribe]
	// if the named member is missing, or not adapted as requested.
	ErrMethodNotFound = errors.New("lnclient: method not found")
)

// CodedError is implemented by errors carrying a fixed classification code,
// allowing callers to distinguish startup failure classes without type
// assertions.
type CodedError interface {
	error
	Code() string
}

// InvalidCredentialError indicates that certificate material could not be
// read, or was malformed. It is only returned while bootstrapping.
type InvalidCredentialError struct {
	Cause   error
	Message string
}

var (
	_ CodedError = (*InvalidCredentialError)(nil)
	_ CodedError = (*ProtocolLoadError)(nil)
)

// Error implements the error interface.
func (e *InvalidCredentialError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "invalid credential"
	}
	if e.Cause != nil {
		return "lnclient: " + msg + ": " + e.Cause.Error()
	}
	return "lnclient: " + msg
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *InvalidCredentialError) Unwrap() error {
	return e.Cause
}

// Is matches [ErrInvalidCredential].
func (e *InvalidCredentialError) Is(target error) bool {
	return target == ErrInvalidCredential
}

// Code returns [ErrCodeInvalidCredential].
func (e *InvalidCredentialError) Code() string {
	return ErrCodeInvalidCredential
}

// ProtocolLoadError indicates that the protocol definition could not be
// read or parsed, or that the raw client could not be constructed.
type ProtocolLoadError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *ProtocolLoadError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "protocol load failed"
	}
	if e.Cause != nil {
		return "lnclient: " + msg + ": " + e.Cause.Error()
	}
	return "lnclient: " + msg
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *ProtocolLoadError) Unwrap() error {
	return e.Cause
}

// Is matches [ErrProtocolLoad].
func (e *ProtocolLoadError) Is(target error) bool {
	return target == ErrProtocolLoad
}

// Code returns [ErrCodeProtocolLoad].
func (e *ProtocolLoadError) Code() string {
	return ErrCodeProtocolLoad
}

func invalidCredential(message string, cause error) error {
	return &InvalidCredentialError{Message: message, Cause: cause}
}

func protocolLoad(message string, cause error) error {
	return &ProtocolLoadError{Message: message, Cause: cause}
}
