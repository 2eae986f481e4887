package lnclient

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultServer is the lnd gRPC address used when none is configured.
	DefaultServer = `localhost:10001`

	// DefaultService is the fully-qualified name of the service the raw
	// client is built for.
	DefaultService = `lnrpc.Lightning`

	// DefaultDialTimeout bounds connection establishment through a proxy.
	DefaultDialTimeout = 20 * time.Second
)

var defaultSubscriptionMethods = []string{
	`subscribeInvoices`,
	`subscribeTransactions`,
	`sendPayment`,
	`subscribeChannelGraph`,
	`openChannel`,
	`closeChannel`,
}

// DefaultSubscriptionMethods returns a copy of the method names adapted as
// streaming calls when [Config.SubscriptionMethods] is nil.
func DefaultSubscriptionMethods() []string {
	return slices.Clone(defaultSubscriptionMethods)
}

// DefaultTLSPath returns the location of lnd's TLS certificate, within the
// per-OS lnd application directory (e.g. ~/.lnd on linux, or
// ~/Library/Application Support/Lnd on macOS).
func DefaultTLSPath() string {
	return filepath.Join(btcutil.AppDataDir(`lnd`, false), `tls.cert`)
}

// DefaultPatchedProtoPath returns the default location of the patched
// protocol definition, under the user cache directory. The file name is
// derived from the content, e.g. rpc-0123456789ab.proto, so each distinct
// definition gets its own copy.
func DefaultPatchedProtoPath(patched []byte) string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == `` {
		dir = os.TempDir()
	}
	sum := sha256.Sum256(patched)
	return filepath.Join(dir, `lnclient`, `rpc-`+hex.EncodeToString(sum[:6])+`.proto`)
}

type (
	// Config models the optional configuration consumed by [Bootstrap] and
	// [New]. The zero value is valid, and resolves to the documented
	// defaults.
	Config struct {
		// Server is the lnd gRPC address, as host:port.
		// **Defaults to [DefaultServer].**
		Server string

		// TLSPath is the path to the certificate lnd presents.
		// Ignored if Cert is set.
		// **Defaults to [DefaultTLSPath].**
		TLSPath string

		// Cert is inline certificate material, which takes precedence over
		// TLSPath. Either PEM, or base64 (standard or URL) encoded DER.
		Cert []byte

		// Dialer establishes the transport, and may be substituted, e.g. for
		// testing. It receives the credential as a dial option.
		// **Defaults to [DialGRPC].**
		Dialer Dialer

		// SubscriptionMethods are the member names adapted as streaming
		// calls. A nil value selects [DefaultSubscriptionMethods], while an
		// empty (non-nil) value disables streaming adaptation.
		SubscriptionMethods []string

		// ProtoPath is the source protocol definition. If empty, the
		// vendored definition, embedded in this package, is used.
		ProtoPath string

		// PatchedProtoPath is where the patched copy of the definition is
		// written, if it does not already exist.
		// **Defaults to [DefaultPatchedProtoPath] of the patched definition.**
		PatchedProtoPath string

		// Service is the fully-qualified name of the service to build the
		// raw client for.
		// **Defaults to [DefaultService].**
		Service string

		// Macaroon is hex encoded macaroon material, sent as per-RPC
		// metadata. Takes precedence over MacaroonPath.
		Macaroon string

		// MacaroonPath is the path to a binary macaroon file.
		MacaroonPath string

		// Proxy is the address of a SOCKS5 proxy (e.g. Tor) to dial
		// through, if non-empty.
		Proxy string

		// DialTimeout bounds each proxied connection attempt, if positive.
		// **Defaults to [DefaultDialTimeout], if 0, and Proxy is set.**
		DialTimeout time.Duration

		// Loop is the event loop that adapted calls are delivered on. It
		// must be running. If nil, [New] creates and runs one, which is
		// stopped by [Client.Close].
		Loop *eventloop.Loop

		// Logger receives structured diagnostics. Logging is disabled if
		// nil.
		Logger *logiface.Logger[logiface.Event]

		// Registerer receives the client metrics, if non-nil.
		Registerer prometheus.Registerer
	}

	// Option configures [New] (or [Wrap], for the options relevant to the
	// interception layer).
	Option interface {
		applyOption(*Config) error
	}

	// optionFunc implements [Option] via a closure.
	optionFunc struct {
		fn func(*Config) error
	}
)

func (o *optionFunc) applyOption(cfg *Config) error {
	return o.fn(cfg)
}

// WithConfig replaces the entire configuration. Options following it still
// apply.
func WithConfig(config Config) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		*cfg = config
		return nil
	}}
}

// WithServer configures [Config.Server].
func WithServer(server string) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.Server = server
		return nil
	}}
}

// WithTLSPath configures [Config.TLSPath].
func WithTLSPath(path string) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.TLSPath = path
		return nil
	}}
}

// WithCert configures [Config.Cert].
func WithCert(cert []byte) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.Cert = slices.Clone(cert)
		return nil
	}}
}

// WithCertText configures [Config.Cert] from text, e.g. a PEM string, or
// the base64url encoded DER used by lndconnect URIs.
func WithCertText(cert string) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.Cert = []byte(cert)
		return nil
	}}
}

// WithDialer configures [Config.Dialer]. Passing nil returns an error.
func WithDialer(dialer Dialer) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		if dialer == nil {
			return errors.New(`lnclient: dialer must not be nil`)
		}
		cfg.Dialer = dialer
		return nil
	}}
}

// WithSubscriptionMethods configures [Config.SubscriptionMethods]. Calling
// it with no arguments disables streaming adaptation.
func WithSubscriptionMethods(methods ...string) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.SubscriptionMethods = append(make([]string, 0, len(methods)), methods...)
		return nil
	}}
}

// WithProtoPath configures [Config.ProtoPath].
func WithProtoPath(path string) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.ProtoPath = path
		return nil
	}}
}

// WithPatchedProtoPath configures [Config.PatchedProtoPath].
func WithPatchedProtoPath(path string) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.PatchedProtoPath = path
		return nil
	}}
}

// WithService configures [Config.Service].
func WithService(service string) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.Service = service
		return nil
	}}
}

// WithMacaroon configures [Config.Macaroon], which must be hex encoded.
func WithMacaroon(macaroon string) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.Macaroon = macaroon
		return nil
	}}
}

// WithMacaroonPath configures [Config.MacaroonPath].
func WithMacaroonPath(path string) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.MacaroonPath = path
		return nil
	}}
}

// WithProxy configures [Config.Proxy].
func WithProxy(proxy string) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.Proxy = proxy
		return nil
	}}
}

// WithDialTimeout configures [Config.DialTimeout].
func WithDialTimeout(timeout time.Duration) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.DialTimeout = timeout
		return nil
	}}
}

// WithLoop configures [Config.Loop]. Passing nil returns an error.
func WithLoop(loop *eventloop.Loop) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		if loop == nil {
			return errors.New(`lnclient: loop must not be nil`)
		}
		cfg.Loop = loop
		return nil
	}}
}

// WithLogger configures [Config.Logger].
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.Logger = logger
		return nil
	}}
}

// WithRegisterer configures [Config.Registerer].
func WithRegisterer(registerer prometheus.Registerer) Option {
	return &optionFunc{fn: func(cfg *Config) error {
		cfg.Registerer = registerer
		return nil
	}}
}

// resolveOptions applies the given options to a zero [Config].
func resolveOptions(opts []Option) (*Config, error) {
	cfg := &Config{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// resolve returns a copy of the config with defaults applied. Slices are
// copied, so the result shares no mutable state with the receiver.
func (x Config) resolve() *Config {
	if x.Server == `` {
		x.Server = DefaultServer
	}
	if x.TLSPath == `` {
		x.TLSPath = DefaultTLSPath()
	}
	x.Cert = slices.Clone(x.Cert)
	if x.Dialer == nil {
		x.Dialer = DialGRPC
	}
	if x.SubscriptionMethods == nil {
		x.SubscriptionMethods = DefaultSubscriptionMethods()
	} else {
		x.SubscriptionMethods = slices.Clone(x.SubscriptionMethods)
	}
	if x.Service == `` {
		x.Service = DefaultService
	}
	if x.DialTimeout == 0 && x.Proxy != `` {
		x.DialTimeout = DefaultDialTimeout
	}
	return &x
}
