package lnclient

import (
	"context"
	"errors"
	"io"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Bootstrapped is the output of [Bootstrap].
type Bootstrapped struct {
	// Config is the resolved configuration.
	Config *Config

	// Credentials is the TLS credential, trusting the configured
	// certificate.
	Credentials credentials.TransportCredentials

	// Service describes the procedures of the raw client.
	Service protoreflect.ServiceDescriptor

	// Conn is the value returned by [Config.Dialer].
	Conn grpc.ClientConnInterface

	// Raw is the raw client, bound to Conn.
	Raw Members
}

// Close closes Conn, if it implements io.Closer.
func (x *Bootstrapped) Close() error {
	if c, ok := x.Conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Bootstrap builds the TLS credential, writes (if absent) and parses the
// patched protocol definition, then dials the server, returning the raw
// client. It does not retry.
//
// Certificate failures are reported as [*InvalidCredentialError], while
// definition, parsing, and dialing failures are reported as
// [*ProtocolLoadError]. A nil config is equivalent to the zero value, though
// [Config.Loop] is required.
//
// As a process-wide side effect, [CipherSuitesEnv] is set to
// [DefaultCipherSuites], if it is unset.
func Bootstrap(ctx context.Context, config *Config) (*Bootstrapped, error) {
	if ctx == nil {
		panic(`lnclient: Bootstrap called with nil context`)
	}
	if config == nil {
		config = &Config{}
	}
	cfg := config.resolve()
	if cfg.Loop == nil {
		return nil, ErrLoopRequired
	}
	logger := cfg.Logger

	if initCipherSuitesEnv() {
		logger.Debug().
			Str(`env`, CipherSuitesEnv).
			Str(`value`, DefaultCipherSuites).
			Log(`initialized cipher suites`)
	}

	cert, source, err := resolveCertificate(cfg)
	if err != nil {
		return nil, err
	}
	creds, err := newTransportCredentials(cert, cipherSuites(os.Getenv(CipherSuitesEnv)))
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str(`source`, source).
		Log(`loaded certificate`)

	macaroon, err := resolveMacaroon(cfg)
	if err != nil {
		return nil, err
	}

	protoPath, written, err := ensurePatchedProto(cfg)
	if err != nil {
		return nil, err
	}
	if written {
		logger.Info().
			Str(`path`, protoPath).
			Log(`wrote patched protocol definition`)
	}

	service, err := loadService(cfg, protoPath)
	if err != nil {
		return nil, err
	}

	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if macaroon != `` {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(macaroonCredential(macaroon)))
	}
	if cfg.Proxy != `` {
		dialOpts = append(dialOpts, grpc.WithContextDialer(DialWithTimeout(cfg.DialTimeout, DialSOCKS(cfg.Proxy))))
	}

	conn, err := cfg.Dialer(ctx, cfg.Server, dialOpts...)
	if err == nil && conn == nil {
		err = errors.New(`dialer returned nil connection`)
	}
	if err != nil {
		return nil, protocolLoad(`create client`, err)
	}

	logger.Debug().
		Str(`server`, cfg.Server).
		Str(`service`, cfg.Service).
		Bool(`macaroon`, macaroon != ``).
		Bool(`proxy`, cfg.Proxy != ``).
		Log(`created client`)

	return &Bootstrapped{
		Config:      cfg,
		Credentials: creds,
		Service:     service,
		Conn:        conn,
		Raw:         newRawClient(conn, cfg.Loop, logger, service, cfg.Server),
	}, nil
}
