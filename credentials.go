package lnclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"
	"strings"
	"sync"

	"google.golang.org/grpc/credentials"
)

const (
	// CipherSuitesEnv is the process-wide environment variable selecting
	// the TLS cipher suites offered to lnd.
	CipherSuitesEnv = `GRPC_SSL_CIPHER_SUITES`

	// DefaultCipherSuites is the value CipherSuitesEnv is initialized to,
	// if unset. lnd only serves ECDSA certificates.
	DefaultCipherSuites = `HIGH+ECDSA`
)

var (
	cipherSuitesOnce sync.Once

	highECDSACipherSuites = []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}
)

// initCipherSuitesEnv sets [CipherSuitesEnv] to [DefaultCipherSuites], if
// it is unset, at most once per process. It reports whether this call set
// the variable. The variable is never unset.
func initCipherSuitesEnv() (set bool) {
	cipherSuitesOnce.Do(func() {
		if _, ok := os.LookupEnv(CipherSuitesEnv); ok {
			return
		}
		set = os.Setenv(CipherSuitesEnv, DefaultCipherSuites) == nil
	})
	return
}

// cipherSuites translates a [CipherSuitesEnv] value into TLS 1.2 cipher
// suite IDs. Values are colon separated, either the HIGH+ECDSA alias, or
// IANA suite names. Unknown names are ignored. A nil result selects the Go
// defaults.
func cipherSuites(value string) []uint16 {
	var (
		ids  []uint16
		seen = make(map[uint16]struct{})
	)
	add := func(id uint16) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, name := range strings.Split(value, `:`) {
		name = strings.TrimSpace(name)
		switch {
		case name == ``:
		case strings.EqualFold(name, DefaultCipherSuites):
			for _, id := range highECDSACipherSuites {
				add(id)
			}
		default:
			for _, suite := range tls.CipherSuites() {
				if suite.Name == name {
					add(suite.ID)
					break
				}
			}
		}
	}
	return ids
}

// resolveCertificate returns PEM encoded certificate material, and a
// description of where it came from. Inline material takes precedence over
// the configured path.
func resolveCertificate(cfg *Config) (cert []byte, source string, err error) {
	if len(cfg.Cert) != 0 {
		cert, err = normalizeCertificate(cfg.Cert)
		return cert, `inline`, err
	}
	b, err := os.ReadFile(cfg.TLSPath)
	if err != nil {
		return nil, cfg.TLSPath, invalidCredential(`read certificate`, err)
	}
	cert, err = normalizeCertificate(b)
	return cert, cfg.TLSPath, err
}

// normalizeCertificate accepts PEM, or base64 encoded DER (standard or URL
// alphabet, padded or not), returning PEM.
func normalizeCertificate(b []byte) ([]byte, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, invalidCredential(`empty certificate`, nil)
	}
	if bytes.Contains(b, []byte(`-----BEGIN`)) {
		return b, nil
	}
	s := string(b)
	for _, enc := range [...]*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if der, err := enc.DecodeString(s); err == nil && len(der) != 0 {
			return pem.EncodeToMemory(&pem.Block{Type: `CERTIFICATE`, Bytes: der}), nil
		}
	}
	return nil, invalidCredential(`certificate is neither PEM nor base64 encoded DER`, nil)
}

// newTransportCredentials builds a TLS credential trusting every
// certificate in the PEM input. All CERTIFICATE blocks must be valid, and
// at least one is required.
func newTransportCredentials(cert []byte, suites []uint16) (credentials.TransportCredentials, error) {
	pool := x509.NewCertPool()
	var count int
	for rest := cert; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != `CERTIFICATE` {
			continue
		}
		parsed, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, invalidCredential(`parse certificate`, err)
		}
		pool.AddCert(parsed)
		count++
	}
	if count == 0 {
		return nil, invalidCredential(`no certificate found`, nil)
	}
	return credentials.NewTLS(&tls.Config{
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
		CipherSuites: suites,
	}), nil
}

// macaroonCredential implements [credentials.PerRPCCredentials], attaching
// hex encoded macaroon material to every RPC.
type macaroonCredential string

var _ credentials.PerRPCCredentials = macaroonCredential(``)

func (x macaroonCredential) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{`macaroon`: string(x)}, nil
}

func (x macaroonCredential) RequireTransportSecurity() bool { return true }

// resolveMacaroon returns the hex encoded macaroon, or an empty string if
// none is configured.
func resolveMacaroon(cfg *Config) (string, error) {
	if cfg.Macaroon != `` {
		if _, err := hex.DecodeString(cfg.Macaroon); err != nil {
			return ``, invalidCredential(`decode macaroon`, err)
		}
		return strings.ToLower(cfg.Macaroon), nil
	}
	if cfg.MacaroonPath == `` {
		return ``, nil
	}
	b, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return ``, invalidCredential(`read macaroon`, err)
	}
	if len(b) == 0 {
		return ``, invalidCredential(`read macaroon`, errors.New(`empty file`))
	}
	return hex.EncodeToString(b), nil
}
