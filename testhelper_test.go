package lnclient_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jhump/protoreflect/desc/protoparse"
	eventloop "github.com/joeycumines/go-eventloop"
	lnclient "github.com/joeycumines/go-lnclient"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const testTimeout = 5 * time.Second

// newTestLoop creates a new event loop, starts it, and registers cleanup.
func newTestLoop(t testing.TB) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

// drainLoop blocks until every task submitted to loop before the call has
// run.
func drainLoop(t testing.TB, loop *eventloop.Loop) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, loop.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal(`timed out draining loop`)
	}
}

// await blocks until the promise settles.
func await(t testing.TB, promise *eventloop.ChainedPromise) any {
	t.Helper()
	select {
	case result := <-promise.ToChannel():
		return result
	case <-time.After(testTimeout):
		t.Fatal(`timed out waiting for promise`)
		return nil
	}
}

type notification struct {
	kind   string
	update lnclient.Update
	err    error
}

// recorder captures notifications, in order.
type recorder struct {
	mu            sync.Mutex
	notifications []notification
	done          chan struct{}
	once          sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) observer() lnclient.Observer {
	return lnclient.Observer{
		Next: func(update lnclient.Update) {
			r.add(notification{kind: `next`, update: update})
		},
		Error: func(err error) {
			r.add(notification{kind: `error`, err: err})
			r.once.Do(func() { close(r.done) })
		},
		Complete: func() {
			r.add(notification{kind: `complete`})
			r.once.Do(func() { close(r.done) })
		},
	}
}

func (r *recorder) add(n notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recorder) snapshot() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.notifications...)
}

// wait blocks until a terminal notification, returning everything recorded.
func (r *recorder) wait(t testing.TB) []notification {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(testTimeout):
		t.Fatalf(`timed out waiting for terminal notification, got %+v`, r.snapshot())
	}
	return r.snapshot()
}

// newTestCert generates a self-signed ECDSA certificate for localhost,
// returning the PEM encoded certificate, and the server key pair.
func newTestCert(t testing.TB) ([]byte, tls.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{`lnd autogenerated cert`}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{`localhost`},
		IPAddresses:           []net.IP{net.ParseIP(`127.0.0.1`)},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: `CERTIFICATE`, Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: `EC PRIVATE KEY`, Bytes: keyDER})
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return certPEM, pair
}

// testService parses the patched vendored definition, independently of
// the package under test.
func testService(t testing.TB) protoreflect.ServiceDescriptor {
	t.Helper()
	parser := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{
			`rpc.proto`: string(lnclient.PatchProto(lnclient.VendoredProto())),
		}),
	}
	files, err := parser.ParseFiles(`rpc.proto`)
	require.NoError(t, err)
	service := files[0].UnwrapFile().Services().ByName(`Lightning`)
	require.NotNil(t, service)
	return service
}

// testServer is a TLS gRPC server on an in-memory listener.
type testServer struct {
	cert     []byte
	listener *bufconn.Listener
	service  protoreflect.ServiceDescriptor
}

// newTestServer serves handler, for every method, via
// grpc.UnknownServiceHandler.
func newTestServer(t testing.TB, handler grpc.StreamHandler) *testServer {
	t.Helper()
	certPEM, pair := newTestCert(t)
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(
		grpc.Creds(credentials.NewServerTLSFromCert(&pair)),
		grpc.UnknownServiceHandler(handler),
	)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)
	return &testServer{
		cert:     certPEM,
		listener: listener,
		service:  testService(t),
	}
}

// dialer connects to the server, regardless of target.
func (x *testServer) dialer() lnclient.Dialer {
	return func(ctx context.Context, target string, opts ...grpc.DialOption) (grpc.ClientConnInterface, error) {
		opts = append(opts, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return x.listener.DialContext(ctx)
		}))
		return grpc.NewClient(`passthrough:///`+target, opts...)
	}
}

// options returns the options required to connect to the server.
func (x *testServer) options(t testing.TB) []lnclient.Option {
	return []lnclient.Option{
		lnclient.WithCert(x.cert),
		lnclient.WithDialer(x.dialer()),
		lnclient.WithPatchedProtoPath(filepath.Join(t.TempDir(), `rpc.proto`)),
	}
}

func (x *testServer) method(name protoreflect.Name) protoreflect.MethodDescriptor {
	return x.service.Methods().ByName(name)
}
