package socket

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/ooni/tlssock/internal/handlers/savinghandler"
	"github.com/ooni/tlssock/internal/testingx"
	"github.com/ooni/tlssock/internal/tlsctx"
	"github.com/ooni/tlssock/model"
)

type pki struct {
	ca     *testingx.Authority
	client tls.Certificate
	server tls.Certificate
}

func newPKI(t *testing.T) *pki {
	ca := testingx.NewAuthority(t, "tlssock test CA")
	return &pki{
		ca:     ca,
		client: ca.Issue(t, testingx.Leaf{CommonName: "client"}),
		server: ca.Issue(t, testingx.Leaf{
			CommonName: "server",
			DNSNames:   []string{"server.example"},
		}),
	}
}

func (p *pki) clientConfig(handler model.Handler) tlsctx.Config {
	return tlsctx.Config{
		Role:       tlsctx.RoleClient,
		RootCAs:    p.ca.Pool(),
		ServerName: "server.example",
		Handler:    handler,
	}
}

func (p *pki) serverConfig(handler model.Handler) tlsctx.Config {
	return tlsctx.Config{
		Role:         tlsctx.RoleServer,
		Certificates: []tls.Certificate{p.server},
		RootCAs:      p.ca.Pool(),
		Handler:      handler,
	}
}

func newContext(t *testing.T, config tlsctx.Config) *tlsctx.Context {
	ctx, err := tlsctx.New(config)
	if err != nil {
		t.Fatal(err)
	}
	return ctx
}

// newPair creates a client and a server socket over loopback.
func newPair(t *testing.T, clientConfig, serverConfig tlsctx.Config) (client, server *Socket) {
	clientConn, serverConn := testingx.LocalPair(t)
	client, err := New(newContext(t, clientConfig), clientConn)
	if err != nil {
		t.Fatal(err)
	}
	server, err = New(newContext(t, serverConfig), serverConn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return
}

// handshake runs Accept in the background and Connect in the foreground.
func handshake(client, server *Socket) (clientErr, serverErr error) {
	errch := make(chan error, 1)
	go func() {
		errch <- server.Accept()
	}()
	clientErr = client.Connect()
	if clientErr != nil {
		client.Close() // unblock the server
	}
	serverErr = <-errch
	return
}

func mustHandshake(t *testing.T, client, server *Socket) {
	clientErr, serverErr := handshake(client, server)
	if clientErr != nil {
		t.Fatal(clientErr)
	}
	if serverErr != nil {
		t.Fatal(serverErr)
	}
}

func expectErrWrapper(t *testing.T, err error, operation, failure string) *model.ErrWrapper {
	t.Helper()
	var wrapper *model.ErrWrapper
	if !errors.As(err, &wrapper) {
		t.Fatalf("not the error we expected: %+v", err)
	}
	if wrapper.Operation != operation {
		t.Fatalf("unexpected operation: %s", wrapper.Operation)
	}
	if failure != "" && wrapper.Failure != failure {
		t.Fatalf("unexpected failure: %s", wrapper.Failure)
	}
	return wrapper
}

func expectCertificateError(t *testing.T, err error, reason string, code model.VerifyCode) {
	t.Helper()
	var certErr *model.CertificateError
	if !errors.As(err, &certErr) {
		t.Fatalf("not the error we expected: %+v", err)
	}
	if certErr.Reason != reason {
		t.Fatalf("unexpected reason: %s", certErr.Reason)
	}
	if certErr.Code != code {
		t.Fatalf("unexpected code: %s", certErr.Code)
	}
}

func TestConnectAcceptExchange(t *testing.T) {
	p := newPKI(t)
	handler := &savinghandler.Handler{}
	client, server := newPair(t, p.clientConfig(handler), p.serverConfig(handler))
	if client.ID() == server.ID() {
		t.Fatal("socket IDs must be unique")
	}
	mustHandshake(t, client, server)
	n, err := client.Send([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatal("unexpected number of bytes sent")
	}
	data, err := server.Receive(64)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected data: %s", string(data))
	}
	if _, err := server.Send(bytes.Repeat([]byte("x"), 100)); err != nil {
		t.Fatal(err)
	}
	data, err = client.Receive(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 10 {
		t.Fatal("Receive returned more than requested")
	}
	if err := client.VerifyConnection(); err != nil {
		t.Fatal(err)
	}
	if client.VerifyResult() != model.VerifyOK {
		t.Fatal("unexpected verify result")
	}
	if len(client.PeerCertificates()) != 1 {
		t.Fatal("unexpected number of peer certificates")
	}
	if client.ConnectionState().Version < tls.VersionTLS12 {
		t.Fatal("unexpected TLS version")
	}
	if client.Close() != nil {
		t.Fatal("unexpected close error")
	}
	data, err = server.Receive(64)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatal("expected zero bytes at end of stream")
	}
	if n := handler.Count(func(m model.Measurement) bool {
		return m.SocketCreate != nil
	}); n != 2 {
		t.Fatalf("unexpected SocketCreate count: %d", n)
	}
	if n := handler.Count(func(m model.Measurement) bool {
		return m.TLSHandshakeDone != nil && m.TLSHandshakeDone.Error == nil
	}); n != 2 {
		t.Fatalf("unexpected TLSHandshakeDone count: %d", n)
	}
	if n := handler.Count(func(m model.Measurement) bool {
		return m.RawWrite != nil && m.RawWrite.SocketID == client.ID()
	}); n < 1 {
		t.Fatal("no raw writes observed")
	}
	if n := handler.Count(func(m model.Measurement) bool {
		return m.Verify != nil && m.Verify.Code == model.VerifyOK
	}); n != 1 {
		t.Fatal("no verify event observed")
	}
}

func TestServerVerifyWithoutClientCertificate(t *testing.T) {
	p := newPKI(t)
	client, server := newPair(t, p.clientConfig(nil), p.serverConfig(nil))
	mustHandshake(t, client, server)
	err := server.VerifyConnection()
	expectCertificateError(t, err, model.CertificateNotPresented, model.VerifyNoPeerCertificate)
}

func TestMutualAuthentication(t *testing.T) {
	p := newPKI(t)
	clientConfig := p.clientConfig(nil)
	clientConfig.Certificates = []tls.Certificate{p.client}
	client, server := newPair(t, clientConfig, p.serverConfig(nil))
	mustHandshake(t, client, server)
	if err := server.VerifyConnection(); err != nil {
		t.Fatal(err)
	}
	if server.VerifyResult() != model.VerifyOK {
		t.Fatal("unexpected verify result")
	}
}

func TestServerSelfSignedSkipsVerification(t *testing.T) {
	p := newPKI(t)
	handler := &savinghandler.Handler{}
	serverCert := testingx.SelfSigned(t, testingx.Leaf{
		CommonName: "server",
		DNSNames:   []string{"server.example"},
	})
	serverConfig := tlsctx.Config{
		Role:         tlsctx.RoleServer,
		Certificates: []tls.Certificate{serverCert},
		SelfSigned:   true,
		Handler:      handler,
	}
	clientConfig := p.clientConfig(nil)
	clientConfig.SelfSigned = true
	client, server := newPair(t, clientConfig, serverConfig)
	mustHandshake(t, client, server)
	if err := server.VerifyConnection(); err != nil {
		t.Fatal(err)
	}
	if n := handler.Count(func(m model.Measurement) bool {
		return m.Verify != nil && m.Verify.Skipped
	}); n != 1 {
		t.Fatal("expected a skipped verification")
	}
	// Being self-signed ourselves does not make a peer that signed
	// its own certificate acceptable.
	err := client.VerifyConnection()
	expectCertificateError(t, err, model.CertificateInvalid, model.VerifyDepthZeroSelfSigned)
}

func TestVerifyTrustedSelfSignedPeer(t *testing.T) {
	serverCert := testingx.SelfSigned(t, testingx.Leaf{
		CommonName: "server",
		DNSNames:   []string{"server.example"},
	})
	roots := x509.NewCertPool()
	roots.AddCert(serverCert.Leaf)
	clientConfig := tlsctx.Config{
		Role:       tlsctx.RoleClient,
		RootCAs:    roots,
		ServerName: "server.example",
		SelfSigned: true,
	}
	serverConfig := tlsctx.Config{
		Role:         tlsctx.RoleServer,
		Certificates: []tls.Certificate{serverCert},
		SelfSigned:   true,
	}
	client, server := newPair(t, clientConfig, serverConfig)
	mustHandshake(t, client, server)
	if err := client.VerifyConnection(); err != nil {
		t.Fatal(err)
	}
	if client.VerifyResult() != model.VerifyOK {
		t.Fatalf("unexpected verify result: %s", client.VerifyResult())
	}
}

func TestVerifyUnknownIssuer(t *testing.T) {
	run := func(t *testing.T, selfSigned bool) error {
		p := newPKI(t)
		other := testingx.NewAuthority(t, "another CA")
		clientConfig := p.clientConfig(nil)
		clientConfig.RootCAs = other.Pool()
		clientConfig.SelfSigned = selfSigned
		client, server := newPair(t, clientConfig, p.serverConfig(nil))
		mustHandshake(t, client, server)
		if client.VerifyResult() != model.VerifyUnableToGetIssuerCertLocally {
			t.Fatalf("unexpected verify result: %s", client.VerifyResult())
		}
		return client.VerifyConnection()
	}
	t.Run("is rejected by default", func(t *testing.T) {
		err := run(t, false)
		expectCertificateError(t, err, model.CertificateNoIssuer, model.VerifyUnableToGetIssuerCertLocally)
	})
	t.Run("is accepted by self signed contexts", func(t *testing.T) {
		if err := run(t, true); err != nil {
			t.Fatal(err)
		}
	})
}

func TestVerifyHostnameMismatch(t *testing.T) {
	p := newPKI(t)
	clientConfig := p.clientConfig(nil)
	clientConfig.ServerName = "wrong.example"
	clientConfig.SelfSigned = true // must not matter
	client, server := newPair(t, clientConfig, p.serverConfig(nil))
	mustHandshake(t, client, server)
	err := client.VerifyConnection()
	expectCertificateError(t, err, model.CertificateInvalid, model.VerifyHostnameMismatch)
}

func TestVerifyValidityPeriod(t *testing.T) {
	now := time.Now()
	run := func(t *testing.T, leaf testingx.Leaf, code model.VerifyCode) {
		p := newPKI(t)
		p.server = p.ca.Issue(t, leaf)
		client, server := newPair(t, p.clientConfig(nil), p.serverConfig(nil))
		mustHandshake(t, client, server)
		err := client.VerifyConnection()
		expectCertificateError(t, err, model.CertificateInvalid, code)
	}
	t.Run("for expired certificates", func(t *testing.T) {
		run(t, testingx.Leaf{
			CommonName: "server",
			DNSNames:   []string{"server.example"},
			NotBefore:  now.Add(-48 * time.Hour),
			NotAfter:   now.Add(-24 * time.Hour),
		}, model.VerifyCertHasExpired)
	})
	t.Run("for certificates not yet valid", func(t *testing.T) {
		run(t, testingx.Leaf{
			CommonName: "server",
			DNSNames:   []string{"server.example"},
			NotBefore:  now.Add(24 * time.Hour),
			NotAfter:   now.Add(48 * time.Hour),
		}, model.VerifyCertNotYetValid)
	})
}

func TestVerifyBeforeHandshake(t *testing.T) {
	p := newPKI(t)
	client, _ := newPair(t, p.clientConfig(nil), p.serverConfig(nil))
	err := client.VerifyConnection()
	expectCertificateError(t, err, model.CertificateNotPresented, model.VerifyNotPerformed)
}

func TestWrongRole(t *testing.T) {
	p := newPKI(t)
	client, server := newPair(t, p.clientConfig(nil), p.serverConfig(nil))
	err := client.Accept()
	wrapper := expectErrWrapper(t, err, model.AcceptOperation, "wrong_role")
	if wrapper.SocketID != client.ID() {
		t.Fatal("unexpected socket ID")
	}
	if !errors.Is(err, model.ErrWrongRole) {
		t.Fatal("cannot unwrap the sentinel error")
	}
	err = server.Connect()
	expectErrWrapper(t, err, model.ConnectOperation, "wrong_role")
	if client.Role() != tlsctx.RoleClient || server.Role() != tlsctx.RoleServer {
		t.Fatal("unexpected roles")
	}
}

func TestNewFailures(t *testing.T) {
	p := newPKI(t)
	conn, _ := testingx.LocalPair(t)
	t.Run("for nil context", func(t *testing.T) {
		sock, err := New(nil, conn)
		expectErrWrapper(t, err, model.CreateOperation, "invalid_context")
		if sock != nil {
			t.Fatal("expected nil socket here")
		}
	})
	t.Run("for uninitialized context", func(t *testing.T) {
		sock, err := New(&tlsctx.Context{}, conn)
		expectErrWrapper(t, err, model.CreateOperation, "invalid_context")
		if sock != nil {
			t.Fatal("expected nil socket here")
		}
	})
	t.Run("for nil connection", func(t *testing.T) {
		sock, err := New(newContext(t, p.clientConfig(nil)), nil)
		expectErrWrapper(t, err, model.CreateOperation, "invalid_descriptor")
		if sock != nil {
			t.Fatal("expected nil socket here")
		}
	})
}

func TestHandshakeFailure(t *testing.T) {
	p := newPKI(t)
	handler := &savinghandler.Handler{}
	clientConfig := p.clientConfig(handler)
	clientConfig.MinVersion = "TLSv1.3"
	serverConfig := p.serverConfig(handler)
	serverConfig.MaxVersion = "TLSv1.2"
	client, server := newPair(t, clientConfig, serverConfig)
	clientErr, serverErr := handshake(client, server)
	expectErrWrapper(t, clientErr, model.ConnectOperation, "")
	expectErrWrapper(t, serverErr, model.AcceptOperation, "")
	if n := handler.Count(func(m model.Measurement) bool {
		return m.TLSHandshakeDone != nil && m.TLSHandshakeDone.Error != nil
	}); n != 2 {
		t.Fatalf("unexpected number of failed handshakes: %d", n)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	p := newPKI(t)
	serverConfig := p.serverConfig(nil)
	serverConfig.HandshakeTimeout = 50 * time.Millisecond
	_, serverConn := testingx.LocalPair(t) // the client never speaks
	server, err := New(newContext(t, serverConfig), serverConn)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	err = server.Accept()
	expectErrWrapper(t, err, model.AcceptOperation, "generic_timeout_error")
}

func TestConnectContextCanceled(t *testing.T) {
	p := newPKI(t)
	client, _ := newPair(t, p.clientConfig(nil), p.serverConfig(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // fail now
	err := client.ConnectContext(ctx)
	expectErrWrapper(t, err, model.ConnectOperation, "interrupted")
}

func TestReceiveSizes(t *testing.T) {
	p := newPKI(t)
	client, _ := newPair(t, p.clientConfig(nil), p.serverConfig(nil))
	t.Run("for negative size", func(t *testing.T) {
		data, err := client.Receive(-1)
		expectErrWrapper(t, err, model.ReceiveOperation, "invalid_argument")
		if data != nil {
			t.Fatal("expected nil data here")
		}
	})
	t.Run("for zero size", func(t *testing.T) {
		data, err := client.Receive(0)
		if err != nil {
			t.Fatal(err)
		}
		if data == nil || len(data) != 0 {
			t.Fatal("expected an empty slice here")
		}
	})
}

func TestUseAfterClose(t *testing.T) {
	p := newPKI(t)
	handler := &savinghandler.Handler{}
	client, server := newPair(t, p.clientConfig(handler), p.serverConfig(nil))
	mustHandshake(t, client, server)
	first := client.Close()
	if second := client.Close(); second != first {
		t.Fatal("Close is not idempotent")
	}
	if n := handler.Count(func(m model.Measurement) bool {
		return m.Close != nil
	}); n != 1 {
		t.Fatalf("unexpected number of close events: %d", n)
	}
	n, err := client.Send([]byte("hello"))
	expectErrWrapper(t, err, model.SendOperation, "connection_already_closed")
	if n != 0 {
		t.Fatal("expected zero bytes written")
	}
	data, err := client.Receive(16)
	expectErrWrapper(t, err, model.ReceiveOperation, "")
	if data != nil {
		t.Fatal("expected nil data here")
	}
}

func TestSetDeadline(t *testing.T) {
	p := newPKI(t)
	client, server := newPair(t, p.clientConfig(nil), p.serverConfig(nil))
	mustHandshake(t, client, server)
	if err := client.SetDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	data, err := client.Receive(16)
	expectErrWrapper(t, err, model.ReceiveOperation, "generic_timeout_error")
	if data != nil {
		t.Fatal("expected nil data here")
	}
	if client.LocalAddr() == nil || client.RemoteAddr() == nil {
		t.Fatal("expected non-nil addresses")
	}
}
