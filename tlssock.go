// Package tlssock contains a TLS socket facade.
//
// A Context holds the role and the certificate material and may be
// shared by any number of sockets. A Socket binds one TLS session
// created from a Context to an already connected net.Conn. Handshakes,
// record encryption, and certificate path validation are performed
// by crypto/tls and crypto/x509. This package adds a small typed error
// taxonomy and the peer certificate policy of VerifyConnection.
//
// During its lifecycle a Socket emits model.Measurement events to the
// handler configured in its Context.
package tlssock

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"

	"github.com/ooni/tlssock/internal/socket"
	"github.com/ooni/tlssock/internal/tlsctx"
	"github.com/ooni/tlssock/model"
)

// Role is the TLS role of a Context.
type Role = tlsctx.Role

const (
	// RoleClient performs outbound handshakes.
	RoleClient = tlsctx.RoleClient

	// RoleServer performs inbound handshakes.
	RoleServer = tlsctx.RoleServer
)

// Config contains the settings used to build a Context.
type Config = tlsctx.Config

// Context is the shared, read-only TLS configuration.
type Context = tlsctx.Context

// NewContext creates a new Context from config.
func NewContext(config Config) (*Context, error) {
	return tlsctx.New(config)
}

// LoadConfig reads a YAML Config from path.
func LoadConfig(path string) (Config, error) {
	return tlsctx.LoadConfig(path)
}

// Socket is a TLS socket.
type Socket struct {
	sock *socket.Socket
}

// NewSocket creates a TLS session from ctx and binds it to conn. The
// socket owns conn from now on. Callers should always Close the socket.
func NewSocket(ctx *Context, conn net.Conn) (*Socket, error) {
	sock, err := socket.New(ctx, conn)
	if err != nil {
		return nil, err
	}
	return &Socket{sock: sock}, nil
}

// ID returns the process-unique socket ID.
func (s *Socket) ID() int64 {
	return s.sock.ID()
}

// Role returns the role of the socket.
func (s *Socket) Role() Role {
	return s.sock.Role()
}

// Connect performs the client handshake. It fails with "wrong_role"
// when the socket was created from a server context.
func (s *Socket) Connect() error {
	return s.sock.Connect()
}

// ConnectContext is like Connect but the context allows to interrupt
// a pending handshake at any time.
func (s *Socket) ConnectContext(ctx context.Context) error {
	return s.sock.ConnectContext(ctx)
}

// Accept performs the server handshake. It fails with "wrong_role"
// when the socket was created from a client context.
func (s *Socket) Accept() error {
	return s.sock.Accept()
}

// AcceptContext is like Accept but with context.
func (s *Socket) AcceptContext(ctx context.Context) error {
	return s.sock.AcceptContext(ctx)
}

// Receive reads at most max bytes. A zero length result with nil
// error means that the peer has closed the connection.
func (s *Socket) Receive(max int) ([]byte, error) {
	return s.sock.Receive(max)
}

// Send writes b and returns the number of bytes written.
func (s *Socket) Send(b []byte) (int, error) {
	return s.sock.Send(b)
}

// VerifyConnection applies the peer certificate policy. On failure
// the error is a *model.CertificateError.
func (s *Socket) VerifyConnection() error {
	return s.sock.VerifyConnection()
}

// VerifyResult returns the verification code recorded during the
// handshake.
func (s *Socket) VerifyResult() model.VerifyCode {
	return s.sock.VerifyResult()
}

// ConnectionState returns the TLS connection state.
func (s *Socket) ConnectionState() tls.ConnectionState {
	return s.sock.ConnectionState()
}

// PeerCertificates returns the peer certificate chain.
func (s *Socket) PeerCertificates() []*x509.Certificate {
	return s.sock.PeerCertificates()
}

// LocalAddr returns the local address.
func (s *Socket) LocalAddr() net.Addr {
	return s.sock.LocalAddr()
}

// RemoteAddr returns the remote address.
func (s *Socket) RemoteAddr() net.Addr {
	return s.sock.RemoteAddr()
}

// SetDeadline sets the deadline of the underlying connection.
func (s *Socket) SetDeadline(t time.Time) error {
	return s.sock.SetDeadline(t)
}

// Close closes the socket. Calling Close more than once is safe.
func (s *Socket) Close() error {
	return s.sock.Close()
}
