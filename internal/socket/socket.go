// Package socket contains the TLS socket. A socket owns one TLS
// session bound to a caller provided network connection and created
// from exactly one tlsctx.Context.
//
// Every blocking method performs a single call into crypto/tls and
// reports its result once. There is no retry, and partial writes are
// reported as errors together with the number of bytes written.
//
// A socket should be used by a single goroutine, except for Close,
// which may be called from any goroutine to interrupt a pending call.
package socket

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ooni/tlssock/internal/connx"
	"github.com/ooni/tlssock/internal/errwrapper"
	"github.com/ooni/tlssock/internal/tlsctx"
	"github.com/ooni/tlssock/model"
)

var socketID int64

// Socket is a TLS socket.
type Socket struct {
	closeErr  error
	closeOnce sync.Once
	config    *tls.Config
	conn      *tls.Conn
	ctx       *tlsctx.Context
	id        int64

	mu         sync.Mutex
	verifyCode model.VerifyCode
}

// New binds a new TLS session created from ctx to conn. The socket
// takes ownership of conn, which is closed by Close.
func New(ctx *tlsctx.Context, conn net.Conn) (*Socket, error) {
	if ctx == nil || (ctx.Role() != tlsctx.RoleClient && ctx.Role() != tlsctx.RoleServer) {
		return nil, errwrapper.SafeErrWrapperBuilder{
			Error:     model.ErrInvalidContext,
			Operation: model.CreateOperation,
		}.MaybeBuild()
	}
	if conn == nil {
		return nil, errwrapper.SafeErrWrapperBuilder{
			Error:     model.ErrNilConn,
			Operation: model.CreateOperation,
		}.MaybeBuild()
	}
	s := &Socket{ctx: ctx, id: atomic.AddInt64(&socketID, 1)}
	s.config = ctx.NewTLSConfig(s.recordVerification)
	raw := &connx.MeasuringConn{
		Conn:      conn,
		Beginning: ctx.Beginning,
		Handler:   ctx.Handler,
		SocketID:  s.id,
	}
	if ctx.Role() == tlsctx.RoleClient {
		s.conn = tls.Client(raw, s.config)
	} else {
		s.conn = tls.Server(raw, s.config)
	}
	ctx.Handler.OnMeasurement(model.Measurement{
		SocketCreate: &model.SocketCreateEvent{
			DurationSinceBeginning: time.Now().Sub(ctx.Beginning),
			LocalAddress:           safeAddr(conn.LocalAddr()),
			RemoteAddress:          safeAddr(conn.RemoteAddr()),
			Role:                   string(ctx.Role()),
			SocketID:               s.id,
		},
	})
	return s, nil
}

func safeAddr(addr net.Addr) (s string) {
	if addr != nil {
		s = addr.String()
	}
	return
}

// ID returns the unique socket ID.
func (s *Socket) ID() int64 {
	return s.id
}

// Role returns the role of the context that created the socket.
func (s *Socket) Role() tlsctx.Role {
	return s.ctx.Role()
}

// Connect performs the client side handshake.
func (s *Socket) Connect() error {
	return s.ConnectContext(context.Background())
}

// ConnectContext is like Connect but the context allows to interrupt
// a pending handshake. Interrupting a handshake closes the connection.
func (s *Socket) ConnectContext(ctx context.Context) error {
	return s.handshake(ctx, tlsctx.RoleClient, model.ConnectOperation)
}

// Accept performs the server side handshake.
func (s *Socket) Accept() error {
	return s.AcceptContext(context.Background())
}

// AcceptContext is like Accept but with context.
func (s *Socket) AcceptContext(ctx context.Context) error {
	return s.handshake(ctx, tlsctx.RoleServer, model.AcceptOperation)
}

func (s *Socket) handshake(ctx context.Context, role tlsctx.Role, operation string) error {
	if s.ctx.Role() != role {
		return errwrapper.SafeErrWrapperBuilder{
			SocketID:  s.id,
			Error:     model.ErrWrongRole,
			Operation: operation,
		}.MaybeBuild()
	}
	if timeout := s.ctx.HandshakeTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	s.ctx.Handler.OnMeasurement(model.Measurement{
		TLSHandshakeStart: &model.TLSHandshakeStartEvent{
			Config: model.TLSConfig{
				NextProtos: s.config.NextProtos,
				ServerName: s.config.ServerName,
			},
			DurationSinceBeginning: time.Now().Sub(s.ctx.Beginning),
			Role:                   string(role),
			SocketID:               s.id,
		},
	})
	start := time.Now()
	err := s.conn.HandshakeContext(ctx)
	stop := time.Now()
	s.ctx.Handler.OnMeasurement(model.Measurement{
		TLSHandshakeDone: &model.TLSHandshakeDoneEvent{
			ConnectionState:        model.NewTLSConnectionState(s.conn.ConnectionState()),
			DurationSinceBeginning: stop.Sub(s.ctx.Beginning),
			Error:                  err,
			Role:                   string(role),
			SocketID:               s.id,
			SyscallDuration:        stop.Sub(start),
		},
	})
	return errwrapper.SafeErrWrapperBuilder{
		SocketID:  s.id,
		Error:     err,
		Operation: operation,
	}.MaybeBuild()
}

// Receive reads up to max bytes of application data. It returns
// an empty slice when the peer has closed the connection.
func (s *Socket) Receive(max int) ([]byte, error) {
	if max < 0 {
		return nil, errwrapper.SafeErrWrapperBuilder{
			SocketID:  s.id,
			Error:     model.ErrNegativeSize,
			Operation: model.ReceiveOperation,
		}.MaybeBuild()
	}
	buf := make([]byte, max)
	if max == 0 {
		return buf, nil
	}
	start := time.Now()
	n, err := s.conn.Read(buf)
	stop := time.Now()
	s.ctx.Handler.OnMeasurement(model.Measurement{
		Read: &model.ReadEvent{
			DurationSinceBeginning: stop.Sub(s.ctx.Beginning),
			Error:                  err,
			NumBytes:               int64(n),
			SocketID:               s.id,
			SyscallDuration:        stop.Sub(start),
		},
	})
	if err != nil && n == 0 && !errors.Is(err, io.EOF) {
		return nil, errwrapper.SafeErrWrapperBuilder{
			SocketID:  s.id,
			Error:     err,
			Operation: model.ReceiveOperation,
		}.MaybeBuild()
	}
	return buf[:n], nil
}

// Send writes b as application data. On failure, the returned count
// tells how many bytes have been written anyway.
func (s *Socket) Send(b []byte) (int, error) {
	start := time.Now()
	n, err := s.conn.Write(b)
	stop := time.Now()
	s.ctx.Handler.OnMeasurement(model.Measurement{
		Write: &model.WriteEvent{
			DurationSinceBeginning: stop.Sub(s.ctx.Beginning),
			Error:                  err,
			NumBytes:               int64(n),
			SocketID:               s.id,
			SyscallDuration:        stop.Sub(start),
		},
	})
	return n, errwrapper.SafeErrWrapperBuilder{
		SocketID:  s.id,
		Error:     err,
		Operation: model.SendOperation,
	}.MaybeBuild()
}

// recordVerification runs at the end of every handshake.
func (s *Socket) recordVerification(peer []*x509.Certificate) {
	code := model.VerifyNoPeerCertificate
	if len(peer) > 0 {
		_, err := peer[0].Verify(s.ctx.VerifyOptions(peer))
		code = classify(err, peer[0], time.Now())
	}
	s.mu.Lock()
	s.verifyCode = code
	s.mu.Unlock()
}

// VerifyResult returns the result of verifying the peer certificate
// chain during the last handshake.
func (s *Socket) VerifyResult() model.VerifyCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyCode
}

// VerifyConnection checks the peer certificate. Servers whose own
// certificates are self-signed do not check client certificates.
// Otherwise the peer must have presented a certificate, and the
// verification must have succeeded, or failed only because the
// issuer is unknown and our own certificates are self-signed.
func (s *Socket) VerifyConnection() error {
	code := s.VerifyResult()
	skipped := s.ctx.Role() == tlsctx.RoleServer && s.ctx.SelfSigned()
	var err error
	if !skipped {
		if len(s.conn.ConnectionState().PeerCertificates) < 1 {
			err = &model.CertificateError{
				Code:     code,
				Reason:   model.CertificateNotPresented,
				SocketID: s.id,
			}
		} else if reason := decide(code, s.ctx.SelfSigned()); reason != "" {
			err = &model.CertificateError{
				Code:     code,
				Reason:   reason,
				SocketID: s.id,
			}
		}
	}
	s.ctx.Handler.OnMeasurement(model.Measurement{
		Verify: &model.VerifyEvent{
			Code:                   code,
			DurationSinceBeginning: time.Now().Sub(s.ctx.Beginning),
			Error:                  err,
			Skipped:                skipped,
			SocketID:               s.id,
		},
	})
	return err
}

// ConnectionState returns the TLS connection state.
func (s *Socket) ConnectionState() tls.ConnectionState {
	return s.conn.ConnectionState()
}

// PeerCertificates returns the certificates presented by the peer.
func (s *Socket) PeerCertificates() []*x509.Certificate {
	return s.conn.ConnectionState().PeerCertificates
}

// LocalAddr returns the local network address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// SetDeadline sets the read and write deadlines of the underlying
// connection. A zero value for t means no deadline.
func (s *Socket) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// Close sends close_notify, if the handshake completed, and closes
// the underlying connection. It is safe to call Close more than once;
// only the first call has effect.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
