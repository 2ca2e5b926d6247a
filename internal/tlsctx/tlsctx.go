// Package tlsctx contains the shared TLS context. A context holds
// the role and the certificate material and is read-only once built,
// hence it can be shared by any number of sockets.
package tlsctx

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ooni/tlssock/handlers"
	"github.com/ooni/tlssock/model"
)

// Role is the TLS role of a context.
type Role string

const (
	// RoleClient performs outbound handshakes.
	RoleClient = Role("client")

	// RoleServer performs inbound handshakes.
	RoleServer = Role("server")
)

// Context is the shared TLS configuration.
type Context struct {
	// Beginning is the zero of the time axis of emitted events.
	Beginning time.Time

	// Handler receives the events of every socket.
	Handler model.Handler

	config           *tls.Config
	handshakeTimeout time.Duration
	role             Role
	roots            *x509.CertPool
	selfSigned       bool
}

// New creates a new Context.
func New(config Config) (*Context, error) {
	if config.Role != RoleClient && config.Role != RoleServer {
		return nil, fmt.Errorf("tlsctx: invalid role: %q", config.Role)
	}
	if config.HandshakeTimeout < 0 {
		return nil, errors.New("tlsctx: negative handshake timeout")
	}
	certs := append([]tls.Certificate(nil), config.Certificates...)
	if config.CertFile != "" || config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if config.Role == RoleServer && len(certs) < 1 {
		return nil, errors.New("tlsctx: server role requires a certificate")
	}
	roots := config.RootCAs
	if config.CABundle != "" {
		pool, err := ReadCABundle(config.CABundle)
		if err != nil {
			return nil, err
		}
		roots = pool
	}
	minVersion, err := parseVersion(config.MinVersion)
	if err != nil {
		return nil, err
	}
	maxVersion, err := parseVersion(config.MaxVersion)
	if err != nil {
		return nil, err
	}
	handler := config.Handler
	if handler == nil {
		handler = handlers.NoHandler
	}
	beginning := config.Beginning
	if beginning.IsZero() {
		beginning = time.Now()
	}
	return &Context{
		Beginning: beginning,
		Handler:   handler,
		config: &tls.Config{
			Certificates: certs,
			// The library only performs the handshake. We verify the
			// peer ourselves and report the result to VerifyConnection.
			InsecureSkipVerify: true,
			ClientAuth:         tls.RequestClientCert,
			MaxVersion:         maxVersion,
			MinVersion:         minVersion,
			NextProtos:         config.NextProtos,
			ServerName:         config.ServerName,
		},
		handshakeTimeout: config.HandshakeTimeout,
		role:             config.Role,
		roots:            roots,
		selfSigned:       config.SelfSigned,
	}, nil
}

// Role returns the context role.
func (c *Context) Role() Role {
	return c.role
}

// SelfSigned tells whether our certificates are self-signed.
func (c *Context) SelfSigned() bool {
	return c.selfSigned
}

// HandshakeTimeout returns the handshake timeout (zero means none).
func (c *Context) HandshakeTimeout() time.Duration {
	return c.handshakeTimeout
}

// ServerName returns the name we expect in the server certificate.
func (c *Context) ServerName() string {
	return c.config.ServerName
}

// Certificates returns our own certificate chains.
func (c *Context) Certificates() []tls.Certificate {
	return c.config.Certificates
}

// NewTLSConfig returns a fresh copy of the library configuration.
// The verify function is invoked at the end of every handshake with
// the peer certificates; it cannot abort the handshake.
func (c *Context) NewTLSConfig(verify func(peer []*x509.Certificate)) *tls.Config {
	config := c.config.Clone() // avoid polluting original config
	config.VerifyConnection = func(state tls.ConnectionState) error {
		verify(state.PeerCertificates)
		return nil
	}
	return config
}

// VerifyOptions returns the options for verifying a peer chain.
func (c *Context) VerifyOptions(chain []*x509.Certificate) x509.VerifyOptions {
	opts := x509.VerifyOptions{
		Intermediates: x509.NewCertPool(),
		Roots:         c.roots,
	}
	for i := 1; i < len(chain); i++ {
		opts.Intermediates.AddCert(chain[i])
	}
	if c.role == RoleClient {
		opts.DNSName = c.config.ServerName
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	} else {
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}
	return opts
}

// ReadCABundle read a CA bundle from file
func ReadCABundle(path string) (*x509.CertPool, error) {
	cert, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(cert) {
		return nil, fmt.Errorf("tlsctx: no certificates in %s", path)
	}
	return pool, nil
}
