// Package model contains the data model. Every socket is tagged
// using a unique int64 SocketID. These IDs are never reused.
//
// All events also have a DurationSinceBeginning. This is always the
// time elapsed since the Beginning of the context that created the
// socket. We use a monotonic clock.
//
// SyscallDuration, where present, indicates for how long the code
// has been blocked inside the TLS library or the underlying network
// connection. For example, ReadEvent.SyscallDuration indicates for
// how long the code has been blocked inside Receive().
//
// When an operation may fail, we also include the Error.
package model

import (
	"crypto/tls"
	"crypto/x509"
	"time"
)

// SocketCreateEvent is emitted when a socket has been bound to
// an existing network connection.
type SocketCreateEvent struct {
	DurationSinceBeginning time.Duration
	LocalAddress           string
	RemoteAddress          string
	Role                   string
	SocketID               int64
}

// TLSConfig contains TLS configurations.
type TLSConfig struct {
	NextProtos []string
	ServerName string
}

// X509Certificate is an x.509 certificate.
type X509Certificate struct {
	// Data contains the certificate bytes in DER format.
	Data []byte
}

// TLSConnectionState contains the TLS connection state.
type TLSConnectionState struct {
	CipherSuite        uint16
	DidResume          bool
	NegotiatedProtocol string
	PeerCertificates   []X509Certificate
	Version            uint16
}

// NewTLSConnectionState creates a new TLSConnectionState.
func NewTLSConnectionState(s tls.ConnectionState) TLSConnectionState {
	return TLSConnectionState{
		CipherSuite:        s.CipherSuite,
		DidResume:          s.DidResume,
		NegotiatedProtocol: s.NegotiatedProtocol,
		PeerCertificates:   SimplifyCerts(s.PeerCertificates),
		Version:            s.Version,
	}
}

// SimplifyCerts simplifies a certificate chain for archival
func SimplifyCerts(in []*x509.Certificate) (out []X509Certificate) {
	for _, cert := range in {
		out = append(out, X509Certificate{
			Data: cert.Raw,
		})
	}
	return
}

// TLSHandshakeStartEvent is emitted when the TLS handshake starts.
type TLSHandshakeStartEvent struct {
	Config                 TLSConfig
	DurationSinceBeginning time.Duration
	Role                   string
	SocketID               int64
}

// TLSHandshakeDoneEvent is emitted when the TLS handshake terminates.
type TLSHandshakeDoneEvent struct {
	ConnectionState        TLSConnectionState
	DurationSinceBeginning time.Duration
	Error                  error
	Role                   string
	SocketID               int64
	SyscallDuration        time.Duration
}

// ReadEvent is emitted when Receive returns. The byte count is
// the amount of decrypted application data.
type ReadEvent struct {
	DurationSinceBeginning time.Duration
	Error                  error
	NumBytes               int64
	SocketID               int64
	SyscallDuration        time.Duration
}

// WriteEvent is emitted when Send returns.
type WriteEvent struct {
	DurationSinceBeginning time.Duration
	Error                  error
	NumBytes               int64
	SocketID               int64
	SyscallDuration        time.Duration
}

// RawReadEvent is emitted when a read from the underlying network
// connection returns. The byte count includes TLS framing.
type RawReadEvent struct {
	DurationSinceBeginning time.Duration
	Error                  error
	NumBytes               int64
	SocketID               int64
	SyscallDuration        time.Duration
}

// RawWriteEvent is emitted when a write on the underlying network
// connection returns.
type RawWriteEvent struct {
	DurationSinceBeginning time.Duration
	Error                  error
	NumBytes               int64
	SocketID               int64
	SyscallDuration        time.Duration
}

// CloseEvent is emitted when the underlying network connection
// has been closed.
type CloseEvent struct {
	DurationSinceBeginning time.Duration
	Error                  error
	SocketID               int64
	SyscallDuration        time.Duration
}

// VerifyEvent is emitted when VerifyConnection returns. Skipped
// is true when the policy did not require inspecting the peer.
type VerifyEvent struct {
	Code                   VerifyCode
	DurationSinceBeginning time.Duration
	Error                  error
	Skipped                bool
	SocketID               int64
}

// Measurement contains zero or more events. Do not assume that at any
// time a Measurement will only contain a single event. When a Measurement
// contains an event, the corresponding pointer is non nil.
type Measurement struct {
	Close             *CloseEvent             `json:",omitempty"`
	RawRead           *RawReadEvent           `json:",omitempty"`
	RawWrite          *RawWriteEvent          `json:",omitempty"`
	Read              *ReadEvent              `json:",omitempty"`
	SocketCreate      *SocketCreateEvent      `json:",omitempty"`
	TLSHandshakeStart *TLSHandshakeStartEvent `json:",omitempty"`
	TLSHandshakeDone  *TLSHandshakeDoneEvent  `json:",omitempty"`
	Verify            *VerifyEvent            `json:",omitempty"`
	Write             *WriteEvent             `json:",omitempty"`
}

// Handler handles measurement events.
type Handler interface {
	// OnMeasurement is called when an event occurs. Sockets sharing
	// the same context share the same handler, hence OnMeasurement
	// calls may happen concurrently.
	OnMeasurement(Measurement)
}
