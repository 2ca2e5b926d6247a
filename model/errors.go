package model

import (
	"errors"
	"fmt"
)

const (
	// CreateOperation is the operation binding a socket to a connection.
	CreateOperation = "create"

	// ConnectOperation is the client side TLS handshake.
	ConnectOperation = "connect"

	// AcceptOperation is the server side TLS handshake.
	AcceptOperation = "accept"

	// ReceiveOperation reads decrypted application data.
	ReceiveOperation = "receive"

	// SendOperation writes application data.
	SendOperation = "send"
)

var (
	// ErrWrongRole indicates that the operation does not match
	// the role of the context that created the socket.
	ErrWrongRole = errors.New("operation not valid for this role")

	// ErrInvalidContext indicates that a socket was created without a
	// context, or with a context not built using tlsctx.New.
	ErrInvalidContext = errors.New("nil or uninitialized context")

	// ErrNilConn indicates that a socket was created without connection.
	ErrNilConn = errors.New("nil network connection")

	// ErrNegativeSize indicates a negative Receive size.
	ErrNegativeSize = errors.New("negative receive size")
)

// ErrWrapper is our error wrapper for socket operations. The Failure
// field is the classified result code, while WrappedErr is the error
// returned by the TLS library (or by the network connection).
type ErrWrapper struct {
	// SocketID is the identifier of the failing socket, or zero
	// when the socket could not be created.
	SocketID int64

	// Failure is the OONI compatible failure string.
	Failure string

	// Operation is one of the *Operation constants.
	Operation string

	// WrappedErr is the error that we're wrapping.
	WrappedErr error
}

// Error returns a description of the error that occurred.
func (e *ErrWrapper) Error() string {
	return fmt.Sprintf("tlssock: %s: %s", e.Operation, e.Failure)
}

// Unwrap allows to access the underlying error
func (e *ErrWrapper) Unwrap() error {
	return e.WrappedErr
}

const (
	// CertificateNotPresented means the peer did not send a certificate.
	CertificateNotPresented = "not_presented"

	// CertificateNoIssuer means we could not find the issuer of
	// the peer certificate among the trusted roots.
	CertificateNoIssuer = "no_issuer_certificate"

	// CertificateInvalid covers every other verification failure.
	CertificateInvalid = "invalid"
)

// CertificateError is returned by VerifyConnection when the peer
// certificate is not acceptable.
type CertificateError struct {
	Code     VerifyCode
	Reason   string
	SocketID int64
}

// Error returns a description of the error that occurred.
func (e *CertificateError) Error() string {
	return fmt.Sprintf("tlssock: invalid peer certificate: %s (%s)", e.Reason, e.Code)
}

// VerifyCode is the result of verifying the peer certificate chain.
type VerifyCode int

const (
	// VerifyNotPerformed means that no handshake has completed yet.
	VerifyNotPerformed VerifyCode = iota
	VerifyOK
	VerifyNoPeerCertificate
	VerifyUnableToGetIssuerCert
	VerifyUnableToGetIssuerCertLocally
	VerifyCertNotYetValid
	VerifyCertHasExpired
	VerifyHostnameMismatch
	VerifyInvalidCA
	VerifyInvalidPurpose
	VerifyPathLengthExceeded
	VerifyNameConstraints
	VerifyUnhandledCriticalExtension
	VerifyDepthZeroSelfSigned
	VerifySelfSignedInChain
	VerifyUnspecified
)

var verifyCodeNames = map[VerifyCode]string{
	VerifyNotPerformed:                 "not_performed",
	VerifyOK:                           "ok",
	VerifyNoPeerCertificate:            "no_peer_certificate",
	VerifyUnableToGetIssuerCert:        "unable_to_get_issuer_certificate",
	VerifyUnableToGetIssuerCertLocally: "unable_to_get_issuer_certificate_locally",
	VerifyCertNotYetValid:              "certificate_not_yet_valid",
	VerifyCertHasExpired:               "certificate_has_expired",
	VerifyHostnameMismatch:             "hostname_mismatch",
	VerifyInvalidCA:                    "invalid_ca",
	VerifyInvalidPurpose:               "invalid_purpose",
	VerifyPathLengthExceeded:           "path_length_exceeded",
	VerifyNameConstraints:              "name_constraints_violation",
	VerifyUnhandledCriticalExtension:   "unhandled_critical_extension",
	VerifyDepthZeroSelfSigned:          "depth_zero_self_signed_certificate",
	VerifySelfSignedInChain:            "self_signed_certificate_in_chain",
	VerifyUnspecified:                  "unspecified",
}

func (c VerifyCode) String() string {
	if s, ok := verifyCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("verify_code_%d", int(c))
}

// MarshalText allows emitting codes by name in JSON.
func (c VerifyCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
