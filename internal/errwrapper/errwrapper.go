// Package errwrapper contains our error wrapper
package errwrapper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ooni/tlssock/model"
)

// SafeErrWrapperBuilder contains a builder for model.ErrWrapper that
// is safe, i.e., behaves correctly when the error is nil.
type SafeErrWrapperBuilder struct {
	// SocketID is the socket ID, if any
	SocketID int64

	// Error is the error, if any
	Error error

	// Operation is the operation that failed
	Operation string
}

// MaybeBuild builds a new model.ErrWrapper, if b.Error is not nil, and
// returns a nil error value, instead, if b.Error is nil.
func (b SafeErrWrapperBuilder) MaybeBuild() (err error) {
	if b.Error != nil {
		var wrapper *model.ErrWrapper
		if errors.As(b.Error, &wrapper) {
			return wrapper
		}
		err = &model.ErrWrapper{
			SocketID:   b.SocketID,
			Failure:    toFailureString(b.Error),
			Operation:  b.Operation,
			WrappedErr: b.Error,
		}
	}
	return
}

func toFailureString(err error) string {
	var errwrapper *model.ErrWrapper
	if errors.As(err, &errwrapper) {
		return errwrapper.Failure // we've already wrapped it
	}

	switch {
	case errors.Is(err, model.ErrWrongRole):
		return "wrong_role"
	case errors.Is(err, model.ErrInvalidContext):
		return "invalid_context"
	case errors.Is(err, model.ErrNilConn):
		return "invalid_descriptor"
	case errors.Is(err, model.ErrNegativeSize):
		return "invalid_argument"
	case errors.Is(err, net.ErrClosed):
		return "connection_already_closed"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	case errors.Is(err, context.DeadlineExceeded):
		return "generic_timeout_error"
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof_error"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection_reset"
	}

	var x509HostnameError x509.HostnameError
	if errors.As(err, &x509HostnameError) {
		// Test case: https://wrong.host.badssl.com/
		return "ssl_invalid_hostname"
	}
	var x509UnknownAuthorityError x509.UnknownAuthorityError
	if errors.As(err, &x509UnknownAuthorityError) {
		// Test case: https://self-signed.badssl.com/
		return "ssl_unknown_authority"
	}
	var x509CertificateInvalidError x509.CertificateInvalidError
	if errors.As(err, &x509CertificateInvalidError) {
		// Test case: https://expired.badssl.com/
		return "ssl_invalid_certificate"
	}
	var recordHeaderError tls.RecordHeaderError
	if errors.As(err, &recordHeaderError) {
		// The peer is not speaking TLS.
		return "ssl_invalid_record"
	}

	s := err.Error()
	if strings.Contains(s, "remote error: tls:") {
		return "ssl_remote_alert"
	}
	if strings.HasPrefix(s, "tls:") {
		return "ssl_failed_handshake"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "generic_timeout_error"
	}
	return fmt.Sprintf("unknown_failure: %s", s)
}
