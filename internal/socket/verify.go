package socket

import (
	"bytes"
	"crypto/x509"
	"errors"
	"time"

	"github.com/ooni/tlssock/model"
)

// classify maps the result of x509 path validation of the chain whose
// first certificate is leaf to a VerifyCode.
func classify(err error, leaf *x509.Certificate, now time.Time) model.VerifyCode {
	if err == nil {
		return model.VerifyOK
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return model.VerifyHostnameMismatch
	}
	// The Go verifier does not tell apart a missing intermediate from a
	// missing root, so both end up here.
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		if cert := unknownAuthority.Cert; cert != nil && selfSigned(cert) {
			if leaf != nil && cert.Equal(leaf) {
				return model.VerifyDepthZeroSelfSigned
			}
			return model.VerifySelfSignedInChain
		}
		return model.VerifyUnableToGetIssuerCertLocally
	}
	var systemRoots x509.SystemRootsError
	if errors.As(err, &systemRoots) {
		return model.VerifyUnableToGetIssuerCertLocally
	}
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		switch invalid.Reason {
		case x509.Expired:
			if invalid.Cert != nil && now.Before(invalid.Cert.NotBefore) {
				return model.VerifyCertNotYetValid
			}
			return model.VerifyCertHasExpired
		case x509.NotAuthorizedToSign:
			return model.VerifyInvalidCA
		case x509.TooManyIntermediates:
			return model.VerifyPathLengthExceeded
		case x509.IncompatibleUsage:
			return model.VerifyInvalidPurpose
		case x509.CANotAuthorizedForThisName, x509.NameConstraintsWithoutSANs,
			x509.UnconstrainedName, x509.TooManyConstraints,
			x509.CANotAuthorizedForExtKeyUsage:
			return model.VerifyNameConstraints
		}
		return model.VerifyUnspecified
	}
	var critical x509.UnhandledCriticalExtension
	if errors.As(err, &critical) {
		return model.VerifyUnhandledCriticalExtension
	}
	return model.VerifyUnspecified
}

// selfSigned tells whether cert is signed by its own key. We do not use
// CheckSignatureFrom because it also requires cert to be a CA.
func selfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawIssuer, cert.RawSubject) &&
		cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

// decide applies the peer certificate policy to a verify code and
// returns the CertificateError reason, or "" if the peer is accepted.
// A missing issuer is tolerated when our own material is self-signed.
func decide(code model.VerifyCode, selfSigned bool) string {
	switch code {
	case model.VerifyOK:
		return ""
	case model.VerifyUnableToGetIssuerCert, model.VerifyUnableToGetIssuerCertLocally:
		if selfSigned {
			return ""
		}
		return model.CertificateNoIssuer
	}
	return model.CertificateInvalid
}
