// Package logger is a handler that emits logs
package logger

import (
	"crypto/tls"

	"github.com/apex/log"
	"github.com/ooni/tlssock/model"
)

var (
	tlsVersion = map[uint16]string{
		tls.VersionTLS10: "TLSv1",
		tls.VersionTLS11: "TLSv1.1",
		tls.VersionTLS12: "TLSv1.2",
		tls.VersionTLS13: "TLSv1.3",
	}
)

// Handler is a handler that logs events.
type Handler struct {
	logger log.Interface
}

// NewHandler returns a new logging handler.
func NewHandler(logger log.Interface) *Handler {
	return &Handler{logger: logger}
}

// OnMeasurement logs the specific measurement
func (h *Handler) OnMeasurement(m model.Measurement) {
	// Socket lifecycle
	if m.SocketCreate != nil {
		h.logger.WithFields(log.Fields{
			"elapsed":       m.SocketCreate.DurationSinceBeginning,
			"localAddress":  m.SocketCreate.LocalAddress,
			"remoteAddress": m.SocketCreate.RemoteAddress,
			"role":          m.SocketCreate.Role,
			"socketID":      m.SocketCreate.SocketID,
		}).Debug("tls: socket created")
	}
	if m.Close != nil {
		h.logger.WithFields(log.Fields{
			"blockedFor": m.Close.SyscallDuration,
			"elapsed":    m.Close.DurationSinceBeginning,
			"error":      m.Close.Error,
			"socketID":   m.Close.SocketID,
		}).Debug("net: close done")
	}

	// Syscalls
	if m.RawRead != nil {
		h.logger.WithFields(log.Fields{
			"blockedFor": m.RawRead.SyscallDuration,
			"elapsed":    m.RawRead.DurationSinceBeginning,
			"error":      m.RawRead.Error,
			"numBytes":   m.RawRead.NumBytes,
			"socketID":   m.RawRead.SocketID,
		}).Debug("net: read done")
	}
	if m.RawWrite != nil {
		h.logger.WithFields(log.Fields{
			"blockedFor": m.RawWrite.SyscallDuration,
			"elapsed":    m.RawWrite.DurationSinceBeginning,
			"error":      m.RawWrite.Error,
			"numBytes":   m.RawWrite.NumBytes,
			"socketID":   m.RawWrite.SocketID,
		}).Debug("net: write done")
	}

	// TLS
	if m.TLSHandshakeStart != nil {
		h.logger.WithFields(log.Fields{
			"elapsed":    m.TLSHandshakeStart.DurationSinceBeginning,
			"nextProtos": m.TLSHandshakeStart.Config.NextProtos,
			"role":       m.TLSHandshakeStart.Role,
			"serverName": m.TLSHandshakeStart.Config.ServerName,
			"socketID":   m.TLSHandshakeStart.SocketID,
		}).Debug("tls: start handshake")
	}
	if m.TLSHandshakeDone != nil {
		h.logger.WithFields(log.Fields{
			"alpn":       m.TLSHandshakeDone.ConnectionState.NegotiatedProtocol,
			"blockedFor": m.TLSHandshakeDone.SyscallDuration,
			"elapsed":    m.TLSHandshakeDone.DurationSinceBeginning,
			"error":      m.TLSHandshakeDone.Error,
			"resumed":    m.TLSHandshakeDone.ConnectionState.DidResume,
			"role":       m.TLSHandshakeDone.Role,
			"socketID":   m.TLSHandshakeDone.SocketID,
			"version":    tlsVersion[m.TLSHandshakeDone.ConnectionState.Version],
		}).Debug("tls: handshake done")
	}
	if m.Read != nil {
		h.logger.WithFields(log.Fields{
			"blockedFor": m.Read.SyscallDuration,
			"elapsed":    m.Read.DurationSinceBeginning,
			"error":      m.Read.Error,
			"numBytes":   m.Read.NumBytes,
			"socketID":   m.Read.SocketID,
		}).Debug("tls: receive done")
	}
	if m.Write != nil {
		h.logger.WithFields(log.Fields{
			"blockedFor": m.Write.SyscallDuration,
			"elapsed":    m.Write.DurationSinceBeginning,
			"error":      m.Write.Error,
			"numBytes":   m.Write.NumBytes,
			"socketID":   m.Write.SocketID,
		}).Debug("tls: send done")
	}
	if m.Verify != nil {
		h.logger.WithFields(log.Fields{
			"code":     m.Verify.Code,
			"elapsed":  m.Verify.DurationSinceBeginning,
			"error":    m.Verify.Error,
			"skipped":  m.Verify.Skipped,
			"socketID": m.Verify.SocketID,
		}).Debug("tls: peer verification done")
	}
}
