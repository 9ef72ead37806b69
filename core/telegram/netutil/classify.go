// Package netutil classifies transport errors returned while calling the Bot API.
package netutil

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
)

// Kinds reported by Classify.
const (
	KindTimeout  = "timeout"
	KindDNS      = "dns"
	KindDial     = "dial"
	KindTLS      = "tls"
	KindCanceled = "canceled"
	KindUnknown  = "unknown"
)

// Classify maps a transport error to a short kind suitable for the err_kind log
// field. It returns an empty string for nil and KindUnknown when nothing matches.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return KindTimeout
		}
		if opErr.Op == "dial" {
			return KindDial
		}
		if opErr.Op == "read" || opErr.Op == "write" {
			if kind := Classify(opErr.Err); kind != "" && kind != KindUnknown {
				return kind
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return KindTimeout
		}
		if urlErr.Err != nil && !errors.Is(urlErr.Err, err) {
			if kind := Classify(urlErr.Err); kind != "" && kind != KindUnknown {
				return kind
			}
		}
	}

	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return KindTLS
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return KindTLS
	}

	return KindUnknown
}

// IsTransient reports whether a network error looks like a transient dial or
// timeout failure. The relay never retries; the flag only ends up in logs so
// operators can tell flaky networking apart from rejected requests.
func IsTransient(err error) bool {
	switch Classify(err) {
	case KindTimeout, KindDial, KindDNS:
		return true
	}
	return false
}
