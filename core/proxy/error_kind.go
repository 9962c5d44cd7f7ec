package proxy

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorKind tells an operator whether the upstream framework is down,
// slow, or something else went wrong.
type ErrorKind string

const (
	KindConnectionRefused ErrorKind = "connection_refused"
	KindTimeout           ErrorKind = "timeout"
	KindError             ErrorKind = "error"
)

func classifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnectionRefused
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return KindConnectionRefused
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return KindTimeout
	}
	return KindError
}
