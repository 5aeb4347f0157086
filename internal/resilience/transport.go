package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransportError marks a failure to get a usable answer from an upstream host:
// network errors, timeouts, 5xx/429 statuses and open breakers.
type TransportError struct {
	Host       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Host, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err for host. statusCode is 0 for network failures.
func NewTransportError(host string, statusCode int, err error) *TransportError {
	return &TransportError{Host: host, StatusCode: statusCode, Err: err}
}

var transportPatterns = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransport reports whether err is a transport-level failure rather than a
// well-formed upstream answer.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrOpen) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transportPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransportStatus reports whether an HTTP status means the upstream host
// could not answer, as opposed to rejecting the request.
func IsTransportStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
