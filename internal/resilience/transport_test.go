package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport error", NewTransportError("h", 503, errors.New("unavailable")), true},
		{"wrapped transport error", eris.Wrap(NewTransportError("h", 0, errors.New("x")), "engine: get feature"), true},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("boom")}, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"message pattern", errors.New("read: connection reset by peer"), true},
		{"plain", errors.New("invalid typename"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransport(tt.err))
		})
	}
}

func TestIsTransportStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransportStatus(code), code)
	}
	for _, code := range []int{200, 400, 403, 404} {
		assert.False(t, IsTransportStatus(code), code)
	}
}

func TestTransportError_Message(t *testing.T) {
	err := NewTransportError("mapy.geoportal.gov.pl", 502, errors.New("bad gateway"))
	assert.Equal(t, "mapy.geoportal.gov.pl: status 502: bad gateway", err.Error())
	assert.Equal(t, "h: x", NewTransportError("h", 0, errors.New("x")).Error())
}
