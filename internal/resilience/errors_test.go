package resilience

import (
	"context"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", eris.New("bad payload"), false},
		{"explicit transient", Transient(eris.New("throttled"), 429), true},
		{"wrapped transient", eris.Wrap(Transient(eris.New("upstream 503"), 503), "rnec: fetch mesa"), true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"net timeout", &net.DNSError{Err: "lookup", IsTimeout: true}, true},
		{"message heuristic", eris.New("read tcp: connection reset by peer"), true},
		{"tls handshake", eris.New("net/http: TLS handshake timeout"), true},
		{"context canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		assert.False(t, RetryableStatus(code), "status %d", code)
	}
}
