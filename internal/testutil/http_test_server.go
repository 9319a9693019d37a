package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
)

// IPv4Server is a loopback HTTP server for tests that exercise real network
// round trips, such as the frame gateway talking to a module upstream. It
// binds tcp4 explicitly so the URL is stable on hosts where localhost
// resolves to ::1 first.
type IPv4Server struct {
	URL string

	listener net.Listener
	server   *http.Server
}

// NewIPv4Server starts the server and returns it ready to accept requests.
// The test is skipped when the IPv4 loopback is unavailable.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}

	s := &IPv4Server{
		URL:      "http://" + l.Addr().String(),
		listener: l,
		server:   &http.Server{Handler: handler},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("test server: %v", err)
		}
	}()
	return s
}

// Close shuts the server down and waits for in-flight handlers.
func (s *IPv4Server) Close() {
	_ = s.server.Shutdown(context.Background())
}
