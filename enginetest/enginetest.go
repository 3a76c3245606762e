// Package enginetest provides an in-process server harness for testing
// handlers and middleware against a real TCP socket, grounded on the
// teacher's src/http/th/tserver.go helper (bind to :0, serve in a
// background goroutine, expose the chosen address, tear down on Close).
package enginetest

import (
	"net/http"
	"testing"
	"time"

	"github.com/loomhttp/engine"
	"github.com/loomhttp/engine/config"
)

// Server wraps a running *engine.Listener bound to an OS-assigned port,
// for tests that want to drive it with a real HTTP client rather than
// calling engine.Dispatch directly.
type Server struct {
	Engine   *engine.Engine
	Listener *engine.Listener

	url  string
	done chan error
}

// NewServer builds an Engine via build, binds it to 127.0.0.1:0, and
// starts serving in the background. Call Close (deferred) to shut it
// down; tests should never reach this without a running t to attach
// t.Cleanup to.
func NewServer(t *testing.T, build func(e *engine.Engine)) *Server {
	t.Helper()

	e := engine.New(engine.Options{})
	build(e)
	e.Freeze()

	cfg := &config.ListenerConfig{
		Address:             "127.0.0.1:0",
		Backlog:             1024,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		SSLHandshakeTimeout: 5 * time.Second,
		HeaderBudgetBytes:   8192,
		AcceptLoops:         1,
		MaxInFlight:         64,
	}
	ln := engine.NewListener(e, cfg)

	s := &Server{Engine: e, Listener: ln, done: make(chan error, 1)}
	go func() { s.done <- ln.Serve() }()

	s.url = "http://" + ln.Addr().String()

	t.Cleanup(s.Close)
	return s
}

// URL returns the base "http://host:port" the server is listening on.
func (s *Server) URL() string {
	return s.url
}

// Close stops the listener and waits at most two seconds for Serve to
// return, which it does only once every in-flight connection has
// finished (see Listener.Stop); connections still open after that are
// left running.
func (s *Server) Close() {
	s.Listener.Stop()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
	}
}

// Client returns a plain net/http client pointed at nothing in
// particular; callers build requests against s.URL() themselves. Kept
// as a thin helper so test files don't each redeclare the same
// boilerplate client.
func Client() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}
