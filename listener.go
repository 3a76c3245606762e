package engine

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/loomhttp/engine/config"
	"github.com/loomhttp/engine/enginelog"
	"github.com/loomhttp/engine/metrics"
	"github.com/loomhttp/engine/pool"
)

// ErrListenerClosed is returned by Serve once Stop has been called (or a
// fatal accept error stopped it) and every goroutine Serve started has
// finished.
var ErrListenerClosed = errors.New("engine: listener closed")

// tcpKeepAliveListener wraps a *net.TCPListener, setting TCP keep-alive
// on every accepted connection the way the standard library's own
// http.Server default listener does.
type tcpKeepAliveListener struct {
	*net.TCPListener
	period time.Duration
}

func (ln tcpKeepAliveListener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = tc.SetKeepAlive(true)
	period := ln.period
	if period <= 0 {
		period = 15 * time.Second
	}
	_ = tc.SetKeepAlivePeriod(period)
	_ = tc.SetNoDelay(true)
	_ = tc.SetLinger(0)
	return tc, nil
}

// Listener binds a TCP socket, accepts connections into a bounded
// intake queue, and dispatches one goroutine per connection to the
// state machine in connection.go. The accept goroutine(s) never block
// on anything but Accept and the queue send, so a slow handler never
// stalls new connections from being accepted up to the queue's
// capacity.
type Listener struct {
	cfg    *config.ListenerConfig
	engine *Engine

	log     enginelog.Logger
	metrics *metrics.Collector
	bufio   *pool.BufioPool

	tlsConfig *tls.Config

	ln    net.Listener
	ready chan struct{} // closed once ln is bound, for Addr()

	intake chan net.Conn

	closing    chan struct{}
	once       sync.Once
	intakeOnce sync.Once

	acceptWg sync.WaitGroup // the acceptLoop goroutines only
	wg       sync.WaitGroup // everything Serve must wait for before returning
}

// ListenerOption customizes a Listener beyond what config.ListenerConfig
// carries (collaborators that aren't plain config values).
type ListenerOption func(*Listener)

// WithLogger attaches a structured logger used for accept errors,
// handshake failures, and connection-level warnings.
func WithLogger(log enginelog.Logger) ListenerOption {
	return func(l *Listener) { l.log = log }
}

// WithMetrics attaches a Prometheus collector. A nil collector (the
// zero value of this option) is a safe no-op.
func WithMetrics(m *metrics.Collector) ListenerOption {
	return func(l *Listener) { l.metrics = m }
}

// WithTLS enables TLS termination ahead of the HTTP/1.1 state machine.
// cfg's MinVersion defaults to TLS 1.2 if unset.
func WithTLS(cfg *tls.Config) ListenerOption {
	return func(l *Listener) {
		cloned := cfg.Clone()
		if cloned.MinVersion == 0 {
			cloned.MinVersion = tls.VersionTLS12
		}
		l.tlsConfig = cloned
	}
}

// NewListener builds a Listener for e, bound once Serve is called.
// e.Freeze is called here if the caller hasn't already frozen the
// table, since the routing table must be readonly before the listener
// begins accepting concurrent requests.
func NewListener(e *Engine, cfg *config.ListenerConfig, opts ...ListenerOption) *Listener {
	if !e.Table().Frozen() {
		e.Freeze()
	}
	l := &Listener{
		cfg:     cfg,
		engine:  e,
		log:     enginelog.Discard(),
		closing: make(chan struct{}),
		ready:   make(chan struct{}),
		bufio:   pool.NewBufio(cfg.HeaderBudgetBytes, 4<<10),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Serve binds cfg.Address and runs the accept loop(s) until Stop is
// called or a fatal accept error occurs. It blocks for the lifetime of
// the listener; call it from its own goroutine for a non-blocking host.
func (l *Listener) Serve() error {
	tcpLn, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return err
	}
	backlogLn := tcpKeepAliveListener{TCPListener: tcpLn.(*net.TCPListener)}
	l.ln = backlogLn
	close(l.ready)

	l.intake = make(chan net.Conn, l.cfg.MaxInFlight)

	loops := l.cfg.AcceptLoops
	if loops < 1 {
		loops = 1
	}
	for i := 0; i < loops; i++ {
		l.acceptWg.Add(1)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.acceptWg.Done()
			l.acceptLoop()
		}()
	}

	// Once every accept goroutine has stopped pulling off the socket
	// (Stop was called, or a fatal accept error hit), close the intake
	// queue so dispatchLoop's range drains the backlog and returns.
	go func() {
		l.acceptWg.Wait()
		l.intakeOnce.Do(func() { close(l.intake) })
	}()

	l.wg.Add(1)
	go l.dispatchLoop()

	l.wg.Wait()
	return ErrListenerClosed
}

// Addr blocks until Serve has bound the socket, then returns its
// address. Used by tests and by hosts that bound to port 0 and need to
// discover the chosen port.
func (l *Listener) Addr() net.Addr {
	<-l.ready
	return l.ln.Addr()
}

// Stop stops accepting new connections by closing the listening socket.
// It does not signal connections already being served: each one keeps
// serving requests until keep-alive ends, the peer closes, or a read
// deadline passes, and only then does its goroutine exit. It does not
// block until every connection has drained; callers that need that
// should track OnConnectionClosed via HostHandler.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.closing)
		if l.ln != nil {
			_ = l.ln.Close()
		}
	})
}

// acceptLoop only accepts and enqueues; it never performs request I/O,
// so a full intake queue blocks new accepts (backpressure) rather than
// the accept goroutine doing handler work itself.
func (l *Listener) acceptLoop() {
	var tempDelay time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closing:
				return
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				l.log.Warn("engine: accept error, retrying: ", err)
				time.Sleep(tempDelay)
				continue
			}
			l.log.Error("engine: fatal accept error: ", err)
			l.Stop()
			return
		}
		tempDelay = 0

		select {
		case l.intake <- conn:
		case <-l.closing:
			_ = conn.Close()
			return
		}
	}
}

// dispatchLoop drains the intake queue, spawning one goroutine per
// connection. It is the only consumer of l.intake, decoupling accept
// bursts from handler concurrency.
func (l *Listener) dispatchLoop() {
	defer l.wg.Done()
	for conn := range l.intake {
		l.wg.Add(1)
		go func(c net.Conn) {
			defer l.wg.Done()
			l.handle(c)
		}(conn)
	}
}

func (l *Listener) handle(raw net.Conn) {
	opts := ConnOptions{
		ReadTimeout:         l.cfg.ReadTimeout,
		WriteTimeout:        l.cfg.WriteTimeout,
		SSLHandshakeTimeout: l.cfg.SSLHandshakeTimeout,
		HeaderBudgetBytes:   l.cfg.HeaderBudgetBytes,
		TLSConfig:           l.tlsConfig,
		Logger:              l.log,
		Metrics:             l.metrics,
		Bufio:               l.bufio,
	}
	c := newConnection(raw, opts, l.engine)
	c.serve()
}
