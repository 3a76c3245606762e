package engine

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/loomhttp/engine/enginelog"
	"github.com/loomhttp/engine/metrics"
	"github.com/loomhttp/engine/pool"
	"github.com/loomhttp/engine/requestid"
	"github.com/loomhttp/engine/wire"
)

// ConnOptions configures the per-connection state machine. A Listener
// builds one set of these and reuses it for every accepted connection.
type ConnOptions struct {
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	SSLHandshakeTimeout time.Duration
	HeaderBudgetBytes   int
	TLSConfig           *tls.Config

	Logger  enginelog.Logger
	Metrics *metrics.Collector

	// Bufio is the sharded reader/writer pool the connection rents its
	// header-parse and response-header buffers from on start, returning
	// them on close. Nil falls back to unpooled bufio.NewReader/Writer,
	// used by tests that construct a connection directly.
	Bufio *pool.BufioPool
}

func (o ConnOptions) logger() enginelog.Logger {
	if o.Logger == nil {
		return enginelog.Discard()
	}
	return o.Logger
}

// connState is the lifecycle state of one accepted socket, tracked only
// for diagnostics (the loop itself is driven by return values, not a
// state field read back out).
type connState int

const (
	stateIdle connState = iota
	stateAwaitingHandshake
	stateReading
	stateHandling
	stateWriting
	stateClosing
)

// connection drives one accepted socket through optional TLS handshake
// and a loop of parse/dispatch/serialize until keep-alive ends or the
// stream errors.
type connection struct {
	raw     net.Conn
	stream  io.ReadWriteCloser // raw, or the *tls.Conn wrapping it
	tlsConn *tls.Conn

	id   string
	info ConnectionInfo

	opts   ConnOptions
	engine *Engine

	br *bufio.Reader
	bw *bufio.Writer

	state connState
}

func newConnection(raw net.Conn, opts ConnOptions, e *Engine) *connection {
	return &connection{
		raw:    raw,
		stream: raw,
		id:     requestid.New(),
		opts:   opts,
		engine: e,
		state:  stateIdle,
	}
}

// serve runs the connection to completion: optional TLS handshake, then
// the request loop, releasing every buffer and closing the stream on
// every exit path.
func (c *connection) serve() {
	log := c.opts.logger().WithFields(enginelog.Fields{"conn_id": c.id, "remote": c.raw.RemoteAddr().String()})

	defer func() {
		if r := recover(); r != nil {
			log.Error("engine: panic serving connection: ", r)
		}
		c.close()
		c.opts.Metrics.ConnectionClosed()
		c.engine.host.fireClosed(c.info)
	}()

	c.opts.Metrics.ConnectionOpened()

	c.info = ConnectionInfo{
		ID:         c.id,
		RemoteAddr: c.raw.RemoteAddr().String(),
		LocalAddr:  c.raw.LocalAddr().String(),
	}

	if c.opts.TLSConfig != nil {
		c.state = stateAwaitingHandshake
		if !c.handshakeTLS(log) {
			return
		}
		c.info.TLS = true
	}

	c.engine.host.fireOpened(c.info)

	if c.opts.Bufio != nil {
		c.br = c.opts.Bufio.GetReader(c.stream)
		c.bw = c.opts.Bufio.GetWriter(c.stream)
	} else {
		c.br = bufio.NewReader(c.stream)
		c.bw = bufio.NewWriter(c.stream)
	}

	for {
		if d := c.opts.ReadTimeout; d > 0 {
			_ = c.raw.SetReadDeadline(time.Now().Add(d))
		}

		c.state = stateReading
		keepGoing := c.serveOneRequest(log)
		if !keepGoing {
			return
		}
	}
}

// handshakeTLS wraps the raw connection in a TLS server stream and
// performs the handshake under SSLHandshakeTimeout. On failure it
// writes a best-effort plain 400 on the inner (un-wrapped) stream, per
// the state machine's contract for a lost handshake.
func (c *connection) handshakeTLS(log enginelog.Logger) bool {
	tlsConn := tls.Server(c.raw, c.opts.TLSConfig)
	if d := c.opts.SSLHandshakeTimeout; d > 0 {
		_ = c.raw.SetDeadline(time.Now().Add(d))
	}
	if err := tlsConn.Handshake(); err != nil {
		log.Warn("engine: TLS handshake failed: ", err)
		_, _ = c.raw.Write(wire.CannedResponse(400, "", "Bad Request: TLS handshake failed"))
		_ = c.raw.Close()
		return false
	}
	_ = c.raw.SetDeadline(time.Time{})
	c.tlsConn = tlsConn
	c.stream = tlsConn
	return true
}

// serveOneRequest parses and dispatches a single request, reporting
// whether the connection should loop for another one.
func (c *connection) serveOneRequest(log enginelog.Logger) bool {
	lr := wire.WrapLineReader(c.br, c.opts.HeaderBudgetBytes)
	raw, err := wire.ParseRawRequest(lr)
	if err != nil {
		return c.handleParseError(err, log)
	}

	c.state = stateHandling
	start := time.Now()

	rw := wire.NewResponseWriter(c.bw)
	body := c.requestBody(raw, rw)

	ctx := newContext(raw, body, rw, nil, c.info, c.engine.banner, c.engine.paramConverters)
	dispatchErr := c.engine.Dispatch(ctx)

	if !ctx.HeadersSent() {
		_ = ctx.WriteFixed(nil)
	}

	if ctx.bodyKind == BodyChunked || ctx.bodyKind == BodyEvent {
		if ctx.chunkWriter == nil {
			ctx.chunkWriter = wire.NewChunkWriter(ctx.rw.Writer())
		}
		if err := ctx.chunkWriter.Close(); err != nil {
			log.Warn("engine: response write failed: ", err)
			return false
		}
	}

	c.state = stateWriting
	if d := c.opts.WriteTimeout; d > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(d))
	}
	if err := c.bw.Flush(); err != nil {
		log.Warn("engine: response flush failed: ", err)
		return false
	}

	c.opts.Metrics.RequestServed(ctx.StatusCode(), time.Since(start))
	c.engine.host.fireHandled(ctx, dispatchErr)

	drained := drainUnreadBody(body)

	keepAlive := drained && raw.CanKeepAlive && ctx.KeepAlive() && !forbidsKeepAlive(ctx.StatusCode())
	return keepAlive
}

func forbidsKeepAlive(status int) bool {
	return status == 101 || (status >= 100 && status < 200)
}

// requestBody builds the body reader exposed through Context.Body: a
// null reader for an empty body, the chunked decoder for a chunked
// request, or a length-bounded reader for Content-Length. When the
// client sent "Expect: 100-continue" the returned reader writes the
// interim response on its first Read, not at parse time.
func (c *connection) requestBody(raw *wire.RawRequest, rw *wire.ResponseWriter) io.Reader {
	var inner io.Reader
	switch {
	case raw.IsChunked:
		inner = wire.NewChunkReader(c.br)
	case raw.ContentLength > 0:
		inner = io.LimitReader(c.br, raw.ContentLength)
	default:
		return emptyBody{}
	}
	if raw.ExpectsContinue {
		return &continueReader{r: inner, rw: rw}
	}
	return inner
}

// emptyBody is the body reader handed back when Content-Length is 0 or
// absent and the request isn't chunked: reading it returns io.EOF immediately,
// without blocking on the connection.
type emptyBody struct{}

func (emptyBody) Read([]byte) (int, error) { return 0, io.EOF }

// continueReader sends "100 Continue" on its first Read call, exactly
// once, deferring it until the handler actually asks for body bytes
// rather than at parse time.
type continueReader struct {
	r    io.Reader
	rw   *wire.ResponseWriter
	sent bool
}

func (c *continueReader) Read(p []byte) (int, error) {
	if !c.sent {
		c.sent = true
		if err := c.rw.WriteContinue(); err != nil {
			return 0, err
		}
	}
	return c.r.Read(p)
}

// drainUnreadBody discards any body bytes the handler never read, up to
// a bound, so the connection's framing is left in a state where the
// next request can be parsed. It reports whether the body was consumed
// to its end; an io.Reader that errors, a body larger than the drain
// bound, or a body whose 100 Continue was never sent (it is not read at
// all) all report false, and the caller's keep-alive decision then
// closes the connection.
func drainUnreadBody(body io.Reader) bool {
	if cr, ok := body.(*continueReader); ok && !cr.sent {
		return false
	}
	const maxDrain = 256 << 10
	_, err := io.CopyN(io.Discard, body, maxDrain+1)
	return err == io.EOF
}

// handleParseError classifies a request-parse failure into the
// disposition table in errors.go and, when a response can still be
// attempted, writes it. It returns false in every case: a parse failure
// always ends the connection.
func (c *connection) handleParseError(err error, log enginelog.Logger) bool {
	if errors.Is(err, wire.ErrConnectionClosed) {
		return false
	}

	kind, msg := classifyParseError(err)
	status, _ := Disposition(kind)
	if status == 0 {
		log.Warn("engine: framing lost, closing: ", err)
		return false
	}

	if d := c.opts.WriteTimeout; d > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(d))
	}
	_, _ = c.bw.Write(wire.CannedResponse(status, "", msg))
	_ = c.bw.Flush()
	return false
}

func classifyParseError(err error) (ErrorKind, string) {
	var badReq *wire.BadRequestError
	if errors.As(err, &badReq) {
		return ErrMalformedRequestLine, fmt.Sprintf("400 Bad Request: %s", badReq.Reason)
	}
	var unsupported *wire.UnsupportedVersionError
	if errors.As(err, &unsupported) {
		return ErrUnsupportedVersion, fmt.Sprintf("505 HTTP Version Not Supported: %s", unsupported.Proto)
	}
	if errors.Is(err, wire.ErrHeaderTooLarge) || errors.Is(err, wire.ErrLineTooLong) {
		return ErrHeaderBufferOverflow, "400 Bad Request: header block too large"
	}
	return ErrMalformedRequestLine, "400 Bad Request"
}

// close flushes the writer, returns the bufio.Reader/Writer pair to
// opts.Bufio when the connection rented them from that pool (otherwise
// they are dropped for the GC), and closes the underlying stream,
// guaranteed on every exit path from serve.
func (c *connection) close() {
	if c.bw != nil {
		_ = c.bw.Flush()
		if c.opts.Bufio != nil {
			c.opts.Bufio.PutWriter(c.bw)
		}
		c.bw = nil
	}
	if c.br != nil {
		if c.opts.Bufio != nil {
			c.opts.Bufio.PutReader(c.br)
		}
		c.br = nil
	}
	_ = c.stream.Close()
}
