package engine

import (
	"fmt"
	"io"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/loomhttp/engine/header"
	"github.com/loomhttp/engine/wire"
)

// BodyKind selects how a response is serialized: unset, a fixed
// length-framed buffer, a raw stream, chunked encoding, or an
// event-stream framing built on chunked encoding.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyFixed
	BodyStream
	BodyChunked
	BodyEvent
)

// ConnectionInfo describes the connection a Context's request arrived on.
type ConnectionInfo struct {
	ID         string
	RemoteAddr string
	LocalAddr  string
	TLS        bool
}

// Context is the single object threaded through middleware and route
// handlers: a read-only view of the incoming request plus a mutable
// response builder. This replaces the split Request/ResponseWriter
// shape of net/http-derived servers.
type Context struct {
	Method   string
	Path     string
	RawQuery string
	Major    int
	Minor    int
	Headers  *header.List
	Conn     ConnectionInfo
	Params   map[string]string

	rawReq *wire.RawRequest
	body   io.Reader
	rw     *wire.ResponseWriter

	queryOnce sync.Once
	query     url.Values

	respHeaders *header.List
	statusCode  int
	statusText  string
	bodyKind    BodyKind
	fixedBody   []byte
	keepAlive   bool

	writtenHeaders bool
	chunkWriter    *wire.ChunkWriter

	banner          string
	paramConverters *ParamConverterRegistry
}

// newContext builds a Context for one request. body is the
// already-framed request body reader (a bare io.LimitReader for
// Content-Length, a *wire.ChunkReader for chunked) wrapping rw so that
// the first Read triggers the 100-continue interim response when the
// client asked for one.
func newContext(raw *wire.RawRequest, body io.Reader, rw *wire.ResponseWriter, params map[string]string, conn ConnectionInfo, banner string, paramConverters *ParamConverterRegistry) *Context {
	return &Context{
		Method:          raw.Method,
		Path:            raw.Path,
		RawQuery:        raw.RawQuery,
		Major:           raw.Major,
		Minor:           raw.Minor,
		Headers:         raw.Headers,
		Conn:            conn,
		Params:          params,
		rawReq:          raw,
		body:            body,
		rw:              rw,
		respHeaders:     header.New(),
		statusCode:      200,
		keepAlive:       raw.CanKeepAlive,
		banner:          banner,
		paramConverters: paramConverters,
	}
}

// Query lazily parses RawQuery into url.Values.
func (c *Context) Query() url.Values {
	c.queryOnce.Do(func() {
		c.query, _ = url.ParseQuery(c.RawQuery)
		if c.query == nil {
			c.query = url.Values{}
		}
	})
	return c.query
}

// Param returns a single route parameter, or "" if absent.
func (c *Context) Param(name string) string {
	return c.Params[name]
}

// ParamAs converts route parameter name into a value of type t using
// the engine's ParamConverterRegistry (Engine.ParamConverters), for a
// handler that wants a typed value instead of the raw string Param
// returns.
func (c *Context) ParamAs(name string, t reflect.Type) (any, error) {
	return c.paramConverters.Convert(t, c.Params[name])
}

// Body returns the request body reader. Reading from it for a request
// with "Expect: 100-continue" sends the interim response on first read.
func (c *Context) Body() io.Reader {
	return c.body
}

// KeepAlive reports the connection-close decision computed from the
// request's own framing (HTTP version + Connection header) before the
// handler ran. A handler can override it with SetKeepAlive.
func (c *Context) KeepAlive() bool {
	return c.keepAlive
}

// SetKeepAlive lets a handler force the connection closed after this
// response (e.g. on discovering an unrecoverable internal error) even
// though the request framing would otherwise allow reuse. It can never
// turn a close-bound connection back into a keep-alive one.
func (c *Context) SetKeepAlive(v bool) {
	c.keepAlive = c.keepAlive && v
}

// ResponseHeaders returns the mutable response header list. Mutating it
// after WriteHeader has been called (directly or via Write/WriteChunk)
// has no effect on the wire; the monotonic "headers sent" invariant
// means a second attempt to change them is a programming error the
// caller should avoid, not one this type needs to punish further.
func (c *Context) ResponseHeaders() *header.List {
	return c.respHeaders
}

// SetStatus sets the status line to send. phrase "" uses the standard
// reason phrase for code. Calling this after headers have been sent has
// no effect.
func (c *Context) SetStatus(code int, phrase string) {
	if c.writtenHeaders {
		return
	}
	c.statusCode = code
	c.statusText = phrase
}

// StatusCode returns the status code that will be (or was) sent.
func (c *Context) StatusCode() int {
	return c.statusCode
}

// HeadersSent reports whether the status line and headers have already
// gone out.
func (c *Context) HeadersSent() bool {
	return c.writtenHeaders
}

func (c *Context) sendHeaders() error {
	if c.writtenHeaders {
		return nil
	}
	c.writtenHeaders = true
	if c.bodyKind == BodyChunked || c.bodyKind == BodyEvent {
		_ = c.respHeaders.Set(header.TransferEncoding, header.TokenChunked)
	}
	if c.bodyKind == BodyEvent && c.respHeaders.Get(header.ContentType) == "" {
		_ = c.respHeaders.Set(header.ContentType, "text/event-stream")
	}
	if !c.keepAlive && !c.respHeaders.Contains(header.Connection) {
		_ = c.respHeaders.Set(header.Connection, header.TokenClose)
	}
	wire.ApplyDefaultHeaders(c.respHeaders, c.banner, time.Now())
	proto11 := c.Major == 1 && c.Minor >= 1
	return c.rw.WriteHeader(proto11, c.statusCode, c.statusText, c.respHeaders)
}

// WriteFixed sends a complete, length-framed body in one call. It is an
// error to call it after Write, WriteChunk, or WriteEvent have already
// started a different body variant on this Context.
func (c *Context) WriteFixed(body []byte) error {
	if c.writtenHeaders {
		return fmt.Errorf("engine: WriteFixed called after headers were already sent")
	}
	c.bodyKind = BodyFixed
	c.fixedBody = body
	if !c.respHeaders.Contains(header.ContentLength) {
		_ = c.respHeaders.Set(header.ContentLength, fmt.Sprintf("%d", len(body)))
	}
	if err := c.sendHeaders(); err != nil {
		return err
	}
	if wire.BodyAllowed(c.statusCode) && len(body) > 0 {
		_, err := c.rw.Writer().Write(body)
		return err
	}
	return nil
}

// Write streams raw body bytes. If the caller has already announced a
// Content-Length before the first call, the bytes are written unframed
// against it; otherwise the body length is unknown up front, so Write
// falls back to chunked encoding (the same framing WriteChunk uses) to
// keep a keep-alive connection's body boundary unambiguous. Headers are
// sent on the first call.
func (c *Context) Write(p []byte) (int, error) {
	if c.bodyKind == BodyNone {
		if c.respHeaders.Contains(header.ContentLength) {
			c.bodyKind = BodyStream
		} else {
			c.bodyKind = BodyChunked
		}
	}
	if err := c.sendHeaders(); err != nil {
		return 0, err
	}
	if c.bodyKind == BodyChunked {
		if c.chunkWriter == nil {
			c.chunkWriter = wire.NewChunkWriter(c.rw.Writer())
		}
		return c.chunkWriter.Write(p)
	}
	return c.rw.Writer().Write(p)
}

// WriteChunk writes one chunked-encoding chunk, sending headers (with
// Transfer-Encoding: chunked) on the first call.
func (c *Context) WriteChunk(p []byte) error {
	if c.bodyKind == BodyNone {
		c.bodyKind = BodyChunked
	}
	if err := c.sendHeaders(); err != nil {
		return err
	}
	if c.chunkWriter == nil {
		c.chunkWriter = wire.NewChunkWriter(c.rw.Writer())
	}
	_, err := c.chunkWriter.Write(p)
	return err
}

// CloseChunked terminates a chunked body started by WriteChunk, with
// optional trailers. Calling it without a prior WriteChunk still sends
// headers and an empty chunked body.
func (c *Context) CloseChunked(trailers *header.List) error {
	c.bodyKind = BodyChunked
	if err := c.sendHeaders(); err != nil {
		return err
	}
	if c.chunkWriter == nil {
		c.chunkWriter = wire.NewChunkWriter(c.rw.Writer())
	}
	return c.chunkWriter.CloseWithTrailers(trailers)
}

// WriteEvent writes one Server-Sent-Events frame ("event: ...\ndata:
// ...\n\n"), chunk-framed, sending headers (with a default
// text/event-stream Content-Type) on the first call.
func (c *Context) WriteEvent(event, data string) error {
	c.bodyKind = BodyEvent
	if err := c.sendHeaders(); err != nil {
		return err
	}
	if c.chunkWriter == nil {
		c.chunkWriter = wire.NewChunkWriter(c.rw.Writer())
	}
	var frame string
	if event != "" {
		frame = fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
	} else {
		frame = fmt.Sprintf("data: %s\n\n", data)
	}
	_, err := c.chunkWriter.Write([]byte(frame))
	return err
}
