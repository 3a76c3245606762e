package engine

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/loomhttp/engine/wire"
)

// RouteAction is the handler type bound to a route. It returns an error
// only for conditions the caller wants logged and turned into a 500;
// anything it writes to ctx before returning is still sent.
type RouteAction func(ctx *Context) error

// ValueRouteAction is the handler shape that returns a value instead of
// writing to ctx directly: a Response writes itself, and anything else
// is routed through the Engine's ResponseConverterRegistry. AddValueRoute
// adapts one of these into a plain RouteAction.
type ValueRouteAction func(ctx *Context) (any, error)

// MiddlewareMode selects whether a Middleware's Invoke runs before the
// route handler (and may short-circuit it by returning halt=true) or
// after it has already run.
type MiddlewareMode int

const (
	BeforeResponse MiddlewareMode = iota
	AfterResponse
)

// Middleware is one pipeline stage. A BeforeResponse middleware
// returning halt=true stops the pipeline (the route handler and any
// later BeforeResponse middleware are skipped, but AfterResponse
// middleware still runs).
type Middleware struct {
	Name string
	Mode MiddlewareMode
	Invoke func(ctx *Context) (halt bool, err error)
}

// HostHandler holds the lifecycle hooks a host can register. They are
// called synchronously on the connection's goroutine and return
// nothing, so nothing they do is surfaced to the client. The zero value
// (nil funcs) means "do nothing", so a host need only set the hooks it
// cares about.
type HostHandler struct {
	OnConnectionOpened func(conn ConnectionInfo)
	OnConnectionClosed func(conn ConnectionInfo)
	OnRequestHandled func(ctx *Context, err error)
}

func (h HostHandler) fireOpened(conn ConnectionInfo) {
	if h.OnConnectionOpened != nil {
		h.OnConnectionOpened(conn)
	}
}

func (h HostHandler) fireClosed(conn ConnectionInfo) {
	if h.OnConnectionClosed != nil {
		h.OnConnectionClosed(conn)
	}
}

func (h HostHandler) fireHandled(ctx *Context, err error) {
	if h.OnRequestHandled != nil {
		h.OnRequestHandled(ctx, err)
	}
}

// ParamConverter converts a route parameter's raw string form into a
// typed value, for the parameter-binding registry.
type ParamConverter func(raw string) (any, error)

// ParamConverterRegistry holds one ParamConverter per Go type, keyed by
// reflect.Type, so a handler can ask for an arbitrary T instead of the
// raw string ctx.Param returns.
type ParamConverterRegistry struct {
	converters map[reflect.Type]ParamConverter
}

// NewParamConverterRegistry builds a registry pre-populated with the
// built-in conversions every engine needs by default.
func NewParamConverterRegistry() *ParamConverterRegistry {
	r := &ParamConverterRegistry{converters: make(map[reflect.Type]ParamConverter)}
	r.Register(reflect.TypeOf(""), func(raw string) (any, error) { return raw, nil })
	r.Register(reflect.TypeOf([]byte(nil)), func(raw string) (any, error) { return []byte(raw), nil })
	r.Register(reflect.TypeOf(0), func(raw string) (any, error) { return strconv.Atoi(raw) })
	r.Register(reflect.TypeOf(int64(0)), func(raw string) (any, error) { return strconv.ParseInt(raw, 10, 64) })
	r.Register(reflect.TypeOf(false), func(raw string) (any, error) { return strconv.ParseBool(raw) })
	return r
}

// Register adds or replaces the converter used for t.
func (r *ParamConverterRegistry) Register(t reflect.Type, conv ParamConverter) {
	r.converters[t] = conv
}

// Convert looks up the converter for t and applies it to raw.
func (r *ParamConverterRegistry) Convert(t reflect.Type, raw string) (any, error) {
	conv, ok := r.converters[t]
	if !ok {
		return nil, fmt.Errorf("engine: no param converter registered for %s", t)
	}
	return conv(raw)
}

// Response is a handler return value that already knows how to write
// itself onto a Context: the "a response value passes through" case of
// the handler-return contract. Anything returned from a ValueRouteAction
// that isn't a Response is routed through a ResponseConverter instead.
type Response interface {
	WriteTo(ctx *Context) error
}

// ResponseConverter turns a non-Response value a ValueRouteAction
// returned into a response written onto ctx.
type ResponseConverter func(ctx *Context, value any) error

// ResponseConverterRegistry holds one ResponseConverter per Go type,
// keyed by reflect.Type, consulted by AddValueRoute/AddValueRegexRoute
// for any handler return value that isn't a Response.
type ResponseConverterRegistry struct {
	converters map[reflect.Type]ResponseConverter
}

// NewResponseConverterRegistry builds a registry pre-populated with the
// built-in string and []byte conversions (written as a fixed,
// length-framed body).
func NewResponseConverterRegistry() *ResponseConverterRegistry {
	r := &ResponseConverterRegistry{converters: make(map[reflect.Type]ResponseConverter)}
	r.Register(reflect.TypeOf(""), func(ctx *Context, value any) error {
		return ctx.WriteFixed([]byte(value.(string)))
	})
	r.Register(reflect.TypeOf([]byte(nil)), func(ctx *Context, value any) error {
		return ctx.WriteFixed(value.([]byte))
	})
	return r
}

// Register adds or replaces the converter used for t.
func (r *ResponseConverterRegistry) Register(t reflect.Type, conv ResponseConverter) {
	r.converters[t] = conv
}

// Convert looks up the converter for value's dynamic type and applies
// it to ctx.
func (r *ResponseConverterRegistry) Convert(ctx *Context, value any) error {
	t := reflect.TypeOf(value)
	conv, ok := r.converters[t]
	if !ok {
		return fmt.Errorf("engine: no response converter registered for %s", t)
	}
	return conv(ctx, value)
}

// ErrorHandler renders a response for an error the normal pipeline
// couldn't (a handler panic, a write failure too late to recover from
// otherwise). It is called with headers not yet sent.
type ErrorHandler func(ctx *Context, kind ErrorKind, err error)

// NotFoundHandler renders the 404 response for a path no route matched.
type NotFoundHandler func(ctx *Context)

// MethodNotAllowedHandler renders the 405 response for a path that
// matched but whose method didn't.
type MethodNotAllowedHandler func(ctx *Context)

func defaultErrorHandler(ctx *Context, kind ErrorKind, err error) {
	status, _ := Disposition(kind)
	if status == 0 {
		return
	}
	ctx.SetStatus(status, "")
	_ = ctx.WriteFixed([]byte(fmt.Sprintf("%d %s", status, wire.StatusText(status))))
}

func defaultNotFoundHandler(ctx *Context) {
	ctx.SetStatus(404, "")
	_ = ctx.WriteFixed([]byte("404 Not Found"))
}

func defaultMethodNotAllowedHandler(ctx *Context) {
	ctx.SetStatus(405, "")
	_ = ctx.WriteFixed([]byte("405 Method Not Allowed"))
}
