// Package engine implements a managed, embeddable HTTP/1.1 server: an
// accept loop handing connections to a per-connection state machine,
// which parses requests with the wire package, dispatches them through
// a frozen router.Table and middleware pipeline, and serializes
// responses back out, all behind the unified Context type.
package engine

import (
	"fmt"

	"github.com/loomhttp/engine/router"
)

// RouteOption configures a single AddRoute/AddRegexRoute call.
type RouteOption func(*router.Route)

// WithName assigns the route a name, usable later with URLFor.
func WithName(name string) RouteOption {
	return func(r *router.Route) { r.Name = name }
}

// WithMiddlewares attaches per-route middleware, run in the given order
// for BeforeResponse and the same order for AfterResponse. Within each
// mode, route middleware runs after the global middleware of that mode.
func WithMiddlewares(mws ...Middleware) RouteOption {
	return func(r *router.Route) {
		for _, m := range mws {
			r.Middlewares = append(r.Middlewares, m)
		}
	}
}

// WithBypassGlobal excludes this route from the named global
// middlewares.
func WithBypassGlobal(names ...string) RouteOption {
	return func(r *router.Route) {
		if r.BypassGlobal == nil {
			r.BypassGlobal = make(map[string]struct{}, len(names))
		}
		for _, n := range names {
			r.BypassGlobal[n] = struct{}{}
		}
	}
}

// Options configures a new Engine.
type Options struct {
	Banner                  string // Server: header value; "" omits the header
	CaseInsensitiveRoutes   bool
	ForceTrailingSlash      bool
	MatchHeadAsGet          bool
	ErrorHandler            ErrorHandler
	NotFoundHandler         NotFoundHandler
	MethodNotAllowedHandler MethodNotAllowedHandler
	HostHandler             HostHandler
}

// Engine is the routing table plus the collaborators sitting above the
// wire protocol: middleware pipeline, value converters, and the host's
// lifecycle hooks. A listener (or any other caller holding parsed
// requests) drives requests through Dispatch.
type Engine struct {
	table              *router.Table
	globalMws          []Middleware
	paramConverters    *ParamConverterRegistry
	responseConverters *ResponseConverterRegistry
	banner             string

	errorHandler            ErrorHandler
	notFoundHandler         NotFoundHandler
	methodNotAllowedHandler MethodNotAllowedHandler
	host                    HostHandler
}

// New constructs an Engine with an empty, mutable routing table.
func New(opts Options) *Engine {
	e := &Engine{
		table: router.NewTable(router.Options{
			CaseInsensitive:    opts.CaseInsensitiveRoutes,
			ForceTrailingSlash: opts.ForceTrailingSlash,
			MatchHeadAsGet:     opts.MatchHeadAsGet,
		}),
		paramConverters:         NewParamConverterRegistry(),
		responseConverters:      NewResponseConverterRegistry(),
		banner:                  opts.Banner,
		errorHandler:            opts.ErrorHandler,
		notFoundHandler:         opts.NotFoundHandler,
		methodNotAllowedHandler: opts.MethodNotAllowedHandler,
		host:                    opts.HostHandler,
	}
	if e.errorHandler == nil {
		e.errorHandler = defaultErrorHandler
	}
	if e.notFoundHandler == nil {
		e.notFoundHandler = defaultNotFoundHandler
	}
	if e.methodNotAllowedHandler == nil {
		e.methodNotAllowedHandler = defaultMethodNotAllowedHandler
	}
	return e
}

// ParamConverters returns the registry new route-parameter types can be
// registered on before the engine starts serving, consulted by
// Context.ParamAs.
func (e *Engine) ParamConverters() *ParamConverterRegistry {
	return e.paramConverters
}

// ResponseConverters returns the registry new handler-return-value types
// can be registered on, consulted by AddValueRoute/AddValueRegexRoute
// handlers for any return value that isn't a Response.
func (e *Engine) ResponseConverters() *ResponseConverterRegistry {
	return e.responseConverters
}

// Table exposes the underlying routing table, e.g. for Combine-ing in a
// sub-table built elsewhere.
func (e *Engine) Table() *router.Table {
	return e.table
}

// Use registers a global middleware, run for every route unless that
// route bypasses it by name (WithBypassGlobal).
func (e *Engine) Use(mw Middleware) {
	e.globalMws = append(e.globalMws, mw)
}

// AddRoute registers a path-template route.
func (e *Engine) AddRoute(methods router.Methods, pattern string, action RouteAction, opts ...RouteOption) error {
	r := &router.Route{Methods: methods, Pattern: pattern, Handler: action}
	for _, o := range opts {
		o(r)
	}
	return e.table.Add(r)
}

// AddRegexRoute registers a regex route. caseInsensitive prepends the
// (?i) flag.
func (e *Engine) AddRegexRoute(methods router.Methods, pattern string, caseInsensitive bool, action RouteAction, opts ...RouteOption) error {
	re, err := router.CompileRegex(pattern, caseInsensitive)
	if err != nil {
		return err
	}
	r := &router.Route{Methods: methods, Regex: re, RawRegex: pattern, Handler: action}
	for _, o := range opts {
		o(r)
	}
	return e.table.Add(r)
}

// AddValueRoute registers a path-template route whose handler returns a
// value instead of writing to ctx directly. A Response value writes
// itself; anything else is routed through ResponseConverters. This is
// the handler-return-value conversion contract: the handler need not
// touch ctx at all for the common case of "compute a value, send it".
func (e *Engine) AddValueRoute(methods router.Methods, pattern string, action ValueRouteAction, opts ...RouteOption) error {
	return e.AddRoute(methods, pattern, e.wrapValueAction(action), opts...)
}

// AddValueRegexRoute is AddValueRoute for a regex route.
func (e *Engine) AddValueRegexRoute(methods router.Methods, pattern string, caseInsensitive bool, action ValueRouteAction, opts ...RouteOption) error {
	return e.AddRegexRoute(methods, pattern, caseInsensitive, e.wrapValueAction(action), opts...)
}

func (e *Engine) wrapValueAction(action ValueRouteAction) RouteAction {
	return func(ctx *Context) error {
		value, err := action(ctx)
		if err != nil {
			return err
		}
		if ctx.HeadersSent() {
			// The handler already wrote its own response; the returned
			// value (if any) is discarded, per "a response value passes
			// through" once the response is already on the wire.
			return nil
		}
		if value == nil {
			return fmt.Errorf("engine: value route handler for %q returned no value and wrote no response", ctx.Path)
		}
		if resp, ok := value.(Response); ok {
			return resp.WriteTo(ctx)
		}
		return e.responseConverters.Convert(ctx, value)
	}
}

// Freeze locks the routing table against further registration, letting
// Dispatch run lock-free.
func (e *Engine) Freeze() {
	e.table.Freeze()
}

// Dispatch resolves ctx's method/path against the routing table and
// runs the matched route's middleware pipeline and handler, in the
// table's resolution order. It always returns with ctx's response
// already sent (or at least its status decided); the returned error is
// for the caller's own logging, not for the client.
func (e *Engine) Dispatch(ctx *Context) error {
	res := e.table.Match(ctx.Method, ctx.Path, ctx.RawQuery)

	switch res.Status {
	case router.NoMatch:
		e.notFoundHandler(ctx)
		return nil
	case router.MethodNotAllowed:
		e.methodNotAllowedHandler(ctx)
		return nil
	case router.OptionsMatched:
		ctx.SetStatus(200, "")
		return ctx.WriteFixed(nil)
	case router.RedirectSlash:
		ctx.SetStatus(307, "")
		_ = ctx.ResponseHeaders().Set("Location", res.Redirect)
		return ctx.WriteFixed(nil)
	}

	ctx.Params = res.Params
	return e.runPipeline(res.Route, ctx)
}

func (e *Engine) runPipeline(route *router.Route, ctx *Context) error {
	halted, err := e.runStage(route, ctx, BeforeResponse)

	if !halted && err == nil {
		action, ok := route.Handler.(RouteAction)
		if ok {
			err = invokeHandler(action, ctx)
		}
	}

	if _, afterErr := e.runStage(route, ctx, AfterResponse); afterErr != nil && err == nil {
		err = afterErr
	}

	if err != nil && !ctx.HeadersSent() {
		e.errorHandler(ctx, ErrHandlerPanic, err)
	}
	return err
}

// runStage runs one pipeline mode (global minus bypass, then route's
// own) and reports whether a BeforeResponse middleware halted the
// chain.
func (e *Engine) runStage(route *router.Route, ctx *Context, mode MiddlewareMode) (halted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			halted, err = false, &HandlerError{Recovered: r}
		}
	}()
	if mode == BeforeResponse {
		for _, mw := range e.globalMws {
			if mw.Mode != BeforeResponse {
				continue
			}
			if _, bypass := route.BypassGlobal[mw.Name]; bypass {
				continue
			}
			h, e2 := mw.Invoke(ctx)
			if e2 != nil {
				return false, e2
			}
			if h {
				return true, nil
			}
		}
		for _, raw := range route.Middlewares {
			mw, ok := raw.(Middleware)
			if !ok || mw.Mode != BeforeResponse {
				continue
			}
			h, e2 := mw.Invoke(ctx)
			if e2 != nil {
				return false, e2
			}
			if h {
				return true, nil
			}
		}
		return false, nil
	}

	for _, mw := range e.globalMws {
		if mw.Mode != AfterResponse {
			continue
		}
		if _, bypass := route.BypassGlobal[mw.Name]; bypass {
			continue
		}
		if _, e2 := mw.Invoke(ctx); e2 != nil {
			err = e2
		}
	}
	for _, raw := range route.Middlewares {
		mw, ok := raw.(Middleware)
		if !ok || mw.Mode != AfterResponse {
			continue
		}
		if _, e2 := mw.Invoke(ctx); e2 != nil && err == nil {
			err = e2
		}
	}
	return false, err
}

func invokeHandler(action RouteAction, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Recovered: r}
		}
	}()
	return action(ctx)
}
