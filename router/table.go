package router

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
)

// ErrTableFrozen is returned by Add once Freeze has been called. The
// routing table is built once at startup and served lock-free from then
// on, avoiding a single global lock on the hot path.
var ErrTableFrozen = errors.New("router: table is frozen")

// ErrRouteCollision is returned by Add when a new non-regex route
// overlaps an existing one on both path shape and at least one method.
type ErrRouteCollision struct {
	New, Existing string
}

func (e *ErrRouteCollision) Error() string {
	return fmt.Sprintf("router: route %q collides with already-registered route %q", e.New, e.Existing)
}

// Options configure table-wide matching behavior, set once at
// construction.
type Options struct {
	CaseInsensitive    bool
	ForceTrailingSlash bool
	MatchHeadAsGet     bool
}

// Table is the routing table: an ordered list of routes matched in
// registration order, for deterministic resolution.
type Table struct {
	opts Options

	mu     sync.Mutex // guards routes/byName until Freeze
	routes []*Route
	byName map[string]*Route

	frozen atomic.Bool
}

// NewTable constructs an empty, mutable table.
func NewTable(opts Options) *Table {
	return &Table{opts: opts, byName: make(map[string]*Route)}
}

// Add registers a route. It fails once the table is frozen, if the name
// is already taken, or — for non-regex routes sharing at least one HTTP
// method — if the path shape overlaps an existing route.
func (t *Table) Add(r *Route) error {
	if t.frozen.Load() {
		return ErrTableFrozen
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Name != "" {
		if _, exists := t.byName[r.Name]; exists {
			return fmt.Errorf("router: route name %q already registered", r.Name)
		}
	}
	if !r.isRegex() {
		for _, existing := range t.routes {
			if existing.isRegex() {
				continue
			}
			if existing.Methods&r.Methods == 0 {
				continue
			}
			if Overlaps(existing.Pattern, r.Pattern) {
				return &ErrRouteCollision{New: r.Pattern, Existing: existing.Pattern}
			}
		}
	}

	t.routes = append(t.routes, r)
	if r.Name != "" {
		t.byName[r.Name] = r
	}
	return nil
}

// Freeze forbids further registration and switches Match to its
// lock-free read path.
func (t *Table) Freeze() {
	t.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (t *Table) Frozen() bool {
	return t.frozen.Load()
}

// Status classifies the outcome of Match: a full match, a 405 (path
// matched, method didn't), a synthetic 200 for an unhandled OPTIONS, a
// 307 redirect to a slash-terminated path, or a 404.
type Status int

const (
	NoMatch Status = iota
	FullyMatched
	MethodNotAllowed
	OptionsMatched
	RedirectSlash
)

// Result is the outcome of a single Match call.
type Result struct {
	Status   Status
	Route    *Route
	Params   map[string]string
	Redirect string // set when Status == RedirectSlash
}

// Match resolves method and path against the table in registration
// order. It never mutates the table and is safe for concurrent use once
// frozen (and, since routes are appended under mu before Freeze, safe
// even pre-freeze albeit with lock contention).
func (t *Table) Match(method, path, rawQuery string) Result {
	if !t.frozen.Load() {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	reqMethod, known := MethodFromString(method)

	var pathMatchedAny bool
	for _, r := range t.routes {
		params, matched, wouldMatchWithSlash := t.matchRoute(r, path)
		if wouldMatchWithSlash && reqMethod == GET && t.opts.ForceTrailingSlash {
			loc := path + "/"
			if rawQuery != "" {
				loc += "?" + rawQuery
			}
			return Result{Status: RedirectSlash, Route: r, Redirect: loc}
		}
		if !matched {
			continue
		}
		pathMatchedAny = true

		methodOK := known && r.Methods.Has(reqMethod)
		if !methodOK && t.opts.MatchHeadAsGet && reqMethod == HEAD && r.Methods.Has(GET) {
			methodOK = true
		}
		if methodOK {
			return Result{Status: FullyMatched, Route: r, Params: params}
		}
	}

	if pathMatchedAny {
		if reqMethod == OPTIONS {
			return Result{Status: OptionsMatched}
		}
		return Result{Status: MethodNotAllowed}
	}
	return Result{Status: NoMatch}
}

func (t *Table) matchRoute(r *Route, path string) (params map[string]string, matched, wouldMatchWithSlash bool) {
	if r.isRegex() {
		m := r.Regex.FindStringSubmatch(path)
		if m == nil {
			return nil, false, false
		}
		names := r.Regex.SubexpNames()
		params = make(map[string]string, len(names))
		for i, name := range names {
			if i == 0 || name == "" {
				continue
			}
			params[name] = m[i]
		}
		return params, true, false
	}
	return matchPath(r.Pattern, path, t.opts.CaseInsensitive)
}

// URLFor builds a path from a named route's template by substituting
// params, percent-encoding each value. It fails if the route is regex
// (reverse building from a regex is not supported) or a required
// parameter is missing.
func (t *Table) URLFor(name string, params map[string]string) (string, error) {
	r, ok := t.byName[name]
	if !ok {
		return "", fmt.Errorf("router: no route named %q", name)
	}
	if r.isRegex() {
		return "", fmt.Errorf("router: route %q is a regex route, cannot build a URL for it", name)
	}
	segs := splitSegments(r.Pattern)
	for i, seg := range segs {
		if !isParamSegment(seg) {
			continue
		}
		pname := paramName(seg)
		v, ok := params[pname]
		if !ok {
			return "", fmt.Errorf("router: missing parameter %q for route %q", pname, r.Name)
		}
		segs[i] = url.PathEscape(v)
	}
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out, nil
}

// Combine walks every route in src and re-adds it to t with its pattern
// prefixed by mountAt, preserving method bitmask and handler. Regex
// routes are re-added unchanged (a regex source describes the full path
// already). Used to graft a sub-table of routes — e.g. ones built by a
// library or a nested host — under a parent path.
func (t *Table) Combine(mountAt string, src *Table) error {
	for _, r := range src.routes {
		nr := &Route{
			Name:         r.Name,
			Methods:      r.Methods,
			Handler:      r.Handler,
			Middlewares:  r.Middlewares,
			BypassGlobal: r.BypassGlobal,
		}
		if r.isRegex() {
			nr.Regex, nr.RawRegex = r.Regex, r.RawRegex
		} else {
			nr.Pattern = Combine(mountAt, r.Pattern)
		}
		if err := t.Add(nr); err != nil {
			return err
		}
	}
	return nil
}

// Routes returns a snapshot slice of every registered route, in
// registration order.
func (t *Table) Routes() []*Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}
