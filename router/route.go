package router

import "regexp"

// Route is one registered route. Handler and Middlewares are opaque to
// this package (see the package doc) — the engine package fills them in
// with its own RouteAction/Middleware values and type-asserts them back
// out when it invokes a Result.
type Route struct {
	Name string
	Methods Methods
	Pattern string // non-regex template, e.g. "/users/<id>"
	Regex *regexp.Regexp // non-nil for a regex route
	RawRegex string

	Handler any
	Middlewares []any

	// BypassGlobal names global middlewares (by their own Name) that
	// should not run for this route.
	BypassGlobal map[string]struct{}
}

func (r *Route) isRegex() bool { return r.Regex != nil }

// CompileRegex compiles pattern for use as a Route.Regex. caseInsensitive
// prepends the (?i) flag the way the regex routes allow.
func CompileRegex(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	if caseInsensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}
