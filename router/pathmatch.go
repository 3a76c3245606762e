package router

import (
	"net/url"
	"strings"
)

// catchAll is the single reserved template that matches any path
// whatsoever, regardless of segment count.
const catchAll = "/<<ANY>>"

func isParamSegment(seg string) bool {
	return len(seg) >= 2 && seg[0] == '<' && seg[len(seg)-1] == '>'
}

func paramName(seg string) string {
	return strings.ToLower(seg[1 : len(seg)-1])
}

func splitSegments(p string) []string {
	return strings.Split(p, "/")
}

// matchPath tests path against a non-regex template. It returns the
// extracted, URL-decoded parameters, whether the template matched
// exactly, and whether it would match if a trailing slash were appended
// to path (the force_trailing_slash redirect case).
func matchPath(template, path string, caseInsensitive bool) (params map[string]string, matched, wouldMatchWithSlash bool) {
	if template == catchAll {
		return map[string]string{}, true, false
	}

	tmplSegs := splitSegments(template)
	pathSegs := splitSegments(path)

	if params, ok := matchSegments(tmplSegs, pathSegs, caseInsensitive); ok {
		return params, true, false
	}

	if strings.HasSuffix(template, "/") && !strings.HasSuffix(path, "/") {
		if _, ok := matchSegments(tmplSegs, splitSegments(path+"/"), caseInsensitive); ok {
			return nil, false, true
		}
	}

	return nil, false, false
}

func matchSegments(tmplSegs, pathSegs []string, caseInsensitive bool) (map[string]string, bool) {
	if len(tmplSegs) != len(pathSegs) {
		return nil, false
	}
	var params map[string]string
	for i, t := range tmplSegs {
		if isParamSegment(t) {
			if params == nil {
				params = make(map[string]string, len(tmplSegs))
			}
			decoded, err := url.PathUnescape(pathSegs[i])
			if err != nil {
				decoded = pathSegs[i]
			}
			params[paramName(t)] = decoded
			continue
		}
		if caseInsensitive {
			if !strings.EqualFold(t, pathSegs[i]) {
				return nil, false
			}
		} else if t != pathSegs[i] {
			return nil, false
		}
	}
	if params == nil {
		params = map[string]string{}
	}
	return params, true
}

// Overlaps reports whether two non-regex templates could both match at
// least one common path, under a parameter-name-erased normalization
// (so /users/<id> and /users/<name> are considered the same shape).
// Used to reject colliding route registrations up front rather than
// leaving the outcome to registration order.
func Overlaps(a, b string) bool {
	if a == catchAll || b == catchAll {
		return true
	}
	segsA := splitSegments(a)
	segsB := splitSegments(b)
	if len(segsA) != len(segsB) {
		return false
	}
	for i := range segsA {
		pa, pb := isParamSegment(segsA[i]), isParamSegment(segsB[i])
		if pa || pb {
			continue
		}
		if segsA[i] != segsB[i] {
			return false
		}
	}
	return true
}

// Combine joins a mount-point prefix with a route's relative template,
// the way a sub-table of routes gets grafted under a parent path.
func Combine(base, rel string) string {
	if base == catchAll {
		return base
	}
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	if base == "" {
		return rel
	}
	return base + rel
}
