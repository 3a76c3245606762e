package router_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhttp/engine/router"
)

func TestSimpleTemplateMatch(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/users/<id>/items", Methods: router.GET, Name: "user-items"}))
	tbl.Freeze()

	res := tbl.Match("GET", "/users/42/items", "")
	require.Equal(t, router.FullyMatched, res.Status)
	assert.Equal(t, "42", res.Params["id"])
}

func TestMethodMismatchYields405(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/widgets", Methods: router.GET}))
	tbl.Freeze()

	res := tbl.Match("POST", "/widgets", "")
	assert.Equal(t, router.MethodNotAllowed, res.Status)
}

func TestNoPathMatchYields404(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/widgets", Methods: router.GET}))
	tbl.Freeze()

	res := tbl.Match("GET", "/gadgets", "")
	assert.Equal(t, router.NoMatch, res.Status)
}

func TestUnhandledOptionsShortCircuits(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/widgets", Methods: router.GET | router.POST}))
	tbl.Freeze()

	res := tbl.Match("OPTIONS", "/widgets", "")
	assert.Equal(t, router.OptionsMatched, res.Status)
}

func TestExplicitOptionsRouteWins(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/widgets", Methods: router.GET | router.OPTIONS}))
	tbl.Freeze()

	res := tbl.Match("OPTIONS", "/widgets", "")
	require.Equal(t, router.FullyMatched, res.Status)
}

func TestForceTrailingSlashRedirect(t *testing.T) {
	tbl := router.NewTable(router.Options{ForceTrailingSlash: true})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/widgets/", Methods: router.GET}))
	tbl.Freeze()

	res := tbl.Match("GET", "/widgets", "page=2")
	require.Equal(t, router.RedirectSlash, res.Status)
	assert.Equal(t, "/widgets/?page=2", res.Redirect)
}

func TestTrailingSlashSignificantByDefault(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/widgets/", Methods: router.GET}))
	tbl.Freeze()

	res := tbl.Match("GET", "/widgets", "")
	assert.Equal(t, router.NoMatch, res.Status)
}

func TestCatchAllMatchesAnyPath(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/<<ANY>>", Methods: router.GET}))
	tbl.Freeze()

	res := tbl.Match("GET", "/a/b/c/d", "")
	assert.Equal(t, router.FullyMatched, res.Status)
}

func TestRegexRouteExtractsNamedGroups(t *testing.T) {
	re, err := router.CompileRegex(`^/files/(?P<path>.+)$`, false)
	require.NoError(t, err)

	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Regex: re, Methods: router.GET}))
	tbl.Freeze()

	res := tbl.Match("GET", "/files/a/b.txt", "")
	require.Equal(t, router.FullyMatched, res.Status)
	assert.Equal(t, "a/b.txt", res.Params["path"])
}

func TestCollisionRejectedOnOverlappingParamNames(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/users/<id>", Methods: router.GET}))
	err := tbl.Add(&router.Route{Pattern: "/users/<name>", Methods: router.GET})
	var collision *router.ErrRouteCollision
	assert.ErrorAs(t, err, &collision)
}

func TestCollisionIgnoredForDisjointMethods(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/users/<id>", Methods: router.GET}))
	err := tbl.Add(&router.Route{Pattern: "/users/<id>", Methods: router.DELETE})
	assert.NoError(t, err)
}

func TestAddAfterFreezeFails(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	tbl.Freeze()
	err := tbl.Add(&router.Route{Pattern: "/x", Methods: router.GET})
	assert.ErrorIs(t, err, router.ErrTableFrozen)
}

func TestURLForSubstitutesParams(t *testing.T) {
	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Add(&router.Route{Pattern: "/users/<id>/items/<item>", Methods: router.GET, Name: "item"}))

	got, err := tbl.URLFor("item", map[string]string{"id": "7", "item": "a b"})
	require.NoError(t, err)
	assert.Equal(t, "/users/7/items/a%20b", got)
}

func TestCombineMountsRoutesUnderPrefix(t *testing.T) {
	sub := router.NewTable(router.Options{})
	require.NoError(t, sub.Add(&router.Route{Pattern: "/ping", Methods: router.GET, Name: "ping"}))

	tbl := router.NewTable(router.Options{})
	require.NoError(t, tbl.Combine("/api", sub))
	tbl.Freeze()

	res := tbl.Match("GET", "/api/ping", "")
	assert.Equal(t, router.FullyMatched, res.Status)
}

func TestOverlapsNormalizesParamNames(t *testing.T) {
	assert.True(t, router.Overlaps("/users/<id>", "/users/<name>"))
	assert.False(t, router.Overlaps("/users/<id>", "/accounts/<id>"))
	assert.True(t, router.Overlaps("/<<ANY>>", "/anything/at/all"))
}
