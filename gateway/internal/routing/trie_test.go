package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchStaticAndParam(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Insert(&Route{Method: "GET", Pattern: "/users/:id", Cluster: "user-svc"}))
	trie := b.Build()

	m, ok := trie.Match("GET", "/users/42")
	require.True(t, ok)
	assert.Equal(t, "user-svc", m.Route.Cluster)
	assert.Equal(t, "42", m.Params["id"])
}

func TestMatchPrefersLiteralOverParam(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Insert(&Route{Method: "GET", Pattern: "/users/:id", Cluster: "param"}))
	require.NoError(t, b.Insert(&Route{Method: "GET", Pattern: "/users/me", Cluster: "literal"}))
	trie := b.Build()

	m, ok := trie.Match("GET", "/users/me")
	require.True(t, ok)
	assert.Equal(t, "literal", m.Route.Cluster)

	m, ok = trie.Match("GET", "/users/99")
	require.True(t, ok)
	assert.Equal(t, "param", m.Route.Cluster)
}

func TestMatchWildcardCapturesRemainder(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Insert(&Route{Method: "GET", Pattern: "/static/*", Cluster: "assets"}))
	trie := b.Build()

	m, ok := trie.Match("GET", "/static/css/app.css")
	require.True(t, ok)
	assert.Equal(t, "/css/app.css", m.Wildcard)
}

func TestMatchNoRoute(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Insert(&Route{Method: "GET", Pattern: "/a", Cluster: "x"}))
	trie := b.Build()

	_, ok := trie.Match("GET", "/b")
	assert.False(t, ok)
	_, ok = trie.Match("POST", "/a")
	assert.False(t, ok)
}

// Priority: higher priority wins when two routes share a pattern.
func TestInsertPriorityWins(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Insert(&Route{Method: "GET", Pattern: "/x", Cluster: "low", Priority: 1}))
	err := b.Insert(&Route{Method: "GET", Pattern: "/x", Cluster: "high", Priority: 5})
	require.NoError(t, err)
	trie := b.Build()

	m, ok := trie.Match("GET", "/x")
	require.True(t, ok)
	assert.Equal(t, "high", m.Route.Cluster)
}

func TestInsertDuplicateSamePriorityRejected(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Insert(&Route{Method: "GET", Pattern: "/x", Cluster: "a", Priority: 1}))
	err := b.Insert(&Route{Method: "GET", Pattern: "/x", Cluster: "b", Priority: 1})
	assert.Error(t, err)
}

func TestRemovePrunesEmptyBranches(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Insert(&Route{Method: "GET", Pattern: "/a/b/c", Cluster: "x"}))
	require.True(t, b.Remove("GET", "/a/b/c"))
	trie := b.Build()
	_, ok := trie.Match("GET", "/a/b/c")
	assert.False(t, ok)
}

// Path parameters round-trip: extract(insert(P with params X)) = X.
func TestParamsRoundTrip(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Insert(&Route{Method: "GET", Pattern: "/org/:org/repo/:repo", Cluster: "git"}))
	trie := b.Build()

	m, ok := trie.Match("GET", "/org/acme/repo/widgets")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"org": "acme", "repo": "widgets"}, m.Params)
}

func TestRoutesListsEveryRegisteredRoute(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Insert(&Route{Method: "GET", Pattern: "/a", Cluster: "x"}))
	require.NoError(t, b.Insert(&Route{Method: "POST", Pattern: "/b/:id", Cluster: "y"}))
	trie := b.Build()

	routes := trie.Routes()
	require.Len(t, routes, 2)
	clusters := map[string]bool{}
	for _, r := range routes {
		clusters[r.Cluster] = true
	}
	assert.True(t, clusters["x"])
	assert.True(t, clusters["y"])
}

func TestValidateRejectsBadPattern(t *testing.T) {
	r := &Route{Method: "GET", Pattern: "no-leading-slash"}
	assert.Error(t, r.Validate())

	r2 := &Route{Method: "BOGUS", Pattern: "/x"}
	assert.Error(t, r2.Validate())

	r3 := &Route{Method: "GET", Pattern: "/a/*/b"}
	assert.Error(t, r3.Validate())
}
