package matcher

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/gracegate/internal/access/domain"
)

func rule(t *testing.T, raw string) domain.Rule {
	t.Helper()
	r, err := domain.NewRule("id-"+raw, raw, DeriveExpression(raw), time.Now())
	require.NoError(t, err)
	return r
}

func newMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := New(16)
	require.NoError(t, err)
	return m
}

func TestDerive_Forms(t *testing.T) {
	tests := []struct {
		raw      string
		expr     string
		host     string
		wildcard bool
	}{
		{"example.com", `^https?://(www\.)?example\.com(:[0-9]+)?([/?#].*)?$`, "example.com", false},
		{"https://Example.COM/", `^https?://(www\.)?example\.com(:[0-9]+)?([/?#].*)?$`, "example.com", false},
		{"example.com/news/*/live", `^https?://(www\.)?example\.com(:[0-9]+)?/news/.*/live.*$`, "example.com", false},
		{"*.example.com", `^https?://([^/?#:]+\.)?example\.com(:[0-9]+)?([/?#].*)?$`, "example.com", true},
		{"exa mple.com", `exa mple\.com`, "", false},
		{"foo*bar baz", `foo.*bar baz`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			d := Derive(tt.raw)
			assert.Equal(t, tt.expr, d.Expression)
			assert.Equal(t, tt.host, d.Host)
			assert.Equal(t, tt.wildcard, d.wildcard)
			assert.Equal(t, tt.host == "", d.Literal())
			assert.Equal(t, d.Expression, DeriveExpression(tt.raw))
		})
	}
}

func TestMatch_HostOnly(t *testing.T) {
	m := newMatcher(t)
	r := rule(t, "example.com")

	yes := []string{
		"https://example.com",
		"http://example.com/",
		"https://www.example.com/path?q=1",
		"https://EXAMPLE.com:8443/x",
		"https://example.com#top",
		"https://example.com./",
		"https://user:pw@example.com/",
	}
	no := []string{
		"https://example.community/",
		"https://example.com.evil.net/",
		"https://notexample.com/",
		"https://sub.example.com/",
		"ftp://example.com/",
	}
	for _, u := range yes {
		assert.True(t, m.Match(u, r), u)
	}
	for _, u := range no {
		assert.False(t, m.Match(u, r), u)
	}
}

func TestMatch_PathScoped(t *testing.T) {
	m := newMatcher(t)
	r := rule(t, "reddit.com/r/gaming")

	assert.True(t, m.Match("https://www.reddit.com/r/gaming/comments/1", r))
	assert.True(t, m.Match("https://reddit.com/r/gaming", r))
	assert.False(t, m.Match("https://reddit.com/r/golang", r))
	assert.False(t, m.Match("https://reddit.com/", r))

	w := rule(t, "example.com/*/watch")
	assert.True(t, m.Match("https://example.com/tv/watch?v=1", w))
	assert.False(t, m.Match("https://example.com/tv/listen", w))
}

func TestMatch_WildcardSubdomains(t *testing.T) {
	m := newMatcher(t)
	r := rule(t, "*.example.com")

	assert.True(t, m.Match("https://example.com/", r))
	assert.True(t, m.Match("https://a.b.example.com/", r))
	assert.False(t, m.Match("https://badexample.com/", r))
}

func TestMatch_LiteralFallback(t *testing.T) {
	m := newMatcher(t)
	r := rule(t, "bad host.com")
	assert.True(t, m.Match("https://search.test/?q=bad host.com", r))
	assert.False(t, m.Match("https://badhost.com", r))
}

func TestMatch_UncompilableExpressionUsesSubstring(t *testing.T) {
	m := newMatcher(t)
	r := domain.Rule{ID: "x", RawInput: "example.org", Expression: "(", CreatedAt: time.Now()}

	assert.True(t, m.Match("https://www.example.org/", r))
	assert.False(t, m.Match("https://example.net/", r))

	// second lookup is served from the cache, error included
	_ = m.Match("https://example.net/", r)
	hits, misses := m.Stats()
	assert.Equal(t, uint64(1), misses)
	assert.GreaterOrEqual(t, hits, uint64(2))
}

func TestFirstMatch_StoreOrder(t *testing.T) {
	m := newMatcher(t)
	a := rule(t, "example.com")
	b := rule(t, "example.com/news")
	b.ID = "second"

	got, ok := m.FirstMatch("https://example.com/news/today", []domain.Rule{a, b})
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ID)

	got, ok = m.FirstMatch("https://example.com/news/today", []domain.Rule{b, a})
	require.True(t, ok)
	assert.Equal(t, "second", got.ID)

	_, ok = m.FirstMatch("https://other.net", []domain.Rule{a, b})
	assert.False(t, ok)
}

// A host rule never matches a URL whose host is a different name that
// merely shares a prefix.
func TestMatch_HostBoundaryProperty(t *testing.T) {
	m := newMatcher(t)
	hosts := []string{"example.com", "a.io", "news.site.org", "x-y.net", "httpbin.org", "https-everywhere.example"}
	suffixes := []string{"munity", "x", "-evil", ".evil.net", "0"}
	for _, h := range hosts {
		r := rule(t, h)
		for _, s := range suffixes {
			for _, path := range []string{"", "/", "/p?q"} {
				u := fmt.Sprintf("https://%s%s%s", h, s, path)
				assert.False(t, m.Match(u, r), "%s must not match %s", h, u)
			}
		}
		assert.True(t, m.Match("https://"+h+"/anything", r))
	}
}

func TestDerive_BareHostsStartingWithHTTP(t *testing.T) {
	m := newMatcher(t)
	for _, h := range []string{"httpbin.org", "https-everywhere.example", "HTTPstat.us"} {
		t.Run(h, func(t *testing.T) {
			d := Derive(h)
			assert.False(t, d.Literal())
			r := rule(t, h)
			assert.True(t, m.Match("https://"+strings.ToLower(h)+"/get", r))
			assert.False(t, m.Match("https://not"+strings.ToLower(h)+"/", r))
		})
	}
	assert.True(t, hasScheme("HTTPS://example.com"))
	assert.True(t, hasScheme("http://example.com"))
	assert.False(t, hasScheme("httpbin.org"))
	assert.False(t, hasScheme("example.com/a://b"))
}

func TestNormalizeCandidate(t *testing.T) {
	tests := map[string]string{
		"HTTPS://Example.COM/Path?Q=A": "https://example.com/Path?Q=A",
		"https://example.com.:8080/x":  "https://example.com:8080/x",
		"https://u:P@Example.com/":     "https://example.com/",
		"https://[::1]:8080/":          "https://[::1]:8080/",
		"not a url":                    "not a url",
		"  https://a.com  ":            "https://a.com",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeCandidate(in), in)
	}
}

func TestCandidateHost(t *testing.T) {
	assert.Equal(t, "www.example.com", CandidateHost("https://WWW.Example.com:443/a"))
	assert.Equal(t, "", CandidateHost("about:blank"))
}
