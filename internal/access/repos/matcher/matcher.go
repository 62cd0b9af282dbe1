package matcher

import (
	"regexp"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/gracegate/internal/access/domain"
)

// DefaultCacheSize is used when New is given a non-positive size.
const DefaultCacheSize = 512

type compiled struct {
	re  *regexp.Regexp
	err error
}

// Matcher tests URLs against rule expressions. Compiled expressions,
// including ones that failed to compile, are kept in an LRU so each
// expression is compiled at most once while it stays hot.
// Safe for concurrent use.
type Matcher struct {
	patterns *lru.Cache[string, compiled]
	hits     uint64
	misses   uint64
}

// New returns a Matcher whose pattern cache holds up to size expressions.
func New(size int) (*Matcher, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, compiled](size)
	if err != nil {
		return nil, err
	}
	return &Matcher{patterns: c}, nil
}

func (m *Matcher) compile(expr string) (*regexp.Regexp, error) {
	if c, ok := m.patterns.Get(expr); ok {
		atomic.AddUint64(&m.hits, 1)
		return c.re, c.err
	}
	atomic.AddUint64(&m.misses, 1)
	re, err := regexp.Compile(expr)
	m.patterns.Add(expr, compiled{re: re, err: err})
	return re, err
}

// Match reports whether url falls under rule. When the rule's expression
// does not compile, Match falls back to a substring test against RawInput.
func (m *Matcher) Match(url string, rule domain.Rule) bool {
	re, err := m.compile(rule.Expression)
	if err != nil {
		return rule.RawInput != "" && strings.Contains(url, rule.RawInput)
	}
	return re.MatchString(NormalizeCandidate(url))
}

// FirstMatch returns the first rule, in the given order, that matches url.
func (m *Matcher) FirstMatch(url string, rules []domain.Rule) (domain.Rule, bool) {
	for _, r := range rules {
		if m.Match(url, r) {
			return r, true
		}
	}
	return domain.Rule{}, false
}

// Stats returns cumulative pattern cache hits and misses.
func (m *Matcher) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&m.hits), atomic.LoadUint64(&m.misses)
}
