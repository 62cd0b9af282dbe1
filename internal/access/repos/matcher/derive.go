package matcher

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/haukened/gracegate/internal/access/common/utils"
)

// Derivation is the result of turning raw rule input into a match expression.
type Derivation struct {
	// Expression is the regular expression stored on the rule.
	Expression string
	// Host is the canonical host the expression is anchored on. It is empty
	// when the input could not be parsed and a literal pattern was produced.
	Host string
	// wildcard is set for "*.host" input, which also matches every subdomain.
	wildcard bool
}

// Literal reports whether the derivation fell back to the unanchored literal form.
func (d Derivation) Literal() bool { return d.Host == "" }

// DeriveExpression returns the match expression for raw rule input.
func DeriveExpression(raw string) string {
	return Derive(raw).Expression
}

// Derive interprets raw rule input as a URL and builds a host-anchored
// expression for it.
//
// Behavior:
//   - Input without a scheme ("://") is treated as "https://" + input, so
//     bare hosts such as "httpbin.org" are still anchored
//   - Scheme is matched as http or https, "www." and a port are optional
//   - Host-only input matches the host and nothing that merely starts with it,
//     so "example.com" does not match "example.community"
//   - A path (other than "/") restricts the match to URLs under that path;
//     "*" in the path matches anything
//   - A leading "*." on the host also matches any subdomain
//   - Unparseable input degrades to a literal, unanchored pattern with "*"
//     as the only wildcard
func Derive(raw string) Derivation {
	s := strings.TrimSpace(raw)
	candidate := s
	if !hasScheme(candidate) {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return literal(s)
	}

	hostname := u.Hostname()
	wildcard := false
	if strings.HasPrefix(hostname, "*.") {
		wildcard = true
		hostname = hostname[2:]
	}
	if hostname == "" || strings.ContainsAny(hostname, "* \t") {
		return literal(s)
	}
	host := utils.CanonicalHost(hostname)
	if host == "" {
		return literal(s)
	}

	var b strings.Builder
	b.WriteString(`^https?://`)
	if wildcard {
		b.WriteString(`([^/?#:]+\.)?`)
	} else {
		b.WriteString(`(www\.)?`)
	}
	b.WriteString(regexp.QuoteMeta(host))
	b.WriteString(`(:[0-9]+)?`)

	path := u.EscapedPath()
	if path != "" && path != "/" {
		b.WriteString(wildcardQuote(path))
		b.WriteString(`.*$`)
	} else {
		b.WriteString(`([/?#].*)?$`)
	}
	return Derivation{Expression: b.String(), Host: host, wildcard: wildcard}
}

// hasScheme reports whether s carries an explicit "scheme://" prefix.
func hasScheme(s string) bool {
	i := strings.Index(s, "://")
	if i <= 0 {
		return false
	}
	for _, c := range s[:i] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9', c == '+', c == '-', c == '.':
		default:
			return false
		}
	}
	return true
}

func literal(s string) Derivation {
	return Derivation{Expression: wildcardQuote(s)}
}

// wildcardQuote escapes every regexp metacharacter in s except "*",
// which becomes ".*".
func wildcardQuote(s string) string {
	return strings.ReplaceAll(regexp.QuoteMeta(s), `\*`, `.*`)
}

// NormalizeCandidate lowercases the scheme and host of a navigated URL,
// drops any userinfo and strips trailing dots from the host. Path, query
// and fragment are untouched.
func NormalizeCandidate(raw string) string {
	s := strings.TrimSpace(raw)
	i := strings.Index(s, "://")
	if i < 0 {
		return s
	}
	scheme := strings.ToLower(s[:i])
	rest := s[i+3:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	authority := strings.ToLower(rest[:end])
	hostport := authority
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		hostport = authority[at+1:]
	}
	host, port := hostport, ""
	if c := strings.LastIndexByte(hostport, ':'); c >= 0 && !strings.Contains(hostport[c:], "]") {
		host, port = hostport[:c], hostport[c:]
	}
	host = strings.TrimRight(host, ".")
	return scheme + "://" + host + port + rest[end:]
}

// CandidateHost returns the canonical host of a navigated URL, or "" when
// the URL has none.
func CandidateHost(raw string) string {
	u, err := url.Parse(NormalizeCandidate(raw))
	if err != nil {
		return ""
	}
	return utils.CanonicalHost(u.Hostname())
}
