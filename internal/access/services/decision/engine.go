package decision

import (
	"strings"

	"github.com/haukened/gracegate/internal/access/common/log"
	"github.com/haukened/gracegate/internal/access/domain"
)

// internalPrefixes are browser-owned pages that are never evaluated.
var internalPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"moz-extension://",
	"edge://",
	"about:",
}

// IsInternalURL reports whether url is a browser-internal page.
func IsInternalURL(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	for _, p := range internalPrefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}

// Engine evaluates navigated URLs against the rule set and live grants.
type Engine struct {
	rules  RuleLookup
	grants GrantLookup
	logger log.Logger
}

// Options wires an Engine. A nil Logger discards output.
type Options struct {
	Rules  RuleLookup
	Grants GrantLookup
	Logger log.Logger
}

// New returns an Engine over opts.Rules and opts.Grants.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Engine{rules: opts.Rules, grants: opts.Grants, logger: log.Component(logger, "decision")}
}

// Evaluate returns the verdict for url. A matched rule blocks the URL; the
// verdict carries an override exactly when a live grant exists for the
// rule's RawInput. Internal pages are never blocked.
func (e *Engine) Evaluate(url string) domain.Verdict {
	if IsInternalURL(url) {
		return domain.NotBlocked()
	}
	rule, ok := e.rules.Lookup(url)
	if !ok {
		return domain.NotBlocked()
	}
	v := domain.Verdict{Blocked: true, Rule: &rule}
	if g, ok := e.grants.LookupActive(rule.RawInput); ok {
		v.HasActiveOverride = true
		v.Grant = &g
	}
	e.logger.Debug(map[string]any{"url": url, "rule": rule.ID, "override": v.HasActiveOverride}, "url blocked")
	return v
}
