package decision

import "github.com/haukened/gracegate/internal/access/domain"

// RuleLookup finds the first rule matching a URL.
type RuleLookup interface {
	Lookup(url string) (domain.Rule, bool)
}

// GrantLookup finds the live grant for a rule identity.
type GrantLookup interface {
	LookupActive(ruleURL string) (domain.GracePeriod, bool)
}
