package domain

import "time"

// State is the whole persisted aggregate. It is read and rewritten wholesale
// on every mutation.
type State struct {
	Rules        []Rule           `json:"blockedSites" cbor:"blockedSites"`
	ActiveGrants []GracePeriod    `json:"activeGracePeriods" cbor:"activeGracePeriods"`
	IssuanceLog  []IssuanceRecord `json:"gracePeriodHistory" cbor:"gracePeriodHistory"`
}

// Clone returns a deep copy so a mutation can be applied and discarded
// without touching the original.
func (s State) Clone() State {
	return State{
		Rules:        append([]Rule(nil), s.Rules...),
		ActiveGrants: append([]GracePeriod(nil), s.ActiveGrants...),
		IssuanceLog:  append([]IssuanceRecord(nil), s.IssuanceLog...),
	}
}

// GrantByKey returns the live grant with the given key.
func (s State) GrantByKey(key string, now time.Time) (GracePeriod, bool) {
	for _, g := range s.ActiveGrants {
		if g.Key == key && g.ActiveAt(now) {
			return g, true
		}
	}
	return GracePeriod{}, false
}

// GrantForRule returns the first live grant issued for ruleURL.
func (s State) GrantForRule(ruleURL string, now time.Time) (GracePeriod, bool) {
	for _, g := range s.ActiveGrants {
		if g.RuleURL == ruleURL && g.ActiveAt(now) {
			return g, true
		}
	}
	return GracePeriod{}, false
}

// CountBucket counts issuance records in the given hour bucket.
func (s State) CountBucket(bucket string) int {
	n := 0
	for _, r := range s.IssuanceLog {
		if r.Bucket == bucket {
			n++
		}
	}
	return n
}
