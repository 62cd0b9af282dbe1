package utils

import "golang.org/x/net/publicsuffix"

// GetApexDomain returns the registrable domain (eTLD+1) for host, used as a
// bounded-cardinality label for metrics. Hosts that publicsuffix cannot place
// (IP literals, single labels) are returned in canonical form.
func GetApexDomain(host string) string {
	host = CanonicalHost(host)
	apex, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return apex
}
