package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haukened/gracegate/internal/access/common/utils"
	"github.com/haukened/gracegate/internal/access/domain"
	"github.com/haukened/gracegate/internal/access/repos/matcher"
	"github.com/haukened/gracegate/internal/access/repos/rules"
)

// RuleSource is read on every scrape.
type RuleSource interface {
	List() []domain.Rule
	Stats() rules.Stats
}

// PatternSource reports compiled pattern cache counters.
type PatternSource interface {
	Stats() (hits, misses uint64)
}

// GrantSource reports live grants and quota use.
type GrantSource interface {
	Active() []domain.GracePeriod
	CountIssuedThisHour() int
}

// Sources groups what the state collector reads. Nil members are skipped.
type Sources struct {
	Rules    RuleSource
	Patterns PatternSource
	Grants   GrantSource
}

var (
	rulesDesc = prometheus.NewDesc(namespace+"_rules",
		"Configured rules by apex domain; literal rules are labelled \"-\".", []string{"apex"}, nil)
	bloomDesc = prometheus.NewDesc(namespace+"_rule_bloom_enabled",
		"1 when the host prefilter is active.", nil, nil)
	bloomRejectsDesc = prometheus.NewDesc(namespace+"_rule_bloom_rejects_total",
		"Lookups rejected by the host prefilter.", nil, nil)
	decisionCacheDesc = prometheus.NewDesc(namespace+"_decision_cache_lookups_total",
		"Decision cache lookups by result.", []string{"result"}, nil)
	decisionEvictionsDesc = prometheus.NewDesc(namespace+"_decision_cache_evictions_total",
		"Decision cache evictions.", nil, nil)
	decisionSizeDesc = prometheus.NewDesc(namespace+"_decision_cache_entries",
		"Entries in the decision cache.", nil, nil)
	patternCacheDesc = prometheus.NewDesc(namespace+"_pattern_cache_lookups_total",
		"Compiled pattern cache lookups by result.", []string{"result"}, nil)
	activeGrantsDesc = prometheus.NewDesc(namespace+"_active_grants",
		"Grace periods currently live.", nil, nil)
	issuedDesc = prometheus.NewDesc(namespace+"_grants_issued_this_hour",
		"Grants issued in the current hour bucket.", nil, nil)
)

type stateCollector struct {
	src Sources
}

// WatchState registers a collector that reads src at scrape time.
func (m *Metrics) WatchState(src Sources) error {
	return m.registry.Register(&stateCollector{src: src})
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		rulesDesc, bloomDesc, bloomRejectsDesc, decisionCacheDesc, decisionEvictionsDesc,
		decisionSizeDesc, patternCacheDesc, activeGrantsDesc, issuedDesc,
	} {
		ch <- d
	}
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Rules != nil {
		for apex, n := range rulesByApex(c.src.Rules.List()) {
			ch <- prometheus.MustNewConstMetric(rulesDesc, prometheus.GaugeValue, float64(n), apex)
		}
		st := c.src.Rules.Stats()
		bloom := 0.0
		if st.BloomEnabled {
			bloom = 1
		}
		ch <- prometheus.MustNewConstMetric(bloomDesc, prometheus.GaugeValue, bloom)
		ch <- prometheus.MustNewConstMetric(bloomRejectsDesc, prometheus.CounterValue, float64(st.BloomRejects))
		ch <- prometheus.MustNewConstMetric(decisionCacheDesc, prometheus.CounterValue, float64(st.CacheHits), "hit")
		ch <- prometheus.MustNewConstMetric(decisionCacheDesc, prometheus.CounterValue, float64(st.CacheMisses), "miss")
		ch <- prometheus.MustNewConstMetric(decisionEvictionsDesc, prometheus.CounterValue, float64(st.Evictions))
		ch <- prometheus.MustNewConstMetric(decisionSizeDesc, prometheus.GaugeValue, float64(st.CacheSize))
	}
	if c.src.Patterns != nil {
		hits, misses := c.src.Patterns.Stats()
		ch <- prometheus.MustNewConstMetric(patternCacheDesc, prometheus.CounterValue, float64(hits), "hit")
		ch <- prometheus.MustNewConstMetric(patternCacheDesc, prometheus.CounterValue, float64(misses), "miss")
	}
	if c.src.Grants != nil {
		ch <- prometheus.MustNewConstMetric(activeGrantsDesc, prometheus.GaugeValue, float64(len(c.src.Grants.Active())))
		ch <- prometheus.MustNewConstMetric(issuedDesc, prometheus.GaugeValue, float64(c.src.Grants.CountIssuedThisHour()))
	}
}

// rulesByApex groups rules by the registrable domain of their host.
func rulesByApex(rs []domain.Rule) map[string]int {
	out := make(map[string]int)
	for _, r := range rs {
		apex := "-"
		if d := matcher.Derive(r.RawInput); !d.Literal() {
			if a := utils.GetApexDomain(d.Host); a != "" {
				apex = a
			}
		}
		out[apex]++
	}
	return out
}
