package rules

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/haukened/gracegate/internal/access/common/clock"
	"github.com/haukened/gracegate/internal/access/common/log"
	"github.com/haukened/gracegate/internal/access/domain"
	"github.com/haukened/gracegate/internal/access/repos/matcher"
	"github.com/haukened/gracegate/internal/access/repos/state"
)

// Store is the rule set. Rules live in the shared state aggregate; the
// store adds a lookup pipeline in front of them:
// bloom prefilter → decision cache → first-match scan in store order.
//
// The Bloom filter holds the hosts of host-anchored rules. It is disabled
// whenever any rule has a literal or foreign expression, because such a
// rule can match URLs on any host.
type Store struct {
	repo    *state.Repository
	matcher *matcher.Matcher
	cache   DecisionCache
	factory BloomFactory
	fpRate  float64
	clock   clock.Clock
	logger  log.Logger
	newID   func() string

	mu         sync.RWMutex
	bloom      BloomFilter
	generation uint64

	bloomRejects uint64
}

// Option customizes a Store.
type Option func(*Store)

// WithIDGenerator replaces uuid.NewString for rule IDs.
func WithIDGenerator(f func() string) Option { return func(s *Store) { s.newID = f } }

// New builds a Store over repo and indexes the rules already present.
func New(repo *state.Repository, m *matcher.Matcher, cache DecisionCache, factory BloomFactory, fpRate float64, clk clock.Clock, logger log.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	s := &Store{
		repo:    repo,
		matcher: m,
		cache:   cache,
		factory: factory,
		fpRate:  fpRate,
		clock:   clk,
		logger:  log.Component(logger, "rules"),
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	s.reindex()
	return s
}

// Add trims rawInput, derives its expression and appends a new rule.
// Blank input is the only rejected input. Duplicates are allowed.
func (s *Store) Add(ctx context.Context, rawInput string) (domain.Rule, error) {
	rule, err := s.build(rawInput)
	if err != nil {
		return domain.Rule{}, err
	}
	err = s.repo.Update(ctx, func(st *state.State) (bool, error) {
		st.Rules = append(st.Rules, rule)
		return true, nil
	})
	if err != nil {
		return domain.Rule{}, err
	}
	s.reindex()
	s.logger.Info(map[string]any{"id": rule.ID, "url": rule.RawInput, "pattern": rule.Expression}, "rule added")
	return rule, nil
}

// AddMissing adds a rule for every input whose trimmed form is not already
// a rule's RawInput, in one mutation. Blank inputs are skipped.
func (s *Store) AddMissing(ctx context.Context, inputs []string) ([]domain.Rule, error) {
	var added []domain.Rule
	err := s.repo.Update(ctx, func(st *state.State) (bool, error) {
		have := make(map[string]struct{}, len(st.Rules))
		for _, r := range st.Rules {
			have[r.RawInput] = struct{}{}
		}
		for _, in := range inputs {
			rule, err := s.build(in)
			if err != nil {
				continue
			}
			if _, ok := have[rule.RawInput]; ok {
				continue
			}
			have[rule.RawInput] = struct{}{}
			st.Rules = append(st.Rules, rule)
			added = append(added, rule)
		}
		return len(added) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	if len(added) > 0 {
		s.reindex()
		s.logger.Info(map[string]any{"count": len(added)}, "rules added")
	}
	return added, nil
}

func (s *Store) build(rawInput string) (domain.Rule, error) {
	raw := strings.TrimSpace(rawInput)
	if raw == "" {
		return domain.Rule{}, domain.ErrEmptyRule
	}
	return domain.NewRule(s.newID(), raw, matcher.DeriveExpression(raw), s.clock.Now())
}

// Remove deletes the rule with id. Removing an absent id is a no-op.
// Grants issued against the rule are left to expire.
func (s *Store) Remove(ctx context.Context, id string) error {
	removed := false
	err := s.repo.Update(ctx, func(st *state.State) (bool, error) {
		kept := st.Rules[:0]
		for _, r := range st.Rules {
			if r.ID == id {
				removed = true
				continue
			}
			kept = append(kept, r)
		}
		st.Rules = kept
		return removed, nil
	})
	if err != nil {
		return err
	}
	if removed {
		s.reindex()
		s.logger.Info(map[string]any{"id": id}, "rule removed")
	}
	return nil
}

// List returns a copy of the rules in store order.
func (s *Store) List() []domain.Rule {
	return append([]domain.Rule(nil), s.repo.Snapshot().Rules...)
}

// Get returns the rule with id.
func (s *Store) Get(id string) (domain.Rule, bool) {
	for _, r := range s.repo.Snapshot().Rules {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Rule{}, false
}

// Lookup returns the first rule, in store order, that matches url.
func (s *Store) Lookup(url string) (domain.Rule, bool) {
	cand := matcher.NormalizeCandidate(url)

	s.mu.RLock()
	bf, gen := s.bloom, s.generation
	s.mu.RUnlock()

	if !s.checkBloom(bf, cand) {
		atomic.AddUint64(&s.bloomRejects, 1)
		return domain.Rule{}, false
	}

	rules := s.repo.Snapshot().Rules
	if id, ok := s.cache.Get(cand); ok {
		if id == "" {
			return domain.Rule{}, false
		}
		for _, r := range rules {
			if r.ID == id {
				return r, true
			}
		}
	}

	rule, ok := s.matcher.FirstMatch(url, rules)
	id := ""
	if ok {
		id = rule.ID
	}
	// a reindex since we read the generation means rules may have changed
	s.mu.Lock()
	if s.generation == gen {
		s.cache.Put(cand, id)
	}
	s.mu.Unlock()
	return rule, ok
}

// checkBloom reports whether the store must be consulted for cand. It
// tests the candidate host and each parent domain, so "www." prefixes and
// wildcard subdomain rules are covered.
func (s *Store) checkBloom(bf BloomFilter, cand string) bool {
	if bf == nil {
		return true
	}
	host := matcher.CandidateHost(cand)
	if host == "" {
		return true
	}
	for h := host; h != ""; {
		if bf.MightContain([]byte(h)) {
			return true
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}
	return false
}

// reindex rebuilds the Bloom filter from the current rules and purges the
// decision cache.
func (s *Store) reindex() {
	rules := s.repo.Snapshot().Rules

	hosts := make([]string, 0, len(rules))
	anchored := true
	for _, r := range rules {
		d := matcher.Derive(r.RawInput)
		if d.Literal() || d.Expression != r.Expression {
			anchored = false
			break
		}
		hosts = append(hosts, d.Host)
	}

	var bf BloomFilter
	if anchored && s.factory != nil {
		bf = s.factory.New(uint64(len(hosts)), s.fpRate)
		for _, h := range hosts {
			bf.Add([]byte(h))
		}
	}

	s.mu.Lock()
	s.bloom = bf
	s.generation++
	s.cache.Purge()
	s.mu.Unlock()

	s.logger.Debug(map[string]any{"rules": len(rules), "bloom": bf != nil}, "rules reindexed")
}

// Stats returns lookup pipeline counters.
func (s *Store) Stats() Stats {
	hits, misses, evictions := s.cache.Stats()
	s.mu.RLock()
	enabled := s.bloom != nil
	s.mu.RUnlock()
	return Stats{
		Rules:        len(s.repo.Snapshot().Rules),
		BloomEnabled: enabled,
		BloomRejects: atomic.LoadUint64(&s.bloomRejects),
		CacheHits:    hits,
		CacheMisses:  misses,
		Evictions:    evictions,
		CacheSize:    s.cache.Len(),
	}
}
