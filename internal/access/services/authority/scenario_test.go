package authority_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/gracegate/internal/access/common/clock"
	"github.com/haukened/gracegate/internal/access/domain"
	"github.com/haukened/gracegate/internal/access/repos/ledger"
	"github.com/haukened/gracegate/internal/access/repos/matcher"
	"github.com/haukened/gracegate/internal/access/repos/rules"
	"github.com/haukened/gracegate/internal/access/repos/rules/bloom"
	"github.com/haukened/gracegate/internal/access/repos/rules/lru"
	"github.com/haukened/gracegate/internal/access/repos/state"
	"github.com/haukened/gracegate/internal/access/repos/state/memory"
	"github.com/haukened/gracegate/internal/access/services/authority"
	"github.com/haukened/gracegate/internal/access/services/decision"
)

type recordingEnforcer struct {
	mu  sync.Mutex
	got []domain.Enforce
}

func (r *recordingEnforcer) Deliver(_ context.Context, e domain.Enforce) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return nil
}

func (r *recordingEnforcer) Inject(context.Context, int) error { return nil }

type stack struct {
	clock   *clock.MockClock
	rules   *rules.Store
	ledger  *ledger.Ledger
	auth    *authority.Authority
	results chan authority.DeliveryResult
}

func newStack(t *testing.T) stack {
	t.Helper()
	ctx := context.Background()
	repo, err := state.Open(ctx, memory.New(), "website_blocker_data", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	clk := clock.NewMockClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	m, err := matcher.New(64)
	require.NoError(t, err)
	cache, err := lru.New(128)
	require.NoError(t, err)
	rs := rules.New(repo, m, cache, bloom.NewFactory(), 0.01, clk, nil)
	led := ledger.New(repo, clk, time.UTC, nil)

	results := make(chan authority.DeliveryResult, 16)
	a := authority.New(authority.Options{
		Evaluator:  decision.New(decision.Options{Rules: rs, Grants: led}),
		Rules:      rs,
		Grants:     led,
		Enforcer:   &recordingEnforcer{},
		OnDelivery: func(r authority.DeliveryResult) { results <- r },
	})
	t.Cleanup(a.Stop)
	return stack{clock: clk, rules: rs, ledger: led, auth: a, results: results}
}

func (s stack) await(t *testing.T) authority.DeliveryResult {
	t.Helper()
	select {
	case r := <-s.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no enforcement delivered")
		return authority.DeliveryResult{}
	}
}

func TestScenario_BlockGrantCountdownExpire(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.rules.Add(ctx, "example.com")
	require.NoError(t, err)

	// blocked without an override
	assert.Equal(t, domain.NavBlockedNoOverride, s.auth.Navigate(ctx, 1, "https://www.example.com/news"))
	r := s.await(t)
	assert.Equal(t, domain.EnforceBlock, r.Enforce.Mode)
	assert.Equal(t, authority.Delivered, r.State)

	// unrelated host is left alone
	assert.Equal(t, domain.NavNotBlocked, s.auth.Navigate(ctx, 1, "https://notexample.com/"))

	// request a grant from a deep page; it is keyed by the rule
	gr := s.auth.Handle(ctx, domain.RequestGrant{URL: "https://www.example.com/news", TabID: 1}).(domain.GrantResult)
	require.True(t, gr.Success, gr.Error)
	assert.Equal(t, "example.com", gr.Grant.RuleURL)
	assert.True(t, domain.WellFormedKey(gr.Grant.Key))

	// keys verify case-insensitively and switch the tab to countdown
	vr := s.auth.Handle(ctx, domain.VerifyKey{Key: " " + strings.ToLower(gr.Grant.Key) + " ", TabID: 1}).(domain.VerifyResult)
	require.True(t, vr.Success, vr.Error)
	r = s.await(t)
	assert.Equal(t, domain.EnforceCountdown, r.Enforce.Mode)

	// every URL under the rule shares the grant
	v := s.auth.Handle(ctx, domain.CheckBlocked{URL: "https://example.com/other"}).(domain.Verdict)
	assert.True(t, v.Blocked)
	assert.True(t, v.HasActiveOverride)
	require.NotNil(t, v.Grant)
	assert.Equal(t, gr.Grant.Key, v.Grant.Key)

	// once expired the override is gone before any sweep runs
	s.clock.Advance(gr.Grant.Duration)
	v = s.auth.Handle(ctx, domain.CheckBlocked{URL: "https://example.com/other"}).(domain.Verdict)
	assert.True(t, v.Blocked)
	assert.False(t, v.HasActiveOverride)

	vr = s.auth.Handle(ctx, domain.VerifyKey{Key: gr.Grant.Key}).(domain.VerifyResult)
	assert.False(t, vr.Success)
	assert.Equal(t, "invalid or expired", vr.Error)

	assert.Equal(t, 1, s.auth.SweepOnce(ctx))
	assert.Empty(t, s.ledger.Active())
}

func TestScenario_HourlyQuota(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	_, err := s.rules.Add(ctx, "example.com")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		gr := s.auth.Handle(ctx, domain.RequestGrant{URL: "https://example.com/"}).(domain.GrantResult)
		require.True(t, gr.Success, "grant %d", i)
	}
	gr := s.auth.Handle(ctx, domain.RequestGrant{URL: "https://example.com/"}).(domain.GrantResult)
	assert.False(t, gr.Success)
	assert.Equal(t, "quota exceeded", gr.Error)
	assert.Equal(t, authority.QuotaUsage{Used: 3, Limit: 3, Bucket: "2025-08-01-12"}, s.auth.Quota())

	// the next calendar hour starts fresh
	s.clock.Set(time.Date(2025, 8, 1, 13, 0, 0, 0, time.UTC))
	gr = s.auth.Handle(ctx, domain.RequestGrant{URL: "https://example.com/"}).(domain.GrantResult)
	assert.True(t, gr.Success)
}

func TestScenario_ConcurrentGrantRequestsRespectQuota(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gr := s.auth.Handle(ctx, domain.RequestGrant{URL: "https://example.com/"}).(domain.GrantResult)
			if gr.Success {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, ok)
}
