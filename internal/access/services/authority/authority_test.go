package authority

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/gracegate/internal/access/domain"
)

type fakeEvaluator struct {
	calls   int32
	verdict domain.Verdict
}

func (f *fakeEvaluator) Evaluate(string) domain.Verdict {
	atomic.AddInt32(&f.calls, 1)
	return f.verdict
}

type fakeRules struct {
	rule domain.Rule
	ok   bool
}

func (f fakeRules) Lookup(string) (domain.Rule, bool) { return f.rule, f.ok }

type fakeGrants struct {
	mu        sync.Mutex
	issueErr  error
	issued    []domain.GracePeriod
	verify    map[string]domain.GracePeriod
	sweeps    int32
	sweepErr  error
	lastQuota int
}

func (f *fakeGrants) IssueWithinQuota(_ context.Context, ruleURL string, d time.Duration, quota int) (domain.GracePeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuota = quota
	if f.issueErr != nil {
		return domain.GracePeriod{}, f.issueErr
	}
	g := domain.GracePeriod{Key: "ABCD-EFGH", RuleURL: ruleURL, Duration: d, ExpiresAt: time.Now().Add(d)}
	f.issued = append(f.issued, g)
	return g, nil
}

func (f *fakeGrants) Verify(key string) (domain.GracePeriod, bool) {
	g, ok := f.verify[key]
	return g, ok
}

func (f *fakeGrants) SweepExpired(context.Context) (int, error) {
	atomic.AddInt32(&f.sweeps, 1)
	return 1, f.sweepErr
}

func (f *fakeGrants) CountIssuedThisHour() int { return 2 }
func (f *fakeGrants) CurrentBucket() string    { return "2025-08-01-12" }

// fakeEnforcer fails the first failures Deliver calls.
type fakeEnforcer struct {
	mu        sync.Mutex
	failures  int
	injectErr error
	calls     int
	delivered []domain.Enforce
	injected  []int
}

func (f *fakeEnforcer) Deliver(_ context.Context, e domain.Enforce) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("no receiver")
	}
	f.delivered = append(f.delivered, e)
	return nil
}

func (f *fakeEnforcer) Inject(_ context.Context, tab int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, tab)
	return f.injectErr
}

type harness struct {
	a       *Authority
	eval    *fakeEvaluator
	grants  *fakeGrants
	enf     *fakeEnforcer
	results chan DeliveryResult
}

func newHarness(t *testing.T, verdict domain.Verdict, mutate ...func(*Options)) harness {
	t.Helper()
	h := harness{
		eval:    &fakeEvaluator{verdict: verdict},
		grants:  &fakeGrants{verify: map[string]domain.GracePeriod{}},
		enf:     &fakeEnforcer{},
		results: make(chan DeliveryResult, 16),
	}
	opts := Options{
		Evaluator:    h.eval,
		Rules:        fakeRules{},
		Grants:       h.grants,
		Enforcer:     h.enf,
		DedupeWindow: time.Second,
		OnDelivery:   func(r DeliveryResult) { h.results <- r },
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.a = New(opts)
	t.Cleanup(h.a.Stop)
	return h
}

func (h harness) next(t *testing.T) DeliveryResult {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("no delivery result")
		return DeliveryResult{}
	}
}

// drain collects every delivery result that arrives within d.
func (h harness) drain(d time.Duration) []DeliveryResult {
	var out []DeliveryResult
	deadline := time.After(d)
	for {
		select {
		case r := <-h.results:
			out = append(out, r)
		case <-deadline:
			return out
		}
	}
}

func (f *fakeEnforcer) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

var blockedVerdict = domain.Verdict{Blocked: true, Rule: &domain.Rule{ID: "r1", RawInput: "example.com"}}

func TestNavigate_NotBlockedSendsNothing(t *testing.T) {
	h := newHarness(t, domain.NotBlocked())
	assert.Equal(t, domain.NavNotBlocked, h.a.Navigate(context.Background(), 1, "https://ok.test/"))

	assert.Empty(t, h.drain(200*time.Millisecond))
	assert.Equal(t, 0, h.enf.deliveredCount())
}

func TestNavigate_BlockedDeliversBlock(t *testing.T) {
	h := newHarness(t, blockedVerdict)
	assert.Equal(t, domain.NavBlockedNoOverride, h.a.Navigate(context.Background(), 7, "https://example.com/"))

	r := h.next(t)
	assert.Equal(t, Delivered, r.State)
	assert.Equal(t, 1, r.Attempts)
	assert.Equal(t, 7, r.Enforce.TabID)
	assert.Equal(t, domain.EnforceBlock, r.Enforce.Mode)
	assert.Empty(t, h.enf.injected)
}

func TestNavigate_OverrideDeliversCountdown(t *testing.T) {
	g := domain.GracePeriod{Key: "ABCD-EFGH", RuleURL: "example.com", ExpiresAt: time.Now().Add(time.Minute)}
	h := newHarness(t, domain.Verdict{Blocked: true, HasActiveOverride: true, Grant: &g})
	assert.Equal(t, domain.NavBlockedWithOverride, h.a.Navigate(context.Background(), 3, "https://example.com/"))

	r := h.next(t)
	assert.Equal(t, domain.EnforceCountdown, r.Enforce.Mode)
	require.NotNil(t, r.Enforce.Verdict.Grant)
	assert.Equal(t, "ABCD-EFGH", r.Enforce.Verdict.Grant.Key)
}

func TestNavigate_DuplicatesSuppressedPerTab(t *testing.T) {
	h := newHarness(t, blockedVerdict)
	ctx := context.Background()

	assert.Equal(t, domain.NavBlockedNoOverride, h.a.Navigate(ctx, 1, "https://example.com/"))
	assert.Equal(t, domain.NavSuppressed, h.a.Navigate(ctx, 1, "https://example.com/"))
	assert.Equal(t, domain.NavSuppressed, h.a.Navigate(ctx, 1, "https://example.com/"))
	// another tab is a different navigation
	assert.Equal(t, domain.NavBlockedNoOverride, h.a.Navigate(ctx, 2, "https://example.com/"))

	results := append([]DeliveryResult{h.next(t), h.next(t)}, h.drain(200*time.Millisecond)...)
	require.Len(t, results, 2)
	tabs := map[int]bool{}
	for _, r := range results {
		assert.Equal(t, Delivered, r.State)
		tabs[r.Enforce.TabID] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true}, tabs)
	assert.Equal(t, 2, h.enf.deliveredCount())
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.eval.calls))
}

func TestNavigate_RapidDuplicateProducesOneEnforce(t *testing.T) {
	h := newHarness(t, blockedVerdict)
	ctx := context.Background()

	h.a.Navigate(ctx, 4, "https://example.com/")
	h.a.Navigate(ctx, 4, "https://example.com/")

	r := h.next(t)
	assert.Equal(t, Delivered, r.State)
	assert.Empty(t, h.drain(200*time.Millisecond))
	assert.Equal(t, 1, h.enf.deliveredCount())
}

func TestNavigate_WindowExpires(t *testing.T) {
	h := newHarness(t, domain.NotBlocked(), func(o *Options) { o.DedupeWindow = 30 * time.Millisecond })
	ctx := context.Background()

	assert.Equal(t, domain.NavNotBlocked, h.a.Navigate(ctx, 1, "https://a.test/"))
	assert.Equal(t, domain.NavSuppressed, h.a.Navigate(ctx, 1, "https://a.test/"))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, domain.NavNotBlocked, h.a.Navigate(ctx, 1, "https://a.test/"))
}

func TestNavigate_InternalPagesIgnored(t *testing.T) {
	h := newHarness(t, blockedVerdict)
	assert.Equal(t, domain.NavIgnored, h.a.Navigate(context.Background(), 1, "chrome://newtab"))
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.eval.calls))
}

func TestDelivery_RetryAfterInject(t *testing.T) {
	h := newHarness(t, blockedVerdict, func(o *Options) { o.RetryDelay = 5 * time.Millisecond })
	h.enf.failures = 1
	h.a.Navigate(context.Background(), 4, "https://example.com/")

	r := h.next(t)
	assert.Equal(t, Delivered, r.State)
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, []int{4}, h.enf.injected)
}

func TestDelivery_AbandonedAfterOneRetry(t *testing.T) {
	h := newHarness(t, blockedVerdict)
	h.enf.failures = 100
	h.a.Navigate(context.Background(), 4, "https://example.com/")

	r := h.next(t)
	assert.Equal(t, Abandoned, r.State)
	assert.Equal(t, 2, r.Attempts)
	assert.Error(t, r.Err)
	h.a.Stop()
	assert.Equal(t, 2, h.enf.calls, "exactly one retry")
}

func TestDelivery_InjectFailureAbandons(t *testing.T) {
	h := newHarness(t, blockedVerdict)
	h.enf.failures = 1
	h.enf.injectErr = errors.New("tab closed")
	h.a.Navigate(context.Background(), 4, "https://example.com/")

	r := h.next(t)
	assert.Equal(t, Abandoned, r.State)
	assert.Equal(t, 1, r.Attempts)
	assert.ErrorContains(t, r.Err, "tab closed")
}

func TestDelivery_StopAbandonsPendingDelay(t *testing.T) {
	h := newHarness(t, blockedVerdict, func(o *Options) { o.DeliveryDelay = time.Hour })
	h.a.Navigate(context.Background(), 1, "https://example.com/")
	h.a.Stop()

	r := h.next(t)
	assert.Equal(t, Abandoned, r.State)
	assert.Equal(t, 0, r.Attempts)

	// after Stop nothing is dispatched
	h.a.Navigate(context.Background(), 2, "https://example.com/")
	assert.Empty(t, h.results)
}

func TestHandle_CheckBlocked(t *testing.T) {
	h := newHarness(t, blockedVerdict)
	resp := h.a.Handle(context.Background(), domain.CheckBlocked{URL: "https://example.com/"})
	v, ok := resp.(domain.Verdict)
	require.True(t, ok)
	assert.True(t, v.Blocked)
	assert.Empty(t, h.results, "checking never enforces")
}

func TestHandle_RequestGrant(t *testing.T) {
	h := newHarness(t, blockedVerdict, func(o *Options) {
		o.Rules = fakeRules{rule: domain.Rule{ID: "r1", RawInput: "example.com"}, ok: true}
	})
	resp := h.a.Handle(context.Background(), domain.RequestGrant{URL: "https://www.example.com/deep/page"})
	gr, ok := resp.(domain.GrantResult)
	require.True(t, ok)
	require.True(t, gr.Success)
	assert.Equal(t, "example.com", gr.Grant.RuleURL, "grant is keyed by the rule, not the page")
	assert.GreaterOrEqual(t, gr.Grant.Duration, 30*time.Second)
	assert.LessOrEqual(t, gr.Grant.Duration, 9*time.Minute)
	assert.Equal(t, 3, h.grants.lastQuota)
}

func TestHandle_RequestGrantWithoutRuleUsesURL(t *testing.T) {
	h := newHarness(t, domain.NotBlocked())
	gr := h.a.Handle(context.Background(), domain.RequestGrant{URL: "https://free.test/"}).(domain.GrantResult)
	require.True(t, gr.Success)
	assert.Equal(t, "https://free.test/", gr.Grant.RuleURL)
}

func TestHandle_RequestGrantFailures(t *testing.T) {
	h := newHarness(t, blockedVerdict)

	h.grants.issueErr = errors.Join(errors.New("issue grant"), domain.ErrQuotaExceeded)
	gr := h.a.Handle(context.Background(), domain.RequestGrant{URL: "https://example.com/"}).(domain.GrantResult)
	assert.False(t, gr.Success)
	assert.Equal(t, domain.ErrQuotaExceeded.Error(), gr.Error)

	h.grants.issueErr = errors.New("disk on fire")
	gr = h.a.Handle(context.Background(), domain.RequestGrant{URL: "https://example.com/"}).(domain.GrantResult)
	assert.False(t, gr.Success)
	assert.Equal(t, domain.ErrGrantUnavailable.Error(), gr.Error)
}

func TestHandle_VerifyKey(t *testing.T) {
	h := newHarness(t, blockedVerdict)
	g := domain.GracePeriod{Key: "ABCD-EFGH", RuleURL: "example.com", ExpiresAt: time.Now().Add(time.Minute)}
	h.grants.verify["ABCD-EFGH"] = g

	vr := h.a.Handle(context.Background(), domain.VerifyKey{Key: "ABCD-EFGH", TabID: 9}).(domain.VerifyResult)
	require.True(t, vr.Success)
	assert.Equal(t, g, *vr.Grant)

	r := h.next(t)
	assert.Equal(t, 9, r.Enforce.TabID)
	assert.Equal(t, domain.EnforceCountdown, r.Enforce.Mode)

	vr = h.a.Handle(context.Background(), domain.VerifyKey{Key: "NOPE-NOPE"}).(domain.VerifyResult)
	assert.False(t, vr.Success)
	assert.Equal(t, domain.ErrInvalidKey.Error(), vr.Error)
}

func TestHandle_NavigateAndUnknown(t *testing.T) {
	h := newHarness(t, domain.NotBlocked())
	nr := h.a.Handle(context.Background(), domain.Navigate{TabID: 1, URL: "https://a.test/"}).(domain.NavigateResult)
	assert.Equal(t, domain.NavNotBlocked, nr.State)

	er, ok := h.a.Handle(context.Background(), nil).(domain.ErrorResult)
	require.True(t, ok)
	assert.Equal(t, "unknown message type", er.Error)
}

func TestRandomDuration_InclusiveBounds(t *testing.T) {
	var n int64
	h := newHarness(t, domain.NotBlocked(), func(o *Options) {
		o.RandInt64N = func(max int64) int64 { n = max; return 0 }
	})
	assert.Equal(t, 30*time.Second, h.a.randomDuration())
	assert.Equal(t, int64(9*60*1000-30*1000+1), n)

	h.a.randInt64N = func(max int64) int64 { return max - 1 }
	assert.Equal(t, 9*time.Minute, h.a.randomDuration())

	h.a.randInt64N = rand.Int64N
	for i := 0; i < 100; i++ {
		d := h.a.randomDuration()
		assert.True(t, d >= 30*time.Second && d <= 9*time.Minute, d)
		assert.Equal(t, time.Duration(0), d%time.Millisecond)
	}
}

func TestSweeper(t *testing.T) {
	h := newHarness(t, domain.NotBlocked(), func(o *Options) { o.SweepInterval = 5 * time.Millisecond })
	h.a.Start(context.Background())
	h.a.Start(context.Background())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&h.grants.sweeps) >= 2 }, 2*time.Second, 5*time.Millisecond)
	h.a.Stop()
	after := atomic.LoadInt32(&h.grants.sweeps)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&h.grants.sweeps), "sweeper must stop with the authority")

	h.grants.sweepErr = errors.New("io")
	assert.Equal(t, 0, h.a.SweepOnce(context.Background()))
}

func TestQuota(t *testing.T) {
	h := newHarness(t, domain.NotBlocked())
	assert.Equal(t, QuotaUsage{Used: 2, Limit: 3, Bucket: "2025-08-01-12"}, h.a.Quota())
}

func TestDeliveryState_String(t *testing.T) {
	assert.Equal(t, "RETRYING", Retrying.String())
	assert.Equal(t, "DeliveryState(9)", DeliveryState(9).String())
}
