package authority

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/haukened/gracegate/internal/access/common/log"
	"github.com/haukened/gracegate/internal/access/domain"
	"github.com/haukened/gracegate/internal/access/services/decision"
)

// Response texts carried back to enforcers.
var (
	reasonQuotaExceeded = domain.ErrQuotaExceeded.Error()
	reasonInvalidKey    = domain.ErrInvalidKey.Error()
	reasonUnavailable   = domain.ErrGrantUnavailable.Error()
)

// Options configures an Authority. Zero durations and sizes take the
// defaults of the browser extension this replaces.
type Options struct {
	Evaluator Evaluator
	Rules     RuleLookup
	Grants    Grants
	Enforcer  Enforcer
	Recorder  Recorder
	Logger    log.Logger

	HourlyQuota   int
	MinDuration   time.Duration
	MaxDuration   time.Duration
	SweepInterval time.Duration
	DedupeWindow  time.Duration
	DedupeSize    int
	DeliveryDelay time.Duration
	RetryDelay    time.Duration

	// RandInt64N returns a uniform value in [0, n). Defaults to math/rand/v2.
	RandInt64N func(n int64) int64
	// OnDelivery, when set, receives every terminal delivery result.
	OnDelivery func(DeliveryResult)
}

func (o Options) withDefaults() Options {
	if o.HourlyQuota <= 0 {
		o.HourlyQuota = 3
	}
	if o.MinDuration <= 0 {
		o.MinDuration = 30 * time.Second
	}
	if o.MaxDuration < o.MinDuration {
		o.MaxDuration = 9 * time.Minute
		if o.MaxDuration < o.MinDuration {
			o.MaxDuration = o.MinDuration
		}
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.DedupeWindow <= 0 {
		o.DedupeWindow = 2 * time.Second
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = 1024
	}
	if o.RandInt64N == nil {
		o.RandInt64N = rand.Int64N
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Logger == nil {
		o.Logger = log.NewNoopLogger()
	}
	return o
}

// Authority is the single decision point for navigations and protocol
// messages. Navigations are deduplicated per (tab, URL) inside a short
// window, enforcement is pushed to the Enforcer asynchronously, and a
// background sweeper removes expired grants.
type Authority struct {
	evaluator Evaluator
	rules     RuleLookup
	grants    Grants
	enforcer  Enforcer
	recorder  Recorder
	logger    log.Logger

	quota         int
	minDuration   time.Duration
	maxDuration   time.Duration
	sweepInterval time.Duration
	deliveryDelay time.Duration
	retryDelay    time.Duration
	randInt64N    func(int64) int64
	onDelivery    func(DeliveryResult)

	seenMu sync.Mutex
	seen   *expirable.LRU[string, struct{}]

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds an Authority. Deliveries can be dispatched immediately; the
// sweeper only runs after Start.
func New(opts Options) *Authority {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Authority{
		evaluator:     opts.Evaluator,
		rules:         opts.Rules,
		grants:        opts.Grants,
		enforcer:      opts.Enforcer,
		recorder:      opts.Recorder,
		logger:        log.Component(opts.Logger, "authority"),
		quota:         opts.HourlyQuota,
		minDuration:   opts.MinDuration,
		maxDuration:   opts.MaxDuration,
		sweepInterval: opts.SweepInterval,
		deliveryDelay: opts.DeliveryDelay,
		retryDelay:    opts.RetryDelay,
		randInt64N:    opts.RandInt64N,
		onDelivery:    opts.OnDelivery,
		seen:          expirable.NewLRU[string, struct{}](opts.DedupeSize, nil, opts.DedupeWindow),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Navigate handles a top-level navigation of tabID to url and returns the
// state it reached. Repeats of the same (tab, URL) inside the dedupe window
// are suppressed without evaluation.
func (a *Authority) Navigate(ctx context.Context, tabID int, url string) domain.NavState {
	if decision.IsInternalURL(url) {
		a.recorder.Navigation(domain.NavIgnored)
		return domain.NavIgnored
	}
	if a.suppress(tabID, url) {
		a.recorder.Navigation(domain.NavSuppressed)
		return domain.NavSuppressed
	}

	verdict := a.evaluator.Evaluate(url)
	state := verdict.State()
	a.recorder.Navigation(state)

	switch state {
	case domain.NavBlockedNoOverride:
		a.dispatch(domain.Enforce{TabID: tabID, Mode: domain.EnforceBlock, Verdict: verdict})
	case domain.NavBlockedWithOverride:
		a.dispatch(domain.Enforce{TabID: tabID, Mode: domain.EnforceCountdown, Verdict: verdict})
	}
	a.logger.Debug(map[string]any{"tab": tabID, "url": url, "state": state.String()}, "navigation evaluated")
	return state
}

// suppress records (tab, url) and reports whether it was already seen
// inside the window.
func (a *Authority) suppress(tabID int, url string) bool {
	key := fmt.Sprintf("%d-%s", tabID, url)
	a.seenMu.Lock()
	defer a.seenMu.Unlock()
	if _, ok := a.seen.Peek(key); ok {
		return true
	}
	a.seen.Add(key, struct{}{})
	return false
}

// Handle routes one protocol message to its handler.
func (a *Authority) Handle(ctx context.Context, msg domain.Message) domain.Response {
	switch m := msg.(type) {
	case domain.CheckBlocked:
		return a.evaluator.Evaluate(m.URL)
	case domain.RequestGrant:
		return a.requestGrant(ctx, m)
	case domain.VerifyKey:
		return a.verifyKey(m)
	case domain.Navigate:
		return domain.NavigateResult{State: a.Navigate(ctx, m.TabID, m.URL)}
	default:
		a.logger.Warn(map[string]any{"type": fmt.Sprintf("%T", msg)}, "unknown message")
		return domain.ErrorResult{Error: domain.ErrUnknownMessage.Error()}
	}
}

// requestGrant issues a grant for the rule matching m.URL, or for the URL
// itself when nothing matches. Quota check and issuance are atomic.
func (a *Authority) requestGrant(ctx context.Context, m domain.RequestGrant) domain.GrantResult {
	ruleURL := m.URL
	if rule, ok := a.rules.Lookup(m.URL); ok {
		ruleURL = rule.RawInput
	}
	g, err := a.grants.IssueWithinQuota(ctx, ruleURL, a.randomDuration(), a.quota)
	switch {
	case err == nil:
		a.recorder.GrantRequest("issued")
		return domain.GrantResult{Success: true, Grant: &g}
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.recorder.GrantRequest("quota_exceeded")
		return domain.GrantResult{Error: reasonQuotaExceeded}
	default:
		a.recorder.GrantRequest("error")
		a.logger.Error(map[string]any{"url": ruleURL, "err": err}, "grant issuance failed")
		return domain.GrantResult{Error: reasonUnavailable}
	}
}

// verifyKey checks a key and, for a known tab, switches it to countdown.
func (a *Authority) verifyKey(m domain.VerifyKey) domain.VerifyResult {
	g, ok := a.grants.Verify(m.Key)
	a.recorder.KeyVerification(ok)
	if !ok {
		return domain.VerifyResult{Error: reasonInvalidKey}
	}
	if m.TabID != 0 {
		a.dispatch(domain.Enforce{
			TabID:   m.TabID,
			Mode:    domain.EnforceCountdown,
			Verdict: domain.Verdict{Blocked: true, HasActiveOverride: true, Grant: &g},
		})
	}
	return domain.VerifyResult{Success: true, Grant: &g}
}

// randomDuration is uniform over [min, max] at millisecond granularity,
// both ends inclusive.
func (a *Authority) randomDuration() time.Duration {
	lo := a.minDuration.Milliseconds()
	hi := a.maxDuration.Milliseconds()
	return time.Duration(lo+a.randInt64N(hi-lo+1)) * time.Millisecond
}

// QuotaUsage is the grant quota readout for the current hour.
type QuotaUsage struct {
	Used   int
	Limit  int
	Bucket string
}

// Quota reports grants issued in the current hour against the limit.
func (a *Authority) Quota() QuotaUsage {
	return QuotaUsage{Used: a.grants.CountIssuedThisHour(), Limit: a.quota, Bucket: a.grants.CurrentBucket()}
}

// Start launches the expiry sweeper. Calls after the first are no-ops.
func (a *Authority) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		a.wg.Add(1)
		go a.sweep(ctx)
		a.logger.Info(map[string]any{"interval": a.sweepInterval.String()}, "grant sweeper started")
	})
}

func (a *Authority) sweep(ctx context.Context) {
	defer a.wg.Done()
	t := time.NewTicker(a.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.ctx.Done():
			return
		case <-t.C:
			a.SweepOnce(a.ctx)
		}
	}
}

// SweepOnce removes expired grants now. Errors are logged.
func (a *Authority) SweepOnce(ctx context.Context) int {
	n, err := a.grants.SweepExpired(ctx)
	if err != nil {
		a.logger.Error(map[string]any{"err": err}, "grant sweep failed")
		return 0
	}
	a.recorder.Swept(n)
	return n
}

// Stop halts the sweeper and waits for in-flight deliveries, which are
// abandoned if still waiting.
func (a *Authority) Stop() {
	a.stopOnce.Do(func() {
		a.cancel()
		a.wg.Wait()
	})
}
