package authority

import (
	"context"
	"time"

	"github.com/haukened/gracegate/internal/access/domain"
)

// Evaluator produces verdicts for URLs.
type Evaluator interface {
	Evaluate(url string) domain.Verdict
}

// RuleLookup resolves the rule identity a grant is issued against.
type RuleLookup interface {
	Lookup(url string) (domain.Rule, bool)
}

// Grants is the subset of the grace ledger the authority drives.
type Grants interface {
	IssueWithinQuota(ctx context.Context, ruleURL string, d time.Duration, quota int) (domain.GracePeriod, error)
	Verify(key string) (domain.GracePeriod, bool)
	SweepExpired(ctx context.Context) (int, error)
	CountIssuedThisHour() int
	CurrentBucket() string
}

// Enforcer is the page-side component. Deliver fails when no receiver is
// listening in the tab; Inject asks the bridge to install one.
type Enforcer interface {
	Deliver(ctx context.Context, e domain.Enforce) error
	Inject(ctx context.Context, tabID int) error
}

// Recorder observes protocol events, typically for metrics.
type Recorder interface {
	Navigation(state domain.NavState)
	Delivery(mode domain.EnforceMode, state DeliveryState)
	GrantRequest(outcome string)
	KeyVerification(ok bool)
	Swept(n int)
}

type nopRecorder struct{}

func (nopRecorder) Navigation(domain.NavState)                 {}
func (nopRecorder) Delivery(domain.EnforceMode, DeliveryState) {}
func (nopRecorder) GrantRequest(string)                        {}
func (nopRecorder) KeyVerification(bool)                       {}
func (nopRecorder) Swept(int)                                  {}
