package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/haukened/gracegate/internal/access/common/log"
	"github.com/haukened/gracegate/internal/access/domain"
	"github.com/haukened/gracegate/internal/access/services/authority"
)

// Authority routes protocol messages; *authority.Authority satisfies it.
type Authority interface {
	Handle(ctx context.Context, msg domain.Message) domain.Response
	Quota() authority.QuotaUsage
}

// RuleStore is the rule CRUD surface of the rule store.
type RuleStore interface {
	Add(ctx context.Context, rawInput string) (domain.Rule, error)
	Remove(ctx context.Context, id string) error
	List() []domain.Rule
	Get(id string) (domain.Rule, bool)
}

// GrantLister lists the live grace periods.
type GrantLister interface {
	Active() []domain.GracePeriod
}

// Metrics is the part of the metrics registry the API touches.
type Metrics interface {
	Handler() http.Handler
	ObserveHTTP(route, method string, status int, d time.Duration)
	RateLimited()
}

// Deps are the collaborators the routes are built from. Hub and Metrics
// are optional; their routes are not mounted when nil.
type Deps struct {
	Authority Authority
	Rules     RuleStore
	Grants    GrantLister
	Hub       http.Handler
	Metrics   Metrics
	Logger    log.Logger
	StartTime time.Time
}

// Limits configures the per-IP limiter. PerMinute 0 disables it.
type Limits struct {
	PerMinute int
	Burst     int
}
