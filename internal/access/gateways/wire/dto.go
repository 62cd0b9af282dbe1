// Package wire defines the JSON shapes exchanged with enforcers, the bridge
// and API clients, and converts them to and from domain values. Timestamps
// and durations travel as Unix milliseconds.
package wire

import (
	"time"

	"github.com/haukened/gracegate/internal/access/domain"
)

// Message types that are not domain requests.
const (
	TypeHello   = "HELLO"
	TypeResult  = "RESULT"
	TypeEnforce = "ENFORCE"
	TypeInject  = "INJECT"
	TypeError   = "ERROR"
)

// Connection roles announced in HELLO.
const (
	RoleTab    = "tab"
	RoleBridge = "bridge"
)

type Rule struct {
	ID      string `json:"id" yaml:"id"`
	URL     string `json:"url" yaml:"url"`
	Pattern string `json:"pattern" yaml:"pattern"`
	AddedAt int64  `json:"addedAt" yaml:"addedAt"`
}

type Grant struct {
	Key       string `json:"key" yaml:"key"`
	URL       string `json:"url" yaml:"url"`
	ExpiresAt int64  `json:"expiresAt" yaml:"expiresAt"`
	Duration  int64  `json:"duration" yaml:"duration"`
}

// Verdict keeps the field names enforcers already understand.
type Verdict struct {
	IsBlocked      bool   `json:"isBlocked" yaml:"isBlocked"`
	HasActiveGrace bool   `json:"hasActiveGrace" yaml:"hasActiveGrace"`
	GracePeriod    *Grant `json:"gracePeriod,omitempty" yaml:"gracePeriod,omitempty"`
	Site           *Rule  `json:"site,omitempty" yaml:"site,omitempty"`
}

// Outcome answers REQUEST_GRANT and VERIFY_KEY.
type Outcome struct {
	Success     bool   `json:"success" yaml:"success"`
	GracePeriod *Grant `json:"gracePeriod,omitempty" yaml:"gracePeriod,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

type NavigateOutcome struct {
	State string `json:"state" yaml:"state"`
}

type Quota struct {
	Used   int    `json:"used" yaml:"used"`
	Limit  int    `json:"limit" yaml:"limit"`
	Bucket string `json:"bucket" yaml:"bucket"`
}

// Millis converts t to Unix milliseconds; the zero time is 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func FromRule(r domain.Rule) Rule {
	return Rule{ID: r.ID, URL: r.RawInput, Pattern: r.Expression, AddedAt: Millis(r.CreatedAt)}
}

func (r Rule) Domain() domain.Rule {
	return domain.Rule{ID: r.ID, RawInput: r.URL, Expression: r.Pattern, CreatedAt: FromMillis(r.AddedAt)}
}

func FromRules(rs []domain.Rule) []Rule {
	out := make([]Rule, 0, len(rs))
	for _, r := range rs {
		out = append(out, FromRule(r))
	}
	return out
}

func FromGrant(g domain.GracePeriod) Grant {
	return Grant{Key: g.Key, URL: g.RuleURL, ExpiresAt: Millis(g.ExpiresAt), Duration: g.Duration.Milliseconds()}
}

func (g Grant) Domain() domain.GracePeriod {
	return domain.GracePeriod{
		Key:       g.Key,
		RuleURL:   g.URL,
		ExpiresAt: FromMillis(g.ExpiresAt),
		Duration:  time.Duration(g.Duration) * time.Millisecond,
	}
}

func FromGrants(gs []domain.GracePeriod) []Grant {
	out := make([]Grant, 0, len(gs))
	for _, g := range gs {
		out = append(out, FromGrant(g))
	}
	return out
}

func FromVerdict(v domain.Verdict) Verdict {
	out := Verdict{IsBlocked: v.Blocked, HasActiveGrace: v.HasActiveOverride}
	if v.Grant != nil {
		g := FromGrant(*v.Grant)
		out.GracePeriod = &g
	}
	if v.Rule != nil {
		r := FromRule(*v.Rule)
		out.Site = &r
	}
	return out
}

func (v Verdict) Domain() domain.Verdict {
	out := domain.Verdict{Blocked: v.IsBlocked, HasActiveOverride: v.HasActiveGrace}
	if v.GracePeriod != nil {
		g := v.GracePeriod.Domain()
		out.Grant = &g
	}
	if v.Site != nil {
		r := v.Site.Domain()
		out.Rule = &r
	}
	return out
}

func outcome(success bool, g *domain.GracePeriod, reason string) Outcome {
	o := Outcome{Success: success, Error: reason}
	if g != nil {
		w := FromGrant(*g)
		o.GracePeriod = &w
	}
	return o
}

// FromResponse maps any domain response onto its wire shape.
func FromResponse(resp domain.Response) any {
	switch r := resp.(type) {
	case domain.Verdict:
		return FromVerdict(r)
	case domain.GrantResult:
		return outcome(r.Success, r.Grant, r.Error)
	case domain.VerifyResult:
		return outcome(r.Success, r.Grant, r.Error)
	case domain.NavigateResult:
		return NavigateOutcome{State: r.State.String()}
	case domain.ErrorResult:
		return Outcome{Error: r.Error}
	default:
		return Outcome{Error: domain.ErrUnknownMessage.Error()}
	}
}
