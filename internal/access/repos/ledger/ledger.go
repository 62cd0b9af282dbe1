package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/haukened/gracegate/internal/access/common/clock"
	"github.com/haukened/gracegate/internal/access/common/log"
	"github.com/haukened/gracegate/internal/access/domain"
	"github.com/haukened/gracegate/internal/access/repos/state"
)

// ErrInvalidDuration is returned when a grant is requested for a
// non-positive duration.
var ErrInvalidDuration = errors.New("grant duration must be positive")

// Ledger issues, verifies and sweeps grace periods and keeps the issuance
// log used for the hourly quota. State lives in the shared aggregate, so
// every mutation is serialized with rule changes.
type Ledger struct {
	repo    *state.Repository
	clock   clock.Clock
	loc     *time.Location
	entropy io.Reader
	logger  log.Logger
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithEntropy replaces crypto/rand as the key source.
func WithEntropy(r io.Reader) Option { return func(l *Ledger) { l.entropy = r } }

// New returns a Ledger bucketing issuance by calendar hour in loc
// (time.Local when nil).
func New(repo *state.Repository, clk clock.Clock, loc *time.Location, logger log.Logger, opts ...Option) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	l := &Ledger{
		repo:    repo,
		clock:   clk,
		loc:     loc,
		entropy: rand.Reader,
		logger:  log.Component(logger, "ledger"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LookupActive returns the live grant for ruleURL, if any.
func (l *Ledger) LookupActive(ruleURL string) (domain.GracePeriod, bool) {
	return l.repo.Snapshot().GrantForRule(ruleURL, l.clock.Now())
}

// Issue creates a grant for ruleURL without consulting the quota.
func (l *Ledger) Issue(ctx context.Context, ruleURL string, d time.Duration) (domain.GracePeriod, error) {
	return l.issue(ctx, ruleURL, d, 0)
}

// IssueWithinQuota creates a grant only if fewer than quota grants were
// issued in the current hour bucket. The check and the issuance are one
// mutation, so concurrent requests cannot both take the last slot.
func (l *Ledger) IssueWithinQuota(ctx context.Context, ruleURL string, d time.Duration, quota int) (domain.GracePeriod, error) {
	if quota < 1 {
		return domain.GracePeriod{}, domain.ErrQuotaExceeded
	}
	return l.issue(ctx, ruleURL, d, quota)
}

func (l *Ledger) issue(ctx context.Context, ruleURL string, d time.Duration, quota int) (domain.GracePeriod, error) {
	if d <= 0 {
		return domain.GracePeriod{}, ErrInvalidDuration
	}
	var grant domain.GracePeriod
	err := l.repo.Update(ctx, func(s *state.State) (bool, error) {
		now := l.clock.Now()
		rec := domain.NewIssuanceRecord(now, l.loc)
		if quota > 0 && s.CountBucket(rec.Bucket) >= quota {
			return false, domain.ErrQuotaExceeded
		}
		key, err := uniqueKey(l.entropy, s.ActiveGrants)
		if err != nil {
			return false, err
		}
		grant = domain.GracePeriod{
			Key:       key,
			RuleURL:   ruleURL,
			ExpiresAt: now.Add(d),
			Duration:  d,
		}
		s.ActiveGrants = append(s.ActiveGrants, grant)
		s.IssuanceLog = append(pruneLog(s.IssuanceLog, now), rec)
		return true, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			l.logger.Info(map[string]any{"url": ruleURL, "quota": quota}, "grant refused")
		}
		return domain.GracePeriod{}, fmt.Errorf("issue grant: %w", err)
	}
	l.logger.Info(map[string]any{
		"url":       grant.RuleURL,
		"duration":  grant.Duration.String(),
		"expiresAt": grant.ExpiresAt,
	}, "grant issued")
	return grant, nil
}

// pruneLog keeps only records issued within the retention window before now.
func pruneLog(records []domain.IssuanceRecord, now time.Time) []domain.IssuanceRecord {
	cutoff := now.Add(-domain.IssuanceRetention)
	kept := records[:0]
	for _, r := range records {
		if r.IssuedAt.After(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}

// Verify returns the live grant holding key. Input is trimmed and
// upper-cased first. Expired grants never verify, swept or not.
func (l *Ledger) Verify(key string) (domain.GracePeriod, bool) {
	k := domain.NormalizeKey(key)
	if k == "" {
		return domain.GracePeriod{}, false
	}
	return l.repo.Snapshot().GrantByKey(k, l.clock.Now())
}

// SweepExpired removes grants whose expiry is at or before now and returns
// how many were removed. Nothing is written when none expired.
func (l *Ledger) SweepExpired(ctx context.Context) (int, error) {
	removed := 0
	err := l.repo.Update(ctx, func(s *state.State) (bool, error) {
		now := l.clock.Now()
		kept := s.ActiveGrants[:0]
		for _, g := range s.ActiveGrants {
			if g.ActiveAt(now) {
				kept = append(kept, g)
				continue
			}
			removed++
		}
		s.ActiveGrants = kept
		return removed > 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep grants: %w", err)
	}
	if removed > 0 {
		l.logger.Debug(map[string]any{"removed": removed}, "expired grants swept")
	}
	return removed, nil
}

// CountIssuedThisHour counts issuance records in the current calendar hour.
func (l *Ledger) CountIssuedThisHour() int {
	return l.repo.Snapshot().CountBucket(l.CurrentBucket())
}

// CurrentBucket returns the hour bucket label for now.
func (l *Ledger) CurrentBucket() string {
	return domain.HourBucket(l.clock.Now(), l.loc)
}

// Active lists unexpired grants in issuance order.
func (l *Ledger) Active() []domain.GracePeriod {
	now := l.clock.Now()
	var out []domain.GracePeriod
	for _, g := range l.repo.Snapshot().ActiveGrants {
		if g.ActiveAt(now) {
			out = append(out, g)
		}
	}
	return out
}
