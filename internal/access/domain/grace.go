package domain

import "time"

// HourBucketLayout renders the calendar hour label YYYY-MM-DD-HH.
const HourBucketLayout = "2006-01-02-15"

// IssuanceRetention is how long issuance records are kept for quota counting.
const IssuanceRetention = 24 * time.Hour

// GracePeriod is a time-boxed, key-authenticated override of a rule.
// RuleURL holds the overridden rule's RawInput, not the navigated URL, so
// every URL matched by the same rule shares one grant.
type GracePeriod struct {
	Key       string        `json:"key" cbor:"key"`
	RuleURL   string        `json:"url" cbor:"url"`
	ExpiresAt time.Time     `json:"expiresAt" cbor:"expiresAt"`
	Duration  time.Duration `json:"duration" cbor:"duration"`
}

// ActiveAt reports whether the grant is still live at now.
func (g GracePeriod) ActiveAt(now time.Time) bool {
	return g.ExpiresAt.After(now)
}

// Remaining returns the time left at now, never negative.
func (g GracePeriod) Remaining(now time.Time) time.Duration {
	if d := g.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IssuanceRecord is one entry of the append-only log used for quota counting.
type IssuanceRecord struct {
	IssuedAt time.Time `json:"timestamp" cbor:"timestamp"`
	Bucket   string    `json:"hour" cbor:"hour"`
}

// NewIssuanceRecord stamps a record at t with its hour bucket in loc.
func NewIssuanceRecord(t time.Time, loc *time.Location) IssuanceRecord {
	return IssuanceRecord{IssuedAt: t, Bucket: HourBucket(t, loc)}
}

// HourBucket returns the calendar hour label of t in loc. A nil loc means time.Local.
func HourBucket(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(HourBucketLayout)
}
