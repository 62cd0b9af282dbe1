package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRule(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	r, err := NewRule(" id-1 ", "  example.com ", "^x$", now)
	require.NoError(t, err)
	assert.Equal(t, "id-1", r.ID)
	assert.Equal(t, "example.com", r.RawInput)

	_, err = NewRule("id", "   ", "^x$", now)
	assert.True(t, errors.Is(err, ErrEmptyRule))

	_, err = NewRule("", "example.com", "^x$", now)
	assert.Error(t, err)
	_, err = NewRule("id", "example.com", "", now)
	assert.Error(t, err)
	_, err = NewRule("id", "example.com", "^x$", time.Time{})
	assert.Error(t, err)
}

func TestGracePeriod_ActiveAtAndRemaining(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	g := GracePeriod{Key: "ABCD-EFGH", RuleURL: "example.com", ExpiresAt: now.Add(time.Minute), Duration: time.Minute}

	assert.True(t, g.ActiveAt(now))
	assert.Equal(t, time.Minute, g.Remaining(now))
	// expiry instant is already expired
	assert.False(t, g.ActiveAt(now.Add(time.Minute)))
	assert.Equal(t, time.Duration(0), g.Remaining(now.Add(2*time.Minute)))
}

func TestHourBucket(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ts := time.Date(2025, 8, 1, 14, 59, 59, 0, time.UTC)

	assert.Equal(t, "2025-08-01-14", HourBucket(ts, time.UTC))
	assert.Equal(t, "2025-08-01-10", HourBucket(ts, ny))

	rec := NewIssuanceRecord(ts, time.UTC)
	assert.Equal(t, "2025-08-01-14", rec.Bucket)
	assert.True(t, rec.IssuedAt.Equal(ts))
}

func TestState_CloneIsDeep(t *testing.T) {
	now := time.Now()
	s := State{
		Rules:        []Rule{{ID: "1", RawInput: "a.com", Expression: "a", CreatedAt: now}},
		ActiveGrants: []GracePeriod{{Key: "K", RuleURL: "a.com", ExpiresAt: now.Add(time.Minute)}},
		IssuanceLog:  []IssuanceRecord{{IssuedAt: now, Bucket: "b"}},
	}
	c := s.Clone()
	c.Rules[0].RawInput = "changed"
	c.ActiveGrants = c.ActiveGrants[:0]
	c.IssuanceLog = append(c.IssuanceLog, IssuanceRecord{Bucket: "b"})

	assert.Equal(t, "a.com", s.Rules[0].RawInput)
	assert.Len(t, s.ActiveGrants, 1)
	assert.Len(t, s.IssuanceLog, 1)
}

func TestState_Lookups(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	s := State{
		ActiveGrants: []GracePeriod{
			{Key: "OLD1-OLD1", RuleURL: "a.com", ExpiresAt: now.Add(-time.Second)},
			{Key: "LIVE-LIVE", RuleURL: "a.com", ExpiresAt: now.Add(time.Minute)},
		},
		IssuanceLog: []IssuanceRecord{{Bucket: "h1"}, {Bucket: "h1"}, {Bucket: "h2"}},
	}

	g, ok := s.GrantForRule("a.com", now)
	require.True(t, ok)
	assert.Equal(t, "LIVE-LIVE", g.Key)

	_, ok = s.GrantByKey("OLD1-OLD1", now)
	assert.False(t, ok, "expired grant must not verify")
	_, ok = s.GrantForRule("b.com", now)
	assert.False(t, ok)

	assert.Equal(t, 2, s.CountBucket("h1"))
	assert.Equal(t, 0, s.CountBucket("h3"))
}

func TestVerdict_State(t *testing.T) {
	assert.Equal(t, NavNotBlocked, NotBlocked().State())
	assert.Equal(t, NavBlockedNoOverride, Verdict{Blocked: true}.State())
	assert.Equal(t, NavBlockedWithOverride, Verdict{Blocked: true, HasActiveOverride: true}.State())

	assert.Equal(t, "BLOCKED_WITH_OVERRIDE", NavBlockedWithOverride.String())
	assert.Equal(t, "NavState(42)", NavState(42).String())
}
