package domain

import "fmt"

// Verdict is the outcome of evaluating a URL. Pure value type.
type Verdict struct {
	Blocked           bool
	HasActiveOverride bool
	Grant             *GracePeriod
	Rule              *Rule
}

// NotBlocked returns the verdict for an unmatched URL.
func NotBlocked() Verdict { return Verdict{} }

// NavState is the per-(tab, URL) protocol state.
type NavState uint8

const (
	NavUnseen NavState = iota
	NavEvaluating
	NavNotBlocked
	NavBlockedNoOverride
	NavBlockedWithOverride
	// NavSuppressed marks a duplicate navigation dropped inside the window.
	NavSuppressed
	// NavIgnored marks an internal page filtered before evaluation.
	NavIgnored
)

// State maps a verdict onto the terminal protocol state.
func (v Verdict) State() NavState {
	switch {
	case !v.Blocked:
		return NavNotBlocked
	case v.HasActiveOverride:
		return NavBlockedWithOverride
	default:
		return NavBlockedNoOverride
	}
}

func (s NavState) String() string {
	switch s {
	case NavUnseen:
		return "UNSEEN"
	case NavEvaluating:
		return "EVALUATING"
	case NavNotBlocked:
		return "NOT_BLOCKED"
	case NavBlockedNoOverride:
		return "BLOCKED_NO_OVERRIDE"
	case NavBlockedWithOverride:
		return "BLOCKED_WITH_OVERRIDE"
	case NavSuppressed:
		return "SUPPRESSED"
	case NavIgnored:
		return "IGNORED"
	default:
		return fmt.Sprintf("NavState(%d)", s)
	}
}
