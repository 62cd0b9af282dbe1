package domain

import (
	"fmt"
	"strings"
	"time"
)

// Rule is a stored block target plus the match expression derived from it.
//
// Notes:
// - Expression is derived once at creation and never recomputed.
// - RawInput is the rule's canonical identity for grace periods.
// - Two rules may share a RawInput; only ID is unique.
type Rule struct {
	ID         string    `json:"id" cbor:"id"`
	RawInput   string    `json:"url" cbor:"url"`
	Expression string    `json:"pattern" cbor:"pattern"`
	CreatedAt  time.Time `json:"addedAt" cbor:"addedAt"`
}

// NewRule constructs a Rule and validates its fields.
func NewRule(id, rawInput, expression string, createdAt time.Time) (Rule, error) {
	r := Rule{
		ID:         strings.TrimSpace(id),
		RawInput:   strings.TrimSpace(rawInput),
		Expression: expression,
		CreatedAt:  createdAt,
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Validate checks the Rule for required fields.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if r.RawInput == "" {
		return ErrEmptyRule
	}
	if r.Expression == "" {
		return fmt.Errorf("rule expression must not be empty")
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("rule createdAt must be set")
	}
	return nil
}
