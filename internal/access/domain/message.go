package domain

import (
	"fmt"
	"strings"
)

// MessageKind enumerates the coordination messages the authority accepts.
type MessageKind uint8

const (
	KindCheckBlocked MessageKind = iota + 1
	KindRequestGrant
	KindVerifyKey
	KindNavigate
)

// String returns the wire name of the kind.
func (k MessageKind) String() string {
	switch k {
	case KindCheckBlocked:
		return "CHECK_BLOCKED"
	case KindRequestGrant:
		return "REQUEST_GRANT"
	case KindVerifyKey:
		return "VERIFY_KEY"
	case KindNavigate:
		return "NAVIGATE"
	default:
		return fmt.Sprintf("MessageKind(%d)", k)
	}
}

// ParseMessageKind converts a wire name into a MessageKind.
// REQUEST_GRACE_PERIOD is accepted as an alias of REQUEST_GRANT.
func ParseMessageKind(s string) (MessageKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CHECK_BLOCKED":
		return KindCheckBlocked, nil
	case "REQUEST_GRANT", "REQUEST_GRACE_PERIOD":
		return KindRequestGrant, nil
	case "VERIFY_KEY":
		return KindVerifyKey, nil
	case "NAVIGATE":
		return KindNavigate, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMessage, s)
	}
}

// Message is the closed set of requests handled by the authority.
// Only types in this package implement it.
type Message interface {
	Kind() MessageKind
	isMessage()
}

// CheckBlocked asks for the verdict of a URL.
type CheckBlocked struct {
	URL string
}

// RequestGrant asks for a new grace period for the rule matching URL.
type RequestGrant struct {
	URL   string
	TabID int
}

// VerifyKey submits a grant key. TabID, when non-zero, receives a countdown
// instruction on success.
type VerifyKey struct {
	Key   string
	TabID int
}

// Navigate reports that TabID started loading URL.
type Navigate struct {
	TabID int
	URL   string
}

func (CheckBlocked) Kind() MessageKind { return KindCheckBlocked }
func (RequestGrant) Kind() MessageKind { return KindRequestGrant }
func (VerifyKey) Kind() MessageKind    { return KindVerifyKey }
func (Navigate) Kind() MessageKind     { return KindNavigate }

func (CheckBlocked) isMessage() {}
func (RequestGrant) isMessage() {}
func (VerifyKey) isMessage()    {}
func (Navigate) isMessage()     {}

// Response is the closed set of results returned for a Message.
type Response interface {
	isResponse()
}

// GrantResult answers RequestGrant.
type GrantResult struct {
	Success bool
	Grant   *GracePeriod
	Error   string
}

// VerifyResult answers VerifyKey.
type VerifyResult struct {
	Success bool
	Grant   *GracePeriod
	Error   string
}

// NavigateResult answers Navigate with the state the navigation reached.
type NavigateResult struct {
	State NavState
}

// ErrorResult answers a message that could not be processed at all.
type ErrorResult struct {
	Error string
}

func (Verdict) isResponse()        {}
func (GrantResult) isResponse()    {}
func (VerifyResult) isResponse()   {}
func (NavigateResult) isResponse() {}
func (ErrorResult) isResponse()    {}

// EnforceMode selects what the enforcer renders.
type EnforceMode uint8

const (
	EnforceBlock EnforceMode = iota + 1
	EnforceCountdown
)

func (m EnforceMode) String() string {
	switch m {
	case EnforceBlock:
		return "block"
	case EnforceCountdown:
		return "countdown"
	default:
		return fmt.Sprintf("EnforceMode(%d)", m)
	}
}

// Enforce is the one-way instruction sent from the authority to a tab.
type Enforce struct {
	TabID   int
	Mode    EnforceMode
	Verdict Verdict
}
