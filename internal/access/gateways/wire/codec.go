package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haukened/gracegate/internal/access/domain"
)

// Frame is the envelope of every hub message in both directions. Only the
// fields relevant to Type are set.
type Frame struct {
	Type string `json:"type"`
	// ID correlates a RESULT with the request that caused it.
	ID    string          `json:"id,omitempty"`
	URL   string          `json:"url,omitempty"`
	Key   string          `json:"key,omitempty"`
	Tab   int             `json:"tab,omitempty"`
	Tabs  []int           `json:"tabs,omitempty"`
	Role  string          `json:"role,omitempty"`
	Mode  string          `json:"mode,omitempty"`
	Error string          `json:"error,omitempty"`
	Body  json.RawMessage `json:"result,omitempty"`
	// Verdict is carried by ENFORCE.
	Verdict *Verdict `json:"verdict,omitempty"`
}

// IsRequest reports whether f names one of the domain request kinds.
func (f Frame) IsRequest() bool {
	_, err := domain.ParseMessageKind(f.Type)
	return err == nil
}

// Message converts a request frame into a domain message. The tab of the
// frame wins over fallbackTab when both are set.
func (f Frame) Message(fallbackTab int) (domain.Message, error) {
	kind, err := domain.ParseMessageKind(f.Type)
	if err != nil {
		return nil, err
	}
	tab := f.Tab
	if tab == 0 {
		tab = fallbackTab
	}
	url := strings.TrimSpace(f.URL)
	switch kind {
	case domain.KindCheckBlocked:
		if url == "" {
			return nil, fmt.Errorf("%s: url is required", kind)
		}
		return domain.CheckBlocked{URL: url}, nil
	case domain.KindRequestGrant:
		if url == "" {
			return nil, fmt.Errorf("%s: url is required", kind)
		}
		return domain.RequestGrant{URL: url, TabID: tab}, nil
	case domain.KindVerifyKey:
		return domain.VerifyKey{Key: f.Key, TabID: tab}, nil
	case domain.KindNavigate:
		if url == "" || tab == 0 {
			return nil, fmt.Errorf("%s: tab and url are required", kind)
		}
		return domain.Navigate{TabID: tab, URL: url}, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMessage, f.Type)
}

// Result wraps a domain response for the request with the given id.
func Result(id string, resp domain.Response) (Frame, error) {
	body, err := json.Marshal(FromResponse(resp))
	if err != nil {
		return Frame{}, fmt.Errorf("encode result: %w", err)
	}
	return Frame{Type: TypeResult, ID: id, Body: body}, nil
}

// Failure answers a frame that could not be turned into a message.
func Failure(id string, err error) Frame {
	return Frame{Type: TypeError, ID: id, Error: err.Error()}
}

// EnforceFrame renders a one-way enforcement instruction.
func EnforceFrame(e domain.Enforce) Frame {
	v := FromVerdict(e.Verdict)
	return Frame{Type: TypeEnforce, Tab: e.TabID, Mode: e.Mode.String(), Verdict: &v}
}

// InjectFrame asks the bridge to install the enforcer into tab.
func InjectFrame(tab int) Frame {
	return Frame{Type: TypeInject, Tab: tab}
}

// ParseMode converts the wire name of an enforcement mode.
func ParseMode(s string) (domain.EnforceMode, error) {
	switch s {
	case domain.EnforceBlock.String():
		return domain.EnforceBlock, nil
	case domain.EnforceCountdown.String():
		return domain.EnforceCountdown, nil
	default:
		return 0, fmt.Errorf("unknown enforce mode %q", s)
	}
}

// Enforce converts an ENFORCE frame back into a domain instruction.
func (f Frame) Enforce() (domain.Enforce, error) {
	if f.Type != TypeEnforce {
		return domain.Enforce{}, fmt.Errorf("not an %s frame: %q", TypeEnforce, f.Type)
	}
	mode, err := ParseMode(f.Mode)
	if err != nil {
		return domain.Enforce{}, err
	}
	e := domain.Enforce{TabID: f.Tab, Mode: mode}
	if f.Verdict != nil {
		e.Verdict = f.Verdict.Domain()
	}
	return e, nil
}
