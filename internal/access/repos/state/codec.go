package state

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/haukened/gracegate/internal/access/domain"
)

// State aliases the persisted aggregate so backends and callers only need
// this package.
type State = domain.State

// encMode uses Core Deterministic Encoding so an unchanged State always
// produces identical bytes. Times are written as RFC 3339 with nanoseconds
// because expiry comparisons need sub-second precision.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("state: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("state: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes s.
func Encode(s State) ([]byte, error) {
	b, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return b, nil
}

// Decode parses bytes written by Encode. Empty input yields the empty State.
func Decode(b []byte) (State, error) {
	var s State
	if len(b) == 0 {
		return s, nil
	}
	if err := decMode.Unmarshal(b, &s); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return s, nil
}
