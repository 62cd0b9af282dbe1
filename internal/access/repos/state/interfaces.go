package state

import "context"

// KV is the opaque key-value substrate holding the encoded State.
// Get reports found=false, with a nil error, when key has never been set.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Mutation edits a private copy of the State. Returning changed=false
// skips persistence; returning an error discards the copy.
type Mutation func(s *State) (changed bool, err error)
