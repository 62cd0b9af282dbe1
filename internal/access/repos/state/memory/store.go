package memory

import (
	"context"
	"sync"

	"github.com/haukened/gracegate/internal/access/repos/state"
)

// Store is an in-process state.KV. Values are copied in and out.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	sets int
}

// New returns an empty Store.
func New() *Store { return &Store{data: make(map[string][]byte)} }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = append([]byte(nil), value...)
	s.sets++
	return nil
}

// SetFailure makes subsequent Set calls fail with err (nil clears it).
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Sets returns the number of successful writes.
func (s *Store) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func (s *Store) Close() error { return nil }

var _ state.KV = (*Store)(nil)
