package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/haukened/gracegate/internal/access/common/log"
)

// ErrClosed is returned by Update after Close.
var ErrClosed = errors.New("state repository closed")

// Repository owns the authoritative in-memory State and persists it
// write-through to a KV under one fixed key.
//
// All mutations run on a single writer goroutine: the writer clones the
// current State, applies the mutation, persists the clone and only then
// publishes it. A failed write leaves the published State untouched.
// Reads never block on the writer beyond a short RLock.
type Repository struct {
	kv     KV
	key    string
	logger log.Logger

	mu      sync.RWMutex
	current State
	version uint64

	reqs      chan request
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type request struct {
	ctx   context.Context
	fn    Mutation
	reply chan error
}

// Open loads the State stored under key (or starts empty) and starts the writer.
func Open(ctx context.Context, kv KV, key string, logger log.Logger) (*Repository, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	raw, found, err := kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	var s State
	if found {
		if s, err = Decode(raw); err != nil {
			return nil, err
		}
	}
	r := &Repository{
		kv:      kv,
		key:     key,
		logger:  log.Component(logger, "state"),
		current: s,
		reqs:    make(chan request),
		done:    make(chan struct{}),
	}
	r.logger.Info(map[string]any{
		"key":      key,
		"found":    found,
		"rules":    len(s.Rules),
		"grants":   len(s.ActiveGrants),
		"issuance": len(s.IssuanceLog),
	}, "state loaded")

	r.wg.Add(1)
	go r.writer()
	return r, nil
}

// Snapshot returns the published State. Its slices are shared with the
// repository and must not be modified; use Clone for a private copy.
func (r *Repository) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Version increments on every persisted mutation.
func (r *Repository) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Update submits fn to the writer and waits for its result. If ctx is
// already done when the writer picks the mutation up, fn is skipped and
// ctx.Err() is returned. Once fn has started, it is applied and persisted
// regardless of later cancellation.
func (r *Repository) Update(ctx context.Context, fn Mutation) error {
	req := request{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case r.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
	return <-req.reply
}

// Close stops the writer and closes the KV.
func (r *Repository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		err = r.kv.Close()
	})
	return err
}

func (r *Repository) writer() {
	defer r.wg.Done()
	for {
		select {
		case req := <-r.reqs:
			req.reply <- r.apply(req)
		case <-r.done:
			return
		}
	}
}

func (r *Repository) apply(req request) error {
	if err := req.ctx.Err(); err != nil {
		return err
	}
	// only the writer replaces current, so reading it here needs no lock
	next := r.current.Clone()
	changed, err := req.fn(&next)
	if err != nil || !changed {
		return err
	}
	b, err := Encode(next)
	if err != nil {
		return err
	}
	if err := r.kv.Set(context.WithoutCancel(req.ctx), r.key, b); err != nil {
		r.logger.Error(map[string]any{"key": r.key, "err": err}, "state write failed")
		return fmt.Errorf("persist state: %w", err)
	}
	r.mu.Lock()
	r.current = next
	r.version++
	r.mu.Unlock()
	return nil
}
