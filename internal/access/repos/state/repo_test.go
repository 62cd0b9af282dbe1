package state_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/gracegate/internal/access/domain"
	"github.com/haukened/gracegate/internal/access/repos/state"
	"github.com/haukened/gracegate/internal/access/repos/state/memory"
)

const key = "website_blocker_data"

func addRule(id string) state.Mutation {
	return func(s *state.State) (bool, error) {
		s.Rules = append(s.Rules, domain.Rule{ID: id, RawInput: id + ".com", Expression: "x", CreatedAt: time.Now()})
		return true, nil
	}
}

func open(t *testing.T, kv state.KV) *state.Repository {
	t.Helper()
	r, err := state.Open(context.Background(), kv, key, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRepository_EmptyThenPersistAndReload(t *testing.T) {
	kv := memory.New()
	r := open(t, kv)
	assert.Empty(t, r.Snapshot().Rules)
	assert.Equal(t, uint64(0), r.Version())

	require.NoError(t, r.Update(context.Background(), addRule("a")))
	assert.Len(t, r.Snapshot().Rules, 1)
	assert.Equal(t, uint64(1), r.Version())

	reopened := open(t, kv)
	got := reopened.Snapshot().Rules
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestRepository_FailedWriteLeavesStateUntouched(t *testing.T) {
	kv := memory.New()
	r := open(t, kv)
	require.NoError(t, r.Update(context.Background(), addRule("a")))

	boom := errors.New("disk full")
	kv.SetFailure(boom)
	err := r.Update(context.Background(), addRule("b"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Len(t, r.Snapshot().Rules, 1)
	assert.Equal(t, uint64(1), r.Version())

	kv.SetFailure(nil)
	require.NoError(t, r.Update(context.Background(), addRule("c")))
	rules := r.Snapshot().Rules
	require.Len(t, rules, 2)
	assert.Equal(t, "c", rules[1].ID)
}

func TestRepository_UnchangedOrFailedMutationSkipsWrite(t *testing.T) {
	kv := memory.New()
	r := open(t, kv)

	require.NoError(t, r.Update(context.Background(), func(*state.State) (bool, error) { return false, nil }))
	assert.Equal(t, 0, kv.Sets())

	want := errors.New("rejected")
	err := r.Update(context.Background(), func(s *state.State) (bool, error) {
		s.Rules = append(s.Rules, domain.Rule{ID: "ghost"})
		return true, want
	})
	assert.True(t, errors.Is(err, want))
	assert.Equal(t, 0, kv.Sets())
	assert.Empty(t, r.Snapshot().Rules)
}

func TestRepository_ConcurrentUpdatesAreSerialized(t *testing.T) {
	r := open(t, memory.New())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, r.Update(context.Background(), addRule(fmt.Sprintf("r%d", i))))
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Snapshot().Rules, n)
	assert.Equal(t, uint64(n), r.Version())
}

func TestRepository_SnapshotIsStableAcrossUpdates(t *testing.T) {
	r := open(t, memory.New())
	require.NoError(t, r.Update(context.Background(), addRule("a")))
	before := r.Snapshot()

	require.NoError(t, r.Update(context.Background(), func(s *state.State) (bool, error) {
		s.Rules[0].RawInput = "changed.com"
		return true, nil
	}))
	assert.Equal(t, "a.com", before.Rules[0].RawInput)
	assert.Equal(t, "changed.com", r.Snapshot().Rules[0].RawInput)
}

func TestRepository_UpdateAfterClose(t *testing.T) {
	r, err := state.Open(context.Background(), memory.New(), key, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	err = r.Update(context.Background(), addRule("late"))
	assert.True(t, errors.Is(err, state.ErrClosed))
}

func TestRepository_CancelledContext(t *testing.T) {
	r := open(t, memory.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, r.Update(ctx, addRule("x")))
	assert.Empty(t, r.Snapshot().Rules)
}

func TestRepository_CancelAfterStartStillPersists(t *testing.T) {
	kv := memory.New()
	r := open(t, kv)
	ctx, cancel := context.WithCancel(context.Background())
	err := r.Update(ctx, func(s *state.State) (bool, error) {
		cancel()
		return addRule("kept")(s)
	})
	require.NoError(t, err)
	require.Len(t, r.Snapshot().Rules, 1)
	assert.Equal(t, 1, kv.Sets())
}

type brokenKV struct{ memory.Store }

func (b *brokenKV) Get(context.Context, string) ([]byte, bool, error) {
	return []byte{0xff, 0x00}, true, nil
}

func TestOpen_Errors(t *testing.T) {
	_, err := state.Open(context.Background(), &brokenKV{}, key, nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = state.Open(ctx, memory.New(), key, nil)
	assert.Error(t, err)
}
