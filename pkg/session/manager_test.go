package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SerializesPerSession(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.WithLock(ctx, "same", func(ctx context.Context) error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestManager_IndependentSessions(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = manager.WithLock(ctx, "a", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_ = manager.WithLock(ctx, "b", func(ctx context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session b blocked behind session a")
	}
	close(release)
}

func TestManager_LoadOrCreate(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	s, created, err := manager.LoadOrCreate(ctx, "5511999", "wa-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.SessionKey("5511999", "wa-1"), s.ID)
	assert.Equal(t, domain.StageIdle, s.Stage)

	s.FlowID = "support"
	require.NoError(t, manager.Save(ctx, s))

	again, created, err := manager.LoadOrCreate(ctx, "5511999", "wa-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "support", again.FlowID)
}

type stubLocker struct {
	locks   atomic.Int32
	unlocks atomic.Int32
	err     error
}

func (l *stubLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locks.Add(1)
	return func(context.Context) error {
		l.unlocks.Add(1)
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &stubLocker{}
	manager := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(time.Second))

	err := manager.WithLock(context.Background(), "x", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, int32(1), locker.locks.Load())
	assert.Equal(t, int32(1), locker.unlocks.Load())

	locker.err = errors.New("redis down")
	called := false
	err = manager.WithLock(context.Background(), "x", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorContains(t, err, "distributed lock")
	assert.False(t, called)
}
