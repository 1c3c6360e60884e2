package timeout_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/internal/timeout"
)

// gate is a single-key serializer that reports when a caller starts waiting.
type gate struct {
	mu      sync.Mutex
	waiting chan struct{}
}

func (g *gate) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if g.waiting != nil {
		select {
		case g.waiting <- struct{}{}:
		default:
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(ctx)
}

func TestScheduler_FiresOnce(t *testing.T) {
	clock := timeout.NewManualClock()
	s := timeout.NewScheduler(timeout.WithClock(clock), timeout.WithSerializer(&gate{}))

	var fired []string
	token := s.Arm("sess", 30*time.Second, func(ctx context.Context, tok string) {
		fired = append(fired, tok)
	})
	require.NotEmpty(t, token)

	clock.Advance(29 * time.Second)
	assert.Empty(t, fired)

	clock.Advance(time.Second)
	assert.Equal(t, []string{token}, fired)

	clock.Advance(time.Minute)
	assert.Len(t, fired, 1)
	_, pending := s.Pending("sess")
	assert.False(t, pending)
}

func TestScheduler_RearmReplaces(t *testing.T) {
	clock := timeout.NewManualClock()
	s := timeout.NewScheduler(timeout.WithClock(clock))

	var fired []string
	first := s.Arm("sess", 10*time.Second, func(_ context.Context, tok string) { fired = append(fired, tok) })
	second := s.Arm("sess", 20*time.Second, func(_ context.Context, tok string) { fired = append(fired, tok) })
	assert.NotEqual(t, first, second)

	clock.Advance(15 * time.Second)
	assert.Empty(t, fired)

	clock.Advance(5 * time.Second)
	assert.Equal(t, []string{second}, fired)
}

func TestScheduler_Cancel(t *testing.T) {
	clock := timeout.NewManualClock()
	s := timeout.NewScheduler(timeout.WithClock(clock))

	var fired atomic.Int32
	s.Arm("sess", time.Second, func(context.Context, string) { fired.Add(1) })
	s.Cancel("sess")
	clock.Advance(time.Hour)

	assert.Zero(t, fired.Load())
	assert.Zero(t, clock.Waiting())
}

// An expiry that is already waiting for the session scope must not run when
// the holder of the scope cancels it.
func TestScheduler_CancelWinsOverWaitingExpiry(t *testing.T) {
	clock := timeout.NewManualClock()
	g := &gate{waiting: make(chan struct{}, 1)}
	s := timeout.NewScheduler(timeout.WithClock(clock), timeout.WithSerializer(g))

	var fired atomic.Int32
	s.Arm("sess", time.Second, func(context.Context, string) { fired.Add(1) })

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.WithLock(context.Background(), "sess", func(context.Context) error {
			close(inside)
			<-release
			s.Cancel("sess")
			return nil
		})
	}()
	<-inside
	<-g.waiting // drain the inbound turn's own signal

	expired := make(chan struct{})
	go func() {
		clock.Advance(2 * time.Second)
		close(expired)
	}()
	<-g.waiting // the expiry is now blocked on the scope

	close(release)
	<-done
	<-expired

	assert.Zero(t, fired.Load())
}

func TestScheduler_Stop(t *testing.T) {
	clock := timeout.NewManualClock()
	s := timeout.NewScheduler(timeout.WithClock(clock))

	var fired atomic.Int32
	s.Arm("a", time.Second, func(context.Context, string) { fired.Add(1) })
	s.Arm("b", time.Second, func(context.Context, string) { fired.Add(1) })
	s.Stop()

	assert.Empty(t, s.Arm("c", time.Second, func(context.Context, string) { fired.Add(1) }))
	clock.Advance(time.Minute)
	assert.Zero(t, fired.Load())
}

func TestScheduler_RealClock(t *testing.T) {
	s := timeout.NewScheduler()
	defer s.Stop()

	done := make(chan string, 1)
	token := s.Arm("sess", 10*time.Millisecond, func(_ context.Context, tok string) { done <- tok })

	select {
	case got := <-done:
		assert.Equal(t, token, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}
