package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type update struct {
	value int
	err   error
}

func recv(t *testing.T, ch <-chan update) update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll result")
		return update{}
	}
}

func waitForTicker(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestClampInterval(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, DefaultInterval},
		{-time.Second, DefaultInterval},
		{5 * time.Second, MinInterval},
		{25 * time.Second, 25 * time.Second},
		{time.Minute, MaxInterval},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampInterval(tt.in), tt.in.String())
	}
}

func TestPoller_PollsOnStartAndEveryInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	results := make(chan update, 10)

	p := New(
		func(ctx context.Context) (int, error) { return int(calls.Add(1)), nil },
		func(v int, err error) { results <- update{v, err} },
		WithClock(clock),
	)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Equal(t, 1, recv(t, results).value)

	waitForTicker(t, clock)
	clock.Advance(DefaultInterval - time.Second)
	select {
	case u := <-results:
		t.Fatalf("unexpected poll before the interval elapsed: %v", u)
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(time.Second)
	assert.Equal(t, 2, recv(t, results).value)

	clock.Advance(DefaultInterval)
	assert.Equal(t, 3, recv(t, results).value)
}

func TestPoller_ErrorsReachHandler(t *testing.T) {
	clock := clockwork.NewFakeClock()
	boom := errors.New("boom")
	results := make(chan update, 1)

	p := New(
		func(ctx context.Context) (int, error) { return 0, boom },
		func(v int, err error) { results <- update{v, err} },
		WithClock(clock),
	)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.ErrorIs(t, recv(t, results).err, boom)
}

func TestPoller_StopDiscardsInFlightPoll(t *testing.T) {
	clock := clockwork.NewFakeClock()
	started := make(chan struct{})
	var delivered atomic.Int32

	p := New(
		func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			// A late response that ignores cancellation.
			return 42, nil
		},
		func(int, error) { delivered.Add(1) },
		WithClock(clock),
	)
	require.NoError(t, p.Start(context.Background()))

	<-started
	p.Stop()

	assert.Zero(t, delivered.Load())
	assert.False(t, p.Running())
}

func TestPoller_StartTwice(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(
		func(ctx context.Context) (int, error) { return 0, nil },
		func(int, error) {},
		WithClock(clock),
	)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrRunning)

	p.Stop()
	p.Stop()
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}

func TestPoller_ParentCancelEndsRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(
		func(ctx context.Context) (int, error) { return 0, nil },
		func(int, error) {},
		WithClock(clock),
	)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !p.Running() }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}

func TestWithInterval(t *testing.T) {
	p := New(
		func(ctx context.Context) (int, error) { return 0, nil },
		func(int, error) {},
		WithInterval(time.Second),
	)
	assert.Equal(t, MinInterval, p.Interval())
}
