package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	s := New()

	require.NoError(t, s.Register(Task{
		Name:     "sweep",
		Interval: time.Minute,
		Run:      func(ctx context.Context) error { return nil },
	}))

	t.Run("duplicate name rejected", func(t *testing.T) {
		err := s.Register(Task{
			Name:     "sweep",
			Interval: time.Minute,
			Run:      func(ctx context.Context) error { return nil },
		})
		require.Error(t, err)
	})

	t.Run("missing run function rejected", func(t *testing.T) {
		require.Error(t, s.Register(Task{Name: "noop", Interval: time.Minute}))
	})

	t.Run("non-positive interval rejected", func(t *testing.T) {
		err := s.Register(Task{
			Name: "bad",
			Run:  func(ctx context.Context) error { return nil },
		})
		require.Error(t, err)
	})
}

func TestStartStop(t *testing.T) {
	s := New()

	var ticks atomic.Int64
	require.NoError(t, s.Register(Task{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			ticks.Add(1)
			return nil
		},
	}))
	require.NoError(t, s.Register(Task{
		Name:     "failing",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			return errors.New("transient")
		},
	}))

	require.NoError(t, s.Start(context.Background()))

	t.Run("double start rejected", func(t *testing.T) {
		require.Error(t, s.Start(context.Background()))
	})

	t.Run("registration after start rejected", func(t *testing.T) {
		err := s.Register(Task{
			Name:     "late",
			Interval: time.Minute,
			Run:      func(ctx context.Context) error { return nil },
		})
		require.Error(t, err)
	})

	require.Eventually(t, func() bool {
		return ticks.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, ticks.Load())

	t.Run("stop is idempotent", func(t *testing.T) {
		s.Stop()
	})
}
