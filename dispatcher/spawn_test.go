package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoroutineSpawnerReportsExits(t *testing.T) {
	require := require.New(t)
	s := NewGoroutineSpawner(2)
	boom := errors.New("boom")

	pid1, err := s.Spawn(context.Background(), func(context.Context) error { return nil })
	require.NoError(err)
	pid2, err := s.Spawn(context.Background(), func(context.Context) error { return boom })
	require.NoError(err)
	require.NotEqual(pid1, pid2)

	got := make(map[int]error)
	for i := 0; i < 2; i++ {
		select {
		case ex := <-s.Exits():
			got[ex.PID] = ex.Err
		case <-time.After(time.Second):
			t.Fatal("missing exit notification")
		}
	}
	require.NoError(got[pid1])
	require.ErrorIs(got[pid2], boom)
}

func TestGoroutineSpawnerCapacity(t *testing.T) {
	require := require.New(t)
	s := NewGoroutineSpawner(1)

	release := make(chan struct{})
	pid, err := s.Spawn(context.Background(), func(context.Context) error {
		<-release
		return nil
	})
	require.NoError(err)

	_, err = s.Spawn(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(err, ErrSpawnExhausted)

	close(release)
	select {
	case ex := <-s.Exits():
		require.Equal(pid, ex.PID)
	case <-time.After(time.Second):
		t.Fatal("missing exit notification")
	}

	// the slot is free once the exit has been delivered
	require.Eventually(func() bool {
		_, err := s.Spawn(context.Background(), func(context.Context) error { return nil })
		return err == nil
	}, time.Second, time.Millisecond)
}

func TestGoroutineSpawnerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGoroutineSpawner(1).Spawn(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
