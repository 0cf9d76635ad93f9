package mem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRunsInSubmissionOrder(t *testing.T) {
	s := NewStream("order")
	defer s.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		_, err := s.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.Synchronize(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestStreamFence(t *testing.T) {
	s := NewStream("fence")
	defer s.Close()

	gate := make(chan struct{})
	_, err := s.Submit(func() { <-gate })
	require.NoError(t, err)

	f, err := s.Submit(func() {})
	require.NoError(t, err)
	assert.False(t, f.Done(), "fence cannot be reached while the gate holds")

	// A cancelled wait reports the context error.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)

	close(gate)
	require.NoError(t, f.Wait(context.Background()))
	assert.True(t, f.Done())
}

func TestStreamHostFunc(t *testing.T) {
	s := NewStream("hostfunc")
	defer s.Close()

	var mu sync.Mutex
	var got []string
	_, err := s.Submit(func() {
		mu.Lock()
		got = append(got, "submitted")
		mu.Unlock()
	})
	require.NoError(t, err)

	f, err := s.HostFunc(func() {
		mu.Lock()
		got = append(got, "callback")
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, f.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"submitted", "callback"}, got, "callbacks order with ops")
}

func TestStreamClose(t *testing.T) {
	s := NewStream("close")

	ran := false
	_, err := s.Submit(func() { ran = true })
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, ran, "close drains pending ops")

	_, err = s.Submit(func() {})
	assert.ErrorIs(t, err, ErrStreamClosed)

	// Closing twice and synchronizing a drained stream are no-ops.
	require.NoError(t, s.Close())
	require.NoError(t, s.Synchronize(context.Background()))
}
