package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOfferKeepsMostRecent(t *testing.T) {
	b := New()

	require.False(t, b.Offer(Sample{Value: "1"}))
	require.True(t, b.Offer(Sample{Value: "2"}))

	s, ok := b.TryReceive()
	require.True(t, ok)
	require.Equal(t, "2", s.Value)

	_, ok = b.TryReceive()
	require.False(t, ok)

	offered, replaced := b.Stats()
	require.Equal(t, uint64(2), offered)
	require.Equal(t, uint64(1), replaced)
}

func TestTryReceiveEmpty(t *testing.T) {
	_, ok := New().TryReceive()
	require.False(t, ok)
}

func TestOfferNeverBlocks(t *testing.T) {
	b := New()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			b.Offer(Sample{Value: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked")
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Offer(Sample{Value: "v"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if s, ok := b.TryReceive(); ok {
				require.Equal(t, "v", s.Value)
			}
		}
	}()
	wg.Wait()
}
