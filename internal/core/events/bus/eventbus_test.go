package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	var got []Event
	sub, err := b.Subscribe(TypeAgentTick, func(e Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.True(t, sub.IsActive())
	require.Equal(t, 1, b.Subscribers(TypeAgentTick))

	require.NoError(t, b.Publish(Event{Type: TypeAgentTick, Source: "guard", Tick: 1}))
	require.NoError(t, b.Publish(NewEvent(TypeAgentCompleted, "guard", nil)))
	require.Len(t, got, 1)
	require.Equal(t, uint64(1), got[0].Tick)
	require.False(t, got[0].Time.IsZero(), "publish stamps missing times")

	require.NoError(t, b.Unsubscribe(sub))
	require.NoError(t, sub.Cancel())
	require.False(t, sub.IsActive())
	require.Zero(t, b.Subscribers(TypeAgentTick))
	require.NoError(t, b.Publish(NewEvent(TypeAgentTick, "guard", nil)))
	require.Len(t, got, 1)
	require.NoError(t, b.Unsubscribe(nil))
}

func TestWildcardAndFilters(t *testing.T) {
	b := New()
	var all, guards int
	_, err := b.Subscribe(All, func(Event) error { all++; return nil })
	require.NoError(t, err)
	_, err = b.Subscribe(All, func(Event) error { guards++; return nil },
		func(e Event) bool { return e.Source == "guard" })
	require.NoError(t, err)

	require.NoError(t, b.Publish(NewEvent(TypeAgentTick, "guard", nil)))
	require.NoError(t, b.Publish(NewEvent(TypeTreeLoaded, "library", nil)))
	require.Equal(t, 2, all)
	require.Equal(t, 1, guards)

	require.Error(t, b.Publish(NewEvent(All, "x", nil)))
	require.Error(t, b.Publish(Event{}))
}

func TestHandlerErrorsAreJoined(t *testing.T) {
	b := New()
	e1, e2 := errors.New("first"), errors.New("second")
	var delivered int
	_, _ = b.Subscribe("x", func(Event) error { delivered++; return e1 })
	_, _ = b.Subscribe("x", func(Event) error { delivered++; return e2 })
	_, _ = b.Subscribe("x", func(Event) error { delivered++; return nil })

	err := b.Publish(NewEvent("x", "src", nil))
	require.ErrorIs(t, err, e1)
	require.ErrorIs(t, err, e2)
	require.Equal(t, 3, delivered)
}

func TestPublishAsyncReturnsErrorChannel(t *testing.T) {
	b := New()
	handlerErr := errors.New("fail")
	_, err := b.Subscribe("x", func(Event) error { return handlerErr })
	require.NoError(t, err)

	select {
	case e := <-b.PublishAsync(NewEvent("x", "src", nil)):
		require.ErrorIs(t, e, handlerErr)
	case <-time.After(time.Second):
		t.Fatal("async publish did not complete")
	}
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	b := New()
	_, err := b.Subscribe("", func(Event) error { return nil })
	require.Error(t, err)
	_, err = b.Subscribe("x", nil)
	require.Error(t, err)
}

func TestConcurrentPublishAndCancel(t *testing.T) {
	b := New()
	var n atomic.Int64
	subs := make([]Subscription, 8)
	for i := range subs {
		subs[i], _ = b.Subscribe(TypeAgentTick, func(Event) error { n.Add(1); return nil })
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.Publish(NewEvent(TypeAgentTick, "load", nil))
			}
		}()
	}
	for _, s := range subs[:4] {
		_ = s.Cancel()
	}
	wg.Wait()
	require.Equal(t, 4, b.Subscribers(TypeAgentTick))
	require.Positive(t, n.Load())
}

func BenchmarkPublishSingleSubscriber(b *testing.B) {
	bus := New()
	var c atomic.Int64
	_, _ = bus.Subscribe(TypeAgentTick, func(Event) error { c.Add(1); return nil })
	e := NewEvent(TypeAgentTick, "bench", nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.Publish(e)
	}
}
