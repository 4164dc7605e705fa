/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-kvsched/backend"
)

func TestCompletionBusDeliversToSubscriber(t *testing.T) {
	bus := newCompletionBus()

	ch1 := bus.subscribe(1)
	ch2 := bus.subscribe(2)

	bus.publish(2, backend.OKResult("two"))
	bus.publish(1, backend.FailedResult("boom"))

	res := <-ch1
	require.False(t, res.OK)
	require.Equal(t, "boom", res.Value)

	res = <-ch2
	require.True(t, res.OK)
	require.Equal(t, "two", res.Value)
}

func TestCompletionBusPublishWithoutSubscriberDoesNotBlock(t *testing.T) {
	bus := newCompletionBus()

	done := make(chan struct{})
	go func() {
		bus.publish(42, backend.OKResult(nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked without a subscriber")
	}
}

func TestCompletionBusSubscriptionIsOneshot(t *testing.T) {
	bus := newCompletionBus()

	ch := bus.subscribe(7)
	bus.publish(7, backend.OKResult(1))
	require.True(t, (<-ch).OK)

	// The waiter is detached on publish: a second publish for the same id
	// goes into the void instead of the stale channel.
	bus.publish(7, backend.OKResult(2))
	select {
	case res := <-ch:
		t.Fatalf("unexpected second delivery: %+v", res)
	case <-time.After(30 * time.Millisecond):
	}
}
