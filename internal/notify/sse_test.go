package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEDeliverFansOut(t *testing.T) {
	broker := NewSSEBroker()
	first := broker.Subscribe()
	second := broker.Subscribe()
	require.Equal(t, 2, broker.ClientCount())

	broker.Deliver(context.Background(), Message{
		Channel: "reminder",
		Payload: map[string]any{"message": "hello"},
	})

	for _, ch := range []chan []byte{first, second} {
		var msg Message
		require.NoError(t, json.Unmarshal(<-ch, &msg))
		assert.Equal(t, "reminder", msg.Channel)
		assert.Equal(t, "hello", msg.Payload["message"])
	}
}

func TestSSESlowClientFramesDropped(t *testing.T) {
	broker := NewSSEBroker()
	slow := broker.Subscribe()
	fast := broker.Subscribe()

	// Fill the slow client's buffer and keep broadcasting; the fast
	// client must see every frame regardless.
	for i := 0; i < sseClientBuffer+5; i++ {
		broker.Deliver(context.Background(), Message{Channel: "reminder"})
		<-fast
	}
	assert.Len(t, slow, sseClientBuffer)
	assert.Equal(t, 2, broker.ClientCount())
}

func TestSSEStuckClientEvicted(t *testing.T) {
	broker := NewSSEBroker()
	stuck := broker.Subscribe()

	for i := 0; i < sseClientBuffer+sseMaxConsecutiveDrops; i++ {
		broker.Deliver(context.Background(), Message{Channel: "reminder"})
	}
	assert.Equal(t, 0, broker.ClientCount())

	// The handler's deferred Unsubscribe must tolerate the eviction.
	assert.NotPanics(t, func() { broker.Unsubscribe(stuck) })

	// Channel was closed by the broker after draining its buffer.
	drained := 0
	for range stuck {
		drained++
	}
	assert.Equal(t, sseClientBuffer, drained)
}

func TestSSEUnsubscribeClosesChannel(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	broker.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, broker.ClientCount())
}
