package bus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linetally/peoplecount/internal/bus"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := bus.New(4)
	sub := b.Subscribe("client-1")
	defer b.Unsubscribe("client-1")

	b.Publish(bus.Message{Kind: bus.KindStats, Data: map[string]int{"in_count": 1}})

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, bus.KindStats, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBus_PublishFansOutToMultipleSubscribers(t *testing.T) {
	b := bus.New(4)
	a := b.Subscribe("a")
	c := b.Subscribe("c")
	defer b.Unsubscribe("a")
	defer b.Unsubscribe("c")

	b.Publish(bus.Message{Kind: bus.KindEvent})

	for _, sub := range []*bus.Subscriber{a, c} {
		select {
		case <-sub.Messages():
		case <-time.After(time.Second):
			t.Fatal("fan-out missed a subscriber")
		}
	}
}

func TestBus_FullBufferDropsOldestForThatSubscriberOnly(t *testing.T) {
	b := bus.New(2)
	slow := b.Subscribe("slow")
	defer b.Unsubscribe("slow")

	b.Publish(bus.Message{Kind: bus.KindStats, Data: 1})
	b.Publish(bus.Message{Kind: bus.KindStats, Data: 2})
	b.Publish(bus.Message{Kind: bus.KindStats, Data: 3}) // buffer full, drops "1"

	first := <-slow.Messages()
	second := <-slow.Messages()

	assert.Equal(t, 2, first.Data)
	assert.Equal(t, 3, second.Data)
	assert.EqualValues(t, 1, slow.Dropped())
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := bus.New(4)
	sub := b.Subscribe("x")
	b.Unsubscribe("x")

	b.Publish(bus.Message{Kind: bus.KindEvent})

	select {
	case <-sub.Messages():
		t.Fatal("should not receive after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBus_SubscriberCount(t *testing.T) {
	b := bus.New(4)
	b.Subscribe("1")
	b.Subscribe("2")
	assert.Equal(t, 2, b.SubscriberCount())
}
