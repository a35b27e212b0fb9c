package bus

import (
	"context"
	"testing"
	"time"

	"github.com/schooleats/orderflow/internal/domain/event"

	"github.com/stretchr/testify/require"
)

type testEvent struct{ name string }

func (e testEvent) EventName() string { return e.name }

func TestPublishFansOutToSubscribers(t *testing.T) {
	b := New(nil)
	received := make(chan event.Event, 2)

	b.Subscribe("order.confirmed", func(ctx context.Context, e event.Event) error {
		received <- e
		return nil
	})
	b.Subscribe("order.confirmed", func(ctx context.Context, e event.Event) error {
		received <- e
		return nil
	})

	b.Start(context.Background())
	defer b.Stop()

	require.NoError(t, b.Publish(context.Background(), testEvent{name: "order.confirmed"}))

	for i := 0; i < 2; i++ {
		select {
		case e := <-received:
			require.Equal(t, "order.confirmed", e.EventName())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestPublishUnsubscribedEventIsDropped(t *testing.T) {
	b := New(nil)
	b.Start(context.Background())
	defer b.Stop()

	require.NoError(t, b.Publish(context.Background(), testEvent{name: "order.cancelled"}))
}

func TestPanickingHandlerDoesNotPoisonOthers(t *testing.T) {
	b := New(nil)
	received := make(chan struct{}, 1)

	b.Subscribe("order.refunded", func(ctx context.Context, e event.Event) error {
		panic("handler bug")
	})
	b.Subscribe("order.refunded", func(ctx context.Context, e event.Event) error {
		received <- struct{}{}
		return nil
	})

	b.Start(context.Background())
	defer b.Stop()

	require.NoError(t, b.Publish(context.Background(), testEvent{name: "order.refunded"}))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber starved by a panicking one")
	}
}

func TestPublishNilEventIsNoOp(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Publish(context.Background(), nil))
}
