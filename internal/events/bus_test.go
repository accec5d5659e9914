package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gatehouse-auth/gatehouse/internal/events"
)

func TestPublishDeliversToKindSubscribersOnly(t *testing.T) {
	bus := events.NewBus(nil)

	var changed, cleared []events.Event
	bus.Subscribe(events.IdentityChanged, func(ctx context.Context, ev events.Event) {
		changed = append(changed, ev)
	})
	bus.Subscribe(events.IdentityCleared, func(ctx context.Context, ev events.Event) {
		cleared = append(cleared, ev)
	})

	bus.Publish(context.Background(), events.Event{Kind: events.IdentityChanged, UserID: 7})
	bus.Publish(context.Background(), events.Event{Kind: events.IdentityChanged, UserID: 8})

	assert.Len(t, changed, 2)
	assert.Empty(t, cleared)
	assert.Equal(t, int64(7), changed[0].UserID)
	assert.False(t, changed[0].At.IsZero(), "publish stamps the event time")
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := events.NewBus(nil)
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), events.Event{Kind: events.UserRegistered})
	})
}
