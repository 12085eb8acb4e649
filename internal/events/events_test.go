package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewdeck/pkg/models"
)

func TestRegistryDispatchesByEventName(t *testing.T) {
	r := NewRegistry()

	var got []Event
	r.Subscribe(ReviewPublishedEvent{}.EventName(), func(ctx context.Context, event Event) error {
		got = append(got, event)
		return nil
	})

	event := ReviewPublishedEvent{
		ReviewID:    models.ReviewIdentifier{ProjectID: 7, ReviewID: 13},
		PublishedBy: models.ReviewUser{ID: 1, UserName: "alice"},
	}
	require.NoError(t, r.Publish(context.Background(), event))

	require.Len(t, got, 1)
	assert.Equal(t, event, got[0])
}

func TestRegistryRunsAllHandlersInOrder(t *testing.T) {
	r := NewRegistry()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		r.Subscribe("review_published", func(ctx context.Context, event Event) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, r.Publish(context.Background(), ReviewPublishedEvent{}))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRegistryFailingHandlerDoesNotStopOthers(t *testing.T) {
	r := NewRegistry()

	errBoom := errors.New("boom")
	r.Subscribe("review_published", func(ctx context.Context, event Event) error {
		return errBoom
	})

	secondRan := false
	r.Subscribe("review_published", func(ctx context.Context, event Event) error {
		secondRan = true
		return nil
	})

	err := r.Publish(context.Background(), ReviewPublishedEvent{})
	require.ErrorIs(t, err, errBoom)
	assert.True(t, secondRan)
}

func TestRegistryIgnoresUnsubscribedEvents(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("something_else", func(ctx context.Context, event Event) error {
		t.Fatal("handler should not run")
		return nil
	})

	assert.NoError(t, r.Publish(context.Background(), ReviewPublishedEvent{}))
}

func TestNopBusDiscards(t *testing.T) {
	assert.NoError(t, NopBus{}.Publish(context.Background(), ReviewPublishedEvent{}))
}
