package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishDispatchesInOrder(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(EventOrderQueued, func(e Event) error {
		got = append(got, "first:"+e.ID)
		return nil
	})
	bus.Subscribe(EventOrderQueued, func(e Event) error {
		got = append(got, "second:"+e.ID)
		return nil
	})
	bus.Subscribe(EventOrderFilled, func(e Event) error {
		got = append(got, "filled")
		return nil
	})

	bus.Publish(Event{ID: "a", Type: EventOrderQueued})

	assert.Equal(t, []string{"first:a", "second:a"}, got)
}

func TestHandlerErrorDoesNotStopDispatch(t *testing.T) {
	bus := NewBus()

	var reached bool
	bus.Subscribe(EventRiskAlert, func(Event) error {
		return fmt.Errorf("boom")
	})
	bus.Subscribe(EventRiskAlert, func(Event) error {
		reached = true
		return nil
	})

	bus.Publish(Event{Type: EventRiskAlert})
	assert.True(t, reached)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	assert.NotPanics(t, func() {
		NewBus().Publish(Event{Type: EventOrderExpired})
	})
}
