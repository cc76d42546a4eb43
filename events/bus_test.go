package events_test

import (
	"testing"

	"github.com/jrsteele09/parrot-session/events"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := events.NewBus()

	var got []string
	unsubA := bus.Subscribe(events.TokenExpired, func(topic events.Topic) { got = append(got, "a:"+string(topic)) })
	bus.Subscribe(events.TokenExpired, func(topic events.Topic) { got = append(got, "b:"+string(topic)) })
	bus.Subscribe(events.SessionEnded, func(events.Topic) { got = append(got, "ended") })

	require.Equal(t, 2, bus.Publish(events.TokenExpired))
	require.Equal(t, []string{"a:AUTH_TOKEN_EXPIRED", "b:AUTH_TOKEN_EXPIRED"}, got)

	unsubA()
	unsubA()
	got = nil
	require.Equal(t, 1, bus.Publish(events.TokenExpired))
	require.Equal(t, []string{"b:AUTH_TOKEN_EXPIRED"}, got)
}

func TestBus_PublishWithoutListeners(t *testing.T) {
	bus := events.NewBus()
	require.Equal(t, 0, bus.Publish(events.SessionStarted))
}

func TestBus_HandlerMayPublishAndUnsubscribe(t *testing.T) {
	bus := events.NewBus()

	ended := 0
	bus.Subscribe(events.SessionEnded, func(events.Topic) { ended++ })

	var unsub func()
	unsub = bus.Subscribe(events.TokenExpired, func(events.Topic) {
		unsub()
		bus.Publish(events.SessionEnded)
	})

	require.Equal(t, 1, bus.Publish(events.TokenExpired))
	require.Equal(t, 0, bus.Publish(events.TokenExpired))
	require.Equal(t, 1, ended)
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := events.NewBus()
	called := false
	bus.Subscribe(events.TokenExpired, func(events.Topic) { panic("boom") })
	bus.Subscribe(events.TokenExpired, func(events.Topic) { called = true })

	require.Equal(t, 2, bus.Publish(events.TokenExpired))
	require.True(t, called)
}
