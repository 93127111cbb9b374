package pubsub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/testing/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const receiveTimeout = 5 * time.Second

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()

	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(receiveTimeout):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestBroker_PublishSubscribe(t *testing.T) {
	ctx, st := suite.New(t)
	broker := NewBroker(st.Logger, st.Storage)

	// Given: a subscription on a broadcast channel
	sub, err := broker.Subscribe(ctx, "server:a1b2c3")
	require.NoError(t, err)
	defer sub.Close()

	// When: two messages are published
	first := Message{Action: ActionMessage, Name: "GAME_FINISHED"}
	second := Message{Action: ActionMessage, Name: "CLIENT_LEFT", Data: json.RawMessage(`"alice"`)}
	require.NoError(t, broker.Publish(ctx, "server:a1b2c3", first))
	require.NoError(t, broker.Publish(ctx, "server:a1b2c3", second))

	// Then: they arrive in order with the channel filled in
	got := receive(t, sub)
	assert.Equal(t, "GAME_FINISHED", got.Name)
	assert.Equal(t, "server:a1b2c3", got.Channel)

	got = receive(t, sub)
	assert.Equal(t, "CLIENT_LEFT", got.Name)
	assert.JSONEq(t, `"alice"`, string(got.Data))
}

func TestBroker_PSubscribe(t *testing.T) {
	ctx, st := suite.New(t)
	broker := NewBroker(st.Logger, st.Storage)

	sub, err := broker.PSubscribe(ctx, "control:*")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, broker.Publish(ctx, "server:a1b2c3", Message{Action: ActionMessage, Name: "IGNORED"}))
	require.NoError(t, broker.Publish(ctx, "control:a1b2c3", Message{Action: ActionMessage, Name: "START_GAME"}))

	got := receive(t, sub)
	assert.Equal(t, "START_GAME", got.Name)
	assert.Equal(t, "control:a1b2c3", got.Channel)
}

func TestSubscription_Add(t *testing.T) {
	ctx, st := suite.New(t)
	broker := NewBroker(st.Logger, st.Storage)

	sub, err := broker.Subscribe(ctx, "server:a1b2c3")
	require.NoError(t, err)

	require.NoError(t, sub.Add(ctx, "server:d4e5f6"))

	// give redis a moment to register the new channel
	require.Eventually(t, func() bool {
		n, err := st.Storage.PubSubNumSub(ctx, "server:d4e5f6").Result()
		return err == nil && n["server:d4e5f6"] == 1
	}, receiveTimeout, 10*time.Millisecond)

	require.NoError(t, broker.Publish(ctx, "server:d4e5f6", Message{Action: ActionMessage, Name: "GAME_FINISHED"}))

	got := receive(t, sub)
	assert.Equal(t, "server:d4e5f6", got.Channel)

	// When: the subscription is closed
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	// Then: no more channels can be added
	require.ErrorIs(t, sub.Add(ctx, "server:ffffff"), ErrSubscriptionClosed)
}

func TestBroker_Presence(t *testing.T) {
	ctx, st := suite.New(t)
	broker := NewBroker(st.Logger, st.Storage)

	sub, err := broker.Subscribe(ctx, "control:a1b2c3")
	require.NoError(t, err)
	defer sub.Close()

	t.Run("Enter is recorded and announced", func(t *testing.T) {
		require.NoError(t, broker.Enter(ctx, "control:a1b2c3", "alice"))

		got := receive(t, sub)
		assert.Equal(t, ActionPresenceEnter, got.Action)
		assert.Equal(t, "alice", got.ClientID)

		members, err := broker.Members(ctx, "control:a1b2c3", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, members)
	})

	t.Run("Heartbeat is announced as an update", func(t *testing.T) {
		require.NoError(t, broker.Heartbeat(ctx, "control:a1b2c3", "alice"))

		got := receive(t, sub)
		assert.Equal(t, ActionPresenceUpdate, got.Action)
		assert.Equal(t, "alice", got.ClientID)
	})

	t.Run("Stale members are dropped", func(t *testing.T) {
		require.NoError(t, broker.Enter(ctx, "control:a1b2c3", "bob"))
		_ = receive(t, sub)

		time.Sleep(20 * time.Millisecond)

		members, err := broker.Members(ctx, "control:a1b2c3", 10*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("Leave is recorded and announced", func(t *testing.T) {
		require.NoError(t, broker.Enter(ctx, "control:a1b2c3", "carol"))
		_ = receive(t, sub)

		require.NoError(t, broker.Leave(ctx, "control:a1b2c3", "carol"))

		got := receive(t, sub)
		assert.Equal(t, ActionPresenceLeave, got.Action)
		assert.Equal(t, "carol", got.ClientID)

		members, err := broker.Members(ctx, "control:a1b2c3", time.Minute)
		require.NoError(t, err)
		assert.NotContains(t, members, "carol")
	})
}

func TestBroker_ReapStale(t *testing.T) {
	ctx, st := suite.New(t)
	broker := NewBroker(st.Logger, st.Storage)

	// Given: one client that went quiet and one that is still beating
	require.NoError(t, broker.Enter(ctx, "control:a1b2c3", "alice"))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, broker.Enter(ctx, "control:d4e5f6", "bob"))

	sub, err := broker.Subscribe(ctx, "control:a1b2c3")
	require.NoError(t, err)
	defer sub.Close()

	// When: reaping with a grace shorter than alice's silence
	reaped, err := broker.ReapStale(ctx, "control:*", 20*time.Millisecond)

	// Then: only alice leaves, and her departure is announced
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	got := receive(t, sub)
	assert.Equal(t, ActionPresenceLeave, got.Action)
	assert.Equal(t, "alice", got.ClientID)

	members, err := broker.Members(ctx, "control:d4e5f6", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)
}
