package worker

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/event"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/pubsub"
	"github.com/stretchr/testify/require"
)

type fakeRooms struct {
	mu        sync.Mutex
	rooms     map[string]entity.Room
	finishing map[string]int64
	touched   []string
}

func newFakeRooms(rooms ...*entity.Room) *fakeRooms {
	fake := &fakeRooms{
		rooms:     make(map[string]entity.Room),
		finishing: make(map[string]int64),
	}

	for _, room := range rooms {
		fake.rooms[room.ID] = room.Clone()
	}

	return fake
}

func (that *fakeRooms) GetByID(_ context.Context, id string) (*entity.Room, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	room, ok := that.rooms[id]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}

	clone := room.Clone()

	return &clone, nil
}

func (that *fakeRooms) Touch(_ context.Context, id string, _ time.Duration) (bool, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	_, ok := that.rooms[id]
	if ok {
		that.touched = append(that.touched, id)
	}

	return ok, nil
}

func (that *fakeRooms) Update(_ context.Context, id string, _ time.Duration, fn func(room *entity.Room) error) (*entity.Room, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	stored, ok := that.rooms[id]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}

	room := stored.Clone()
	if err := fn(&room); err != nil {
		return nil, err
	}

	that.rooms[id] = room.Clone()

	return &room, nil
}

func (that *fakeRooms) DeleteByID(_ context.Context, id string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.rooms[id]; !ok {
		return repository.ErrRoomNotFound
	}

	delete(that.rooms, id)

	return nil
}

func (that *fakeRooms) ScheduleFinish(_ context.Context, id string, at int64) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.finishing[id] = at

	return nil
}

func (that *fakeRooms) DueFinishes(_ context.Context, now int64) ([]string, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	var due []string
	for id, at := range that.finishing {
		if at <= now {
			due = append(due, id)
		}
	}
	slices.Sort(due)

	return due, nil
}

func (that *fakeRooms) Unschedule(_ context.Context, id string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.finishing, id)

	return nil
}

func (that *fakeRooms) room(t *testing.T, id string) entity.Room {
	t.Helper()

	that.mu.Lock()
	defer that.mu.Unlock()

	room, ok := that.rooms[id]
	require.True(t, ok, "room %s is missing", id)

	return room
}

func (that *fakeRooms) state(id string) entity.State {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.rooms[id].State
}

func (that *fakeRooms) has(id string) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	_, ok := that.rooms[id]

	return ok
}

type fakeBindings struct {
	mu       sync.Mutex
	bindings map[string]string
}

func newFakeBindings(pairs ...string) *fakeBindings {
	fake := &fakeBindings{bindings: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		fake.bindings[pairs[i]] = pairs[i+1]
	}

	return fake
}

func (that *fakeBindings) ClearIf(_ context.Context, clientID, roomID string) (bool, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.bindings[clientID] != roomID {
		return false, nil
	}

	delete(that.bindings, clientID)

	return true, nil
}

func (that *fakeBindings) roomOf(clientID string) string {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.bindings[clientID]
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []pubsub.Message
}

func (that *recordingPublisher) Publish(_ context.Context, channel string, msg pubsub.Message) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	msg.Channel = channel
	that.messages = append(that.messages, msg)

	return nil
}

// events decodes everything published so far and forgets it.
func (that *recordingPublisher) events(t *testing.T) []event.Event {
	t.Helper()

	that.mu.Lock()
	defer that.mu.Unlock()

	events := make([]event.Event, 0, len(that.messages))
	for _, msg := range that.messages {
		decoded, err := event.Decode(msg.Envelope())
		require.NoError(t, err)
		events = append(events, decoded)
	}
	that.messages = nil

	return events
}

type countingReaper struct {
	mu    sync.Mutex
	calls int
}

func (that *countingReaper) ReapStale(_ context.Context, pattern string, _ time.Duration) (int, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if pattern == entity.ControlChannelPattern() {
		that.calls++
	}

	return 0, nil
}

func (that *countingReaper) count() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.calls
}
