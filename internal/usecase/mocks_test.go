package usecase

import (
	"context"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/capability"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/pubsub"
	"github.com/stretchr/testify/mock"
)

type mockRoomRepo struct {
	mock.Mock
}

func (m *mockRoomRepo) CreateIfAbsent(ctx context.Context, room *entity.Room, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, room, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockRoomRepo) Exists(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockRoomRepo) Touch(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, id, ttl)
	return args.Bool(0), args.Error(1)
}

type mockBindingRepo struct {
	mock.Mock
}

func (m *mockBindingRepo) Swap(ctx context.Context, clientID, roomID string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, clientID, roomID, ttl)
	return args.String(0), args.Error(1)
}

func (m *mockBindingRepo) GetByClientID(ctx context.Context, clientID string) (string, error) {
	args := m.Called(ctx, clientID)
	return args.String(0), args.Error(1)
}

type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) Issue(clientID, roomID string) (*capability.Credential, error) {
	args := m.Called(clientID, roomID)

	credential, _ := args.Get(0).(*capability.Credential)

	return credential, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, msg pubsub.Message) error {
	args := m.Called(ctx, channel, msg)
	return args.Error(0)
}
