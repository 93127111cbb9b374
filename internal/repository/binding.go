package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
)

const bindingKeyPrefix = "client-room:"

var ErrBindingNotFound = fmt.Errorf("client room binding %w", apperror.ErrNotFound)

// BindingRepository maps a client to the single room it currently occupies.
type BindingRepository interface {
	Swap(ctx context.Context, clientID, roomID string, ttl time.Duration) (string, error)
	GetByClientID(ctx context.Context, clientID string) (string, error)
	ClearIf(ctx context.Context, clientID, roomID string) (bool, error)
}

type dbBinding struct {
	client *redis.Client
}

func NewBindingRepository(client *redis.Client) BindingRepository {
	return &dbBinding{
		client: client,
	}
}

func bindingKey(clientID string) string {
	return bindingKeyPrefix + clientID
}

// Swap binds the client to roomID and returns the room it was bound to before, or "".
// The write is a single SET ... GET, so the last writer for a client wins.
func (that *dbBinding) Swap(ctx context.Context, clientID, roomID string, ttl time.Duration) (string, error) {
	previous, err := that.client.SetArgs(ctx, bindingKey(clientID), roomID, redis.SetArgs{
		TTL: ttl,
		Get: true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to bind client to room: %w", err)
	}

	return previous, nil
}

func (that *dbBinding) GetByClientID(ctx context.Context, clientID string) (string, error) {
	roomID, err := that.client.Get(ctx, bindingKey(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrBindingNotFound
	}

	if err != nil {
		return "", fmt.Errorf("failed to get client binding: %w", err)
	}

	return roomID, nil
}

// ClearIf removes the binding only while it still points at roomID.
func (that *dbBinding) ClearIf(ctx context.Context, clientID, roomID string) (bool, error) {
	key := bindingKey(clientID)

	cleared := false
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get client binding: %w", err)
		}

		if current != roomID {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err //nolint: wrapcheck // redis.TxFailedErr is checked below
		}

		cleared = true

		return nil
	}

	err := that.client.Watch(ctx, txf, key)
	// the binding changed under us, so it no longer points at roomID
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to clear client binding: %w", err)
	}

	return cleared, nil
}
