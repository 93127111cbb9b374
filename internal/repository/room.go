package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

const (
	roomKeyPrefix = "room:"
	finishingKey  = "rooms:finishing"

	maxUpdateAttempts = 10
)

var (
	ErrRoomNotFound   = fmt.Errorf("room %w", apperror.ErrNotFound)
	ErrUpdateConflict = errors.New("room was changed concurrently too many times")
)

type RoomRepository interface {
	CreateIfAbsent(ctx context.Context, room *entity.Room, ttl time.Duration) (bool, error)
	GetByID(ctx context.Context, id string) (*entity.Room, error)
	Exists(ctx context.Context, id string) (bool, error)
	Touch(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Update(ctx context.Context, id string, ttl time.Duration, fn func(room *entity.Room) error) (*entity.Room, error)
	DeleteByID(ctx context.Context, id string) error

	ScheduleFinish(ctx context.Context, id string, at int64) error
	DueFinishes(ctx context.Context, now int64) ([]string, error)
	Unschedule(ctx context.Context, id string) error
}

type dbRoom struct {
	client *redis.Client
}

func NewRoomRepository(client *redis.Client) RoomRepository {
	return &dbRoom{
		client: client,
	}
}

func roomKey(id string) string {
	return roomKeyPrefix + id
}

// CreateIfAbsent stores the room only if no room with the same id exists.
// It returns false on collision.
func (that *dbRoom) CreateIfAbsent(ctx context.Context, room *entity.Room, ttl time.Duration) (bool, error) {
	roomJSON, err := json.Marshal(room)
	if err != nil {
		return false, fmt.Errorf("could not marshal room: %w", err)
	}

	created, err := that.client.SetNX(ctx, roomKey(room.ID), roomJSON, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to create room: %w", err)
	}

	return created, nil
}

func (that *dbRoom) GetByID(ctx context.Context, id string) (*entity.Room, error) {
	response, err := that.client.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get room by id: %w", err)
	}

	var room entity.Room
	if err = json.Unmarshal(response, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	return &room, nil
}

func (that *dbRoom) Exists(ctx context.Context, id string) (bool, error) {
	count, err := that.client.Exists(ctx, roomKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check room: %w", err)
	}

	return count == 1, nil
}

// Touch sets a new lifetime on the room. It returns false when the room does not exist.
func (that *dbRoom) Touch(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := that.client.Expire(ctx, roomKey(id), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to refresh room: %w", err)
	}

	return ok, nil
}

// Update applies fn to the stored room inside an optimistic transaction and writes the result
// with a fresh ttl. Nothing is written when fn returns an error.
func (that *dbRoom) Update(
	ctx context.Context,
	id string,
	ttl time.Duration,
	fn func(room *entity.Room) error,
) (*entity.Room, error) {
	key := roomKey(id)

	var updated *entity.Room
	txf := func(tx *redis.Tx) error {
		response, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get room: %w", err)
		}

		var room entity.Room
		if err = json.Unmarshal(response, &room); err != nil {
			return fmt.Errorf("failed to unmarshal room: %w", err)
		}

		if err = fn(&room); err != nil {
			return err
		}

		roomJSON, err := json.Marshal(&room)
		if err != nil {
			return fmt.Errorf("could not marshal room: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, roomJSON, ttl)
			return nil
		})
		if err != nil {
			return err //nolint: wrapcheck // redis.TxFailedErr is checked by the caller
		}

		updated = &room

		return nil
	}

	for range maxUpdateAttempts {
		err := that.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if err != nil {
			return nil, err
		}

		return updated, nil
	}

	return nil, fmt.Errorf("%w: room %s", ErrUpdateConflict, id)
}

func (that *dbRoom) DeleteByID(ctx context.Context, id string) error {
	deleted, err := that.client.Del(ctx, roomKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete room by id: %w", err)
	}

	if deleted == 0 {
		return ErrRoomNotFound
	}

	return nil
}

// ScheduleFinish remembers that the room should be reset at the given unix time in milliseconds.
func (that *dbRoom) ScheduleFinish(ctx context.Context, id string, at int64) error {
	err := that.client.ZAdd(ctx, finishingKey, redis.Z{Score: float64(at), Member: id}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule room finish: %w", err)
	}

	return nil
}

func (that *dbRoom) DueFinishes(ctx context.Context, now int64) ([]string, error) {
	ids, err := that.client.ZRangeByScore(ctx, finishingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get due room finishes: %w", err)
	}

	return ids, nil
}

func (that *dbRoom) Unschedule(ctx context.Context, id string) error {
	if err := that.client.ZRem(ctx, finishingKey, id).Err(); err != nil {
		return fmt.Errorf("failed to unschedule room finish: %w", err)
	}

	return nil
}
